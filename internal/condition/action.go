package condition

import "time"

// Kind classifies what a conditional action does once triggered.
type Kind string

const (
	KindStopLoss      Kind = "stop_loss"
	KindTakeProfit    Kind = "take_profit"
	KindLimitOrder    Kind = "limit_order"
	KindMarketOrder   Kind = "market_order"
	KindClosePosition Kind = "close_position"
	KindCustom        Kind = "custom"
)

// ValidKind reports whether k is a known action kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindStopLoss, KindTakeProfit, KindLimitOrder, KindMarketOrder, KindClosePosition, KindCustom:
		return true
	}
	return false
}

// Status is the lifecycle state of a conditional action.
//
// Transitions: pending -> {triggered, expired, cancelled},
// triggered -> {executed, failed}. Executed, failed, expired and
// cancelled are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTriggered Status = "triggered"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Params carries the execution parameters applied when the action fires.
type Params struct {
	Instrument    string         `json:"instrument,omitempty"`
	Side          string         `json:"side,omitempty"` // "buy" or "sell"
	Size          *float64       `json:"size,omitempty"`
	SizePercent   *float64       `json:"size_percent,omitempty"`
	Price         *float64       `json:"price,omitempty"` // for limit orders
	ReducePercent *float64       `json:"reduce_percent,omitempty"`
	Custom        map[string]any `json:"custom,omitempty"`
}

// Action is a dormant trading intent that fires when its condition is met.
type Action struct {
	ID           string         `json:"id"`
	OwnerID      string         `json:"owner_id"`
	Kind         Kind           `json:"kind"`
	Condition    Condition      `json:"condition"`
	Params       Params         `json:"params"`
	Status       Status         `json:"status"`
	Rationale    string         `json:"rationale,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	TriggeredAt  *time.Time     `json:"triggered_at,omitempty"`
	ExecutedAt   *time.Time     `json:"executed_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

// Expired reports whether the action is past its expiry at time now.
func (a *Action) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

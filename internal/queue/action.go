package queue

import "time"

// Kind classifies an already-decided trading intent.
type Kind string

const (
	KindMarketOrder   Kind = "market_order"
	KindLimitOrder    Kind = "limit_order"
	KindStopLoss      Kind = "stop_loss"
	KindTakeProfit    Kind = "take_profit"
	KindClosePosition Kind = "close_position"
	KindRebalance     Kind = "rebalance"
)

// ValidKind reports whether k is a known queued-action kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindMarketOrder, KindLimitOrder, KindStopLoss, KindTakeProfit, KindClosePosition, KindRebalance:
		return true
	}
	return false
}

// Priority orders queued actions; lower ordinal executes first.
type Priority int

const (
	PriorityCritical Priority = 1 // stop losses, risk management
	PriorityHigh     Priority = 2 // take profits, time-sensitive
	PriorityNormal   Priority = 3 // regular trading
	PriorityLow      Priority = 4 // rebalancing, non-urgent
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// Action is a decided trading intent awaiting rate-limited execution.
// Unlike a conditional action it has no trigger: only readiness windows,
// priority, and retry bookkeeping.
type Action struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Kind       Kind           `json:"kind"`
	Priority   Priority       `json:"priority"`
	Instrument string         `json:"instrument"`
	Side       string         `json:"side"` // "buy" or "sell"
	Size       *float64       `json:"size,omitempty"`
	Price      *float64       `json:"price,omitempty"`
	Rationale  string         `json:"rationale,omitempty"`
	NotBefore  *time.Time     `json:"not_before,omitempty"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Ready reports whether the action may execute at time now: past its
// not-before bound and not past expiry (unset bounds pass).
func (a *Action) Ready(now time.Time) bool {
	if a.NotBefore != nil && now.Before(*a.NotBefore) {
		return false
	}
	if a.Expired(now) {
		return false
	}
	return true
}

// Expired reports whether the action is past its expiry at time now.
func (a *Action) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// dedupKey identifies the (owner, instrument, side, kind) tuple that
// rejects duplicate queued intents.
type dedupKey struct {
	owner      string
	instrument string
	side       string
	kind       Kind
}

func (a *Action) key() dedupKey {
	return dedupKey{owner: a.OwnerID, instrument: a.Instrument, side: a.Side, kind: a.Kind}
}

// Stats summarizes queue contents for operators.
type Stats struct {
	Total      int            `json:"total_actions"`
	ByPriority map[string]int `json:"by_priority"`
	ByKind     map[string]int `json:"by_kind"`
	ByOwner    map[string]int `json:"by_owner"`
	ReadyCount int            `json:"ready_count"`
}

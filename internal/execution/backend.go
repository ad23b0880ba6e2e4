package execution

import "context"

// Credentials identifies the venue account an execution acts on. The
// core never inspects these; they pass through to the backend untouched.
type Credentials struct {
	AccountKey string
	SignerKey  string
}

// OrderKind mirrors the venue-facing order types.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// OrderRequest describes a place-order call.
type OrderRequest struct {
	Instrument string
	Side       string // "buy" or "sell"
	Size       float64
	Price      float64 // 0 for market orders
	Kind       OrderKind
}

// OrderResult is the outcome of a place-order call. Any non-success is a
// retryable failure for queue entries and a terminal failure for
// conditional actions.
type OrderResult struct {
	Success     bool    `json:"success"`
	OrderID     string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// CloseResult is the outcome of a close-position call.
type CloseResult struct {
	Success    bool    `json:"success"`
	ClosedSize float64 `json:"closed_size,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Backend abstracts the trading venue. Both calls are suspension points
// and must honor ctx cancellation.
type Backend interface {
	PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (OrderResult, error)
	ClosePosition(ctx context.Context, creds Credentials, instrument string, percent float64) (CloseResult, error)
}

package execution

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-core/internal/events"
)

// Record is one executed venue call, kept for audit and operator queries.
type Record struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id,omitempty"`
	Instrument string    `json:"instrument"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	Fee        float64   `json:"fee,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recorder persists execution records.
type Recorder interface {
	InsertExecution(ctx context.Context, rec Record) error
}

// PriceFunc resolves the current price for an instrument; used by the
// paper backend to fill market orders.
type PriceFunc func(instrument string) float64

// PaperBackend simulates venue fills in memory: orders fill at the
// current price plus slippage and fee, positions accumulate per
// (account, instrument). It stands in for the real venue in dry-run
// deployments and tests.
type PaperBackend struct {
	FeeRate     float64 // decimal, e.g. 0.0005 = 5 bps
	SlippageBps float64
	PriceOf     PriceFunc
	Bus         *events.Bus
	Recorder    Recorder

	mu        sync.Mutex
	positions map[string]float64 // "accountKey:instrument" -> signed size
	rng       *rand.Rand
}

func NewPaperBackend(priceOf PriceFunc, feeRate, slippageBps float64) *PaperBackend {
	return &PaperBackend{
		FeeRate:     feeRate,
		SlippageBps: slippageBps,
		PriceOf:     priceOf,
		positions:   make(map[string]float64),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *PaperBackend) PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{Success: false, Error: err.Error()}, err
	}
	if req.Instrument == "" || req.Size <= 0 {
		res := OrderResult{Success: false, Error: "invalid order: missing instrument or non-positive size"}
		p.record(ctx, creds, req, res, 0)
		return res, nil
	}

	price := req.Price
	if price <= 0 && p.PriceOf != nil {
		price = p.PriceOf(req.Instrument)
	}
	if price <= 0 {
		res := OrderResult{Success: false, Error: fmt.Sprintf("no price available for %s", req.Instrument)}
		p.record(ctx, creds, req, res, 0)
		return res, nil
	}

	// Slippage moves against the taker.
	p.mu.Lock()
	noise := p.rng.Float64() * p.SlippageBps / 10000.0
	p.mu.Unlock()
	if strings.EqualFold(req.Side, "buy") {
		price *= 1 + noise
	} else {
		price *= 1 - noise
	}

	signed := req.Size
	if !strings.EqualFold(req.Side, "buy") {
		signed = -req.Size
	}
	key := creds.AccountKey + ":" + req.Instrument
	p.mu.Lock()
	p.positions[key] += signed
	p.mu.Unlock()

	res := OrderResult{
		Success:     true,
		OrderID:     uuid.NewString(),
		FilledPrice: price,
	}
	fee := req.Size * price * p.FeeRate
	log.Printf("paper: filled %s %s %.6f @ %.2f (fee %.4f)", req.Side, req.Instrument, req.Size, price, fee)
	p.record(ctx, creds, req, res, fee)
	if p.Bus != nil {
		p.Bus.Publish(events.EventOrderPlaced, res)
	}
	return res, nil
}

func (p *PaperBackend) ClosePosition(ctx context.Context, creds Credentials, instrument string, percent float64) (CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return CloseResult{Success: false, Error: err.Error()}, err
	}
	if percent <= 0 || percent > 100 {
		percent = 100
	}

	key := creds.AccountKey + ":" + instrument
	p.mu.Lock()
	pos := p.positions[key]
	if pos == 0 {
		p.mu.Unlock()
		return CloseResult{Success: false, Error: fmt.Sprintf("no open position for %s", instrument)}, nil
	}
	closed := pos * percent / 100
	p.positions[key] = pos - closed
	p.mu.Unlock()

	res := CloseResult{Success: true, ClosedSize: closed}
	log.Printf("paper: closed %.1f%% of %s position (%.6f)", percent, instrument, closed)
	if p.Bus != nil {
		p.Bus.Publish(events.EventPositionClosed, res)
	}
	if p.Recorder != nil {
		side := "sell"
		if closed < 0 {
			side = "buy"
		}
		price := 0.0
		if p.PriceOf != nil {
			price = p.PriceOf(instrument)
		}
		rec := Record{
			ID:         uuid.NewString(),
			OwnerID:    creds.AccountKey,
			Instrument: instrument,
			Side:       side,
			Size:       closed,
			Price:      price,
			Kind:       "close_position",
			Success:    true,
			CreatedAt:  time.Now(),
		}
		if err := p.Recorder.InsertExecution(ctx, rec); err != nil {
			log.Printf("paper: store execution error: %v", err)
		}
	}
	return res, nil
}

// Position returns the signed open size for an (account, instrument) pair.
func (p *PaperBackend) Position(accountKey, instrument string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[accountKey+":"+instrument]
}

func (p *PaperBackend) record(ctx context.Context, creds Credentials, req OrderRequest, res OrderResult, fee float64) {
	if p.Recorder == nil {
		return
	}
	rec := Record{
		ID:         uuid.NewString(),
		OwnerID:    creds.AccountKey,
		Instrument: req.Instrument,
		Side:       req.Side,
		Size:       req.Size,
		Price:      res.FilledPrice,
		Fee:        fee,
		Kind:       string(req.Kind),
		OrderID:    res.OrderID,
		Success:    res.Success,
		Error:      res.Error,
		CreatedAt:  time.Now(),
	}
	if err := p.Recorder.InsertExecution(ctx, rec); err != nil {
		log.Printf("paper: store execution error: %v", err)
	}
}

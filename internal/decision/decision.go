package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"agent-core/internal/agent"
	"agent-core/internal/market"
)

// Decision is a trading intent produced by the decision-making
// collaborator for one agent. A nil decision means no action this tick.
type Decision struct {
	Instrument  string
	Side        string // "buy" or "sell"
	SizePercent float64
	Rationale   string
}

// Decider is the decision-making collaborator. Its failure is a
// per-agent task failure, never fatal to the tick.
type Decider interface {
	Decide(ctx context.Context, ag agent.Agent, snap market.Snapshot) (*Decision, error)
}

// RuleDecider is a momentum-style decider for exercising the full loop
// without an external model: it buys when an instrument jumps up and
// sells when it jumps down by a per-style threshold.
type RuleDecider struct {
	mu        sync.Mutex
	lastPrice map[string]float64 // "agent:instrument" -> price at last decision
}

func NewRuleDecider() *RuleDecider {
	return &RuleDecider{lastPrice: make(map[string]float64)}
}

func (d *RuleDecider) Decide(_ context.Context, ag agent.Agent, snap market.Snapshot) (*Decision, error) {
	threshold := styleThreshold(ag.Style)

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, inst := range ag.Instruments {
		price := snap.Price(inst)
		if price <= 0 {
			continue
		}
		key := ag.ID + ":" + inst
		last := d.lastPrice[key]
		d.lastPrice[key] = price
		if last <= 0 {
			continue
		}

		move := (price - last) / last
		switch {
		case move > threshold:
			return &Decision{
				Instrument:  inst,
				Side:        "buy",
				SizePercent: 5,
				Rationale:   fmt.Sprintf("%s up %.2f%% since last look", inst, move*100),
			}, nil
		case move < -threshold:
			return &Decision{
				Instrument:  inst,
				Side:        "sell",
				SizePercent: 5,
				Rationale:   fmt.Sprintf("%s down %.2f%% since last look", inst, -move*100),
			}, nil
		}
	}
	return nil, nil
}

func styleThreshold(style string) float64 {
	switch strings.ToLower(style) {
	case "scalper":
		return 0.001
	case "momentum":
		return 0.005
	case "contrarian":
		return 0.02
	default:
		return 0.01
	}
}

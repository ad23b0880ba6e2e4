// Package risk enforces per-agent exposure limits before orders reach
// the execution backend.
package risk

import (
	"fmt"
	"math"

	"agent-core/internal/agent"
)

// PositionFunc reports the current signed position size for an account
// and instrument. The paper backend's Position method satisfies it.
type PositionFunc func(accountKey, instrument string) float64

// Guard checks orders against each agent's max_position_usd cap. A cap
// of zero or below means the agent is unlimited.
type Guard struct {
	position PositionFunc
}

func NewGuard(position PositionFunc) *Guard {
	return &Guard{position: position}
}

// CheckOrder rejects an order whose resulting exposure would exceed the
// agent's cap. Orders that reduce exposure always pass.
func (g *Guard) CheckOrder(ag agent.Agent, instrument, side string, size, price float64) error {
	if ag.MaxPositionUSD <= 0 || price <= 0 || size <= 0 {
		return nil
	}

	var current float64
	if g.position != nil {
		current = g.position(ag.Credentials.AccountKey, instrument)
	}

	resulting := current
	if side == "sell" {
		resulting -= size
	} else {
		resulting += size
	}
	if math.Abs(resulting) <= math.Abs(current) {
		return nil
	}

	exposure := math.Abs(resulting) * price
	if exposure > ag.MaxPositionUSD {
		return fmt.Errorf("order would put %s exposure at %.2f USD, above the %.2f cap",
			instrument, exposure, ag.MaxPositionUSD)
	}
	return nil
}

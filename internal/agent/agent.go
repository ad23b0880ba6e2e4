package agent

import (
	"time"

	"agent-core/internal/execution"
)

// Agent is an independently-reasoning trading identity processed once
// per tick. The core never reasons about what an agent trades; it only
// schedules and executes the agent's intents.
type Agent struct {
	ID             string
	Name           string
	Handle         string
	Style          string // e.g. "momentum", "contrarian", "scalper"
	Instruments    []string
	MaxPositionUSD float64
	Active         bool
	Credentials    execution.Credentials
	CreatedAt      time.Time
}

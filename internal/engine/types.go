package engine

import "time"

// State names the stage the coordinator loop is currently in. Exactly one
// tick runs at a time; the state is readable at any moment for operators.
type State int32

const (
	StateIdle State = iota
	StateRefreshingMarket
	StateProcessingAgents
	StateEvaluatingConditionals
	StateDrainingQueue
	StateHousekeeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshingMarket:
		return "refreshing_market"
	case StateProcessingAgents:
		return "processing_agents"
	case StateEvaluatingConditionals:
		return "evaluating_conditionals"
	case StateDrainingQueue:
		return "draining_queue"
	case StateHousekeeping:
		return "housekeeping"
	}
	return "unknown"
}

// SystemStatus is the runtime status returned to operators.
type SystemStatus struct {
	State        string    `json:"state"`
	DryRun       bool      `json:"dry_run"`
	Instruments  []string  `json:"instruments"`
	TickInterval string    `json:"tick_interval"`
	ActiveAgents int       `json:"active_agents"`
	TickCount    uint64    `json:"tick_count"`
	LastTick     time.Time `json:"last_tick"`
	Version      string    `json:"version"`
	ServerTime   time.Time `json:"server_time"`
}

// TickSummary is published on the bus after every completed tick.
type TickSummary struct {
	Agents       int           `json:"agents"`
	Decisions    int           `json:"decisions"`
	Triggered    int           `json:"triggered"`
	Drained      int           `json:"drained"`
	Elapsed      time.Duration `json:"elapsed"`
	SnapshotTime time.Time     `json:"snapshot_time"`
}

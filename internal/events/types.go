package events

// Event enumerates high-level topics inside the agent core.
type Event string

const (
	EventSnapshotUpdated Event = "snapshot.updated"
	EventActionQueued    Event = "action.queued"
	EventActionTriggered Event = "action.triggered"
	EventActionExecuted  Event = "action.executed"
	EventActionFailed    Event = "action.failed"
	EventOrderPlaced     Event = "order.placed"
	EventPositionClosed  Event = "position.closed"
	EventTickCompleted   Event = "tick.completed"
)

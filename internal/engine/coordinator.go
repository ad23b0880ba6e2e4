// Package engine runs the cycle coordinator: the single loop that
// refreshes market data, fans out over agents, fires conditional actions,
// drains the throttled queue, and performs housekeeping.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/condition"
	"agent-core/internal/decision"
	"agent-core/internal/events"
	"agent-core/internal/execution"
	"agent-core/internal/market"
	"agent-core/internal/monitor"
	"agent-core/internal/queue"
	"agent-core/internal/risk"
)

// Cleaner removes aged execution rows during housekeeping.
type Cleaner interface {
	DeleteExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config wires the coordinator's collaborators.
type Config struct {
	Cache    *market.Cache
	Registry *condition.Registry
	Queue    *queue.Queue
	Roster   *agent.Roster
	Decider  decision.Decider
	Backend  execution.Backend
	Bus      *events.Bus
	Metrics  *monitor.SystemMetrics
	Cleaner  Cleaner
	Guard    *risk.Guard

	TickInterval      time.Duration
	Retention         time.Duration
	HousekeepingEvery time.Duration
	DryRun            bool
	Instruments       []string
	Version           string
}

// Coordinator drives the tick loop. Within a tick only the per-agent
// decision stage runs concurrently; conditional evaluation and queue
// drain are sequential so throttle windows observe same-tick successes.
type Coordinator struct {
	cache    *market.Cache
	registry *condition.Registry
	queue    *queue.Queue
	roster   *agent.Roster
	decider  decision.Decider
	backend  execution.Backend
	bus      *events.Bus
	metrics  *monitor.SystemMetrics
	cleaner  Cleaner
	guard    *risk.Guard

	tickInterval      time.Duration
	retention         time.Duration
	housekeepingEvery time.Duration
	dryRun            bool
	instruments       []string
	version           string

	state     atomic.Int32
	tickCount atomic.Uint64
	lastTick  atomic.Int64 // unix nanos

	mu               sync.Mutex // guards Tick re-entry and lastHousekeeping
	lastHousekeeping time.Time

	now func() time.Time
}

// New creates a coordinator. Zero intervals fall back to 60s ticks,
// 7-day retention, and hourly housekeeping.
func New(cfg Config) *Coordinator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.HousekeepingEvery <= 0 {
		cfg.HousekeepingEvery = time.Hour
	}
	return &Coordinator{
		cache:             cfg.Cache,
		registry:          cfg.Registry,
		queue:             cfg.Queue,
		roster:            cfg.Roster,
		decider:           cfg.Decider,
		backend:           cfg.Backend,
		bus:               cfg.Bus,
		metrics:           cfg.Metrics,
		cleaner:           cfg.Cleaner,
		guard:             cfg.Guard,
		tickInterval:      cfg.TickInterval,
		retention:         cfg.Retention,
		housekeepingEvery: cfg.HousekeepingEvery,
		dryRun:            cfg.DryRun,
		instruments:       cfg.Instruments,
		version:           cfg.Version,
		now:               time.Now,
	}
}

// State returns the coordinator's current stage.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	c.state.Store(int32(s))
}

// Status returns the runtime status for operators.
func (c *Coordinator) Status() SystemStatus {
	var last time.Time
	if ns := c.lastTick.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return SystemStatus{
		State:        c.State().String(),
		DryRun:       c.dryRun,
		Instruments:  c.instruments,
		TickInterval: c.tickInterval.String(),
		ActiveAgents: len(c.roster.Active()),
		TickCount:    c.tickCount.Load(),
		LastTick:     last,
		Version:      c.version,
		ServerTime:   c.now().UTC(),
	}
}

// Run ticks immediately and then on every interval until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	log.Printf("coordinator: starting, tick every %s", c.tickInterval)
	if err := c.Tick(ctx); err != nil {
		log.Printf("coordinator: tick error: %v", err)
	}

	t := time.NewTicker(c.tickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("coordinator: stopping: %v", ctx.Err())
			return
		case <-t.C:
			if err := c.Tick(ctx); err != nil {
				log.Printf("coordinator: tick error: %v", err)
			}
		}
	}
}

// Tick runs one full cycle. Stage failures are logged and absorbed; only
// a missing market snapshot aborts the tick.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var timer *monitor.Timer
	if c.metrics != nil {
		timer = monitor.NewTimer(c.metrics.TickLatency)
	}
	start := c.now()

	c.setState(StateRefreshingMarket)
	defer c.setState(StateIdle)

	snap, err := c.cache.Snapshot(ctx, false)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return fmt.Errorf("refresh market: %w", err)
	}

	agents := c.roster.Active()

	c.setState(StateProcessingAgents)
	decisions := c.processAgents(ctx, agents, snap)

	c.setState(StateEvaluatingConditionals)
	triggered := c.evaluateConditionals(ctx, snap)

	c.setState(StateDrainingQueue)
	drained := c.drainQueue(ctx, agents)

	c.setState(StateHousekeeping)
	c.housekeep(ctx)

	c.tickCount.Add(1)
	c.lastTick.Store(c.now().UnixNano())
	if c.metrics != nil {
		c.metrics.IncrementTicks()
	}

	elapsed := c.now().Sub(start)
	if timer != nil {
		timer.Stop()
	}
	if c.bus != nil {
		c.bus.Publish(events.EventTickCompleted, TickSummary{
			Agents:       len(agents),
			Decisions:    decisions,
			Triggered:    triggered,
			Drained:      drained,
			Elapsed:      elapsed,
			SnapshotTime: snap.UpdatedAt,
		})
	}
	log.Printf("coordinator: tick done in %s (agents=%d decisions=%d triggered=%d drained=%d)",
		elapsed.Round(time.Millisecond), len(agents), decisions, triggered, drained)
	return nil
}

// processAgents runs the decision collaborator once per active agent in
// parallel. A panicking or failing agent never takes down the tick.
func (c *Coordinator) processAgents(ctx context.Context, agents []agent.Agent, snap market.Snapshot) int {
	if c.decider == nil {
		return 0
	}

	var (
		wg        sync.WaitGroup
		decisions atomic.Int64
	)
	for _, ag := range agents {
		wg.Add(1)
		go func(ag agent.Agent) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("coordinator: agent %s panicked: %v", ag.ID, r)
					if c.metrics != nil {
						c.metrics.IncrementErrors()
					}
				}
			}()

			d, err := c.decider.Decide(ctx, ag, snap)
			if err != nil {
				log.Printf("coordinator: agent %s decide error: %v", ag.ID, err)
				if c.metrics != nil {
					c.metrics.IncrementErrors()
				}
				return
			}
			if d == nil {
				return
			}
			decisions.Add(1)
			if c.metrics != nil {
				c.metrics.IncrementDecisions()
			}
			c.executeDecision(ctx, ag, d, snap)
		}(ag)
	}
	wg.Wait()
	return int(decisions.Load())
}

// executeDecision places a market order for a fresh decision. Decisions
// trade immediately; only conditional and queued intents wait.
func (c *Coordinator) executeDecision(ctx context.Context, ag agent.Agent, d *decision.Decision, snap market.Snapshot) {
	price := snap.Price(d.Instrument)
	if price <= 0 {
		log.Printf("coordinator: agent %s decision on %s dropped: no price", ag.ID, d.Instrument)
		return
	}
	size := d.SizePercent / 100 * ag.MaxPositionUSD / price
	if size <= 0 {
		return
	}
	if c.guard != nil {
		if err := c.guard.CheckOrder(ag, d.Instrument, d.Side, size, price); err != nil {
			log.Printf("coordinator: agent %s decision blocked: %v", ag.ID, err)
			return
		}
	}

	var timer *monitor.Timer
	if c.metrics != nil {
		timer = monitor.NewTimer(c.metrics.ExecLatency)
	}
	res, err := c.backend.PlaceOrder(ctx, ag.Credentials, execution.OrderRequest{
		Instrument: d.Instrument,
		Side:       d.Side,
		Size:       size,
		Kind:       execution.OrderMarket,
	})
	if timer != nil {
		timer.Stop()
	}
	if err != nil || !res.Success {
		log.Printf("coordinator: agent %s order failed: %v %s", ag.ID, err, res.Error)
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return
	}
	if c.metrics != nil {
		c.metrics.IncrementExecutions()
	}
	log.Printf("coordinator: agent %s %s %s %.6f (%s)", ag.ID, d.Side, d.Instrument, size, d.Rationale)
}

// evaluateConditionals fires every pending conditional action whose
// trigger holds against the snapshot. Triggered actions execute once and
// land terminal, executed or failed.
func (c *Coordinator) evaluateConditionals(ctx context.Context, snap market.Snapshot) int {
	evalCtx := snap.Context()
	fired := 0

	for _, a := range c.registry.ListPending() {
		if !c.registry.ShouldTrigger(a.ID, evalCtx) {
			continue
		}
		if err := c.registry.MarkTriggered(ctx, a.ID); err != nil {
			log.Printf("coordinator: mark triggered %s: %v", a.ID, err)
			continue
		}
		fired++
		if c.metrics != nil {
			c.metrics.IncrementTriggers()
		}
		if c.bus != nil {
			c.bus.Publish(events.EventActionTriggered, a)
		}
		log.Printf("coordinator: conditional fired: %s (%s)", a.ID, a.Condition.String())

		result, execErr := c.executeConditional(ctx, a, snap)
		if execErr != nil {
			if err := c.registry.MarkFailed(ctx, a.ID, execErr.Error()); err != nil {
				log.Printf("coordinator: mark failed %s: %v", a.ID, err)
			}
			if c.bus != nil {
				c.bus.Publish(events.EventActionFailed, a.ID)
			}
			if c.metrics != nil {
				c.metrics.IncrementErrors()
			}
			continue
		}
		if err := c.registry.MarkExecuted(ctx, a.ID, result); err != nil {
			log.Printf("coordinator: mark executed %s: %v", a.ID, err)
		}
		if c.bus != nil {
			c.bus.Publish(events.EventActionExecuted, a.ID)
		}
		if c.metrics != nil {
			c.metrics.IncrementExecutions()
		}
	}
	return fired
}

// executeConditional maps a fired action onto a backend call.
func (c *Coordinator) executeConditional(ctx context.Context, a condition.Action, snap market.Snapshot) (map[string]any, error) {
	ag, ok := c.roster.Get(a.OwnerID)
	if !ok {
		return nil, fmt.Errorf("owner %s not in roster", a.OwnerID)
	}

	var timer *monitor.Timer
	if c.metrics != nil {
		timer = monitor.NewTimer(c.metrics.ExecLatency)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	instrument := a.Params.Instrument
	if instrument == "" {
		instrument = a.Condition.Instrument
	}

	switch a.Kind {
	case condition.KindClosePosition, condition.KindStopLoss, condition.KindTakeProfit:
		percent := 100.0
		if a.Params.ReducePercent != nil {
			percent = *a.Params.ReducePercent
		}
		res, err := c.backend.ClosePosition(ctx, ag.Credentials, instrument, percent)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("close position: %s", res.Error)
		}
		return map[string]any{"closed_size": res.ClosedSize, "percent": percent}, nil

	default:
		size, err := c.resolveSize(a.Params, ag, instrument, snap)
		if err != nil {
			return nil, err
		}
		req := execution.OrderRequest{
			Instrument: instrument,
			Side:       strings.ToLower(a.Params.Side),
			Size:       size,
			Kind:       execution.OrderMarket,
		}
		if a.Kind == condition.KindLimitOrder && a.Params.Price != nil {
			req.Kind = execution.OrderLimit
			req.Price = *a.Params.Price
		}
		res, err := c.backend.PlaceOrder(ctx, ag.Credentials, req)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, fmt.Errorf("place order: %s", res.Error)
		}
		return map[string]any{"order_id": res.OrderID, "filled_price": res.FilledPrice}, nil
	}
}

func (c *Coordinator) resolveSize(p condition.Params, ag agent.Agent, instrument string, snap market.Snapshot) (float64, error) {
	if p.Size != nil && *p.Size > 0 {
		return *p.Size, nil
	}
	if p.SizePercent != nil && *p.SizePercent > 0 {
		price := snap.Price(instrument)
		if price <= 0 {
			return 0, fmt.Errorf("no price for %s", instrument)
		}
		return *p.SizePercent / 100 * ag.MaxPositionUSD / price, nil
	}
	return 0, fmt.Errorf("no size on action params")
}

// drainQueue takes at most one ready queued action per agent per tick;
// anything left waits for the next tick. The drain is sequential: each
// MarkResult lands before the next agent's throttle check, so the
// trailing-minute window counts successes from earlier in the same tick.
func (c *Coordinator) drainQueue(ctx context.Context, agents []agent.Agent) int {
	drained := 0
	for _, ag := range agents {
		if err := ctx.Err(); err != nil {
			return drained
		}
		a := c.queue.Next(ctx, ag.ID)
		if a == nil {
			continue
		}

		success, cause := c.executeQueued(ctx, ag, a)
		if err := c.queue.MarkResult(ctx, a.ID, success, cause); err != nil {
			log.Printf("coordinator: mark result %s: %v", a.ID, err)
		}
		if success {
			drained++
			if c.metrics != nil {
				c.metrics.IncrementExecutions()
			}
			if c.bus != nil {
				c.bus.Publish(events.EventActionExecuted, a.ID)
			}
		} else {
			if c.metrics != nil {
				c.metrics.IncrementErrors()
			}
		}
	}
	return drained
}

// executeQueued maps a queued action onto a backend call.
func (c *Coordinator) executeQueued(ctx context.Context, ag agent.Agent, a *queue.Action) (bool, string) {
	var timer *monitor.Timer
	if c.metrics != nil {
		timer = monitor.NewTimer(c.metrics.ExecLatency)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	if a.Kind == queue.KindClosePosition {
		percent := 100.0
		if v, ok := a.Metadata["reduce_percent"].(float64); ok && v > 0 {
			percent = v
		}
		res, err := c.backend.ClosePosition(ctx, ag.Credentials, a.Instrument, percent)
		if err != nil {
			return false, err.Error()
		}
		if !res.Success {
			return false, res.Error
		}
		return true, ""
	}

	req := execution.OrderRequest{
		Instrument: a.Instrument,
		Side:       strings.ToLower(a.Side),
		Kind:       execution.OrderMarket,
	}
	if a.Size != nil {
		req.Size = *a.Size
	}
	if a.Kind == queue.KindLimitOrder && a.Price != nil {
		req.Kind = execution.OrderLimit
		req.Price = *a.Price
	}
	if c.guard != nil {
		price := req.Price
		if price <= 0 {
			snap, err := c.cache.Snapshot(ctx, false)
			if err == nil {
				price = snap.Price(req.Instrument)
			}
		}
		if err := c.guard.CheckOrder(ag, req.Instrument, req.Side, req.Size, price); err != nil {
			return false, err.Error()
		}
	}
	res, err := c.backend.PlaceOrder(ctx, ag.Credentials, req)
	if err != nil {
		return false, err.Error()
	}
	if !res.Success {
		return false, res.Error
	}
	return true, ""
}

// housekeep sweeps the registry and trims aged execution rows, at most
// once per housekeeping interval.
func (c *Coordinator) housekeep(ctx context.Context) {
	now := c.now()
	if !c.lastHousekeeping.IsZero() && now.Sub(c.lastHousekeeping) < c.housekeepingEvery {
		return
	}
	c.lastHousekeeping = now

	removed := c.registry.Sweep(ctx, c.retention)
	if removed > 0 {
		log.Printf("coordinator: housekeeping removed %d conditional actions", removed)
	}

	if c.cleaner != nil {
		var timer *monitor.Timer
		if c.metrics != nil {
			timer = monitor.NewTimer(c.metrics.DBLatency)
		}
		n, err := c.cleaner.DeleteExecutionsBefore(ctx, now.Add(-c.retention))
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			log.Printf("coordinator: housekeeping executions cleanup: %v", err)
		} else if n > 0 {
			log.Printf("coordinator: housekeeping removed %d execution rows", n)
		}
	}
}

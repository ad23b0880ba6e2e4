package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/condition"
	"agent-core/internal/decision"
	"agent-core/internal/execution"
	"agent-core/internal/market"
	"agent-core/internal/monitor"
	"agent-core/internal/queue"
	"agent-core/internal/risk"
)

// stubSource serves a controllable fixed price.
type stubSource struct {
	mu    sync.Mutex
	price float64
}

func (s *stubSource) Fetch(_ context.Context) (map[string]market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]market.Quote{
		"BTC": {Instrument: "BTC", Price: s.price},
		"ETH": {Instrument: "ETH", Price: 3000},
	}, nil
}

func (s *stubSource) setPrice(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = p
}

// stubDecider emits one buy decision and then goes quiet.
type stubDecider struct {
	mu    sync.Mutex
	fired bool
}

func (d *stubDecider) Decide(_ context.Context, _ agent.Agent, _ market.Snapshot) (*decision.Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired {
		return nil, nil
	}
	d.fired = true
	return &decision.Decision{Instrument: "BTC", Side: "buy", SizePercent: 5, Rationale: "test"}, nil
}

func f(v float64) *float64 { return &v }

type fixture struct {
	source   *stubSource
	cache    *market.Cache
	registry *condition.Registry
	queue    *queue.Queue
	roster   *agent.Roster
	backend  *execution.PaperBackend
	coord    *Coordinator
}

func newFixture(t *testing.T, d decision.Decider) *fixture {
	t.Helper()

	src := &stubSource{price: 90000}
	cache := market.NewCache(src, time.Nanosecond) // refresh on every tick
	registry := condition.NewRegistry(nil)
	q := queue.New(nil, time.Millisecond, 100)
	roster := agent.NewRoster(nil)

	ag := agent.Agent{
		ID:             "agent-1",
		Name:           "Test Agent",
		Instruments:    []string{"BTC"},
		MaxPositionUSD: 10000,
		Active:         true,
		Credentials:    execution.Credentials{AccountKey: "paper-1"},
	}
	if err := roster.Put(context.Background(), ag); err != nil {
		t.Fatalf("roster.Put: %v", err)
	}

	backend := execution.NewPaperBackend(func(instrument string) float64 {
		snap, err := cache.Snapshot(context.Background(), false)
		if err != nil {
			return 0
		}
		return snap.Price(instrument)
	}, 0, 0)

	coord := New(Config{
		Cache:        cache,
		Registry:     registry,
		Queue:        q,
		Roster:       roster,
		Decider:      d,
		Backend:      backend,
		Metrics:      monitor.NewSystemMetrics(),
		TickInterval: time.Minute,
	})

	return &fixture{
		source:   src,
		cache:    cache,
		registry: registry,
		queue:    q,
		roster:   roster,
		backend:  backend,
		coord:    coord,
	}
}

func TestTickFiresConditionalOnCrossing(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	a := condition.Action{
		ID:      "buy-dip",
		OwnerID: "agent-1",
		Kind:    condition.KindMarketOrder,
		Condition: condition.Condition{
			Field:      "price",
			Op:         condition.OpLessEqual,
			Threshold:  85000,
			Instrument: "BTC",
		},
		Params: condition.Params{Instrument: "BTC", Side: "buy", Size: f(0.1)},
	}
	if err := fx.registry.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Above the threshold nothing fires.
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ := fx.registry.Get("buy-dip")
	if got.Status != condition.StatusPending {
		t.Fatalf("status=%s above threshold, expected pending", got.Status)
	}

	// Crossing the threshold fires and executes the action.
	fx.source.setPrice(84000)
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ = fx.registry.Get("buy-dip")
	if got.Status != condition.StatusExecuted {
		t.Fatalf("status=%s after crossing, expected executed (err=%q)", got.Status, got.ErrorMessage)
	}
	if got.Result["order_id"] == "" {
		t.Fatalf("result missing order_id: %v", got.Result)
	}
	if pos := fx.backend.Position("paper-1", "BTC"); pos != 0.1 {
		t.Fatalf("position=%v, expected 0.1", pos)
	}

	// Executed actions never fire again.
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	got, _ = fx.registry.Get("buy-dip")
	if got.Status != condition.StatusExecuted {
		t.Fatalf("status=%s on later tick, expected executed", got.Status)
	}
}

func TestTickStopLossClosesPosition(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Open a long first so the stop has something to close.
	res, err := fx.backend.PlaceOrder(ctx, execution.Credentials{AccountKey: "paper-1"}, execution.OrderRequest{
		Instrument: "BTC", Side: "buy", Size: 0.5, Kind: execution.OrderMarket,
	})
	if err != nil || !res.Success {
		t.Fatalf("PlaceOrder: %v %v", err, res)
	}

	a := condition.Action{
		ID:      "stop-1",
		OwnerID: "agent-1",
		Kind:    condition.KindStopLoss,
		Condition: condition.Condition{
			Field:      "price",
			Op:         condition.OpLessEqual,
			Threshold:  85000,
			Instrument: "BTC",
		},
		Params: condition.Params{Instrument: "BTC", Side: "sell"},
	}
	if err := fx.registry.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	fx.source.setPrice(80000)
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := fx.registry.Get("stop-1")
	if got.Status != condition.StatusExecuted {
		t.Fatalf("status=%s, expected executed (err=%q)", got.Status, got.ErrorMessage)
	}
	if pos := fx.backend.Position("paper-1", "BTC"); pos != 0 {
		t.Fatalf("position=%v after stop, expected 0", pos)
	}
}

func TestTickMarksFailedWhenNothingToClose(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	a := condition.Action{
		ID:      "stop-1",
		OwnerID: "agent-1",
		Kind:    condition.KindStopLoss,
		Condition: condition.Condition{
			Field:      "price",
			Op:         condition.OpLessEqual,
			Threshold:  95000,
			Instrument: "BTC",
		},
		Params: condition.Params{Instrument: "BTC", Side: "sell"},
	}
	if err := fx.registry.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, _ := fx.registry.Get("stop-1")
	if got.Status != condition.StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("status=%s err=%q, expected terminal failure", got.Status, got.ErrorMessage)
	}
}

func TestTickDrainsQueue(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	added, err := fx.queue.Add(ctx, queue.Action{
		ID:         "q1",
		OwnerID:    "agent-1",
		Kind:       queue.KindMarketOrder,
		Priority:   queue.PriorityNormal,
		Instrument: "BTC",
		Side:       "buy",
		Size:       f(0.2),
	})
	if err != nil || !added {
		t.Fatalf("Add: (%v,%v)", added, err)
	}

	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if fx.queue.Len() != 0 {
		t.Fatalf("queue len=%d after drain, expected 0", fx.queue.Len())
	}
	if pos := fx.backend.Position("paper-1", "BTC"); pos != 0.2 {
		t.Fatalf("position=%v, expected 0.2", pos)
	}
}

func TestTickDrainsOneQueuedActionPerAgent(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for _, a := range []queue.Action{
		{ID: "q1", OwnerID: "agent-1", Kind: queue.KindMarketOrder,
			Priority: queue.PriorityCritical, Instrument: "BTC", Side: "buy", Size: f(0.1)},
		{ID: "q2", OwnerID: "agent-1", Kind: queue.KindMarketOrder,
			Priority: queue.PriorityNormal, Instrument: "ETH", Side: "buy", Size: f(1)},
	} {
		if added, err := fx.queue.Add(ctx, a); err != nil || !added {
			t.Fatalf("Add %s: (%v,%v)", a.ID, added, err)
		}
	}

	// One tick takes only the highest-priority entry; the other waits.
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fx.queue.Len() != 1 {
		t.Fatalf("queue len=%d after first tick, expected 1", fx.queue.Len())
	}
	if pos := fx.backend.Position("paper-1", "BTC"); pos != 0.1 {
		t.Fatalf("BTC position=%v, expected 0.1", pos)
	}
	if pos := fx.backend.Position("paper-1", "ETH"); pos != 0 {
		t.Fatalf("ETH position=%v after first tick, expected 0", pos)
	}

	// The next tick picks up the remainder.
	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if fx.queue.Len() != 0 {
		t.Fatalf("queue len=%d after second tick, expected 0", fx.queue.Len())
	}
	if pos := fx.backend.Position("paper-1", "ETH"); pos != 1 {
		t.Fatalf("ETH position=%v after second tick, expected 1", pos)
	}
}

func TestTickGuardBlocksOversizedQueuedOrder(t *testing.T) {
	fx := newFixture(t, nil)
	fx.coord.guard = risk.NewGuard(fx.backend.Position)
	ctx := context.Background()

	// 0.5 BTC at 90k is 45k USD, well past the agent's 10k cap. The
	// guarded failure burns a retry instead of filling.
	added, err := fx.queue.Add(ctx, queue.Action{
		ID:         "big",
		OwnerID:    "agent-1",
		Kind:       queue.KindMarketOrder,
		Priority:   queue.PriorityNormal,
		Instrument: "BTC",
		Side:       "buy",
		Size:       f(0.5),
	})
	if err != nil || !added {
		t.Fatalf("Add: (%v,%v)", added, err)
	}

	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if pos := fx.backend.Position("paper-1", "BTC"); pos != 0 {
		t.Fatalf("position=%v, guarded order must not fill", pos)
	}
	if fx.queue.Len() != 1 {
		t.Fatalf("queue len=%d, expected action kept for retry", fx.queue.Len())
	}
}

func TestTickExecutesDecisions(t *testing.T) {
	fx := newFixture(t, &stubDecider{})
	ctx := context.Background()

	if err := fx.coord.Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	// 5% of 10k USD at 90k a coin.
	pos := fx.backend.Position("paper-1", "BTC")
	if pos <= 0 {
		t.Fatalf("position=%v after decision, expected a long", pos)
	}

	status := fx.coord.Status()
	if status.TickCount != 1 || status.State != "idle" || status.ActiveAgents != 1 {
		t.Fatalf("status=%+v", status)
	}
}

package market

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"agent-core/internal/events"
)

// Quote is the per-instrument slice of a market snapshot.
type Quote struct {
	Instrument string  `json:"instrument"`
	Price      float64 `json:"price"`
	Change24h  float64 `json:"change_24h"`
	High24h    float64 `json:"high_24h"`
	Low24h     float64 `json:"low_24h"`
	Volume24h  float64 `json:"volume_24h"`
}

// Snapshot is an immutable view of market state shared by all agents
// within a tick.
type Snapshot struct {
	Quotes      map[string]Quote `json:"quotes"`
	UpdatedAt   time.Time        `json:"updated_at"`
	UpdateCount int              `json:"update_count"`
}

// Context flattens the snapshot into the named-value map consumed by
// trigger conditions: "{instrument}_price" and "{instrument}_change"
// keys, instruments lowercased.
func (s Snapshot) Context() map[string]float64 {
	ctx := make(map[string]float64, 2*len(s.Quotes))
	for inst, q := range s.Quotes {
		key := strings.ToLower(inst)
		ctx[key+"_price"] = q.Price
		ctx[key+"_change"] = q.Change24h
	}
	return ctx
}

// Price returns the last price for an instrument, or 0 when unknown.
func (s Snapshot) Price(instrument string) float64 {
	return s.Quotes[instrument].Price
}

// Source fetches fresh quotes from a market-data provider.
type Source interface {
	Fetch(ctx context.Context) (map[string]Quote, error)
}

// Cache holds the latest market snapshot, refreshing at most once per TTL.
// The mutex is held for the full refresh so that exactly one in-flight
// fetch serves all concurrent callers; late callers observe its result
// instead of issuing a redundant call. A failed refresh keeps the stale
// snapshot rather than failing the caller.
type Cache struct {
	// Bus, when set, gets EventSnapshotUpdated on every successful refresh.
	Bus *events.Bus

	mu        sync.Mutex
	source    Source
	ttl       time.Duration
	snapshot  Snapshot
	refreshed time.Time

	now func() time.Time
}

// NewCache creates a snapshot cache. A non-positive ttl falls back to 30s.
func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// Snapshot returns the cached view, refreshing it first when forced,
// absent, or older than the TTL. It returns an error only when no
// snapshot has ever been fetched.
func (c *Cache) Snapshot(ctx context.Context, force bool) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stale := c.refreshed.IsZero() || now.Sub(c.refreshed) > c.ttl
	if force || stale {
		if err := c.refreshLocked(ctx); err != nil {
			if c.refreshed.IsZero() {
				return Snapshot{}, err
			}
			// Staleness degrades gracefully; serve the previous view.
			log.Printf("snapshot: refresh failed, serving stale data from %s: %v",
				c.snapshot.UpdatedAt.Format(time.RFC3339), err)
		}
	}
	return c.snapshot, nil
}

func (c *Cache) refreshLocked(ctx context.Context) error {
	quotes, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}
	c.snapshot = Snapshot{
		Quotes:      quotes,
		UpdatedAt:   c.now(),
		UpdateCount: c.snapshot.UpdateCount + 1,
	}
	c.refreshed = c.snapshot.UpdatedAt
	if c.Bus != nil {
		c.Bus.Publish(events.EventSnapshotUpdated, c.snapshot)
	}
	return nil
}

// LastRefreshed returns the time of the last successful refresh.
func (c *Cache) LastRefreshed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshed
}

// Start launches a background refresher that keeps the cache warm so
// tick-path callers rarely pay fetch latency.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(c.ttl)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := c.Snapshot(ctx, true); err != nil {
					log.Printf("snapshot: background refresh error: %v", err)
				}
			}
		}
	}()
	log.Printf("snapshot: background refresh every %s", c.ttl)
}

package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	maxAttempts  = 3
	retryBackoff = 30 * time.Second // multiplied by the attempt count
)

// Store persists queued actions. Load returning no rows is a valid start
// state.
type Store interface {
	SaveQueuedAction(ctx context.Context, a Action) error
	DeleteQueuedAction(ctx context.Context, id string) error
	ListQueuedActions(ctx context.Context) ([]Action, error)
}

// Queue holds decided trading intents under priority ordering, dedup,
// per-pair and global rate limits, bounded retry, and expiry. It is
// shared by all per-agent tasks within a tick; every read-modify-write
// runs under one mutex.
type Queue struct {
	mu      sync.Mutex
	actions map[string]*Action
	store   Store

	// Throttling rules.
	minInterval  time.Duration // per (owner, instrument) gap between successes
	maxPerMinute int           // global trailing-60s success cap

	lastExecution map[string]time.Time // "owner:instrument" -> last success
	history       []time.Time          // global success timestamps, trailing window

	now func() time.Time
}

// New creates a queue with the given throttle settings. Zero values fall
// back to 5s between successes per pair and 10 successes per minute.
func New(store Store, minInterval time.Duration, maxPerMinute int) *Queue {
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	if maxPerMinute <= 0 {
		maxPerMinute = 10
	}
	return &Queue{
		actions:       make(map[string]*Action),
		store:         store,
		minInterval:   minInterval,
		maxPerMinute:  maxPerMinute,
		lastExecution: make(map[string]time.Time),
	}
}

// Load seeds in-memory state from the store on startup.
func (q *Queue) Load(ctx context.Context) error {
	if q.store == nil {
		return nil
	}
	actions, err := q.store.ListQueuedActions(ctx)
	if err != nil {
		return fmt.Errorf("load queued actions: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range actions {
		a := actions[i]
		q.actions[a.ID] = &a
	}
	if len(actions) > 0 {
		log.Printf("queue: loaded %d queued actions", len(actions))
	}
	return nil
}

// Add inserts a new action unless a non-expired entry already shares its
// (owner, instrument, side, kind) dedup key. A rejected duplicate returns
// false without mutating the queue.
func (q *Queue) Add(ctx context.Context, a Action) (bool, error) {
	if a.ID == "" {
		return false, fmt.Errorf("add action: missing id")
	}
	if !ValidKind(a.Kind) {
		return false, fmt.Errorf("add action %s: unknown kind %q", a.ID, a.Kind)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.nowFn()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.nowFn()
	key := a.key()
	for _, existing := range q.actions {
		if existing.key() == key && !existing.Expired(now) {
			log.Printf("queue: duplicate action rejected: %s %s %s for %s",
				a.Instrument, a.Side, a.Kind, a.OwnerID)
			return false, nil
		}
	}

	q.actions[a.ID] = &a
	if err := q.persist(ctx, &a); err != nil {
		return true, err
	}
	return true, nil
}

// Ready drops expired entries and returns the remaining ready actions,
// optionally filtered by owner, sorted by priority ascending and
// created_at ascending within a priority band.
func (q *Queue) Ready(ctx context.Context, ownerID string) []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readyLocked(ctx, ownerID)
}

func (q *Queue) readyLocked(ctx context.Context, ownerID string) []Action {
	now := q.nowFn()
	var ready []Action
	var expired []string

	for id, a := range q.actions {
		if ownerID != "" && a.OwnerID != ownerID {
			continue
		}
		if a.Expired(now) {
			expired = append(expired, id)
			continue
		}
		if a.Ready(now) {
			ready = append(ready, *a)
		}
	}

	for _, id := range expired {
		delete(q.actions, id)
		if q.store != nil {
			if err := q.store.DeleteQueuedAction(ctx, id); err != nil {
				log.Printf("queue: delete expired %s: %v", id, err)
			}
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// CanExecute reports whether throttling rules allow an execution for the
// (owner, instrument) pair right now. The global cap is a sliding window
// recomputed by filtering the success-timestamp list on each check.
func (q *Queue) CanExecute(ownerID, instrument string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canExecuteLocked(ownerID, instrument)
}

func (q *Queue) canExecuteLocked(ownerID, instrument string) bool {
	now := q.nowFn()

	if last, ok := q.lastExecution[ownerID+":"+instrument]; ok {
		if now.Sub(last) < q.minInterval {
			return false
		}
	}

	kept := q.history[:0]
	for _, t := range q.history {
		if now.Sub(t) < time.Minute {
			kept = append(kept, t)
		}
	}
	q.history = kept
	return len(q.history) < q.maxPerMinute
}

// Next returns the first ready action for the owner whose throttle check
// passes. A throttled high-priority entry must not block a lower-priority
// entry on a different instrument.
func (q *Queue) Next(ctx context.Context, ownerID string) *Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, a := range q.readyLocked(ctx, ownerID) {
		if q.canExecuteLocked(ownerID, a.Instrument) {
			out := a
			return &out
		}
	}
	return nil
}

// MarkResult records an execution outcome. Success removes the entry and
// stamps the throttle window; failure increments attempts, pushing
// not_before forward by 30s per attempt, and drops the entry once it has
// failed three times.
func (q *Queue) MarkResult(ctx context.Context, id string, success bool, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.actions[id]
	if !ok {
		return fmt.Errorf("mark result %s: not found", id)
	}

	if success {
		delete(q.actions, id)
		now := q.nowFn()
		q.lastExecution[a.OwnerID+":"+a.Instrument] = now
		q.history = append(q.history, now)
		log.Printf("queue: action executed: %s %s %s for %s", a.Instrument, a.Side, a.Kind, a.OwnerID)
		if q.store != nil {
			if err := q.store.DeleteQueuedAction(ctx, id); err != nil {
				return fmt.Errorf("mark result %s: %w", id, err)
			}
		}
		return nil
	}

	a.Attempts++
	a.LastError = cause
	if a.Attempts >= maxAttempts {
		delete(q.actions, id)
		log.Printf("queue: action removed after %d failed attempts: %s", maxAttempts, id)
		if q.store != nil {
			if err := q.store.DeleteQueuedAction(ctx, id); err != nil {
				return fmt.Errorf("mark result %s: %w", id, err)
			}
		}
		return nil
	}

	retryAt := q.nowFn().Add(retryBackoff * time.Duration(a.Attempts))
	a.NotBefore = &retryAt
	return q.persist(ctx, a)
}

// ClearOwner removes every queued action for an owner and returns the
// number removed.
func (q *Queue) ClearOwner(ctx context.Context, ownerID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for id, a := range q.actions {
		if a.OwnerID != ownerID {
			continue
		}
		delete(q.actions, id)
		removed++
		if q.store != nil {
			if err := q.store.DeleteQueuedAction(ctx, id); err != nil {
				log.Printf("queue: clear owner delete %s: %v", id, err)
			}
		}
	}
	if removed > 0 {
		log.Printf("queue: cleared %d actions for %s", removed, ownerID)
	}
	return removed
}

// GetStats summarizes queue contents by priority, kind, and owner.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Total:      len(q.actions),
		ByPriority: make(map[string]int),
		ByKind:     make(map[string]int),
		ByOwner:    make(map[string]int),
	}
	now := q.nowFn()
	for _, a := range q.actions {
		stats.ByPriority[a.Priority.String()]++
		stats.ByKind[string(a.Kind)]++
		stats.ByOwner[a.OwnerID]++
		if a.Ready(now) {
			stats.ReadyCount++
		}
	}
	return stats
}

// Len returns the number of stored actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *Queue) nowFn() time.Time {
	if q.now != nil {
		return q.now()
	}
	return time.Now()
}

// persist writes the action through the store. Callers hold q.mu.
func (q *Queue) persist(ctx context.Context, a *Action) error {
	if q.store == nil {
		return nil
	}
	if err := q.store.SaveQueuedAction(ctx, *a); err != nil {
		return fmt.Errorf("persist queued action %s: %w", a.ID, err)
	}
	return nil
}

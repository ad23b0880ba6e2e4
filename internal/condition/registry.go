package condition

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store persists conditional actions. A save must complete before the
// mutation is acknowledged durable; load returning no rows is a valid
// start state.
type Store interface {
	SaveConditionalAction(ctx context.Context, a Action) error
	DeleteConditionalAction(ctx context.Context, id string) error
	ListConditionalActions(ctx context.Context) ([]Action, error)
}

// Registry keeps an in-memory view of conditional actions per agent while
// persisting to the store for durability. All read-modify-write paths are
// serialized behind one mutex; persistence errors are surfaced to the
// caller without rolling back the in-memory mutation.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
	store   Store

	now func() time.Time
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		actions: make(map[string]*Action),
		store:   store,
		now:     time.Now,
	}
}

// Load seeds in-memory state from the store on startup.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	actions, err := r.store.ListConditionalActions(ctx)
	if err != nil {
		return fmt.Errorf("load conditional actions: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range actions {
		a := actions[i]
		r.actions[a.ID] = &a
	}
	if len(actions) > 0 {
		log.Printf("registry: loaded %d conditional actions", len(actions))
	}
	return nil
}

// Create validates and persists a new action as pending.
func (r *Registry) Create(ctx context.Context, a Action) error {
	if a.ID == "" {
		return fmt.Errorf("create action: missing id")
	}
	if !ValidKind(a.Kind) {
		return fmt.Errorf("create action %s: unknown kind %q", a.ID, a.Kind)
	}
	if !ValidOperator(a.Condition.Op) {
		return fmt.Errorf("create action %s: unknown operator %q", a.ID, a.Condition.Op)
	}

	a.Status = StatusPending
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.ID]; exists {
		return fmt.Errorf("create action %s: already exists", a.ID)
	}
	r.actions[a.ID] = &a
	return r.persist(ctx, &a)
}

// ShouldTrigger reports whether the action with the given id should fire
// against the context: it must be pending, not expired, and its condition
// must evaluate true.
func (r *Registry) ShouldTrigger(id string, ctx map[string]float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	if !ok {
		return false
	}
	if a.Status != StatusPending {
		return false
	}
	if a.Expired(r.now()) {
		return false
	}
	return a.Condition.Evaluate(ctx)
}

// MarkTriggered transitions a pending action to triggered, stamping
// triggered_at.
func (r *Registry) MarkTriggered(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return fmt.Errorf("mark triggered %s: not found", id)
	}
	if a.Status != StatusPending {
		return fmt.Errorf("mark triggered %s: action is %s, not pending", id, a.Status)
	}
	now := r.now()
	a.Status = StatusTriggered
	a.TriggeredAt = &now
	return r.persist(ctx, a)
}

// MarkExecuted transitions a triggered action to its terminal executed
// state. The registry never retries: a retried conditional strategy
// requires a new action from the decision-making collaborator.
func (r *Registry) MarkExecuted(ctx context.Context, id string, result map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return fmt.Errorf("mark executed %s: not found", id)
	}
	if a.Status != StatusTriggered {
		return fmt.Errorf("mark executed %s: action is %s, not triggered", id, a.Status)
	}
	now := r.now()
	a.Status = StatusExecuted
	a.ExecutedAt = &now
	a.Result = result
	return r.persist(ctx, a)
}

// MarkFailed transitions a triggered action to its terminal failed state.
func (r *Registry) MarkFailed(ctx context.Context, id string, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return fmt.Errorf("mark failed %s: not found", id)
	}
	if a.Status != StatusTriggered {
		return fmt.Errorf("mark failed %s: action is %s, not triggered", id, a.Status)
	}
	a.Status = StatusFailed
	a.ErrorMessage = cause
	return r.persist(ctx, a)
}

// Cancel transitions a pending action to cancelled. Only pending actions
// may be cancelled.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.actions[id]
	if !ok {
		return fmt.Errorf("cancel %s: not found", id)
	}
	if a.Status != StatusPending {
		return fmt.Errorf("cancel %s: action is %s, not pending", id, a.Status)
	}
	a.Status = StatusCancelled
	return r.persist(ctx, a)
}

// Get returns a copy of the action, or false when absent.
func (r *Registry) Get(id string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	if !ok {
		return Action{}, false
	}
	return *a, true
}

// ListByOwner returns the owner's actions, optionally filtered by status.
func (r *Registry) ListByOwner(ownerID string, status Status) []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Action
	for _, a := range r.actions {
		if a.OwnerID != ownerID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// ListPending returns all pending actions across owners.
func (r *Registry) ListPending() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Action
	for _, a := range r.actions {
		if a.Status == StatusPending {
			out = append(out, *a)
		}
	}
	return out
}

// Sweep flips past-expiry pending actions to expired and removes terminal
// actions older than the retention window. It returns the number of
// removed entries.
func (r *Registry) Sweep(ctx context.Context, retention time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, a := range r.actions {
		if a.Status == StatusPending && a.Expired(now) {
			a.Status = StatusExpired
			if err := r.persist(ctx, a); err != nil {
				log.Printf("registry: sweep persist %s: %v", id, err)
			}
			continue
		}
		if a.Status.Terminal() && now.Sub(a.CreatedAt) > retention {
			delete(r.actions, id)
			removed++
			if r.store != nil {
				if err := r.store.DeleteConditionalAction(ctx, id); err != nil {
					log.Printf("registry: sweep delete %s: %v", id, err)
				}
			}
		}
	}
	return removed
}

// persist writes the action through the store. Callers hold r.mu.
func (r *Registry) persist(ctx context.Context, a *Action) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveConditionalAction(ctx, *a); err != nil {
		return fmt.Errorf("persist action %s: %w", a.ID, err)
	}
	return nil
}

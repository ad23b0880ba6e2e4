package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"agent-core/internal/execution"
)

// Config represents one agent entry in the roster YAML.
type Config struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Handle         string   `yaml:"handle"`
	Style          string   `yaml:"style"`
	Instruments    []string `yaml:"instruments"`
	MaxPositionUSD float64  `yaml:"max_position_usd"`
	Active         bool     `yaml:"active"`
	AccountKey     string   `yaml:"account_key"`
	SignerKey      string   `yaml:"signer_key"`
}

// ConfigFile represents the top-level roster YAML structure.
type ConfigFile struct {
	Agents []Config `yaml:"agents"`
}

// LoadConfig reads the agent roster from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}
	return file.Agents, nil
}

// Store persists agents.
type Store interface {
	UpsertAgent(ctx context.Context, a Agent) error
	ListAgents(ctx context.Context) ([]Agent, error)
}

// Roster keeps the in-memory agent list while persisting to the store.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]Agent
	store  Store
}

func NewRoster(store Store) *Roster {
	return &Roster{agents: make(map[string]Agent), store: store}
}

// Load seeds in-memory state from the store on startup.
func (r *Roster) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	agents, err := r.store.ListAgents(ctx)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return nil
}

// Sync upserts roster configs into memory and the store.
func (r *Roster) Sync(ctx context.Context, configs []Config) error {
	for _, cfg := range configs {
		a := Agent{
			ID:             cfg.ID,
			Name:           cfg.Name,
			Handle:         cfg.Handle,
			Style:          cfg.Style,
			Instruments:    cfg.Instruments,
			MaxPositionUSD: cfg.MaxPositionUSD,
			Active:         cfg.Active,
			Credentials: execution.Credentials{
				AccountKey: cfg.AccountKey,
				SignerKey:  cfg.SignerKey,
			},
			CreatedAt: time.Now(),
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if err := r.Put(ctx, a); err != nil {
			return err
		}
	}
	log.Printf("roster: synced %d agents", len(configs))
	return nil
}

// Put stores an agent in memory and persists it.
func (r *Roster) Put(ctx context.Context, a Agent) error {
	r.mu.Lock()
	r.agents[a.ID] = a
	r.mu.Unlock()
	if r.store != nil {
		if err := r.store.UpsertAgent(ctx, a); err != nil {
			return fmt.Errorf("persist agent %s: %w", a.ID, err)
		}
	}
	return nil
}

// Get returns an agent by ID.
func (r *Roster) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Active returns the agents the coordinator fans out over each tick.
func (r *Roster) Active() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Agent
	for _, a := range r.agents {
		if a.Active {
			out = append(out, a)
		}
	}
	return out
}

// All returns every known agent.
func (r *Roster) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

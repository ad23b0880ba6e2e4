package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-core/internal/agent"
	"agent-core/internal/api"
	"agent-core/internal/condition"
	"agent-core/internal/decision"
	"agent-core/internal/engine"
	"agent-core/internal/events"
	"agent-core/internal/execution"
	"agent-core/internal/market"
	"agent-core/internal/monitor"
	"agent-core/internal/queue"
	"agent-core/internal/risk"
	"agent-core/pkg/config"
	"agent-core/pkg/crypto"
	"agent-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: load config: %v", err)
	}
	log.Printf("main: starting agent-core on port %s", cfg.Port)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: open database: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("main: apply migrations: %v", err)
	}
	var sealer *crypto.Sealer
	if cfg.CredentialKey != "" {
		key, err := crypto.KeyFromString(cfg.CredentialKey)
		if err != nil {
			log.Fatalf("main: credential key: %v", err)
		}
		if sealer, err = crypto.NewSealer(key); err != nil {
			log.Fatalf("main: credential sealer: %v", err)
		}
		log.Printf("main: sealing agent signer keys at rest")
	}
	queries := db.NewQueries(database, sealer)

	// In-memory state seeded from DB
	registry := condition.NewRegistry(queries)
	if err := registry.Load(ctx); err != nil {
		log.Fatalf("main: load conditional actions: %v", err)
	}

	actionQueue := queue.New(queries, cfg.QueueMinInterval, cfg.QueueMaxPerMinute)
	if err := actionQueue.Load(ctx); err != nil {
		log.Fatalf("main: load queued actions: %v", err)
	}

	roster := agent.NewRoster(queries)
	if err := roster.Load(ctx); err != nil {
		log.Fatalf("main: load agents: %v", err)
	}
	if configs, err := agent.LoadConfig(cfg.RosterPath); err != nil {
		log.Printf("main: roster config not loaded: %v", err)
	} else if err := roster.Sync(ctx, configs); err != nil {
		log.Printf("main: roster sync failed: %v", err)
	}

	// Market snapshot cache over the mock source
	source := &market.MockSource{
		Instruments: cfg.Instruments,
		StartPrices: map[string]float64{"BTC": 90000, "ETH": 3000},
	}
	cache := market.NewCache(source, cfg.SnapshotTTL)
	cache.Bus = bus
	if _, err := cache.Snapshot(ctx, true); err != nil {
		log.Fatalf("main: initial snapshot: %v", err)
	}
	cache.Start(ctx)

	// Execution backend. The paper backend fills at snapshot price with
	// slippage and fee; a live venue backend would slot in here.
	if !cfg.DryRun {
		log.Printf("main: no live venue configured, running paper execution")
	}
	priceOf := func(instrument string) float64 {
		snap, err := cache.Snapshot(ctx, false)
		if err != nil {
			return 0
		}
		return snap.Price(instrument)
	}
	backend := execution.NewPaperBackend(priceOf, cfg.FeeRate, cfg.SlippageBps)
	backend.Bus = bus
	backend.Recorder = queries

	metrics := monitor.NewSystemMetrics()

	// Cycle coordinator
	coord := engine.New(engine.Config{
		Cache:             cache,
		Registry:          registry,
		Queue:             actionQueue,
		Roster:            roster,
		Decider:           decision.NewRuleDecider(),
		Backend:           backend,
		Bus:               bus,
		Metrics:           metrics,
		Cleaner:           queries,
		Guard:             risk.NewGuard(backend.Position),
		TickInterval:      cfg.TickInterval,
		Retention:         time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		HousekeepingEvery: cfg.HousekeepingEvery,
		DryRun:            cfg.DryRun,
		Instruments:       cfg.Instruments,
		Version:           buildVersion,
	})
	go coord.Run(ctx)

	// Log failed actions for operators tailing stdout.
	failedSub, unsubFailed := bus.Subscribe(events.EventActionFailed, 100)
	defer unsubFailed()
	go func() {
		for msg := range failedSub {
			log.Printf("main: action failed: %v", msg)
		}
	}()

	// API
	server := api.NewServer(api.Config{
		Bus:         bus,
		Registry:    registry,
		Queue:       actionQueue,
		Roster:      roster,
		Coord:       coord,
		Queries:     queries,
		Metrics:     metrics,
		JWTSecret:   cfg.JWTSecret,
		OperatorKey: cfg.OperatorKey,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")
}

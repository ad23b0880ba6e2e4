package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the agent core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Agent roster
	RosterPath string

	// Cycle coordinator
	TickInterval      time.Duration
	RetentionDays     int
	HousekeepingEvery time.Duration // min gap between housekeeping passes

	// Market snapshot cache
	SnapshotTTL time.Duration
	Instruments []string

	// Throttled queue
	QueueMinInterval  time.Duration // per (owner, instrument) gap between successes
	QueueMaxPerMinute int           // global trailing-60s success cap

	// Execution
	DryRun      bool
	FeeRate     float64 // decimal (e.g. 0.0005 = 5 bps)
	SlippageBps float64

	// Auth
	JWTSecret   string
	OperatorKey string

	// Credential encryption at rest (hex or raw 32-byte key; empty
	// disables sealing)
	CredentialKey string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/agent-core.db"),
		RosterPath:        getEnv("ROSTER_PATH", "agents.yaml"),
		TickInterval:      getEnvDuration("TICK_INTERVAL", 60*time.Second),
		RetentionDays:     getEnvInt("RETENTION_DAYS", 7),
		HousekeepingEvery: getEnvDuration("HOUSEKEEPING_INTERVAL", time.Hour),
		SnapshotTTL:       getEnvDuration("SNAPSHOT_TTL", 30*time.Second),
		Instruments:       splitAndTrim(getEnv("INSTRUMENTS", "BTC,ETH")),
		QueueMinInterval:  getEnvDuration("QUEUE_MIN_INTERVAL", 5*time.Second),
		QueueMaxPerMinute: getEnvInt("QUEUE_MAX_PER_MINUTE", 10),
		DryRun:            getEnv("DRY_RUN", "true") == "true",
		FeeRate:           getEnvFloat("FEE_RATE", 0.0005),
		SlippageBps:       getEnvFloat("SLIPPAGE_BPS", 2),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		OperatorKey:       getEnv("OPERATOR_KEY", ""),
		CredentialKey:     getEnv("CREDENTIAL_KEY", ""),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

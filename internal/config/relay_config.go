package config

import (
	"os"
	"strings"
	"time"
)

// RelayConfig holds configuration for the standalone outbox relay.
// It only needs the outbox database and the REST API it replays against.
type RelayConfig struct {
	DatabaseURL   string
	APIBaseURL    string
	Token         string
	HealthPort    string
	ReplayRate    float64
	BatchSize     int
	CatchUpPeriod time.Duration
	HTTPTimeout   time.Duration
	LogLevel      string
	LogFormat     string
}

func LoadRelayConfig() *RelayConfig {
	dbURL := os.Getenv("OUTBOX_DATABASE_URL")
	if dbURL == "" {
		panic("OUTBOX_DATABASE_URL environment variable is required")
	}

	apiBase := os.Getenv("API_BASE_URL")
	if apiBase == "" {
		panic("API_BASE_URL environment variable is required")
	}

	token := os.Getenv("AGENT_TOKEN")
	if token == "" {
		panic("AGENT_TOKEN environment variable is required")
	}

	return &RelayConfig{
		DatabaseURL:   dbURL,
		APIBaseURL:    strings.TrimRight(apiBase, "/"),
		Token:         token,
		HealthPort:    getEnv("RELAY_HEALTH_PORT", "8091"),
		ReplayRate:    getFloat("REPLAY_RATE", 5),
		BatchSize:     getInt("REPLAY_BATCH_SIZE", 100),
		CatchUpPeriod: getDuration("REPLAY_CATCH_UP_PERIOD", 90*time.Second),
		HTTPTimeout:   getDuration("HTTP_TIMEOUT", 15*time.Second),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}
}

package config

import (
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker names, one per downstream dependency.
const (
	BreakerBedsAPI  = "Beds-API"
	BreakerOutbox   = "Outbox-PostgreSQL"
	BreakerNotifier = "RabbitMQ-Notifier"
	BreakerRedis    = "Redis-Cache"
)

// NewCircuitBreaker creates a circuit breaker with standard settings.
// The name parameter uniquely identifies the circuit breaker instance.
func NewCircuitBreaker(name string, log *zap.Logger) *gobreaker.CircuitBreaker {
	var timeout time.Duration

	// Open-state timeout per dependency
	switch name {
	case BreakerRedis:
		timeout = 5 * time.Second // Align with health check timeout
	case BreakerBedsAPI:
		// Must stay below the fastest poll interval (10s) so the next tick
		// reaches the API half-open instead of failing fast.
		timeout = 8 * time.Second
	case BreakerOutbox:
		timeout = 10 * time.Second // Database operations need slightly more time
	default:
		timeout = 30 * time.Second // RabbitMQ and other operations
	}

	if log == nil {
		log = zap.NewNop()
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3, // Trial requests allowed while half-open
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Open circuit after 3 consecutive failures
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

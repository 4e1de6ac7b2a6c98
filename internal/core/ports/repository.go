package ports

import (
	"context"
	"errors"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

// ErrCacheMiss is returned by KVStore.Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// KVStore is the durable client-side storage used for the session and the
// offline bed cache.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// OutboxStore persists bed mutations made while offline, in creation order.
type OutboxStore interface {
	Append(ctx context.Context, m domain.PendingMutation) error
	// Claim reserves up to limit unprocessed entries, oldest first, for the
	// caller until the batch is closed. While a batch is open no other
	// replayer can claim entries, so replays of one bed never interleave.
	// Another replayer's open batch yields an empty batch.
	Claim(ctx context.Context, limit int) (OutboxBatch, error)
	Count(ctx context.Context) (int, error)
	// CountFor reports how many unprocessed entries target the given bed.
	CountFor(ctx context.Context, target string) (int, error)
}

// OutboxBatch is a set of claimed entries and the outcomes recorded for them.
type OutboxBatch interface {
	Entries() []domain.PendingMutation
	MarkProcessed(ctx context.Context, id string, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	// Close persists the recorded outcomes and releases the claim.
	Close() error
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/ids"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

// WriteQueue captures bed mutations into the durable outbox so they survive
// restarts and are replayed in order once the API is reachable again.
type WriteQueue struct {
	outbox  ports.OutboxStore
	trigger ports.ReplayTrigger
	now     func() time.Time
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewWriteQueue(outbox ports.OutboxStore, log *zap.Logger, m *metrics.Metrics) *WriteQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &WriteQueue{outbox: outbox, now: time.Now, log: log, metrics: m}
}

// SetTrigger wires the relay that should be woken after each enqueue.
func (q *WriteQueue) SetTrigger(t ports.ReplayTrigger) {
	q.trigger = t
}

// Enqueue appends a mutation. Re-enqueueing an idempotency key that is already
// queued is a no-op.
func (q *WriteQueue) Enqueue(ctx context.Context, kind domain.MutationKind, target string, payload any, idemKey string) (domain.PendingMutation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.PendingMutation{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	now := q.now()
	m := domain.PendingMutation{
		ID:             ids.NewAt(now),
		IdempotencyKey: idemKey,
		Kind:           kind,
		Target:         target,
		Payload:        raw,
		CreatedAt:      now,
	}

	err = q.outbox.Append(ctx, m)
	if errors.Is(err, domain.ErrDuplicate) {
		q.log.Debug("Mutation already queued", zap.String("idempotency_key", idemKey))
		return m, nil
	}
	if err != nil {
		return domain.PendingMutation{}, fmt.Errorf("queue %s for %s: %w", kind, target, err)
	}

	q.log.Info("Mutation queued for replay",
		zap.String("id", m.ID),
		zap.String("kind", string(kind)),
		zap.String("target", target),
	)
	if n, err := q.outbox.Count(ctx); err == nil {
		q.metrics.OutboxDepth(n)
	}
	if q.trigger != nil {
		q.trigger.Notify()
	}
	return m, nil
}

// Holds reports whether mutations for target still await replay. A new write
// for that target must queue behind them.
func (q *WriteQueue) Holds(ctx context.Context, target string) (bool, error) {
	n, err := q.outbox.CountFor(ctx, target)
	if err != nil {
		return false, fmt.Errorf("check queued writes for %s: %w", target, err)
	}
	return n > 0, nil
}

// Depth reports how many mutations still await replay.
func (q *WriteQueue) Depth(ctx context.Context) (int, error) {
	return q.outbox.Count(ctx)
}

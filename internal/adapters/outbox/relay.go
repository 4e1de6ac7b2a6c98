package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

const (
	// PostgreSQL NOTIFY/LISTEN configuration
	listenerMinReconnectInterval = 10 * time.Second
	listenerMaxReconnectInterval = time.Minute

	batchProcessTimeout       = 60 * time.Second
	defaultCatchUpInterval    = 90 * time.Second
	defaultBatchSize          = 100
	defaultReplayRate         = 5
	healthCheckStaleThreshold = 5 * time.Minute
)

// Replay outcomes reported to metrics.
const (
	ResultApplied   = "applied"
	ResultRejected  = "rejected"
	ResultRetryable = "retryable"
)

type RelayOptions struct {
	// Rate caps replayed requests per second.
	Rate            float64
	BatchSize       int
	CatchUpInterval time.Duration
	Log             *zap.Logger
	Metrics         *metrics.Metrics
}

// Relay replays queued bed mutations against the API in creation order. It
// wakes on Notify and on a periodic catch-up tick.
type Relay struct {
	store   ports.OutboxStore
	applier ports.MutationApplier
	limiter *rate.Limiter
	batch   int
	catchUp time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics
	wake    chan struct{}

	drainMu sync.Mutex

	mu            sync.Mutex
	lastProcessed time.Time
	isHealthy     bool
}

var _ ports.ReplayTrigger = (*Relay)(nil)

func NewRelay(store ports.OutboxStore, applier ports.MutationApplier, opts RelayOptions) *Relay {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Rate <= 0 {
		opts.Rate = defaultReplayRate
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.CatchUpInterval <= 0 {
		opts.CatchUpInterval = defaultCatchUpInterval
	}
	return &Relay{
		store:         store,
		applier:       applier,
		limiter:       rate.NewLimiter(rate.Limit(opts.Rate), 1),
		batch:         opts.BatchSize,
		catchUp:       opts.CatchUpInterval,
		log:           opts.Log,
		metrics:       opts.Metrics,
		wake:          make(chan struct{}, 1),
		lastProcessed: time.Now(),
		isHealthy:     true,
	}
}

// Notify asks for a replay pass. It never blocks; requests made while a pass
// is pending collapse into one.
func (r *Relay) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// IsHealthy reports whether the relay loop is alive.
func (r *Relay) IsHealthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isHealthy
}

// IsReady reports whether the relay has completed a pass recently.
func (r *Relay) IsReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isHealthy && time.Since(r.lastProcessed) <= healthCheckStaleThreshold
}

// Start drains the backlog, then replays on every Notify and catch-up tick.
// It blocks until ctx is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.log.Info("Outbox relay started", zap.Duration("catch_up", r.catchUp))

	// Initial catch-up for entries queued before a restart
	r.pass(ctx)

	// Periodic catch-up covers missed notifications
	ticker := time.NewTicker(r.catchUp)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("Outbox relay shutting down")
			return ctx.Err()
		case <-r.wake:
			r.pass(ctx)
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

// ListenPostgres forwards NOTIFY signals from other processes appending to the
// outbox. It blocks until ctx is cancelled.
func (r *Relay) ListenPostgres(ctx context.Context, dbURL string) error {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			r.log.Warn("Outbox listener error", zap.Error(err))
		}
	}
	listener := pq.NewListener(dbURL, listenerMinReconnectInterval, listenerMaxReconnectInterval, reportProblem)
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return err
	}
	r.log.Info("Outbox listener started", zap.String("channel", NotifyChannel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-listener.Notify:
			if n == nil {
				// Connection was re-established; entries may have been missed.
				r.log.Warn("Outbox listener reconnected")
			}
			r.Notify()
		case <-time.After(r.catchUp):
			// Keep the listener connection alive
			go func() { _ = listener.Ping() }()
		}
	}
}

func (r *Relay) pass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, batchProcessTimeout)
	defer cancel()

	n, err := r.Drain(ctx)
	r.mu.Lock()
	// An unreachable API is expected while offline and does not make the
	// relay unhealthy.
	r.isHealthy = err == nil || errors.Is(err, domain.ErrTransport) || ctx.Err() != nil
	if err == nil {
		r.lastProcessed = time.Now()
	}
	r.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		r.log.Warn("Outbox replay stopped", zap.Int("replayed", n), zap.Error(err))
	} else if n > 0 {
		r.log.Info("Outbox replayed", zap.Int("replayed", n))
	}
}

// Drain replays pending entries oldest first and returns how many it closed.
// It stops at the first entry that fails for a retryable reason, so later
// writes to the same bed never overtake an earlier one.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	// One drain at a time per process; Claim serializes across processes.
	r.drainMu.Lock()
	defer r.drainMu.Unlock()
	defer r.reportDepth(ctx)

	closed := 0
	for {
		batch, err := r.store.Claim(ctx, r.batch)
		if err != nil {
			return closed, err
		}
		entries := batch.Entries()
		n, err := r.replayBatch(ctx, batch, entries)
		closed += n

		// Close even after a failure: the attempt counts recorded by
		// MarkFailed are part of the batch.
		if cerr := batch.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return closed, err
		}
		// A short batch means the backlog is empty.
		if len(entries) < r.batch {
			return closed, nil
		}
	}
}

func (r *Relay) replayBatch(ctx context.Context, batch ports.OutboxBatch, entries []domain.PendingMutation) (int, error) {
	closed := 0
	for _, m := range entries {
		// Throttle replays so a long backlog does not flood the API the
		// moment it comes back.
		if err := r.limiter.Wait(ctx); err != nil {
			return closed, err
		}
		if err := r.replay(ctx, batch, m); err != nil {
			return closed, err
		}
		closed++
	}
	return closed, nil
}

func (r *Relay) replay(ctx context.Context, batch ports.OutboxBatch, m domain.PendingMutation) error {
	log := r.log.With(
		zap.String("id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.String("target", m.Target),
	)

	_, err := r.applier.Apply(ctx, m)
	switch {
	case err == nil:
		r.metrics.OutboxReplay(ResultApplied)
		log.Debug("Replayed mutation")
		return batch.MarkProcessed(ctx, m.ID, "")

	case retryable(err):
		// Leave the entry pending and stop here; it is retried first on
		// the next pass.
		r.metrics.OutboxReplay(ResultRetryable)
		if markErr := batch.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
			log.Error("Recording failed replay", zap.Error(markErr))
		}
		return err

	default:
		// The server refused the write. Retrying cannot change that, so the
		// entry is closed with the reason kept for inspection.
		r.metrics.OutboxReplay(ResultRejected)
		log.Warn("Server rejected queued mutation", zap.Error(err))
		return batch.MarkProcessed(ctx, m.ID, err.Error())
	}
}

// retryable reports whether a failed replay should be attempted again later.
// Server rejections are final.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrTransport) || errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Rejected()
	}
	return false
}

func (r *Relay) reportDepth(ctx context.Context) {
	if n, err := r.store.Count(ctx); err == nil {
		r.metrics.OutboxDepth(n)
	}
}

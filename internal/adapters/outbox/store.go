package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// NotifyChannel is the PostgreSQL channel an Append announces new entry ids on.
const NotifyChannel = "bed_outbox_channel"

const uniqueViolation = "23505"

// outboxLockKey names the advisory lock held by the replayer with an open
// batch.
const outboxLockKey int64 = 0x6265645f6f7574

var errBatchClosed = errors.New("outbox batch closed")

// Schema creates the outbox table. Entry ids are ULIDs, so ordering by id is
// creation order.
const Schema = `
CREATE TABLE IF NOT EXISTS bed_outbox (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	kind            TEXT NOT NULL,
	target          TEXT NOT NULL,
	payload         JSONB NOT NULL,
	attempts        INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL,
	processed_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS bed_outbox_pending ON bed_outbox (id) WHERE processed_at IS NULL;
CREATE INDEX IF NOT EXISTS bed_outbox_pending_target ON bed_outbox (target) WHERE processed_at IS NULL;`

// PostgresStore is the durable write-ahead queue for offline bed mutations.
type PostgresStore struct {
	db  *sql.DB
	cb  *gobreaker.CircuitBreaker
	now func() time.Time
}

var _ ports.OutboxStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB, log *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:  db,
		cb:  config.NewCircuitBreaker(config.BreakerOutbox, log),
		now: time.Now,
	}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, m domain.PendingMutation) error {
	res, err := s.cb.Execute(func() (any, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO bed_outbox (id, idempotency_key, kind, target, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			m.ID, m.IdempotencyKey, string(m.Kind), m.Target, []byte(m.Payload), m.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				// Not a store failure, keep it out of the breaker.
				return nil, nil
			}
			return nil, err
		}

		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, m.ID); err != nil {
			return nil, err
		}
		return true, tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("outbox append %s: %w", m.ID, err)
	}
	if res == nil {
		return fmt.Errorf("outbox append %s: idempotency key %s: %w", m.ID, m.IdempotencyKey, domain.ErrDuplicate)
	}
	return nil
}

// Claim opens a transaction holding the outbox advisory lock and row locks on
// up to limit pending entries. Outcomes marked on the batch are committed by
// Close.
func (s *PostgresStore) Claim(ctx context.Context, limit int) (ports.OutboxBatch, error) {
	res, err := s.cb.Execute(func() (any, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		// One replayer drains at a time, so entries for a bed are never
		// replayed out of order across processes.
		var locked bool
		if err := tx.QueryRowContext(ctx, `SELECT pg_try_advisory_xact_lock($1)`, outboxLockKey).Scan(&locked); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if !locked {
			_ = tx.Rollback()
			return &pgBatch{store: s}, nil
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, idempotency_key, kind, target, payload, attempts, last_error, created_at
			FROM bed_outbox
			WHERE processed_at IS NULL
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		entries, err := scanPending(rows)
		if err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		return &pgBatch{store: s, tx: tx, entries: entries}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("outbox claim: %w", err)
	}
	return res.(*pgBatch), nil
}

func scanPending(rows *sql.Rows) ([]domain.PendingMutation, error) {
	defer rows.Close()

	var out []domain.PendingMutation
	for rows.Next() {
		var (
			m       domain.PendingMutation
			kind    string
			payload []byte
		)
		if err := rows.Scan(&m.ID, &m.IdempotencyKey, &kind, &m.Target, &payload, &m.Attempts, &m.LastError, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Kind = domain.MutationKind(kind)
		m.Payload = payload
		out = append(out, m)
	}
	return out, rows.Err()
}

// pgBatch is a claimed set of entries. A batch without a transaction was
// refused the advisory lock and holds nothing.
type pgBatch struct {
	store   *PostgresStore
	tx      *sql.Tx
	entries []domain.PendingMutation
}

var _ ports.OutboxBatch = (*pgBatch)(nil)

func (b *pgBatch) Entries() []domain.PendingMutation {
	return b.entries
}

// MarkProcessed closes an entry. A non-empty lastError records why the server
// refused it.
func (b *pgBatch) MarkProcessed(ctx context.Context, id string, lastError string) error {
	return b.update(ctx, id, `
		UPDATE bed_outbox
		SET processed_at = $2, last_error = $3, attempts = attempts + 1
		WHERE id = $1`, b.store.now().UTC(), lastError)
}

// MarkFailed records a failed attempt; the entry stays pending.
func (b *pgBatch) MarkFailed(ctx context.Context, id string, lastError string) error {
	return b.update(ctx, id, `
		UPDATE bed_outbox
		SET last_error = $2, attempts = attempts + 1
		WHERE id = $1`, lastError)
}

func (b *pgBatch) update(ctx context.Context, id, query string, args ...any) error {
	if b.tx == nil {
		return fmt.Errorf("outbox update %s: %w", id, errBatchClosed)
	}
	res, err := b.store.cb.Execute(func() (any, error) {
		res, err := b.tx.ExecContext(ctx, query, append([]any{id}, args...)...)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return fmt.Errorf("outbox update %s: %w", id, err)
	}
	// A missing row is the caller's mistake, not a store failure, so it is
	// reported outside the breaker.
	if n, _ := res.(int64); n == 0 {
		return fmt.Errorf("outbox update %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Close commits the batch and releases its locks. It is safe to call twice.
func (b *pgBatch) Close() error {
	if b.tx == nil {
		return nil
	}
	tx := b.tx
	b.tx = nil
	_, err := b.store.cb.Execute(func() (any, error) {
		return nil, tx.Commit()
	})
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("outbox commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	res, err := s.cb.Execute(func() (any, error) {
		var n int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bed_outbox WHERE processed_at IS NULL`).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("outbox count: %w", err)
	}
	return res.(int), nil
}

func (s *PostgresStore) CountFor(ctx context.Context, target string) (int, error) {
	res, err := s.cb.Execute(func() (any, error) {
		var n int
		err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM bed_outbox
			WHERE processed_at IS NULL AND target = $1`, target).Scan(&n)
		return n, err
	})
	if err != nil {
		return 0, fmt.Errorf("outbox count %s: %w", target, err)
	}
	return res.(int), nil
}

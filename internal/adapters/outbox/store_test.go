package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock, NewPostgresStore(db, zap.NewNop())
}

func sampleMutation() domain.PendingMutation {
	return domain.PendingMutation{
		ID:             "01HQ0000000000000000000001",
		IdempotencyKey: "key-1",
		Kind:           domain.MutationBedStatus,
		Target:         "iA1",
		Payload:        json.RawMessage(`{"status":"cleaning"}`),
		CreatedAt:      time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}
}

func TestPostgresStore_AppendNotifies(t *testing.T) {
	_, mock, store := setupMockDB(t)
	m := sampleMutation()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bed_outbox`).
		WithArgs(m.ID, m.IdempotencyKey, "bed_status", "iA1", []byte(m.Payload), m.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SELECT pg_notify`).
		WithArgs(NotifyChannel, m.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, store.Append(context.Background(), m))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendDuplicateKey(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO bed_outbox`).
		WillReturnError(&pq.Error{Code: uniqueViolation, Message: "duplicate key value"})
	mock.ExpectRollback()

	err := store.Append(context.Background(), sampleMutation())
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendFailure(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	err := store.Append(context.Background(), sampleMutation())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDuplicate)
}

func expectClaim(mock sqlmock.Sqlmock, limit int, rows *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(outboxLockKey).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectQuery(`SELECT (.+) FROM bed_outbox (.+) FOR UPDATE SKIP LOCKED`).
		WithArgs(limit).
		WillReturnRows(rows)
}

func TestPostgresStore_Claim(t *testing.T) {
	_, mock, store := setupMockDB(t)
	created := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "idempotency_key", "kind", "target", "payload", "attempts", "last_error", "created_at",
	}).
		AddRow("01A", "k1", "bed_status", "iA1", []byte(`{"status":"cleaning"}`), 0, "", created).
		AddRow("01B", "k2", "cleaning_complete", "iA2", []byte(`{"notes":""}`), 2, "transport failure", created.Add(time.Second))
	expectClaim(mock, 10, rows)
	mock.ExpectCommit()

	batch, err := store.Claim(context.Background(), 10)
	require.NoError(t, err)
	got := batch.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "01A", got[0].ID)
	assert.Equal(t, domain.MutationBedStatus, got[0].Kind)
	assert.JSONEq(t, `{"status":"cleaning"}`, string(got[0].Payload))
	assert.Equal(t, 2, got[1].Attempts)
	assert.Equal(t, "transport failure", got[1].LastError)

	require.NoError(t, batch.Close())
	require.NoError(t, batch.Close(), "closing twice is harmless")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimHeldElsewhere(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WithArgs(outboxLockKey).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(false))
	mock.ExpectRollback()

	batch, err := store.Claim(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, batch.Entries())
	require.NoError(t, batch.Close())
	assert.Error(t, batch.MarkFailed(context.Background(), "01A", "x"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ClaimQueryFailure(t *testing.T) {
	_, mock, store := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT pg_try_advisory_xact_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"locked"}).AddRow(true))
	mock.ExpectQuery(`FROM bed_outbox`).WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := store.Claim(context.Background(), 10)
	assert.ErrorContains(t, err, "relation does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BatchMarksCommitTogether(t *testing.T) {
	_, mock, store := setupMockDB(t)
	now := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	expectClaim(mock, 10, sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`UPDATE bed_outbox`).
		WithArgs("01A", now, "Bed not found").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bed_outbox`).
		WithArgs("01B", "transport failure").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE bed_outbox`).
		WithArgs("missing", "x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ctx := context.Background()
	batch, err := store.Claim(ctx, 10)
	require.NoError(t, err)
	require.NoError(t, batch.MarkProcessed(ctx, "01A", "Bed not found"))
	require.NoError(t, batch.MarkFailed(ctx, "01B", "transport failure"))
	assert.ErrorIs(t, batch.MarkFailed(ctx, "missing", "x"), domain.ErrNotFound)
	require.NoError(t, batch.Close())

	assert.ErrorIs(t, batch.MarkFailed(ctx, "01B", "late"), errBatchClosed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountFor(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectQuery(`SELECT COUNT(.+) target = \$1`).
		WithArgs("iA1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountFor(context.Background(), "iA1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	_, mock, store := setupMockDB(t)
	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

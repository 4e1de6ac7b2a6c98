package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// MockOutbox is an in-memory ports.OutboxStore preserving append order.
type MockOutbox struct {
	mu      sync.Mutex
	entries []domain.PendingMutation
	claimed bool

	// Claims counts the claims that were granted.
	Claims int

	AppendError error
	ClaimError  error
	MarkError   error
	CloseError  error
	CountError  error
}

var _ ports.OutboxStore = (*MockOutbox)(nil)

func NewMockOutbox() *MockOutbox {
	return &MockOutbox{}
}

func (m *MockOutbox) Append(ctx context.Context, e domain.PendingMutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendError != nil {
		return m.AppendError
	}
	for _, existing := range m.entries {
		if existing.IdempotencyKey == e.IdempotencyKey {
			return domain.ErrDuplicate
		}
	}
	m.entries = append(m.entries, e)
	return nil
}

// Claim hands out the pending entries, oldest first. While a claimed batch is
// open further claims get an empty batch.
func (m *MockOutbox) Claim(ctx context.Context, limit int) (ports.OutboxBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimError != nil {
		return nil, m.ClaimError
	}
	if m.claimed {
		return &mockBatch{outbox: m}, nil
	}
	var out []domain.PendingMutation
	for _, e := range m.entries {
		if e.ProcessedAt != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	m.claimed = true
	m.Claims++
	return &mockBatch{outbox: m, entries: out, open: true}, nil
}

type mockBatch struct {
	outbox  *MockOutbox
	entries []domain.PendingMutation
	open    bool
}

func (b *mockBatch) Entries() []domain.PendingMutation {
	return b.entries
}

func (b *mockBatch) MarkProcessed(ctx context.Context, id string, lastError string) error {
	return b.outbox.mark(id, func(e *domain.PendingMutation) {
		now := time.Now()
		e.ProcessedAt = &now
		e.LastError = lastError
		e.Attempts++
	})
}

func (b *mockBatch) MarkFailed(ctx context.Context, id string, lastError string) error {
	return b.outbox.mark(id, func(e *domain.PendingMutation) {
		e.LastError = lastError
		e.Attempts++
	})
}

func (b *mockBatch) Close() error {
	if !b.open {
		return nil
	}
	b.open = false
	b.outbox.mu.Lock()
	defer b.outbox.mu.Unlock()
	b.outbox.claimed = false
	return b.outbox.CloseError
}

func (m *MockOutbox) mark(id string, apply func(*domain.PendingMutation)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkError != nil {
		return m.MarkError
	}
	for i := range m.entries {
		if m.entries[i].ID == id {
			apply(&m.entries[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

// Claimed reports whether a batch is currently open.
func (m *MockOutbox) Claimed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claimed
}

func (m *MockOutbox) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *MockOutbox) CountFor(ctx context.Context, target string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountError != nil {
		return 0, m.CountError
	}
	n := 0
	for _, e := range m.entries {
		if e.ProcessedAt == nil && e.Target == target {
			n++
		}
	}
	return n, nil
}

// Entries returns every entry, processed or not.
func (m *MockOutbox) Entries() []domain.PendingMutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PendingMutation, len(m.entries))
	copy(out, m.entries)
	return out
}

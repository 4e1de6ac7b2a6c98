package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// MockKV is an in-memory ports.KVStore with error injection.
type MockKV struct {
	mu   sync.RWMutex
	data map[string]mockValue

	SetError    error
	GetError    error
	DeleteError error
}

type mockValue struct {
	value     string
	expiresAt time.Time
}

var _ ports.KVStore = (*MockKV)(nil)

func NewMockKV() *MockKV {
	return &MockKV{data: make(map[string]mockValue)}
}

func (m *MockKV) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetError != nil {
		return "", m.GetError
	}
	v, ok := m.data[key]
	if !ok || (!v.expiresAt.IsZero() && time.Now().After(v.expiresAt)) {
		return "", ports.ErrCacheMiss
	}
	return v.value, nil
}

func (m *MockKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	m.data[key] = mockValue{value: value, expiresAt: exp}
	return nil
}

func (m *MockKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteError != nil {
		return m.DeleteError
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Has reports whether key is present, ignoring expiry.
func (m *MockKV) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok
}

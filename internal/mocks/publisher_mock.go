package mocks

import (
	"context"
	"sync"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// MockNotificationPublisher captures published notifications.
type MockNotificationPublisher struct {
	mu sync.RWMutex

	Published    []ports.Notification
	PublishError error
	PublishCalls int
}

var _ ports.NotificationPublisher = (*MockNotificationPublisher)(nil)

func NewMockNotificationPublisher() *MockNotificationPublisher {
	return &MockNotificationPublisher{}
}

func (m *MockNotificationPublisher) Publish(ctx context.Context, n ports.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PublishCalls++
	if m.PublishError != nil {
		return m.PublishError
	}
	m.Published = append(m.Published, n)
	return nil
}

func (m *MockNotificationPublisher) Notifications() []ports.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.Notification, len(m.Published))
	copy(out, m.Published)
	return out
}

func (m *MockNotificationPublisher) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PublishCalls
}

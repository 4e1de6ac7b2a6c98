package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// Emitted records one outbound channel message.
type Emitted struct {
	Event   string
	Payload any
}

// MockChannel implements ports.SessionChannel. Fire delivers an inbound event
// to the registered handlers as the real channel would.
type MockChannel struct {
	mu        sync.Mutex
	handlers  map[string]map[int]ports.EventHandler
	nextID    int
	connected bool

	ConnectCalls    []string
	DisconnectCalls int
	Sent            []Emitted

	// Unreachable makes Connect return without a connection, as a failed
	// dial does.
	Unreachable bool
}

var _ ports.SessionChannel = (*MockChannel)(nil)

func NewMockChannel() *MockChannel {
	return &MockChannel{handlers: make(map[string]map[int]ports.EventHandler)}
}

func (m *MockChannel) On(event string, h ports.EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[event] == nil {
		m.handlers[event] = make(map[int]ports.EventHandler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[event][id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.handlers[event], id)
	}
}

func (m *MockChannel) Emit(event string, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return domain.ErrNotConnected
	}
	m.Sent = append(m.Sent, Emitted{Event: event, Payload: payload})
	return nil
}

func (m *MockChannel) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockChannel) Connect(ctx context.Context, token string) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, token)
	if m.Unreachable {
		m.mu.Unlock()
		return
	}
	m.connected = true
	m.mu.Unlock()
	m.Fire("connect", nil)
}

func (m *MockChannel) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls++
	m.connected = false
	m.handlers = make(map[string]map[int]ports.EventHandler)
}

// SetConnected flips the connection flag without firing events.
func (m *MockChannel) SetConnected(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = up
}

// Fire delivers data to every handler registered for event. A non-RawMessage
// payload is marshalled first.
func (m *MockChannel) Fire(event string, payload any) {
	var data json.RawMessage
	switch p := payload.(type) {
	case nil:
	case json.RawMessage:
		data = p
	case string:
		data = json.RawMessage(p)
	default:
		data, _ = json.Marshal(p)
	}
	m.mu.Lock()
	hs := make([]ports.EventHandler, 0, len(m.handlers[event]))
	for _, h := range m.handlers[event] {
		hs = append(hs, h)
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(data)
	}
}

func (m *MockChannel) HandlerCount(event string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[event])
}

func (m *MockChannel) Emitted() []Emitted {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Emitted, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// Package channel is the push transport: one authenticated websocket per
// session carrying named JSON events, with bounded automatic reconnection.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// Lifecycle events raised by the manager itself. Each has at most one
// handler; registering another replaces it.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnect       = "reconnect"
	EventReconnectFailed = "reconnect_failed"
)

// Disconnect reasons passed as the data of EventDisconnect.
const (
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is the subset of *websocket.Conn the manager uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection. status is the handshake HTTP status when the
// server answered, 0 otherwise.
type Dialer interface {
	Dial(ctx context.Context, urlStr string, header http.Header) (conn Conn, status int, err error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, urlStr string, header http.Header) (Conn, int, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if err != nil {
		return nil, status, err
	}
	return conn, status, nil
}

type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// Jitter is the randomization factor applied to each delay, 0.5 meaning ±50%.
	Jitter      float64
	DialTimeout time.Duration
	Dialer      Dialer
	// OnUnauthorized runs, on its own goroutine, when the handshake is refused
	// with 401.
	OnUnauthorized func()
	Rand           func() float64
	Log            *zap.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Second
	}
	if o.Jitter < 0 || o.Jitter >= 1 {
		o.Jitter = 0.5
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = WebsocketDialer{}
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

// Manager owns the session's single channel connection. Create one per
// process and hand it to whatever needs to listen or emit.
type Manager struct {
	url  string
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	handlers map[string]map[int]ports.EventHandler
	nextID   int
	cur      *session
}

var _ ports.SessionChannel = (*Manager)(nil)

type session struct {
	token  string
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conn      Conn
	connected bool
	everUp    bool
	writeMu   sync.Mutex
}

func (s *session) close() {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func NewManager(channelURL string, opts Options) *Manager {
	opts.defaults()
	return &Manager{
		url:      channelURL,
		opts:     opts,
		log:      opts.Log,
		handlers: make(map[string]map[int]ports.EventHandler),
	}
}

func isLifecycle(event string) bool {
	switch event {
	case EventConnect, EventDisconnect, EventReconnect, EventReconnectFailed:
		return true
	}
	return false
}

// On registers h for event and returns a func removing exactly that handler.
func (m *Manager) On(event string, h ports.EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[event] == nil || isLifecycle(event) {
		m.handlers[event] = make(map[int]ports.EventHandler)
	}
	id := m.nextID
	m.nextID++
	m.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.handlers[event], id)
		})
	}
}

func (m *Manager) fire(event string, data json.RawMessage) {
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

func (m *Manager) Connected() bool {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect opens the channel with token. It is a no-op when already connected
// with the same token; any other existing connection is torn down first.
// A failed dial is logged and reconnection continues in the background, except
// for a 401, which ends the attempt and calls OnUnauthorized.
func (m *Manager) Connect(ctx context.Context, token string) {
	m.mu.Lock()
	old := m.cur
	if old != nil && old.token == token {
		old.mu.Lock()
		up := old.connected
		old.mu.Unlock()
		if up {
			m.mu.Unlock()
			return
		}
	}
	sctx, cancel := context.WithCancel(context.Background())
	s := &session{token: token, ctx: sctx, cancel: cancel}
	m.cur = s
	m.mu.Unlock()

	if old != nil {
		old.close()
	}

	conn, err := m.dial(ctx, s)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			m.log.Warn("Channel handshake rejected", zap.Error(err))
			m.abandon(s)
			return
		}
		m.log.Warn("Channel connect failed, retrying", zap.Error(err))
		go m.run(s, nil, 1, false)
		return
	}
	// Superseded by a newer Connect or Disconnect while dialing.
	if !m.attach(s, conn) {
		return
	}
	go m.run(s, conn, 0, false)
}

// Disconnect removes every handler, then closes the connection. Nothing is
// fired for a disconnect the caller asked for.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	s := m.cur
	m.cur = nil
	m.handlers = make(map[string]map[int]ports.EventHandler)
	m.mu.Unlock()

	if s != nil {
		s.close()
	}
}

// Emit sends one event. It fails with ErrNotConnected rather than buffering.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	s := m.cur
	m.mu.Unlock()
	if s == nil {
		return domain.ErrNotConnected
	}
	s.mu.Lock()
	conn, up := s.conn, s.connected
	s.mu.Unlock()
	if !up || conn == nil {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

func (m *Manager) current(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur == s
}

func (m *Manager) abandon(s *session) {
	m.mu.Lock()
	if m.cur == s {
		m.cur = nil
	}
	m.mu.Unlock()
	s.close()
	if m.opts.OnUnauthorized != nil {
		go m.opts.OnUnauthorized()
	}
}

func (m *Manager) dial(ctx context.Context, s *session) (Conn, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return nil, fmt.Errorf("channel url: %w", err)
	}
	q := u.Query()
	q.Set("token", s.token)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	dctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	conn, status, err := m.opts.Dialer.Dial(dctx, u.String(), header)
	if err != nil {
		if status == http.StatusUnauthorized {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return conn, nil
}

// attach installs conn on s and raises connect, or reconnect when s has been
// up before. It reports false when s was superseded meanwhile.
func (m *Manager) attach(s *session, conn Conn) bool {
	if !m.current(s) || s.ctx.Err() != nil {
		_ = conn.Close()
		return false
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	reconnect := s.everUp
	s.everUp = true
	s.mu.Unlock()

	if reconnect {
		m.log.Info("Channel reconnected")
		m.fire(EventReconnect, nil)
	} else {
		m.log.Info("Channel connected")
		m.fire(EventConnect, nil)
	}
	return true
}

// run reads from conn until it drops, then redials, for as long as s is the
// current session.
func (m *Manager) run(s *session, conn Conn, attempts int, immediate bool) {
	for {
		if conn != nil {
			err := m.read(conn)
			if s.ctx.Err() != nil || !m.current(s) {
				return
			}
			s.mu.Lock()
			s.conn = nil
			s.connected = false
			s.mu.Unlock()
			_ = conn.Close()

			reason := closeReason(err)
			m.log.Warn("Channel lost", zap.String("reason", reason), zap.Error(err))
			m.fire(EventDisconnect, quote(reason))
			immediate = reason == ReasonServerDisconnect
			attempts = 0
		}

		conn = m.redial(s, &attempts, immediate)
		if conn == nil {
			return
		}
		if !m.attach(s, conn) {
			return
		}
	}
}

func (m *Manager) redial(s *session, attempts *int, immediate bool) Conn {
	for *attempts < m.opts.MaxAttempts {
		*attempts++
		delay := m.Backoff(*attempts)
		if immediate && *attempts == 1 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := m.dial(s.ctx, s)
		if err == nil {
			return conn
		}
		if s.ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrUnauthorized) {
			m.log.Warn("Channel token rejected")
			m.abandon(s)
			return nil
		}
		m.log.Debug("Reconnect attempt failed", zap.Int("attempt", *attempts), zap.Error(err))
	}

	if m.current(s) {
		m.log.Error("Channel reconnection exhausted", zap.Int("attempts", *attempts))
		m.fire(EventReconnectFailed, nil)
	}
	return nil
}

func (m *Manager) read(conn Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			m.log.Warn("Dropping unreadable frame", zap.Int("bytes", len(msg)))
			continue
		}
		if isLifecycle(env.Event) {
			continue
		}
		m.fire(env.Event, env.Data)
	}
}

// Backoff returns the delay before reconnect attempt n (1-based): the initial
// delay doubled per attempt, randomized by Jitter, capped at MaxDelay.
func (m *Manager) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := m.opts.InitialDelay
	for i := 1; i < n && base < m.opts.MaxDelay; i++ {
		base *= 2
	}
	factor := 1 + m.opts.Jitter*(2*m.opts.Rand()-1)
	d := time.Duration(float64(base) * factor)
	if d > m.opts.MaxDelay {
		d = m.opts.MaxDelay
	}
	return d
}

func closeReason(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure || ce.Text == ReasonServerDisconnect {
			return ReasonServerDisconnect
		}
		return ReasonTransportClose
	}
	return ReasonTransportError
}

func quote(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

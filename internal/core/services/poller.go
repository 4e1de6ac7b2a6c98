package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

// Poll resources shared by views.
const (
	ResourceBeds     = "beds"
	ResourceAlerts   = "alerts"
	ResourceRequests = "emergency-requests"
	ResourceHealth   = "health"
)

// FetchFunc loads one resource and applies it to wherever it belongs.
type FetchFunc func(ctx context.Context) error

// Poller runs at most one periodic fetch loop per resource, no matter how many
// views subscribe to it. The loop ticks at the smallest interval any current
// subscriber asked for and stops when the last subscriber leaves.
type Poller struct {
	mu        sync.Mutex
	fetchers  map[string]FetchFunc
	schedules map[string]*schedule
	nextID    int
	group     singleflight.Group
	log       *zap.Logger
	metrics   *metrics.Metrics
}

type schedule struct {
	subs   map[int]time.Duration
	reset  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(log *zap.Logger, m *metrics.Metrics) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		fetchers:  make(map[string]FetchFunc),
		schedules: make(map[string]*schedule),
		log:       log,
		metrics:   m,
	}
}

// Register binds a resource name to the function that fetches it.
func (p *Poller) Register(resource string, fetch FetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchers[resource] = fetch
}

// Subscribe adds a consumer of resource polling at interval. The first
// subscriber triggers an immediate fetch. The returned func unsubscribes and
// is safe to call more than once; the last one out cancels the loop and any
// in-flight fetch without waiting for it.
func (p *Poller) Subscribe(resource string, interval time.Duration) (func(), error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval for %s must be positive", resource)
	}

	p.mu.Lock()
	if _, ok := p.fetchers[resource]; !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("unknown poll resource %q", resource)
	}
	id := p.nextID
	p.nextID++

	s, running := p.schedules[resource]
	if !running {
		ctx, cancel := context.WithCancel(context.Background())
		s = &schedule{
			subs:   map[int]time.Duration{id: interval},
			reset:  make(chan struct{}, 1),
			cancel: cancel,
			done:   make(chan struct{}),
		}
		p.schedules[resource] = s
		go p.run(ctx, resource, s)
	} else {
		s.subs[id] = interval
		s.poke()
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(resource, s, id) })
	}, nil
}

func (p *Poller) unsubscribe(resource string, s *schedule, id int) {
	p.mu.Lock()
	delete(s.subs, id)
	if len(s.subs) > 0 {
		s.poke()
		p.mu.Unlock()
		return
	}
	if p.schedules[resource] == s {
		delete(p.schedules, resource)
	}
	p.mu.Unlock()
	s.cancel()
}

func (s *schedule) poke() {
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// interval returns the smallest requested interval for s.
func (p *Poller) interval(s *schedule) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var shortest time.Duration
	for _, d := range s.subs {
		if shortest == 0 || d < shortest {
			shortest = d
		}
	}
	if shortest == 0 {
		shortest = time.Hour
	}
	return shortest
}

func (p *Poller) run(ctx context.Context, resource string, s *schedule) {
	defer close(s.done)

	p.fetch(ctx, resource)
	timer := time.NewTimer(p.interval(s))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reset:
			timer.Reset(p.interval(s))
		case <-timer.C:
			p.fetch(ctx, resource)
			timer.Reset(p.interval(s))
		}
	}
}

func (p *Poller) fetch(ctx context.Context, resource string) {
	if err := p.Refresh(ctx, resource); err != nil && ctx.Err() == nil {
		p.log.Warn("Poll fetch failed", zap.String("resource", resource), zap.Error(err))
	}
}

// Refresh fetches resource now. Concurrent refreshes of the same resource
// share one request.
func (p *Poller) Refresh(ctx context.Context, resource string) error {
	p.mu.Lock()
	fetch, ok := p.fetchers[resource]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown poll resource %q", resource)
	}
	_, err, _ := p.group.Do(resource, func() (any, error) {
		return nil, fetch(ctx)
	})
	p.metrics.PollFetch(resource, err)
	return err
}

// ForceRefresh fetches resource with a request of its own, never joining one
// already in flight: that request may predate whatever made the caller want
// fresh data. Refreshes issued after it share its result.
func (p *Poller) ForceRefresh(ctx context.Context, resource string) error {
	p.mu.Lock()
	_, ok := p.fetchers[resource]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown poll resource %q", resource)
	}
	p.group.Forget(resource)
	return p.Refresh(ctx, resource)
}

// Interval reports the effective polling interval of a running resource.
func (p *Poller) Interval(resource string) (time.Duration, bool) {
	p.mu.Lock()
	s, ok := p.schedules[resource]
	p.mu.Unlock()
	if !ok {
		return 0, false
	}
	return p.interval(s), true
}

// Subscribers reports how many consumers currently poll resource.
func (p *Poller) Subscribers(resource string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.schedules[resource]; ok {
		return len(s.subs)
	}
	return 0
}

// Stop cancels every running loop and waits for in-flight fetches to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	running := p.schedules
	p.schedules = make(map[string]*schedule)
	p.mu.Unlock()

	for _, s := range running {
		s.cancel()
	}
	for _, s := range running {
		<-s.done
	}
}

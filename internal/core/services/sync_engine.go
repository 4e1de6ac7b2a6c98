package services

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

// EngineDeps collects what the sync engine drives. Cache and Replay are
// optional.
type EngineDeps struct {
	Channel      ports.SessionChannel
	Relay        *EventRelay
	Poller       *Poller
	Store        *StateStore
	Beds         ports.BedAPI
	Alerts       ports.AlertAPI
	Requests     ports.RequestAPI
	Health       ports.HealthAPI
	Cache        *OfflineCache
	Connectivity *Connectivity
	Replay       ports.ReplayTrigger
	Log          *zap.Logger
	Metrics      *metrics.Metrics
}

// SyncEngine ties one session together: it opens the channel, routes pushed
// events into the store, and keeps the polling fallback running for the
// session's views.
type SyncEngine struct {
	deps EngineDeps
	log  *zap.Logger

	// One per collection. A fetch that started before the last applied one
	// is discarded when it returns.
	bedOrder     fetchOrder
	alertOrder   fetchOrder
	requestOrder fetchOrder

	mu        sync.Mutex
	running   bool
	user      domain.User
	wardStaff bool
	ctx       context.Context
	cancel    context.CancelFunc
	cleanup   []func()
}

func NewSyncEngine(deps EngineDeps) *SyncEngine {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Connectivity == nil {
		deps.Connectivity = NewConnectivity()
	}
	e := &SyncEngine{deps: deps, log: deps.Log}

	deps.Poller.Register(ResourceBeds, e.fetchBeds)
	deps.Poller.Register(ResourceAlerts, e.fetchAlerts)
	deps.Poller.Register(ResourceRequests, e.fetchRequests)
	deps.Poller.Register(ResourceHealth, e.fetchHealth)

	deps.Connectivity.OnChange(func(online bool) {
		if online {
			e.log.Info("API reachable again")
			e.triggerReplay()
		} else {
			e.log.Warn("API unreachable, writes will be queued")
		}
	})
	return e
}

// Start begins syncing for user. Calling Start while running restarts the
// engine for the new session.
func (e *SyncEngine) Start(ctx context.Context, user domain.User, token string, views []View) error {
	e.Stop()

	if len(views) == 0 {
		views = DefaultViews(user.Role)
	}
	var subs []Subscription
	for _, v := range views {
		s, err := v.Subscriptions()
		if err != nil {
			return err
		}
		subs = append(subs, s...)
	}

	e.mu.Lock()
	e.user = user
	e.wardStaff = slices.Contains(views, ViewWardStaff)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	ch := e.deps.Channel
	e.cleanup = append(e.cleanup,
		ch.On(EventConnect, e.onConnect),
		ch.On(EventReconnect, e.onReconnect),
		ch.On(EventDisconnect, e.onDisconnect),
		ch.On(EventReconnectFailed, e.onReconnectFailed),
		e.deps.Relay.Attach(ch),
	)
	e.running = true
	e.mu.Unlock()

	// A channel that fails to come up leaves polling as the only source.
	ch.Connect(ctx, token)

	unsubs := make([]func(), 0, len(subs))
	for _, s := range subs {
		unsub, err := e.deps.Poller.Subscribe(s.Resource, s.Interval)
		if err != nil {
			for _, fn := range unsubs {
				fn()
			}
			e.Stop()
			return err
		}
		unsubs = append(unsubs, unsub)
	}
	e.mu.Lock()
	e.cleanup = append(e.cleanup, unsubs...)
	e.mu.Unlock()

	e.log.Info("Sync started",
		zap.String("user_id", user.ID),
		zap.String("role", string(user.Role)),
		zap.Any("views", views),
	)
	return nil
}

// Stop unsubscribes from polling, detaches handlers and closes the channel.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	cleanup := e.cleanup
	e.cleanup = nil
	wasRunning := e.running
	e.running = false
	userID := e.user.ID
	e.mu.Unlock()

	for _, fn := range cleanup {
		fn()
	}
	if wasRunning {
		e.deps.Channel.Disconnect()
		e.deps.Metrics.ChannelConnected(false)
		e.log.Info("Sync stopped", zap.String("user_id", userID))
	}
}

func (e *SyncEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RefreshBeds refetches the bed collection now, ignoring any poll fetch
// already in flight.
func (e *SyncEngine) RefreshBeds(ctx context.Context) error {
	return e.deps.Poller.ForceRefresh(ctx, ResourceBeds)
}

func (e *SyncEngine) onConnect(json.RawMessage) {
	e.deps.Metrics.ChannelConnected(true)
	e.joinWards()
}

// onReconnect rejoins rooms, replays queued writes and refetches every bed,
// since events pushed while disconnected are lost.
func (e *SyncEngine) onReconnect(json.RawMessage) {
	e.deps.Metrics.ChannelConnected(true)
	e.deps.Metrics.Reconnected()
	e.joinWards()
	e.triggerReplay()

	// The refetch runs on the session context, not a poll loop's, so
	// unsubscribing a view cannot cancel it.
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		return
	}
	go func() {
		if err := e.RefreshBeds(ctx); err != nil && ctx.Err() == nil {
			e.log.Warn("Bed refetch after reconnect failed", zap.Error(err))
		}
	}()
}

func (e *SyncEngine) onDisconnect(data json.RawMessage) {
	e.deps.Metrics.ChannelConnected(false)
	var reason string
	_ = json.Unmarshal(data, &reason)
	e.log.Warn("Channel disconnected", zap.String("reason", reason))
}

func (e *SyncEngine) onReconnectFailed(json.RawMessage) {
	e.log.Error("Channel gave up reconnecting, polling continues")
}

func (e *SyncEngine) joinWards() {
	e.mu.Lock()
	user := e.user
	e.mu.Unlock()

	var wards []string
	if user.Ward != "" {
		wards = append(wards, user.Ward)
	}
	for _, w := range user.AssignedWards {
		if w != "" && !slices.Contains(wards, w) {
			wards = append(wards, w)
		}
	}
	for _, w := range wards {
		if err := e.deps.Channel.Emit(EventJoinWard, w); err != nil {
			e.log.Warn("Join ward failed", zap.String("ward", w), zap.Error(err))
		}
	}
}

func (e *SyncEngine) triggerReplay() {
	if e.deps.Replay != nil {
		e.deps.Replay.Notify()
	}
}

func (e *SyncEngine) fetchBeds(ctx context.Context) error {
	store := e.deps.Store
	e.mu.Lock()
	wardStaff := e.wardStaff
	e.mu.Unlock()
	cache := e.deps.Cache

	seq := e.bedOrder.begin()
	store.BeginFetch(CollectionBeds)
	beds, err := e.deps.Beds.ListBeds(ctx)
	if err != nil {
		var cached []*domain.Bed
		if wardStaff && cache != nil && len(store.Beds()) == 0 {
			cached, _ = cache.GetCached(ctx)
		}
		e.bedOrder.apply(seq, func() {
			store.FetchFailed(CollectionBeds, err)
			if len(cached) > 0 && len(store.Beds()) == 0 {
				store.ReplaceBeds(cached)
				store.SetBedsStale(true)
				e.log.Info("Serving cached beds", zap.Int("count", len(cached)))
			}
		})
		return err
	}

	applied := e.bedOrder.apply(seq, func() {
		store.ReplaceBeds(beds)
		store.SetBedsStale(false)
		store.FetchSucceeded(CollectionBeds)
	})
	if !applied {
		e.log.Debug("Discarding bed fetch overtaken by a newer one")
		return nil
	}
	if wardStaff && cache != nil {
		if err := cache.Cache(ctx, beds); err != nil {
			e.log.Warn("Caching beds failed", zap.Error(err))
		}
	}
	return nil
}

func (e *SyncEngine) fetchAlerts(ctx context.Context) error {
	store := e.deps.Store
	seq := e.alertOrder.begin()
	store.BeginFetch(CollectionAlerts)
	alerts, err := e.deps.Alerts.ListAlerts(ctx)
	if err != nil {
		e.alertOrder.apply(seq, func() { store.FetchFailed(CollectionAlerts, err) })
		return err
	}
	e.alertOrder.apply(seq, func() {
		store.ReplaceAlerts(alerts)
		store.FetchSucceeded(CollectionAlerts)
	})
	return nil
}

func (e *SyncEngine) fetchRequests(ctx context.Context) error {
	store := e.deps.Store
	seq := e.requestOrder.begin()
	store.BeginFetch(CollectionRequests)
	requests, err := e.deps.Requests.ListEmergencyRequests(ctx)
	if err != nil {
		e.requestOrder.apply(seq, func() { store.FetchFailed(CollectionRequests, err) })
		return err
	}
	e.requestOrder.apply(seq, func() {
		store.ReplaceRequests(requests)
		store.FetchSucceeded(CollectionRequests)
	})
	return nil
}

func (e *SyncEngine) fetchHealth(ctx context.Context) error {
	err := e.deps.Health.Health(ctx)
	if ctx.Err() != nil {
		return err
	}
	e.deps.Connectivity.Set(err == nil)
	return err
}

// fetchOrder numbers the fetches of one collection so a slow response never
// replaces the result of a fetch that started after it.
type fetchOrder struct {
	mu      sync.Mutex
	next    uint64
	applied uint64
}

func (o *fetchOrder) begin() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	return o.next
}

// apply runs fn for the fetch numbered seq unless a fetch that started
// later has already been applied. It reports whether fn ran.
func (o *fetchOrder) apply(seq uint64, fn func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq < o.applied {
		return false
	}
	o.applied = seq
	fn()
	return true
}

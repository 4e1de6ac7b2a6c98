package services

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

const (
	bedCacheKey          = "wardStaff_bedData"
	bedCacheTimestampKey = "wardStaff_bedData_timestamp"

	// CacheFreshness is how long a cached bed snapshot may be served.
	CacheFreshness = 5 * time.Minute
)

// Connectivity tracks whether the REST API is reachable. It starts online and
// flips on health probe results and transport failures.
type Connectivity struct {
	mu        sync.Mutex
	online    bool
	listeners []func(online bool)
}

func NewConnectivity() *Connectivity {
	return &Connectivity{online: true}
}

func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// Set records the current state and reports whether it changed. Listeners run
// synchronously on change only.
func (c *Connectivity) Set(online bool) bool {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return false
	}
	c.online = online
	listeners := make([]func(bool), len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(online)
	}
	return true
}

func (c *Connectivity) OnChange(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// OfflineCache keeps the last successfully fetched bed list so ward staff can
// keep working from a recent snapshot while the API is unreachable.
type OfflineCache struct {
	kv           ports.KVStore
	connectivity *Connectivity
	now          func() time.Time
	log          *zap.Logger
}

func NewOfflineCache(kv ports.KVStore, connectivity *Connectivity, log *zap.Logger) *OfflineCache {
	if log == nil {
		log = zap.NewNop()
	}
	if connectivity == nil {
		connectivity = NewConnectivity()
	}
	return &OfflineCache{kv: kv, connectivity: connectivity, now: time.Now, log: log}
}

// WithClock replaces the time source, for tests.
func (c *OfflineCache) WithClock(now func() time.Time) *OfflineCache {
	c.now = now
	return c
}

// Cache stores beds together with the current time.
func (c *OfflineCache) Cache(ctx context.Context, beds []*domain.Bed) error {
	raw, err := json.Marshal(beds)
	if err != nil {
		return err
	}
	if err := c.kv.Set(ctx, bedCacheKey, string(raw), 0); err != nil {
		return err
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	return c.kv.Set(ctx, bedCacheTimestampKey, ts, 0)
}

// GetCached returns the cached beds if they are younger than CacheFreshness.
// An expired or unreadable entry is cleared and reported as absent.
func (c *OfflineCache) GetCached(ctx context.Context) ([]*domain.Bed, bool) {
	raw, err := c.kv.Get(ctx, bedCacheKey)
	if err != nil {
		if !errors.Is(err, ports.ErrCacheMiss) {
			c.log.Warn("Offline cache read failed", zap.Error(err))
		}
		return nil, false
	}
	tsRaw, err := c.kv.Get(ctx, bedCacheTimestampKey)
	if err != nil {
		c.clear(ctx)
		return nil, false
	}
	ms, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		c.clear(ctx)
		return nil, false
	}
	if c.now().Sub(time.UnixMilli(ms)) > CacheFreshness {
		c.clear(ctx)
		return nil, false
	}

	var beds []*domain.Bed
	if err := json.Unmarshal([]byte(raw), &beds); err != nil {
		c.log.Warn("Offline cache corrupt, clearing", zap.Error(err))
		c.clear(ctx)
		return nil, false
	}
	return beds, true
}

func (c *OfflineCache) clear(ctx context.Context) {
	if err := c.kv.Delete(ctx, bedCacheKey, bedCacheTimestampKey); err != nil {
		c.log.Warn("Offline cache clear failed", zap.Error(err))
	}
}

func (c *OfflineCache) IsOnline() bool {
	return c.connectivity.Online()
}

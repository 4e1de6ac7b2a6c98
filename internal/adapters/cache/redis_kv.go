// Package cache holds the KV stores backing the session and the offline bed
// cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/config"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// keyPrefix namespaces agent keys when several agents share one Redis.
const keyPrefix = "bed-sync:"

type RedisKV struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	prefix string
}

var _ ports.KVStore = (*RedisKV)(nil)

// NewRedisKV wraps client. An empty namespace uses the default prefix alone;
// otherwise keys become "bed-sync:<namespace>:<key>".
func NewRedisKV(client *redis.Client, namespace string, log *zap.Logger) *RedisKV {
	prefix := keyPrefix
	if namespace != "" {
		prefix += namespace + ":"
	}
	return &RedisKV{
		client: client,
		cb:     config.NewCircuitBreaker(config.BreakerRedis, log),
		prefix: prefix,
	}
}

func (r *RedisKV) key(k string) string {
	return r.prefix + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	res, err := r.cb.Execute(func() (any, error) {
		val, err := r.client.Get(ctx, r.key(key)).Result()
		if errors.Is(err, redis.Nil) {
			// Misses must not count against the breaker.
			return nil, nil
		}
		return val, err
	})
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	if res == nil {
		return "", ports.ErrCacheMiss
	}
	return res.(string), nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.client.Set(ctx, r.key(key), value, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	_, err := r.cb.Execute(func() (any, error) {
		return nil, r.client.Del(ctx, full...).Err()
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping reports whether Redis answers; used by the readiness probe.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

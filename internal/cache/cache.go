package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/tierprice/internal/domain"
)

// New creates the cache named by cfg.Type. "memory" is a process-local
// LRU. "redis" is shared between replicas, fronted by a local LRU when
// two-phase caching is enabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LocalTTL)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2).
//
// L1 entries are capped at LocalTTL so a replica that misses an
// invalidation message serves stale tiers or prices for at most that long.
// Invalidations published on the bus reach every replica's worker, which
// clears both layers.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration

	remoteHits atomic.Int64
}

// NewTwoPhaseCache connects to Redis and builds the local layer.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l1TTL := cfg.LocalTTL
	if l1TTL <= 0 {
		l1TTL = time.Minute
	}

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize, l1TTL), remote, l1TTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}
}

// Get checks L1, then L2, copying an L2 hit into L1.
func (c *TwoPhaseCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, namespace, key)
	if err != nil || val != nil {
		return val, err
	}

	val, err = c.remote.Get(ctx, namespace, key)
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", namespace, err)
	}
	if val == nil {
		return nil, nil
	}

	c.remoteHits.Add(1)
	_ = c.local.Set(ctx, namespace, key, val, c.l1TTL)
	return val, nil
}

// Set writes L2 first so L1 never holds a value other replicas cannot see.
func (c *TwoPhaseCache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, namespace, key, value, ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", namespace, err)
	}
	l1TTL := c.l1TTL
	if ttl > 0 && ttl < l1TTL {
		l1TTL = ttl
	}
	return c.local.Set(ctx, namespace, key, value, l1TTL)
}

// Delete removes key from both layers.
func (c *TwoPhaseCache) Delete(ctx context.Context, namespace, key string) error {
	_ = c.local.Delete(ctx, namespace, key)
	if err := c.remote.Delete(ctx, namespace, key); err != nil {
		return fmt.Errorf("redis delete %s: %w", namespace, err)
	}
	return nil
}

// DeletePrefix removes matching keys from both layers. Other replicas
// drop their L1 copies when the matching invalidation message arrives.
func (c *TwoPhaseCache) DeletePrefix(ctx context.Context, namespace, prefix string) error {
	_ = c.local.DeletePrefix(ctx, namespace, prefix)
	if err := c.remote.DeletePrefix(ctx, namespace, prefix); err != nil {
		return fmt.Errorf("redis delete prefix %s: %w", namespace, err)
	}
	return nil
}

// Ping checks Redis; the local layer cannot fail.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close clears L1 and closes the Redis client.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats reports L1 counters plus the L1 misses that L2 answered.
func (c *TwoPhaseCache) Stats() Stats {
	s := c.local.Stats()
	s.RemoteHits = c.remoteHits.Load()
	return s
}

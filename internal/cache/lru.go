// Package cache provides caching implementations for tierprice.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stats is a point-in-time view of a cache's size and effectiveness.
type Stats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`

	// RemoteHits counts L1 misses answered by L2 in a TwoPhaseCache.
	RemoteHits int64 `json:"remoteHits,omitempty"`
}

// LRUCache is a thread-safe LRU cache with per-entry expiry. Entries are
// indexed by namespace so invalidating one namespace (all pricing results
// for a customer, say) never scans the others.
// Used as the single-node cache and as L1 in two-phase caching.
type LRUCache struct {
	mu         sync.Mutex
	maxSize    int
	defaultTTL time.Duration
	order      *list.List
	namespaces map[string]map[string]*list.Element

	hits, misses, evictions int64
}

type cacheEntry struct {
	namespace string
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates an LRU cache holding at most maxSize entries.
// Entries stored with a zero ttl live for defaultTTL.
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRUCache{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		order:      list.New(),
		namespaces: make(map[string]map[string]*list.Element),
	}
}

// Get returns the value for key, or nil when it is missing or expired.
func (c *LRUCache) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.namespaces[namespace][key]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.remove(elem)
		c.misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores value under key for ttl.
func (c *LRUCache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	keys, ok := c.namespaces[namespace]
	if !ok {
		keys = make(map[string]*list.Element)
		c.namespaces[namespace] = keys
	}

	if elem, ok := keys[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return nil
	}

	keys[key] = c.order.PushFront(&cacheEntry{
		namespace: namespace,
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	})

	for c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
		c.evictions++
	}
	return nil
}

// Delete removes key from namespace.
func (c *LRUCache) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.namespaces[namespace][key]; ok {
		c.remove(elem)
	}
	return nil
}

// DeletePrefix removes every key in namespace beginning with prefix.
// An empty prefix clears the namespace.
func (c *LRUCache) DeletePrefix(ctx context.Context, namespace, prefix string) error {
	if namespace == "" {
		return fmt.Errorf("namespace is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.namespaces[namespace] {
		if strings.HasPrefix(key, prefix) {
			c.remove(elem)
		}
	}
	return nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.namespaces = make(map[string]map[string]*list.Element)
	return nil
}

// Stats returns the current size and lookup counters.
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.order.Len(),
		Capacity:  c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) remove(elem *list.Element) {
	if elem == nil {
		return
	}
	entry := c.order.Remove(elem).(*cacheEntry)
	keys := c.namespaces[entry.namespace]
	delete(keys, entry.key)
	if len(keys) == 0 {
		delete(c.namespaces, entry.namespace)
	}
}

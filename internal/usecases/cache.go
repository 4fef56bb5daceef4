package usecases

import (
	"sync"
	"time"
)

// Cache is a small concurrent map with an optional TTL. A zero TTL keeps
// entries until Invalidate.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]cacheEntry[V]
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]cacheEntry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock swaps the time source (tests).
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	c.now = now
	return c
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.now()}
}

// SetIfAbsent stores value only when key has no live entry and reports
// whether it did.
func (c *Cache[K, V]) SetIfAbsent(key K, value V) bool {
	if _, ok := c.Get(key); ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return false
	}
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.now()}
	return true
}

func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Invalidate drops every entry.
func (c *Cache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]cacheEntry[V])
}

func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

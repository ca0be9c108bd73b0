package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	deadline int64 // unix nanos, zero means no expiry
}

// TTLCache is an in-memory cache with per-entry TTLs. The settlement
// sweeper uses it to suppress re-attempting a meeting it just touched.
type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
}

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{items: make(map[K]entry[V])}
}

// Get returns the value if present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if e.deadline != 0 && time.Now().UnixNano() > e.deadline {
		c.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value. A non-positive ttl stores it without expiry.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	var deadline int64
	if ttl > 0 {
		deadline = time.Now().Add(ttl).UnixNano()
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, deadline: deadline}
	c.mu.Unlock()
}

// Delete removes an entry.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included until
// their next Get.
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

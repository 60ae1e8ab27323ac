// Package cache provides a single-value TTL cache with an injected
// clock, replacing ambient string-keyed storage with an explicit,
// testable abstraction.
package cache

import (
	"sync"
	"time"
)

// Cache holds one value that expires TTL after it was stored. A zero
// TTL disables caching entirely; Get then never hits.
type Cache[T any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	value    T
	storedAt time.Time
	set      bool
	Now      func() time.Time
}

// New returns a cache with the given TTL.
func New[T any](ttl time.Duration) *Cache[T] {
	return &Cache[T]{ttl: ttl, Now: time.Now}
}

func (c *Cache[T]) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Put stores a value and resets its expiry.
func (c *Cache[T]) Put(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.storedAt = c.now()
	c.set = true
}

// Get returns the stored value if it has not expired.
func (c *Cache[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	if !c.set || c.ttl <= 0 {
		return zero, false
	}
	if c.now().Sub(c.storedAt) >= c.ttl {
		c.value = zero
		c.set = false
		return zero, false
	}
	return c.value, true
}

// Invalidate drops the stored value immediately.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.set = false
}

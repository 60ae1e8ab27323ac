package cache_test

import (
	"testing"
	"time"

	"fitline/internal/cache"
)

func TestExpiryUsesInjectedClock(t *testing.T) {
	clock := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	c := cache.New[string](30 * time.Second)
	c.Now = func() time.Time { return clock }

	c.Put("board")
	if v, ok := c.Get(); !ok || v != "board" {
		t.Fatalf("fresh value missing: %q %v", v, ok)
	}

	clock = clock.Add(29 * time.Second)
	if _, ok := c.Get(); !ok {
		t.Fatalf("value expired early")
	}

	clock = clock.Add(time.Second)
	if _, ok := c.Get(); ok {
		t.Fatalf("value should expire at the TTL boundary")
	}
}

func TestZeroTTLNeverHits(t *testing.T) {
	c := cache.New[int](0)
	c.Put(42)
	if _, ok := c.Get(); ok {
		t.Fatalf("zero TTL must disable the cache")
	}
}

func TestInvalidate(t *testing.T) {
	c := cache.New[int](time.Minute)
	c.Put(1)
	c.Invalidate()
	if _, ok := c.Get(); ok {
		t.Fatalf("invalidated value still served")
	}
}

func TestEmptyCacheMisses(t *testing.T) {
	c := cache.New[int](time.Minute)
	if _, ok := c.Get(); ok {
		t.Fatalf("empty cache returned a value")
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache remembers probed source durations so repeated starts of the
// same media file do not re-run ffprobe.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Durations maps a media path to its probed length in seconds.
type Durations interface {
	Lookup(ctx context.Context, path string) (seconds float64, ok bool)
	Remember(ctx context.Context, path string, seconds float64, ttl time.Duration)
	Forget(ctx context.Context, path string)
	Stats() Stats
}

// Stats are cumulative counters since construction. Entries is the number of
// paths currently remembered.
type Stats struct {
	Hits      int64
	Misses    int64
	Stores    int64
	Evictions int64
	Entries   int
}

type counters struct {
	hits      atomic.Int64
	misses    atomic.Int64
	stores    atomic.Int64
	evictions atomic.Int64
}

func (c *counters) snapshot(entries int) Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Stores:    c.stores.Load(),
		Evictions: c.evictions.Load(),
		Entries:   entries,
	}
}

type memEntry struct {
	seconds float64
	expires time.Time
}

// MemoryCache is the in-process Durations used when Redis is not configured.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	counts  counters
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache starts a sweeper that drops expired paths every interval.
// A zero interval leaves expired entries until they are looked up.
func NewMemoryCache(interval time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go c.sweepEvery(interval)
	}
	return c
}

func (c *MemoryCache) Lookup(_ context.Context, path string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[path]
	if !ok {
		c.counts.misses.Add(1)
		return 0, false
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, path)
		c.counts.evictions.Add(1)
		c.counts.misses.Add(1)
		return 0, false
	}
	c.counts.hits.Add(1)
	return e.seconds, true
}

func (c *MemoryCache) Remember(_ context.Context, path string, seconds float64, ttl time.Duration) {
	c.mu.Lock()
	c.entries[path] = memEntry{seconds: seconds, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	c.counts.stores.Add(1)
}

func (c *MemoryCache) Forget(_ context.Context, path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return c.counts.snapshot(n)
}

// Stop ends the sweeper. Safe to call more than once.
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweepEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for path, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, path)
			n++
		}
	}
	c.counts.evictions.Add(int64(n))
	return n
}

// Disabled never remembers anything.
type Disabled struct{}

func (Disabled) Lookup(context.Context, string) (float64, bool)           { return 0, false }
func (Disabled) Remember(context.Context, string, float64, time.Duration) {}
func (Disabled) Forget(context.Context, string)                           {}
func (Disabled) Stats() Stats                                             { return Stats{} }

// SPDX-License-Identifier: MIT

package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimiterGlobal(t *testing.T) {
	config := Config{
		GlobalRate:  1,
		GlobalBurst: 20,
		PerKeyRate:  100,
		PerKeyBurst: 200,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 25; i++ {
		if limiter.Allow(fmt.Sprintf("owner-%d", i), "start") {
			allowed++
		}
	}

	// Should be around 20 (burst size)
	if allowed < 19 || allowed > 21 {
		t.Errorf("expected ~20 events to pass with burst=20, got %d", allowed)
	}
}

func TestRateLimiterPerKind(t *testing.T) {
	config := Config{
		GlobalRate:  100,
		GlobalBurst: 200,
		PerKeyRate:  100,
		PerKeyBurst: 200,
		KindRates:   map[string]rate.Limit{"error": 1},
		KindBurst:   map[string]int{"error": 10},
	}
	limiter := New(config)

	errors, starts := 0, 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("owner-1", "error") {
			errors++
		}
		if limiter.Allow("owner-1", "start") {
			starts++
		}
	}

	if errors < 9 || errors > 11 {
		t.Errorf("expected ~10 error events to pass with burst=10, got %d", errors)
	}
	if starts != 20 {
		t.Errorf("kinds without a limit must not be throttled, got %d/20", starts)
	}
}

func TestRateLimiterPerOwner(t *testing.T) {
	config := Config{
		GlobalRate:  100,
		GlobalBurst: 200,
		PerKeyRate:  1,
		PerKeyBurst: 5,
	}
	limiter := New(config)

	allowed := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("owner-1", "stop") {
			allowed++
		}
	}
	if allowed < 4 || allowed > 6 {
		t.Errorf("expected ~5 events for owner-1 with burst=5, got %d", allowed)
	}

	// A different owner has its own bucket
	allowed2 := 0
	for i := 0; i < 20; i++ {
		if limiter.Allow("owner-2", "stop") {
			allowed2++
		}
	}
	if allowed2 < 4 || allowed2 > 6 {
		t.Errorf("expected ~5 events for owner-2, got %d", allowed2)
	}
}

func TestRateLimiterIdleCleanup(t *testing.T) {
	config := DefaultConfig()
	config.IdleTTL = time.Minute
	limiter := New(config)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	limiter.lastCleanup = now

	for i := 0; i < 10; i++ {
		limiter.Allow(fmt.Sprintf("owner-%d", i), "start")
	}
	if got := limiter.Len(); got != 10 {
		t.Fatalf("expected 10 owner buckets, got %d", got)
	}

	now = now.Add(30 * time.Second)
	limiter.Allow("owner-0", "start")

	now = now.Add(40 * time.Second)
	limiter.Allow("owner-new", "start")

	// owner-0 was seen 40s ago and survives; the rest idled for 70s.
	if got := limiter.Len(); got != 2 {
		t.Errorf("expected 2 owner buckets after cleanup, got %d", got)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	limiter := New(DefaultConfig())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.Allow("owner-1", "start")
	}
}

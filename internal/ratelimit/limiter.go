// SPDX-License-Identifier: MIT

// Package ratelimit provides keyed token-bucket limiting for outbound
// notifications: one global bucket, one bucket per notification kind and one
// per owner.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "ratelimit_exceeded_total",
			Help:      "Total notifications dropped by the rate limiter",
		},
		[]string{"limit_type", "kind"},
	)
)

// Config holds rate limiting configuration
type Config struct {
	// Global limits
	GlobalRate  rate.Limit // events per second
	GlobalBurst int

	// Per-owner limits
	PerKeyRate  rate.Limit
	PerKeyBurst int

	// Per-kind limits (start, stop, error)
	KindRates map[string]rate.Limit
	KindBurst map[string]int

	// Owner buckets idle longer than this are dropped.
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		GlobalRate:  20,
		GlobalBurst: 50,

		PerKeyRate:  rate.Every(6 * time.Second), // 10 per minute per owner
		PerKeyBurst: 5,

		KindRates: map[string]rate.Limit{
			"error": 5,
		},
		KindBurst: map[string]int{
			"error": 10,
		},

		IdleTTL: 10 * time.Minute,
	}
}

type keyed struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter is safe for concurrent use.
type Limiter struct {
	config Config
	now    func() time.Time

	global  *rate.Limiter
	perKind map[string]*rate.Limiter

	mu          sync.Mutex
	perKey      map[string]*keyed
	lastCleanup time.Time
}

// New creates a new rate limiter with the given config
func New(config Config) *Limiter {
	l := &Limiter{
		config:  config,
		now:     time.Now,
		global:  rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perKind: make(map[string]*rate.Limiter),
		perKey:  make(map[string]*keyed),
	}
	l.lastCleanup = l.now()

	for kind, kindRate := range config.KindRates {
		l.perKind[kind] = rate.NewLimiter(kindRate, config.KindBurst[kind])
	}
	return l
}

// Allow reports whether one event of kind for key may be sent now.
func (l *Limiter) Allow(key, kind string) bool {
	if !l.global.Allow() {
		rateLimitExceeded.WithLabelValues("global", kind).Inc()
		return false
	}

	if kindLimiter, ok := l.perKind[kind]; ok && !kindLimiter.Allow() {
		rateLimitExceeded.WithLabelValues("per_kind", kind).Inc()
		return false
	}

	if !l.keyLimiter(key).Allow() {
		rateLimitExceeded.WithLabelValues("per_owner", kind).Inc()
		return false
	}
	return true
}

// Len returns the number of tracked owner buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perKey)
}

func (l *Limiter) keyLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.cleanupLocked(now)

	k, ok := l.perKey[key]
	if !ok {
		k = &keyed{limiter: rate.NewLimiter(l.config.PerKeyRate, l.config.PerKeyBurst)}
		l.perKey[key] = k
	}
	k.lastSeen = now
	return k.limiter
}

// cleanupLocked drops owner buckets that have been idle for IdleTTL.
func (l *Limiter) cleanupLocked(now time.Time) {
	if l.config.IdleTTL <= 0 || now.Sub(l.lastCleanup) < l.config.IdleTTL {
		return
	}
	for key, k := range l.perKey {
		if now.Sub(k.lastSeen) >= l.config.IdleTTL {
			delete(l.perKey, key)
		}
	}
	l.lastCleanup = now
}

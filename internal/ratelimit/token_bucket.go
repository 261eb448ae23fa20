// Package ratelimit provides a simple in-memory token-bucket rate limiter.
// Limiter is used by the rate-limit plugin, which keeps one limiter for all
// requests; Store keeps a separate Limiter per key.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a single token-bucket rate limiter, backed by golang.org/x/time/rate.
type Limiter struct {
	rl *rate.Limiter
}

// New creates a Limiter allowing ratePerSecond requests/s with a burst capacity.
// If burst <= 0, it defaults to ratePerSecond (no extra burst).
func New(ratePerSecond, burst float64) *Limiter {
	if burst <= 0 {
		burst = ratePerSecond
	}
	b := int(burst)
	if b < 1 {
		b = 1
	}
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSecond), b)}
}

// Allow consumes one token and returns true if the request is permitted.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// Store maintains per-key Limiter instances.
type Store struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	rate     float64
	burst    float64
}

// NewStore creates a Store whose per-key limiters share the same rate/burst.
func NewStore(ratePerSecond, burst float64) *Store {
	return &Store{
		limiters: make(map[string]*Limiter),
		rate:     ratePerSecond,
		burst:    burst,
	}
}

// Allow checks (and creates if needed) the limiter for key.
func (s *Store) Allow(key string) bool {
	// Fast path — limiter already exists.
	s.mu.RLock()
	l, ok := s.limiters[key]
	s.mu.RUnlock()
	if ok {
		return l.Allow()
	}

	// Slow path — create new limiter.
	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok = s.limiters[key]; ok {
		return l.Allow()
	}
	l = New(s.rate, s.burst)
	s.limiters[key] = l
	return l.Allow()
}

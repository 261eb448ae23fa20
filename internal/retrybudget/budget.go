// Package retrybudget implements a per-provider retry budget: a token
// bucket that gates retries only, not initial attempts. A permit is
// drawn before issuing a retry and returned if that retry ultimately
// succeeds, so a provider degrading gracefully doesn't starve retries for
// everyone sharing the bucket.
//
// This is grounded on internal/ratelimit/token_bucket.go's lazy-refill
// token bucket, generalized with the draw/return accounting this policy
// requires — accounting golang.org/x/time/rate does not expose (see
// DESIGN.md). Retry-budget scope is per-provider: one Budget per registry
// candidate, not a single global bucket.
package retrybudget

import (
	"sync"
	"time"
)

// Config controls a Budget's capacity and refill behavior.
type Config struct {
	MaxTokens     float64 // bucket capacity (default 10)
	RefillPerSec  float64 // tokens added per second (default 1)
	MinSuccessRatio float64 // floor on the success ratio that scales the refill rate (default 0.1, adaptive)
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 10
	}
	if c.RefillPerSec <= 0 {
		c.RefillPerSec = 1
	}
	if c.MinSuccessRatio <= 0 {
		c.MinSuccessRatio = 0.1
	}
	return c
}

// Budget is a token bucket gating retry attempts for one provider.
//
// TryAcquire must be called before issuing a retry (never before the
// initial attempt). Return should be called if the retried attempt
// succeeds, crediting the token back so a recovering provider doesn't stay
// throttled on stale failures.
type Budget struct {
	cfg Config

	mu          sync.Mutex
	tokens      float64
	lastRefill  time.Time
	retriesTried   int64
	retriesGood    int64
	adaptiveRate   float64

	now func() time.Time
}

// New creates a Budget with the given config (zero values replaced with
// defaults).
func New(cfg Config) *Budget {
	cfg = cfg.withDefaults()
	now := time.Now
	return &Budget{
		cfg:          cfg,
		tokens:       cfg.MaxTokens,
		lastRefill:   now(),
		adaptiveRate: cfg.RefillPerSec,
		now:          now,
	}
}

// TryAcquire attempts to draw one retry permit. It returns true (and
// consumes a token) if a permit is available, false otherwise — the caller
// must treat false as "do not retry, exhaust the attempt as a terminal
// failure."
func (b *Budget) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	b.retriesTried++
	b.adjustRateLocked()
	return true
}

// Return credits one token back to the bucket (capped at MaxTokens) and
// records the retry as having succeeded, which feeds the adaptive refill
// rate. Call this only after a retried attempt (one gated by a prior
// TryAcquire) completes successfully.
func (b *Budget) Return() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += 1
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}
	b.retriesGood++
	b.adjustRateLocked()
}

// refillLocked must be called with b.mu held.
func (b *Budget) refillLocked() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.adaptiveRate
	if b.tokens > b.cfg.MaxTokens {
		b.tokens = b.cfg.MaxTokens
	}
	b.lastRefill = now
}

// adjustRateLocked implements the adaptive variant: the refill rate tracks
// the observed retry success ratio, so a provider whose retries keep
// failing gets a throttled refill rate (down to MinSuccessRatio * base
// rate) while one whose retries mostly succeed refills at the full
// configured rate.
func (b *Budget) adjustRateLocked() {
	if b.retriesTried == 0 {
		b.adaptiveRate = b.cfg.RefillPerSec
		return
	}
	ratio := float64(b.retriesGood) / float64(b.retriesTried)
	if ratio < b.cfg.MinSuccessRatio {
		ratio = b.cfg.MinSuccessRatio
	}
	b.adaptiveRate = b.cfg.RefillPerSec * ratio
}

// Available returns the current token count, for metrics export (C11
// retry-budget-permits gauge).
func (b *Budget) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// SuccessRatio returns the observed retriesGood/retriesTried ratio, or 1.0
// if no retries have been attempted yet.
func (b *Budget) SuccessRatio() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retriesTried == 0 {
		return 1
	}
	return float64(b.retriesGood) / float64(b.retriesTried)
}

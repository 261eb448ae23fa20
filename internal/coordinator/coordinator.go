// Package coordinator implements the Resilience Coordinator: the
// per-attempt sequence that wraps every call through the Router with
// bulkhead admission, circuit-breaker admission, a bounded attempt
// deadline, and a retry-budget-gated decorrelated-jitter backoff loop.
//
// Grounded on gateway.go's cbProvider (which wrapped a Provider with a
// *circuitbreaker.CircuitBreaker around Complete/CompleteStream) and
// internal/strategies/fallback.go's per-target retry loop, generalized
// from a single breaker-wrapped provider into the full
// breaker+bulkhead+timeout+retry-budget stack operating over whatever the
// Router selects each attempt.
package coordinator

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/breaker"
	"github.com/ferro-labs/ai-gateway/internal/gwerrors"
	"github.com/ferro-labs/ai-gateway/internal/logging"
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/router"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
	"github.com/ferro-labs/ai-gateway/internal/timeoutchain"
	"github.com/ferro-labs/ai-gateway/providers"
)

// Config holds the Coordinator's retry/backoff/timeout tunables.
type Config struct {
	MaxAttempts     int           // total attempts across retries (default 3)
	GatewayTimeout  time.Duration // overall deadline for the whole call chain (default 60s)
	ProviderTimeout time.Duration // per-attempt timeout (default 30s)
	BaseBackoff     time.Duration // decorrelated-jitter floor (default 100ms)
	MaxBackoff      time.Duration // decorrelated-jitter ceiling (default 10s)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 60 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 30 * time.Second
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

// Coordinator drives attempts through a Router with the full resilience
// stack. It is not generic over the response type at the struct level (Go
// methods can't carry their own type parameters), so the type parameter
// lives on Execute instead.
type Coordinator struct {
	cfg    Config
	router *router.Router
	rng    *rand.Rand
}

// New creates a Coordinator over router.
func New(cfg Config, r *router.Router) *Coordinator {
	return &Coordinator{
		cfg:    cfg.withDefaults(),
		router: r,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AttemptFunc performs one call against candidate and returns its result.
// The Coordinator treats ctx's deadline as authoritative; AttemptFunc
// implementations should respect ctx cancellation.
type AttemptFunc[T any] func(ctx context.Context, candidate *registry.Candidate) (T, error)

// Execute runs attempt against the Router's selection, retrying per the
// Coordinator's retry-budget-gated decorrelated-jitter policy until
// success, a non-retryable error, retry-budget exhaustion, or the gateway
// deadline elapses.
func Execute[T any](ctx context.Context, co *Coordinator, rc routectx.RoutingContext, attempt AttemptFunc[T]) (T, error) {
	var zero T

	gatewayCtx, cancel := co.gatewayContext(ctx)
	defer cancel()

	chain := timeoutchain.Chain{
		GatewayTimeout:  co.cfg.GatewayTimeout,
		ProviderTimeout: co.cfg.ProviderTimeout,
	}

	var lastErr error
	prevBackoff := co.cfg.BaseBackoff

	for attemptNum := 1; attemptNum <= co.cfg.MaxAttempts; attemptNum++ {
		if timeoutchain.Exhausted(gatewayCtx) {
			if lastErr != nil {
				return zero, lastErr
			}
			return zero, gwerrors.New(gwerrors.KindGatewayTimeout, "gateway deadline exhausted before any attempt")
		}

		candidate, _, err := co.router.Route(rc)
		if err != nil {
			return zero, err
		}

		result, attemptErr := runAttempt(gatewayCtx, chain, candidate, attempt)
		if attemptErr == nil {
			if attemptNum > 1 {
				candidate.RetryBudget.Return()
			}
			return result, nil
		}
		lastErr = attemptErr.WithAttempt(attemptNum).WithProvider(candidate.ID)

		if !gwerrors.IsRetryable(lastErr) {
			return zero, lastErr
		}
		if attemptNum >= co.cfg.MaxAttempts {
			return zero, lastErr
		}
		if !candidate.RetryBudget.TryAcquire() {
			return zero, gwerrors.New(gwerrors.KindBudgetExceeded, "retry budget exhausted").WithProvider(candidate.ID)
		}

		backoff := decorrelatedJitter(co.rng, co.cfg.BaseBackoff, co.cfg.MaxBackoff, prevBackoff)
		prevBackoff = backoff
		if retryAfter := gwerrors.RetryAfter(lastErr); retryAfter > backoff {
			backoff = retryAfter
		}

		if logging.Logger != nil {
			logging.Logger.Warn("coordinator: retrying attempt",
				"provider", candidate.ID, "attempt", attemptNum, "backoff", backoff, "error", lastErr)
		}

		select {
		case <-gatewayCtx.Done():
			return zero, lastErr
		case <-time.After(backoff):
		}
	}
	return zero, lastErr
}

func (co *Coordinator) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, co.cfg.GatewayTimeout)
}

// runAttempt performs one admitted attempt: bulkhead acquisition, breaker
// admission, a bounded attempt deadline, the call itself, and outcome
// recording on both the bulkhead ticket and the breaker guard. It always
// returns a *gwerrors.Error so the retry loop has a uniform Kind to
// inspect.
func runAttempt[T any](ctx context.Context, chain timeoutchain.Chain, candidate *registry.Candidate, attempt AttemptFunc[T]) (T, *gwerrors.Error) {
	var zero T
	defer candidate.DecrementConnections()

	ticket, err := candidate.Bulkhead.Acquire(ctx)
	if err != nil {
		return zero, asGwError(err, gwerrors.KindBulkheadRejection)
	}
	defer ticket.Release()

	guard, err := candidate.Breaker.Admit()
	if err != nil {
		kind := gwerrors.KindCircuitOpen
		if errors.Is(err, breaker.ErrHalfOpenSaturated) {
			kind = gwerrors.KindBulkheadRejection
		}
		retryAfter := candidate.Breaker.RetryAfter()
		return zero, gwerrors.New(kind, err.Error()).WithRetryAfter(retryAfter)
	}

	attemptCtx, attemptCancel := chain.AttemptContext(ctx)
	defer attemptCancel()

	start := time.Now()
	result, callErr := attempt(attemptCtx, candidate)
	latency := time.Since(start)
	candidate.Latency.Observe(latency)

	if callErr == nil {
		guard.Success()
		return result, nil
	}

	if attemptCtx.Err() != nil {
		guard.Timeout()
		return zero, asGwError(callErr, gwerrors.KindProviderTimeout).WithRetryable(true)
	}

	// providers.ClassifyError turns the adapter's raw error (a structured
	// *providers.HTTPError when the adapter built one, or any other error
	// otherwise) into a *gwerrors.Error with the right Kind/Retryable/
	// RetryAfter — a 401/403/404/422 is never retried, a 429 carries its
	// Retry-After, and only then does a 5xx/transport failure default to
	// provider_transient.
	classified := providers.ClassifyError(callErr)
	if classified == nil {
		classified = gwerrors.Wrap(gwerrors.KindProviderTransient, callErr)
	}
	if classified.Kind == gwerrors.KindRateLimited {
		// A 429 reflects the caller's request rate, not the provider's
		// health, so it must not count toward the breaker's failure rate.
		guard.Ignore()
	} else {
		guard.Failure()
	}
	return zero, classified
}

// asGwError wraps err as a *gwerrors.Error, preserving its Kind/Retryable
// flags if it already is one, or classifying it as defaultKind otherwise.
func asGwError(err error, defaultKind gwerrors.Kind) *gwerrors.Error {
	var e *gwerrors.Error
	if errors.As(err, &e) {
		return e
	}
	return gwerrors.Wrap(defaultKind, err)
}

// decorrelatedJitter implements the Open Question's resolved formula:
// sleep = rand(base, min(max, prev*3)), with prev seeded to base on the
// first retry.
func decorrelatedJitter(rng *rand.Rand, base, maxBackoff, prev time.Duration) time.Duration {
	if prev <= 0 {
		prev = base
	}
	ceiling := prev * 3
	if ceiling > maxBackoff {
		ceiling = maxBackoff
	}
	if ceiling <= base {
		return base
	}
	span := int64(ceiling - base)
	return base + time.Duration(rng.Int63n(span))
}

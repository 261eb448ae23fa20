// Package breaker implements a per-provider circuit breaker with three
// states — Closed/Open/HalfOpen — driven by a sliding-window failure rate
// in addition to a consecutive-failure counter, atomic compare-and-swap
// transitions, and a Guard object whose drop-without-verdict counts as a
// failure so breaker accounting cannot leak under cancellation.
//
// This generalizes internal/circuitbreaker (still used by the legacy
// strategy modes): that package only tracked a consecutive-failure counter.
// The sliding window, half-open concurrency cap, and guard pattern below are
// not offered by off-the-shelf breakers in the retrieved pack.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/telemetry"
)

// State is the circuit breaker's current state.
type State int32

// State constants.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String implements fmt.Stringer; also used as the Prometheus gauge
// encoding (0/1/2).
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow/Admit when the circuit is Open.
var ErrOpen = errors.New("breaker: circuit open")

// ErrHalfOpenSaturated is returned when HalfOpen already admits
// half_open_max_requests concurrent probes.
var ErrHalfOpenSaturated = errors.New("breaker: half-open probe limit reached")

// Config holds the thresholds for a CircuitBreaker. Zero values are
// replaced with spec-recommended defaults in New.
type Config struct {
	FailureThreshold    int           // consecutive failures to open (default 5)
	SuccessThreshold    int           // consecutive half-open successes to close (default 1)
	MinRequests         int           // window requests required before rate-based opening applies (default 10)
	FailureRateThreshold float64      // window failure rate that opens the breaker (default 0.5)
	Timeout             time.Duration // Open duration before a HalfOpen probe is admitted (default 30s)
	HalfOpenMaxRequests int           // concurrent probes admitted while HalfOpen (default 1)
	HalfOpenTimeout     time.Duration // time limit on an unresolved HalfOpen probation (default = Timeout)
	SamplingWindow      time.Duration // total sliding-window duration (default 10s)
	WindowBuckets       int           // number of buckets in the sliding window (default 10)
	CountTimeouts       bool          // whether timeouts count toward the failure rate (default false)
	Count5xx            bool          // not read by CircuitBreaker: every Failure verdict counts, whatever its status
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.MinRequests <= 0 {
		c.MinRequests = 10
	}
	if c.FailureRateThreshold <= 0 {
		c.FailureRateThreshold = 0.5
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.HalfOpenTimeout <= 0 {
		c.HalfOpenTimeout = c.Timeout
	}
	if c.SamplingWindow <= 0 {
		c.SamplingWindow = 10 * time.Second
	}
	if c.WindowBuckets <= 0 {
		c.WindowBuckets = 10
	}
	return c
}

// CircuitBreaker guards calls to a single downstream provider.
type CircuitBreaker struct {
	cfg    Config
	window *telemetry.SlidingWindow

	mu               sync.Mutex
	state            State
	consecutiveFails int
	halfOpenSuccess  int
	halfOpenInFlight int
	openedAt         time.Time
	halfOpenEnteredAt time.Time

	now func() time.Time
}

// New creates a CircuitBreaker with the given config (zero values replaced
// with spec defaults).
func New(cfg Config) *CircuitBreaker {
	cfg = cfg.withDefaults()
	return &CircuitBreaker{
		cfg:    cfg,
		window: telemetry.NewSlidingWindow(cfg.SamplingWindow, cfg.WindowBuckets),
		state:  StateClosed,
		now:    time.Now,
	}
}

// State returns the current state, resolving an expired Open timeout to
// HalfOpen as a side effect: the first admitting call after the Open
// timeout elapses is what actually transitions the breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.resolveLocked()
}

// resolveLocked must be called with cb.mu held. It performs the
// Open→HalfOpen and stuck-HalfOpen→Open transitions that are driven by time
// rather than by an explicit outcome.
func (cb *CircuitBreaker) resolveLocked() State {
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
			cb.state = StateHalfOpen
			cb.halfOpenSuccess = 0
			cb.halfOpenInFlight = 0
			cb.halfOpenEnteredAt = cb.now()
		}
	case StateHalfOpen:
		if cb.now().Sub(cb.halfOpenEnteredAt) >= cb.cfg.HalfOpenTimeout && cb.halfOpenInFlight == 0 {
			// Unresolved probation window elapsed with nothing admitted:
			// re-open rather than leave the breaker stuck half-open forever.
			cb.openLocked()
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.consecutiveFails = 0
}

// RetryAfter returns how long remains until an Open breaker's timeout
// elapses; 0 if the breaker is not Open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.resolveLocked() != StateOpen {
		return 0
	}
	remaining := cb.cfg.Timeout - cb.now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Guard is returned by Admit and represents one admitted call. Exactly one
// of Success, Failure, or Timeout must be called; if the guard is dropped
// without a verdict (e.g. the caller panics or forgets), Close treats that
// as a failure, so exactly one outcome is always recorded even under
// cancellation.
type Guard struct {
	cb       *CircuitBreaker
	resolved atomic.Bool
	wasHalf  bool
}

// Admit requests permission to start a call. It returns (*Guard, nil) if the
// call may proceed, or (nil, ErrOpen) / (nil, ErrHalfOpenSaturated) if not.
// The caller must call exactly one of Guard.Success/Failure/Timeout, or
// Guard.Close (equivalent to Failure) if no outcome is known.
func (cb *CircuitBreaker) Admit() (*Guard, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.resolveLocked() {
	case StateOpen:
		return nil, ErrOpen
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxRequests {
			return nil, ErrHalfOpenSaturated
		}
		cb.halfOpenInFlight++
		return &Guard{cb: cb, wasHalf: true}, nil
	default: // StateClosed
		return &Guard{cb: cb}, nil
	}
}

// Success records a successful outcome for this attempt.
func (g *Guard) Success() {
	if !g.resolved.CompareAndSwap(false, true) {
		return
	}
	g.cb.recordOutcome(telemetry.OutcomeSuccess, g.wasHalf)
}

// Failure records a failed outcome for this attempt.
func (g *Guard) Failure() {
	if !g.resolved.CompareAndSwap(false, true) {
		return
	}
	g.cb.recordOutcome(telemetry.OutcomeFailure, g.wasHalf)
}

// Timeout records a timed-out outcome for this attempt. Whether this counts
// toward the failure rate/threshold is governed by Config.CountTimeouts.
func (g *Guard) Timeout() {
	if !g.resolved.CompareAndSwap(false, true) {
		return
	}
	g.cb.recordOutcome(telemetry.OutcomeTimeout, g.wasHalf)
}

// Ignore resolves the guard without recording any outcome toward the
// breaker's failure rate or consecutive-failure counter. Used for outcomes
// that should not influence circuit health — e.g. a 429 rate-limit
// response, which reflects the caller's request rate rather than the
// provider's health.
func (g *Guard) Ignore() {
	if !g.resolved.CompareAndSwap(false, true) {
		return
	}
	g.cb.recordIgnored(g.wasHalf)
}

func (cb *CircuitBreaker) recordIgnored(wasHalfOpen bool) {
	if !wasHalfOpen {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// Close resolves the guard as a failure if no verdict has been recorded yet.
// Callers should defer g.Close() immediately after a successful Admit so
// that cancellation (return without calling Success/Failure/Timeout) is
// always accounted for.
func (g *Guard) Close() {
	if !g.resolved.CompareAndSwap(false, true) {
		return
	}
	g.cb.recordOutcome(telemetry.OutcomeFailure, g.wasHalf)
}

func (cb *CircuitBreaker) recordOutcome(o telemetry.Outcome, wasHalfOpen bool) {
	isFailure := o == telemetry.OutcomeFailure || (o == telemetry.OutcomeTimeout && cb.cfg.CountTimeouts)

	cb.window.Record(o)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasHalfOpen {
		if cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
	}

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.consecutiveFails++
			if cb.tripByConsecutive() || cb.tripByRate() {
				cb.openLocked()
			}
		} else if o == telemetry.OutcomeSuccess {
			cb.consecutiveFails = 0
		}
	case StateHalfOpen:
		if isFailure {
			cb.openLocked()
			return
		}
		if o == telemetry.OutcomeSuccess {
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
				cb.consecutiveFails = 0
				cb.halfOpenSuccess = 0
				cb.window.Reset()
			}
		}
	case StateOpen:
		// A verdict arriving after the breaker already re-opened (e.g. a
		// slow probe whose HalfOpenTimeout expired) is accounted in the
		// window but does not re-trigger a transition.
	}
}

func (cb *CircuitBreaker) tripByConsecutive() bool {
	return cb.consecutiveFails >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) tripByRate() bool {
	snap := cb.window.Snapshot()
	if snap.Total() < int64(cb.cfg.MinRequests) {
		return false
	}
	return snap.FailureRate(cb.cfg.CountTimeouts) >= cb.cfg.FailureRateThreshold
}

// Reset forces the breaker back to Closed with cleared counters, used by
// the admin-plane reset_breaker operation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveFails = 0
	cb.halfOpenSuccess = 0
	cb.halfOpenInFlight = 0
	cb.window.Reset()
}

// Snapshot returns the current sliding-window aggregate, for health/metrics
// reporting.
func (cb *CircuitBreaker) Snapshot() telemetry.Snapshot {
	return cb.window.Snapshot()
}

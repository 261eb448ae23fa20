// Package registry implements the provider registry and routing table: the
// set of backend candidates the Router chooses from, each carrying its own
// resilience primitives (circuit breaker, bulkhead, retry budget) and
// telemetry (latency histogram, health score, active connection count).
//
// Grounded on providers/registry.go's simple name->Provider map and
// gateway.go's provider map + background StartDiscovery loop; generalized
// here into a concurrency-safe RoutingTable with a generation counter so
// callers can cheaply detect mutation.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/breaker"
	"github.com/ferro-labs/ai-gateway/internal/bulkhead"
	"github.com/ferro-labs/ai-gateway/internal/logging"
	"github.com/ferro-labs/ai-gateway/internal/metrics"
	"github.com/ferro-labs/ai-gateway/internal/retrybudget"
	"github.com/ferro-labs/ai-gateway/internal/telemetry"
	"github.com/ferro-labs/ai-gateway/providers"
)

// HealthProber is an optional capability a provider.Provider may implement
// to support active health probing. Providers that don't implement it are
// not probed, and their health score stays at whatever was last set.
type HealthProber interface {
	Ping(ctx context.Context) error
}

// Candidate is one routeable backend: a provider bound to the resilience
// and telemetry state the Router and Coordinator read and update on every
// attempt.
type Candidate struct {
	ID       string
	Provider providers.Provider

	Region string
	Tenant string // "" means available to all tenants

	Breaker     *breaker.CircuitBreaker
	Bulkhead    *bulkhead.Bulkhead
	RetryBudget *retrybudget.Budget
	Latency     *telemetry.Histogram

	activeConnections atomic.Int64
	healthScoreBits    atomic.Uint64 // math.Float64bits of a 0..1 health score
	weight             atomic.Uint64 // math.Float64bits, for WeightedRoundRobin

	InputCostPer1K  float64
	OutputCostPer1K float64

	Capabilities Capabilities

	mu         sync.RWMutex
	models     map[string]struct{}
	registered time.Time
}

// Capabilities records what a candidate can do, checked by the Router's
// capability filter. Zero value means "supports nothing beyond plain chat
// completion" — callers populate this from the model catalog or provider
// metadata at registration time.
type Capabilities struct {
	Streaming     bool
	Tools         bool
	Vision        bool
	ContextWindow int
}

// NewCandidate builds a Candidate with default resilience primitives
// (overridable via the With* options below).
func NewCandidate(id string, p providers.Provider) *Candidate {
	c := &Candidate{
		ID:          id,
		Provider:    p,
		Breaker:     breaker.New(breaker.Config{}),
		Bulkhead:    bulkhead.New(bulkhead.Config{}),
		RetryBudget: retrybudget.New(retrybudget.Config{}),
		Latency:     telemetry.NewHistogram(),
		models:      modelSet(p),
		registered:  time.Now(),
	}
	c.SetHealthScore(1)
	c.SetWeight(1)
	return c
}

func modelSet(p providers.Provider) map[string]struct{} {
	set := make(map[string]struct{})
	for _, m := range p.SupportedModels() {
		set[m] = struct{}{}
	}
	return set
}

// SupportsModel reports whether this candidate currently claims to support
// model (refreshed by RefreshModels after discovery).
func (c *Candidate) SupportsModel(model string) bool {
	if c.Provider.SupportsModel(model) {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.models[model]
	return ok
}

// RefreshModels replaces the candidate's known model set, called after a
// discovery cycle adds newly-seen models to the registry's capability set.
func (c *Candidate) RefreshModels(models []string) {
	set := make(map[string]struct{}, len(models))
	for _, m := range models {
		set[m] = struct{}{}
	}
	c.mu.Lock()
	c.models = set
	c.mu.Unlock()
}

// ActiveConnections returns the current in-flight request count routed to
// this candidate, the input LeastConnections ranks on.
func (c *Candidate) ActiveConnections() int64 { return c.activeConnections.Load() }

// IncrementConnections is called by the Router when a candidate is chosen.
func (c *Candidate) IncrementConnections() { c.activeConnections.Add(1) }

// DecrementConnections is called by the Coordinator when an attempt
// finishes (success, failure, or timeout).
func (c *Candidate) DecrementConnections() {
	for {
		v := c.activeConnections.Load()
		if v <= 0 {
			return
		}
		if c.activeConnections.CompareAndSwap(v, v-1) {
			return
		}
	}
}

// HealthScore returns the candidate's current health score in [0,1].
func (c *Candidate) HealthScore() float64 {
	return float64fromBits(c.healthScoreBits.Load())
}

// SetHealthScore sets the candidate's health score, clamped to [0,1].
func (c *Candidate) SetHealthScore(score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	c.healthScoreBits.Store(bitsFromFloat64(score))
}

// Weight returns the candidate's configured routing weight (default 1).
func (c *Candidate) Weight() float64 { return float64fromBits(c.weight.Load()) }

// SetWeight sets the candidate's routing weight.
func (c *Candidate) SetWeight(w float64) {
	if w < 0 {
		w = 0
	}
	c.weight.Store(bitsFromFloat64(w))
}

// Available reports whether the candidate's circuit breaker is not Open
// (Closed or HalfOpen). HalfOpen probe capacity is not checked, so a
// HalfOpen breaker with no free probe slot still counts as available.
func (c *Candidate) Available() bool {
	return c.Breaker.State() != breaker.StateOpen
}

// RoutingTable is the concurrency-safe collection of candidates the Router
// selects from. Every mutating operation bumps Generation so that cached
// derivations can detect staleness cheaply.
type RoutingTable struct {
	mu         sync.RWMutex
	candidates map[string]*Candidate
	generation atomic.Uint64

	log *slog.Logger
}

// NewRoutingTable creates an empty table.
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		candidates: make(map[string]*Candidate),
		log:        logging.Logger,
	}
}

// Generation returns the current mutation counter.
func (t *RoutingTable) Generation() uint64 { return t.generation.Load() }

// Register adds or replaces a candidate by ID (the admin-plane "register"
// operation).
func (t *RoutingTable) Register(c *Candidate) {
	t.mu.Lock()
	t.candidates[c.ID] = c
	t.mu.Unlock()
	t.generation.Add(1)
	if t.log != nil {
		t.log.Info("registry: provider registered", "id", c.ID)
	}
}

// Deregister removes a candidate by ID (admin-plane "deregister").
func (t *RoutingTable) Deregister(id string) error {
	t.mu.Lock()
	_, ok := t.candidates[id]
	if ok {
		delete(t.candidates, id)
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("registry: candidate %q not found", id)
	}
	t.generation.Add(1)
	if t.log != nil {
		t.log.Info("registry: provider deregistered", "id", id)
	}
	return nil
}

// Get returns a candidate by ID.
func (t *RoutingTable) Get(id string) (*Candidate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.candidates[id]
	return c, ok
}

// All returns a snapshot of every registered candidate, in map iteration
// order (which may differ between calls).
func (t *RoutingTable) All() []*Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Candidate, 0, len(t.candidates))
	for _, c := range t.candidates {
		out = append(out, c)
	}
	return out
}

// CandidatesForModel returns every candidate whose provider (or refreshed
// discovery set) supports model, the first step of the Router's hot path.
func (t *RoutingTable) CandidatesForModel(model string) []*Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*Candidate
	for _, c := range t.candidates {
		if c.SupportsModel(model) {
			out = append(out, c)
		}
	}
	return out
}

// ResetBreaker resets one candidate's circuit breaker (the admin-plane
// "reset_breaker" operation).
func (t *RoutingTable) ResetBreaker(id string) error {
	c, ok := t.Get(id)
	if !ok {
		return fmt.Errorf("registry: candidate %q not found", id)
	}
	c.Breaker.Reset()
	return nil
}

// HealthSnapshot is a point-in-time view of one candidate's state, for the
// health_snapshot admin operation and for Prometheus metrics export.
type HealthSnapshot struct {
	ID                string
	BreakerState      breaker.State
	HealthScore       float64
	ActiveConnections int64
	BulkheadInUse     int64
	BulkheadCapacity  int64
	RetryBudgetTokens float64
	LatencyP50        time.Duration
	LatencyP99        time.Duration
	RequestsInWindow  int64
	FailureRate       float64
}

// Snapshot builds a HealthSnapshot for every registered candidate.
func (t *RoutingTable) Snapshot() []HealthSnapshot {
	candidates := t.All()
	out := make([]HealthSnapshot, 0, len(candidates))
	for _, c := range candidates {
		snap := c.Breaker.Snapshot()
		out = append(out, HealthSnapshot{
			ID:                c.ID,
			BreakerState:      c.Breaker.State(),
			HealthScore:       c.HealthScore(),
			ActiveConnections: c.ActiveConnections(),
			BulkheadInUse:     c.Bulkhead.InUse(),
			BulkheadCapacity:  c.Bulkhead.Capacity(),
			RetryBudgetTokens: c.RetryBudget.Available(),
			LatencyP50:        c.Latency.Quantile(0.5),
			LatencyP99:        c.Latency.Quantile(0.99),
			RequestsInWindow:  snap.Total(),
			FailureRate:       snap.FailureRate(true),
		})
	}
	return out
}

// ProbeLoop runs active health probes (for candidates implementing
// HealthProber) on the given interval until ctx is cancelled, adjusting
// HealthScore based on probe outcomes. Candidates without a HealthProber
// are skipped, and their health score is left unchanged.
func (t *RoutingTable) ProbeLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.probeOnce(ctx)
		}
	}
}

// MetricsLoop publishes every candidate's HealthSnapshot to Prometheus on
// interval until ctx is cancelled. Separate from ProbeLoop because scrape
// cadence and active-probe cadence are independent tunables.
func (t *RoutingTable) MetricsLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		t.publishMetricsOnce()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (t *RoutingTable) publishMetricsOnce() {
	snaps := t.Snapshot()
	out := make([]metrics.CandidateSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, metrics.CandidateSnapshot{
			ID:                  s.ID,
			BreakerState:        s.BreakerState,
			HealthScore:         s.HealthScore,
			BulkheadUtilization: float64(s.BulkheadInUse) / max64(1, float64(s.BulkheadCapacity)),
			ActiveConnections:   s.ActiveConnections,
			RetryBudgetTokens:   s.RetryBudgetTokens,
			LatencyP50Seconds:   s.LatencyP50.Seconds(),
			LatencyP99Seconds:   s.LatencyP99.Seconds(),
			FailureRate:         s.FailureRate,
		})
	}
	metrics.PublishCandidateMetrics(out)
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (t *RoutingTable) probeOnce(ctx context.Context) {
	for _, c := range t.All() {
		prober, ok := c.Provider.(HealthProber)
		if !ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := prober.Ping(probeCtx)
		cancel()
		if err != nil {
			c.SetHealthScore(0)
			if t.log != nil {
				t.log.Warn("registry: health probe failed", "id", c.ID, "error", err)
			}
			continue
		}
		c.SetHealthScore(1)
	}
}

// Package metrics registers the Prometheus metrics used by the gateway.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request-level counters and histograms.
var (
	// RequestsTotal counts completed requests labelled by provider, model, and
	// outcome ("success", "error", "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the gateway.",
		},
		[]string{"provider", "model", "status"},
	)

	// RequestDuration observes end-to-end request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	// TokensInput counts total prompt tokens sent to providers.
	TokensInput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_input_total",
			Help: "Total prompt tokens sent to providers.",
		},
		[]string{"provider", "model"},
	)

	// TokensOutput counts total completion tokens received from providers.
	TokensOutput = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_output_total",
			Help: "Total completion tokens received from providers.",
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts errors broken down by provider and error type
	// ("provider_error", "circuit_open", "timeout").
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Total provider errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	// CircuitBreakerState tracks per-provider circuit breaker state as a gauge:
	// 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed 1=open 2=half_open).",
		},
		[]string{"provider"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit middleware
	// or plugin, labelled by key_type ("ip", "api_key", "plugin").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)

// Routing and resilience gauges, one series per registered candidate. These
// are refreshed from a registry.RoutingTable.Snapshot() on a timer (see
// internal/registry.RoutingTable.ProbeLoop's caller) rather than on every
// request, since Prometheus scrapes are pull-based and the underlying
// values already live in the candidate's own atomics/sliding window.
var (
	// CandidateHealthScore mirrors registry.Candidate.HealthScore() in [0,1].
	CandidateHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_health_score",
			Help: "Per-candidate health score in [0,1].",
		},
		[]string{"candidate"},
	)

	// CandidateActiveConnections mirrors registry.Candidate.ActiveConnections().
	CandidateActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_active_connections",
			Help: "In-flight requests currently routed to this candidate.",
		},
		[]string{"candidate"},
	)

	// CandidateBulkheadUtilization mirrors bulkhead.Bulkhead.Utilization().
	CandidateBulkheadUtilization = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_bulkhead_utilization",
			Help: "Fraction of the candidate's bulkhead capacity currently in use, in [0,1].",
		},
		[]string{"candidate"},
	)

	// CandidateRetryBudgetAvailable mirrors retrybudget.Budget.Available().
	CandidateRetryBudgetAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_retry_budget_available",
			Help: "Retry tokens currently available in the candidate's retry budget.",
		},
		[]string{"candidate"},
	)

	// CandidateLatencyP50/P99 mirror telemetry.Histogram.Quantile(0.5/0.99) in
	// seconds, sampled rather than observed per-request (RequestDuration
	// above already covers the per-request histogram).
	CandidateLatencyP50 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_latency_p50_seconds",
			Help: "Per-candidate observed p50 latency in seconds.",
		},
		[]string{"candidate"},
	)
	CandidateLatencyP99 = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_latency_p99_seconds",
			Help: "Per-candidate observed p99 latency in seconds.",
		},
		[]string{"candidate"},
	)

	// CandidateFailureRate mirrors breaker.Snapshot().FailureRate over the
	// breaker's sampling window.
	CandidateFailureRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_candidate_failure_rate",
			Help: "Per-candidate failure rate over the circuit breaker's sampling window, in [0,1].",
		},
		[]string{"candidate"},
	)
)

// breakerStateValue maps a breaker.State to the gauge encoding already used
// by CircuitBreakerState above (0=closed 1=open 2=half_open). Kept here
// rather than in internal/breaker so that package stays free of a
// prometheus dependency.
func breakerStateValue(s fmt.Stringer) float64 {
	switch s.String() {
	case "open":
		return 1
	case "half_open":
		return 2
	default:
		return 0
	}
}

// CandidateSnapshot is the subset of registry.HealthSnapshot that
// PublishCandidateMetrics needs, duplicated here (rather than imported) to
// keep internal/metrics free of a dependency on internal/registry — callers
// adapt their own snapshot type into this one.
type CandidateSnapshot struct {
	ID                string
	BreakerState      fmt.Stringer
	HealthScore       float64
	BulkheadUtilization float64
	ActiveConnections int64
	RetryBudgetTokens float64
	LatencyP50Seconds float64
	LatencyP99Seconds float64
	FailureRate       float64
}

// PublishCandidateMetrics refreshes every per-candidate gauge from a fresh
// snapshot, called on a timer by the server entry point.
func PublishCandidateMetrics(snapshots []CandidateSnapshot) {
	for _, s := range snapshots {
		CircuitBreakerState.WithLabelValues(s.ID).Set(breakerStateValue(s.BreakerState))
		CandidateHealthScore.WithLabelValues(s.ID).Set(s.HealthScore)
		CandidateActiveConnections.WithLabelValues(s.ID).Set(float64(s.ActiveConnections))
		CandidateBulkheadUtilization.WithLabelValues(s.ID).Set(s.BulkheadUtilization)
		CandidateRetryBudgetAvailable.WithLabelValues(s.ID).Set(s.RetryBudgetTokens)
		CandidateLatencyP50.WithLabelValues(s.ID).Set(s.LatencyP50Seconds)
		CandidateLatencyP99.WithLabelValues(s.ID).Set(s.LatencyP99Seconds)
		CandidateFailureRate.WithLabelValues(s.ID).Set(s.FailureRate)
	}
}

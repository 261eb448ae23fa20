package telemetry

import (
	"sort"
	"sync/atomic"
	"time"
)

// defaultBoundariesMs mirrors the bucket boundaries internal/metrics uses
// for gateway_request_duration_seconds, expressed in milliseconds so the
// per-candidate histogram and the exported Prometheus histogram agree on
// shape.
var defaultBoundariesMs = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Histogram is a fixed-boundary latency histogram with atomic per-bucket
// counts. It approximates HDR-style quantile queries without a writer lock:
// Observe is a single atomic increment, and Quantile does a linear scan over
// a small, fixed bucket count.
type Histogram struct {
	bounds  []float64
	counts  []atomic.Int64
	total   atomic.Int64
	sum     atomic.Int64 // nanoseconds, for a cheap mean
}

// NewHistogram creates a histogram with the default latency boundaries.
func NewHistogram() *Histogram {
	return NewHistogramWithBounds(defaultBoundariesMs)
}

// NewHistogramWithBounds creates a histogram with custom bucket upper bounds
// (in milliseconds, ascending, implicit +Inf bucket appended).
func NewHistogramWithBounds(bounds []float64) *Histogram {
	b := make([]float64, len(bounds))
	copy(b, bounds)
	sort.Float64s(b)
	return &Histogram{
		bounds: b,
		counts: make([]atomic.Int64, len(b)+1),
	}
}

// Observe records one latency sample.
func (h *Histogram) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	idx := sort.SearchFloat64s(h.bounds, ms)
	h.counts[idx].Add(1)
	h.total.Add(1)
	h.sum.Add(int64(d))
}

// Count returns the number of observations recorded.
func (h *Histogram) Count() int64 { return h.total.Load() }

// Mean returns the arithmetic mean latency, or 0 if no samples.
func (h *Histogram) Mean() time.Duration {
	n := h.total.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(h.sum.Load() / n)
}

// Quantile estimates the latency at quantile q (0..1) as the upper boundary
// of the bucket where the cumulative count reaches q (no interpolation
// inside a bucket). Returns 0 when there are no samples. Accuracy is bounded by the bucket boundaries, which is
// acceptable for latency-based routing decisions even though it is coarser
// than a true HDR histogram.
func (h *Histogram) Quantile(q float64) time.Duration {
	n := h.total.Load()
	if n == 0 {
		return 0
	}
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	target := q * float64(n)
	var cumulative int64
	for i := range h.counts {
		cumulative += h.counts[i].Load()
		if float64(cumulative) >= target {
			if i < len(h.bounds) {
				return time.Duration(h.bounds[i] * float64(time.Millisecond))
			}
			// Overflow bucket: report the last finite boundary as a
			// conservative (high) estimate rather than +Inf.
			if len(h.bounds) > 0 {
				return time.Duration(h.bounds[len(h.bounds)-1] * float64(time.Millisecond))
			}
			return 0
		}
	}
	return 0
}

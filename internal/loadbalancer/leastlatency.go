package loadbalancer

import (
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// MinSamples is the minimum observation count a candidate's latency
// histogram must have before LeastLatency trusts its quantile reading; a
// candidate below this threshold is treated as having unknown (best-case)
// latency so new or lightly-used candidates aren't starved.
const MinSamples = 20

// LeastLatency picks the candidate with the lowest observed p50 latency.
// Candidates with fewer than MinSamples observations are
// ranked ahead of any candidate with enough history, so the strategy
// explores under-sampled candidates rather than ignoring them forever.
type LeastLatency struct {
	Quantile float64 // which quantile to compare; default 0.5
}

// NewLeastLatency creates a LeastLatency strategy using p50.
func NewLeastLatency() *LeastLatency { return &LeastLatency{Quantile: 0.5} }

func (l *LeastLatency) Name() string { return "least_latency" }

func (l *LeastLatency) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	q := l.Quantile
	if q <= 0 {
		q = 0.5
	}

	ordered := byHealthThenID(candidates)

	var underSampled []*registry.Candidate
	var sampled []*registry.Candidate
	for _, c := range ordered {
		if c.Latency.Count() < MinSamples {
			underSampled = append(underSampled, c)
		} else {
			sampled = append(sampled, c)
		}
	}
	if len(underSampled) > 0 {
		return underSampled[0], nil
	}

	best := sampled[0]
	bestLatency := best.Latency.Quantile(q)
	for _, c := range sampled[1:] {
		lat := c.Latency.Quantile(q)
		if lat < bestLatency {
			best = c
			bestLatency = lat
		}
	}
	return best, nil
}

// Package loadbalancer implements the pluggable candidate selection
// strategies: RoundRobin, WeightedRoundRobin, LeastConnections,
// LeastLatency, CostOptimized, Adaptive (Thompson-sampling bandit), and
// Random. Every strategy picks one candidate from a pre-filtered slice the
// Router hands it; none of them do their own health/capability filtering.
//
// Grounded on internal/strategies/loadbalance.go's weighted-random
// selection (generalized into WeightedRoundRobin and Random below) and on
// the multi-objective scoring and Thompson-sampling bandit pattern read
// from the retrieved tokenhub router-engine reference file (CostOptimized
// and Adaptive).
package loadbalancer

import (
	"errors"
	"sort"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// ErrNoCandidates is returned by Select when given an empty candidate list.
var ErrNoCandidates = errors.New("loadbalancer: no candidates to select from")

// Strategy picks one candidate from candidates (already filtered for
// capability/health by the Router) and records the outcome of attempts so
// adaptive strategies can learn.
type Strategy interface {
	Name() string
	Select(rc routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error)
}

// OutcomeRecorder is implemented by strategies that adjust their internal
// state based on observed attempt outcomes (currently only Adaptive).
type OutcomeRecorder interface {
	Record(candidateID string, latency time.Duration, success bool)
}

// byHealthThenID breaks ties deterministically: higher health score wins,
// then lexicographically lower candidate ID.
func byHealthThenID(candidates []*registry.Candidate) []*registry.Candidate {
	out := make([]*registry.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		hi, hj := out[i].HealthScore(), out[j].HealthScore()
		if hi != hj {
			return hi > hj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// New constructs a Strategy by name, for config-driven per-model/
// per-provider override of strategy. Unknown names fall back to
// RoundRobin, matching this codebase's generally permissive config
// validation style.
func New(name string) Strategy {
	switch name {
	case "round_robin", "":
		return NewRoundRobin()
	case "weighted_round_robin":
		return NewWeightedRoundRobin()
	case "least_connections":
		return NewLeastConnections()
	case "least_latency":
		return NewLeastLatency()
	case "cost_optimized":
		return NewCostOptimized()
	case "adaptive":
		return NewAdaptive()
	case "random":
		return NewRandom()
	default:
		return NewRoundRobin()
	}
}

package loadbalancer

import (
	"sync/atomic"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// RoundRobin cycles through candidates in the order given, using a single
// monotonic atomic counter. Candidates are first sorted by health score
// (highest first) and then by ID, so the cycle order does not depend on the
// order of the slice the Router hands in; it changes only when health
// scores change.
type RoundRobin struct {
	counter atomic.Uint64
}

// NewRoundRobin creates a RoundRobin strategy.
func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (r *RoundRobin) Name() string { return "round_robin" }

func (r *RoundRobin) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	ordered := byHealthThenID(candidates) // stable ordering, not a health filter
	idx := r.counter.Add(1) - 1
	return ordered[int(idx%uint64(len(ordered)))], nil
}

package loadbalancer

import (
	"math/rand"
	"sync"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// Random selects uniformly at random among candidates. It exists as a
// baseline strategy, useful mainly as a control when comparing the other
// strategies' effect on latency/cost/failure rate.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a Random strategy with its own source, so concurrent
// Select calls across different Random instances don't contend on the
// global math/rand lock.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(rand.Int63()))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	r.mu.Lock()
	idx := r.rng.Intn(len(candidates))
	r.mu.Unlock()
	return candidates[idx], nil
}

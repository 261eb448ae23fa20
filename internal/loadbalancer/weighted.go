package loadbalancer

import (
	"sync"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// WeightedRoundRobin implements smooth weighted round-robin (the Nginx/LVS
// algorithm): each candidate accumulates its weight every selection, the
// candidate with the highest accumulated "current weight" wins and has the
// sum of all weights subtracted from its current weight. This distributes
// selections proportionally to weight while avoiding the burstiness of
// naive weighted-random selection (which internal/strategies/loadbalance.go
// used).
type WeightedRoundRobin struct {
	mu      sync.Mutex
	current map[string]float64
}

// NewWeightedRoundRobin creates a WeightedRoundRobin strategy.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{current: make(map[string]float64)}
}

func (w *WeightedRoundRobin) Name() string { return "weighted_round_robin" }

func (w *WeightedRoundRobin) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var total float64
	var best *registry.Candidate
	var bestCurrent float64

	ordered := byHealthThenID(candidates)
	for _, c := range ordered {
		weight := c.Weight()
		if weight <= 0 {
			weight = 1
		}
		total += weight

		cur := w.current[c.ID] + weight
		w.current[c.ID] = cur

		if best == nil || cur > bestCurrent {
			best = c
			bestCurrent = cur
		}
	}

	w.current[best.ID] -= total
	return best, nil
}

package loadbalancer

import (
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// LeastConnections picks the candidate with the lowest
// active_connections*1000/weight score, tie-broken by health score then
// candidate ID. The *1000/weight normalization lets a higher-weight
// candidate absorb proportionally more concurrent load before it's
// considered "as busy" as a lower-weight one.
type LeastConnections struct{}

// NewLeastConnections creates a LeastConnections strategy.
func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

func (l *LeastConnections) Name() string { return "least_connections" }

func (l *LeastConnections) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	ordered := byHealthThenID(candidates)
	var best *registry.Candidate
	var bestScore float64
	for _, c := range ordered {
		weight := c.Weight()
		if weight <= 0 {
			weight = 1
		}
		score := float64(c.ActiveConnections()) * 1000 / weight
		if best == nil || score < bestScore {
			best = c
			bestScore = score
		}
	}
	return best, nil
}

package loadbalancer

import (
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// CostOptimized picks the candidate with the lowest estimated cost for this
// request: cost = (prompt_tokens/1000)*input_cost_per_1k +
// (max_tokens/1000)*output_cost_per_1k. EstimatedPromptTokens is used as
// given: when it is 0 the prompt-token term drops out of the comparison,
// and EstimateTokens is not applied here.
type CostOptimized struct{}

// NewCostOptimized creates a CostOptimized strategy.
func NewCostOptimized() *CostOptimized { return &CostOptimized{} }

func (c *CostOptimized) Name() string { return "cost_optimized" }

// EstimateTokens approximates token count from character count using the
// widely used ~4-characters-per-token heuristic, grounded on the tokenhub
// router-engine's EstimateTokens.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

func estimatedCost(cand *registry.Candidate, promptTokens, maxTokens int) float64 {
	return float64(promptTokens)/1000*cand.InputCostPer1K + float64(maxTokens)/1000*cand.OutputCostPer1K
}

func (c *CostOptimized) Select(rc routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	ordered := byHealthThenID(candidates)

	best := ordered[0]
	bestCost := estimatedCost(best, rc.EstimatedPromptTokens, rc.MaxTokens)
	for _, cand := range ordered[1:] {
		cost := estimatedCost(cand, rc.EstimatedPromptTokens, rc.MaxTokens)
		if cost < bestCost {
			best = cand
			bestCost = cost
		}
	}
	return best, nil
}

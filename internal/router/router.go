// Package router implements the 8-step hot-path candidate-selection
// algorithm that composes the provider registry, rules engine, and load
// balancer into one Route call. Nothing here issues network calls or
// retries — that is the Resilience Coordinator's job; the Router only
// answers "which candidate, with which strategy, right now."
package router

import (
	"sort"

	"github.com/ferro-labs/ai-gateway/internal/breaker"
	"github.com/ferro-labs/ai-gateway/internal/gwerrors"
	"github.com/ferro-labs/ai-gateway/internal/loadbalancer"
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
	"github.com/ferro-labs/ai-gateway/internal/rules"
)

// TenantPolicy optionally filters/reorders candidates for a given tenant
// before the rules engine runs. Returning the input slice unchanged is a
// no-op.
type TenantPolicy func(rc routectx.RoutingContext, candidates []*registry.Candidate) []*registry.Candidate

// Config holds the Router's tunables.
type Config struct {
	MinHealthThreshold float64 // candidates below this health score are excluded (default 0.2)
}

func (c Config) withDefaults() Config {
	if c.MinHealthThreshold <= 0 {
		c.MinHealthThreshold = 0.2
	}
	return c
}

// Router selects a candidate for one request.
type Router struct {
	cfg             Config
	table           *registry.RoutingTable
	rulesEngine     *rules.Engine
	aliases         map[string]string
	defaultStrategy loadbalancer.Strategy
	tenantPolicy    TenantPolicy
}

// New creates a Router over table and rulesEngine, defaulting to
// RoundRobin when no per-request strategy override applies.
func New(cfg Config, table *registry.RoutingTable, rulesEngine *rules.Engine) *Router {
	return &Router{
		cfg:             cfg.withDefaults(),
		table:           table,
		rulesEngine:     rulesEngine,
		aliases:         make(map[string]string),
		defaultStrategy: loadbalancer.NewRoundRobin(),
		tenantPolicy:    func(_ routectx.RoutingContext, c []*registry.Candidate) []*registry.Candidate { return c },
	}
}

// SetAlias registers a model alias (e.g. "fast" -> "gpt-4o-mini"), step 1 of
// the hot path.
func (r *Router) SetAlias(alias, target string) { r.aliases[alias] = target }

// SetDefaultStrategy overrides the strategy used when no rule override
// applies.
func (r *Router) SetDefaultStrategy(s loadbalancer.Strategy) { r.defaultStrategy = s }

// SetTenantPolicy installs a custom tenant-level filter/reorder hook
// (step 4).
func (r *Router) SetTenantPolicy(p TenantPolicy) {
	if p != nil {
		r.tenantPolicy = p
	}
}

// resolveAlias performs step 1: alias resolution.
func (r *Router) resolveAlias(model string) string {
	seen := map[string]bool{}
	current := model
	for {
		target, ok := r.aliases[current]
		if !ok || seen[current] {
			return current
		}
		seen[current] = true
		current = target
	}
}

// Route runs the full 8-step selection algorithm and returns the chosen
// candidate along with the strategy that should be used (which differs
// from the Router's default when a matching rule set a strategy override).
func (r *Router) Route(rc routectx.RoutingContext) (*registry.Candidate, loadbalancer.Strategy, error) {
	if rc.Model == "" {
		return nil, nil, gwerrors.New(gwerrors.KindValidation, "model is required")
	}

	// Step 1: alias resolution.
	rc.ResolvedModel = r.resolveAlias(rc.Model)

	// Step 2: candidates_for(model).
	candidates := r.table.CandidatesForModel(rc.ResolvedModel)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindModelNotSupported, "no provider supports model "+rc.ResolvedModel)
	}

	// Step 3: exclude excluded_providers/unavailable, bring preferred to front.
	candidates = excludeAndPrefer(rc, candidates)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindAllProvidersUnhealthy, "all candidates excluded for model "+rc.ResolvedModel)
	}

	// Step 4: tenant policy filter/reorder.
	candidates = r.tenantPolicy(rc, candidates)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindAllProvidersUnhealthy, "tenant policy excluded all candidates")
	}

	// Step 5: rules engine — narrow candidates, override strategy, or reject.
	effect := r.rulesEngine.Evaluate(rc)
	if effect.Rejected {
		return nil, nil, gwerrors.New(gwerrors.KindValidation, "rejected by routing rule: "+effect.RejectReason)
	}
	if effect.AllowedProviderIDs != nil {
		candidates = filterByAllowlist(candidates, effect.AllowedProviderIDs)
		if len(candidates) == 0 {
			return nil, nil, gwerrors.New(gwerrors.KindAllProvidersUnhealthy, "routing rules narrowed candidates to none")
		}
	}
	if effect.PriorityOverride != "" {
		rc.Priority = effect.PriorityOverride
	}

	// Step 6: capability filter (streaming/tools/vision/context).
	candidates = filterByCapability(rc, candidates)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindNotSupported, "no candidate supports the requested capabilities")
	}

	// Step 7: health filter (breaker state + min health threshold), with
	// Open breakers whose timeout has elapsed re-admitted as HalfOpen
	// probes rather than excluded outright.
	candidates = r.filterByHealth(candidates)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindAllProvidersUnhealthy, "no healthy candidate available for model "+rc.ResolvedModel)
	}

	// Step 8: cost budget filter.
	candidates = filterByCostBudget(rc, candidates)
	if len(candidates) == 0 {
		return nil, nil, gwerrors.New(gwerrors.KindBudgetExceeded, "no candidate fits within max_cost_usd")
	}

	strategy := r.defaultStrategy
	if effect.StrategyOverride != "" {
		strategy = loadbalancer.New(effect.StrategyOverride)
	}

	chosen, err := strategy.Select(rc, candidates)
	if err != nil {
		return nil, nil, gwerrors.Wrap(gwerrors.KindInternal, err)
	}
	chosen.IncrementConnections()
	return chosen, strategy, nil
}

func excludeAndPrefer(rc routectx.RoutingContext, candidates []*registry.Candidate) []*registry.Candidate {
	var kept []*registry.Candidate
	var preferred *registry.Candidate
	for _, c := range candidates {
		if rc.ExcludesProvider(c.ID) {
			continue
		}
		if rc.PreferredProvider != "" && c.ID == rc.PreferredProvider {
			preferred = c
			continue
		}
		kept = append(kept, c)
	}
	if preferred != nil {
		kept = append([]*registry.Candidate{preferred}, kept...)
	}
	return kept
}

func filterByAllowlist(candidates []*registry.Candidate, allowed map[string]struct{}) []*registry.Candidate {
	var out []*registry.Candidate
	for _, c := range candidates {
		if _, ok := allowed[c.ID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// filterByCapability implements step 6: excludes candidates that can't
// satisfy the request's declared needs (streaming/tools/vision/context
// window), read from each Candidate's Capabilities (populated at
// registration from the model catalog).
func filterByCapability(rc routectx.RoutingContext, candidates []*registry.Candidate) []*registry.Candidate {
	var out []*registry.Candidate
	for _, c := range candidates {
		if rc.NeedsStreaming && !c.Capabilities.Streaming {
			continue
		}
		if rc.NeedsTools && !c.Capabilities.Tools {
			continue
		}
		if rc.NeedsVision && !c.Capabilities.Vision {
			continue
		}
		if rc.RequiredContextTokens > 0 && c.Capabilities.ContextWindow > 0 && c.Capabilities.ContextWindow < rc.RequiredContextTokens {
			continue
		}
		out = append(out, c)
	}
	return out
}

// filterByHealth implements step 7. It excludes any candidate whose
// breaker is Open (not yet eligible for a HalfOpen probe — Breaker.State()
// itself performs the Open->HalfOpen transition lazily, so a candidate
// whose timeout elapsed is naturally re-admitted here) and any candidate
// below the configured minimum health score.
func (r *Router) filterByHealth(candidates []*registry.Candidate) []*registry.Candidate {
	var out []*registry.Candidate
	for _, c := range candidates {
		if c.Breaker.State() == breaker.StateOpen {
			continue
		}
		if c.HealthScore() < r.cfg.MinHealthThreshold {
			continue
		}
		out = append(out, c)
	}
	return out
}

func filterByCostBudget(rc routectx.RoutingContext, candidates []*registry.Candidate) []*registry.Candidate {
	if rc.MaxCostUSD <= 0 {
		return candidates
	}
	var out []*registry.Candidate
	for _, c := range candidates {
		cost := float64(rc.EstimatedPromptTokens)/1000*c.InputCostPer1K + float64(rc.MaxTokens)/1000*c.OutputCostPer1K
		if cost <= rc.MaxCostUSD {
			out = append(out, c)
		}
	}
	return out
}

// sortByIDStable returns a copy of candidates sorted by ID. Nothing in the
// package calls it.
func sortByIDStable(candidates []*registry.Candidate) []*registry.Candidate {
	out := make([]*registry.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

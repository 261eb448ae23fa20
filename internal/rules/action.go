package rules

// ActionKind identifies the effect a matched Rule has on routing.
type ActionKind string

// Action kind constants.
const (
	ActionRouteTo       ActionKind = "route_to"
	ActionRouteToPool   ActionKind = "route_to_pool"
	ActionApplyStrategy ActionKind = "apply_strategy"
	ActionSetPriority   ActionKind = "set_priority"
	ActionReject        ActionKind = "reject"
	ActionChain         ActionKind = "chain"
)

// Action is the effect applied when a Rule's Predicate matches.
type Action struct {
	Kind ActionKind

	ProviderID   string   // ActionRouteTo
	PoolIDs      []string // ActionRouteToPool
	StrategyName string   // ActionApplyStrategy
	Priority     string   // ActionSetPriority
	RejectReason string   // ActionReject
	Chain        []Action // ActionChain: applied in order, later entries win on scalar fields
}

// RouteTo builds an ActionRouteTo action: narrow candidates to exactly one
// provider ID.
func RouteTo(providerID string) Action { return Action{Kind: ActionRouteTo, ProviderID: providerID} }

// RouteToPool builds an ActionRouteToPool action: narrow candidates to the
// given set of provider IDs.
func RouteToPool(providerIDs ...string) Action {
	return Action{Kind: ActionRouteToPool, PoolIDs: providerIDs}
}

// ApplyStrategy builds an ActionApplyStrategy action: override the
// strategy used for final selection among the (possibly still-narrowed)
// candidate set.
func ApplyStrategy(name string) Action { return Action{Kind: ActionApplyStrategy, StrategyName: name} }

// SetPriority builds an ActionSetPriority action.
func SetPriority(priority string) Action { return Action{Kind: ActionSetPriority, Priority: priority} }

// Reject builds an ActionReject action: the request is refused with reason.
func Reject(reason string) Action { return Action{Kind: ActionReject, RejectReason: reason} }

// ChainActions builds an ActionChain action applying each action in order.
func ChainActions(actions ...Action) Action { return Action{Kind: ActionChain, Chain: actions} }

// Effect is the accumulated result of applying one or more Actions: how the
// candidate set should be narrowed, what strategy override (if any)
// applies, and whether the request should be rejected.
type Effect struct {
	AllowedProviderIDs map[string]struct{} // nil means "no narrowing"
	StrategyOverride   string
	PriorityOverride   string
	Rejected           bool
	RejectReason       string
}

// applyAction folds action into an existing Effect, later Chain entries
// overriding earlier ones on scalar fields and intersecting allowlists.
func applyAction(effect Effect, action Action) Effect {
	switch action.Kind {
	case ActionRouteTo:
		effect.AllowedProviderIDs = intersect(effect.AllowedProviderIDs, map[string]struct{}{action.ProviderID: {}})
	case ActionRouteToPool:
		pool := make(map[string]struct{}, len(action.PoolIDs))
		for _, id := range action.PoolIDs {
			pool[id] = struct{}{}
		}
		effect.AllowedProviderIDs = intersect(effect.AllowedProviderIDs, pool)
	case ActionApplyStrategy:
		effect.StrategyOverride = action.StrategyName
	case ActionSetPriority:
		effect.PriorityOverride = action.Priority
	case ActionReject:
		effect.Rejected = true
		effect.RejectReason = action.RejectReason
	case ActionChain:
		for _, child := range action.Chain {
			effect = applyAction(effect, child)
		}
	}
	return effect
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if a == nil {
		return b
	}
	out := make(map[string]struct{})
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

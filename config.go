package aigateway

// Config holds the configuration for the AI Gateway.
type Config struct {
	// Strategy defines how requests are routed (e.g., single, fallback, loadbalance).
	Strategy StrategyConfig `json:"strategy" yaml:"strategy"`
	// Targets is a list of provider targets to route requests to.
	Targets []Target `json:"targets" yaml:"targets"`
	// Plugins configuration (optional).
	Plugins []PluginConfig `json:"plugins,omitempty" yaml:"plugins,omitempty"`
	// Routing configures the resilient routing stack, used when
	// Strategy.Mode is ModeResilient. Ignored by the legacy strategy modes.
	Routing RoutingPolicy `json:"routing,omitempty" yaml:"routing,omitempty"`
	// Aliases maps a model alias to its resolved target model name,
	// resolved before strategy/routing selection on every request.
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// StrategyConfig defines the routing strategy.
type StrategyConfig struct {
	Mode       StrategyMode `json:"mode" yaml:"mode"`
	Conditions []Condition  `json:"conditions,omitempty" yaml:"conditions,omitempty"` // For conditional routing
}

// StrategyMode represents the routing strategy mode.
type StrategyMode string

// StrategyMode constants define the supported routing strategies.
const (
	ModeSingle      StrategyMode = "single"
	ModeFallback    StrategyMode = "fallback"
	ModeLoadBalance StrategyMode = "loadbalance"
	ModeConditional StrategyMode = "conditional"
	// ModeResilient routes through the full registry+rules+router+coordinator
	// stack (circuit breakers, bulkheads, retry budgets, timeout hierarchy,
	// and the seven load-balancing strategies) instead of the legacy
	// strategies.Strategy implementations above. Configured via RoutingPolicy.
	ModeResilient StrategyMode = "resilient"
)

// RoutingPolicy configures the resilient routing stack (ModeResilient):
// per-provider resilience defaults and the rule set the rules engine
// evaluates on every request.
type RoutingPolicy struct {
	// DefaultStrategy names a load-balancing strategy ("round_robin",
	// "weighted_round_robin", "least_connections", "least_latency",
	// "cost_optimized", "random", "adaptive"). Empty defaults to round_robin.
	DefaultStrategy string `json:"default_strategy,omitempty" yaml:"default_strategy,omitempty"`
	// MinHealthThreshold excludes candidates below this health score from
	// selection. Defaults to 0.2.
	MinHealthThreshold float64 `json:"min_health_threshold,omitempty" yaml:"min_health_threshold,omitempty"`
	// Breaker/Bulkhead/RetryBudget/Coordinator hold per-candidate and
	// per-call defaults; zero values fall back to each package's own
	// withDefaults().
	Breaker     BreakerPolicy     `json:"breaker,omitempty" yaml:"breaker,omitempty"`
	Bulkhead    BulkheadPolicy    `json:"bulkhead,omitempty" yaml:"bulkhead,omitempty"`
	RetryBudget RetryBudgetPolicy `json:"retry_budget,omitempty" yaml:"retry_budget,omitempty"`
	Coordinator CoordinatorPolicy `json:"coordinator,omitempty" yaml:"coordinator,omitempty"`
	// Rules is evaluated in priority order on every request.
	Rules []RuleConfig `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// BreakerPolicy mirrors breaker.Config's tunables for config-file exposure.
type BreakerPolicy struct {
	FailureThreshold     int     `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold     int     `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	MinRequests          int     `json:"min_requests,omitempty" yaml:"min_requests,omitempty"`
	FailureRateThreshold float64 `json:"failure_rate_threshold,omitempty" yaml:"failure_rate_threshold,omitempty"`
	Timeout              string  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	HalfOpenMaxRequests  int     `json:"half_open_max_requests,omitempty" yaml:"half_open_max_requests,omitempty"`
}

// BulkheadPolicy mirrors bulkhead.Config.
type BulkheadPolicy struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	MaxWait       string `json:"max_wait,omitempty" yaml:"max_wait,omitempty"`
}

// RetryBudgetPolicy mirrors retrybudget.Config.
type RetryBudgetPolicy struct {
	MaxTokens       float64 `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	RefillPerSec    float64 `json:"refill_per_sec,omitempty" yaml:"refill_per_sec,omitempty"`
	MinSuccessRatio float64 `json:"min_success_ratio,omitempty" yaml:"min_success_ratio,omitempty"`
}

// CoordinatorPolicy mirrors coordinator.Config.
type CoordinatorPolicy struct {
	MaxAttempts     int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	GatewayTimeout  string `json:"gateway_timeout,omitempty" yaml:"gateway_timeout,omitempty"`
	ProviderTimeout string `json:"provider_timeout,omitempty" yaml:"provider_timeout,omitempty"`
	BaseBackoff     string `json:"base_backoff,omitempty" yaml:"base_backoff,omitempty"`
	MaxBackoff      string `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
}

// RuleConfig is one routing rule, folded by internal/rules.Engine in
// priority order. Predicate fields left empty are not applied (an empty
// Model means "match any model"). Exactly one action field should be set;
// when several are, Reject takes precedence over RouteToProvider, which takes
// precedence over StrategyOverride, which takes precedence over
// PriorityOverride.
type RuleConfig struct {
	ID       string `json:"id" yaml:"id"`
	Priority int    `json:"priority" yaml:"priority"`

	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
	Tenant string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	RouteToProvider  string `json:"route_to_provider,omitempty" yaml:"route_to_provider,omitempty"`
	StrategyOverride string `json:"strategy_override,omitempty" yaml:"strategy_override,omitempty"`
	PriorityOverride string `json:"priority_override,omitempty" yaml:"priority_override,omitempty"`
	Reject           string `json:"reject,omitempty" yaml:"reject,omitempty"`
}

// Condition represents a condition for conditional routing.
type Condition struct {
	Key       string `json:"key" yaml:"key"`
	Value     string `json:"value" yaml:"value"`
	TargetKey string `json:"target_key" yaml:"target_key"`
}

// Target represents a specific provider target.
type Target struct {
	// VirtualKey is the unique identifier for the provider (or a virtual key in the vault).
	VirtualKey string `json:"virtual_key" yaml:"virtual_key"`
	// Weight is used for load balancing.
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	// Retry configuration for this target.
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
	// CircuitBreaker configuration for this target (optional).
	CircuitBreaker *CircuitBreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts int `json:"attempts" yaml:"attempts"`
}

// CircuitBreakerConfig configures the per-provider circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the circuit
	// opens. Defaults to 5.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// SuccessThreshold is the number of consecutive successes in half-open state
	// required to close the circuit. Defaults to 1.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`
	// Timeout is the duration the circuit stays open before transitioning to
	// half-open (e.g. "30s"). Defaults to "30s".
	Timeout string `json:"timeout" yaml:"timeout"`
}

// PluginConfig holds plugin configuration.
type PluginConfig struct {
	Name    string                 `json:"name" yaml:"name"`
	Type    string                 `json:"type" yaml:"type"`
	Stage   string                 `json:"stage" yaml:"stage"`
	Enabled bool                   `json:"enabled" yaml:"enabled"`
	Config  map[string]interface{} `json:"config" yaml:"config"`
}

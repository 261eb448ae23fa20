package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// Rule pairs a predicate with the action to apply when it matches,
// evaluated in ascending Priority order (lower value = evaluated first, so
// more specific rules can be given priority 0 and general ones priority
// 100).
type Rule struct {
	ID        string
	Priority  int
	Predicate Predicate
	Action    Action
}

// cacheKey is the tuple evaluation results are memoized on: (model, tenant,
// priority, region).
type cacheKey struct {
	model    string
	tenant   string
	priority string
	region   string
}

type cacheEntry struct {
	effect     Effect
	generation uint64
	expiresAt  time.Time
}

// Engine holds a priority-ordered rule set and memoizes evaluation results
// per (model,tenant,priority,region) tuple for a short TTL, invalidated
// early whenever the rule set itself mutates (RoutingTable generation is
// not tracked here since rules and candidates mutate independently; the
// engine tracks its own generation, bumped by Update/Remove).
type Engine struct {
	mu         sync.RWMutex
	rules      []Rule
	generation uint64
	ttl        time.Duration

	cacheMu sync.Mutex
	cache   map[cacheKey]cacheEntry

	now func() time.Time
}

// NewEngine creates an empty Engine. ttl defaults to 5 seconds when <= 0.
func NewEngine(ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Engine{
		ttl:   ttl,
		cache: make(map[cacheKey]cacheEntry),
		now:   time.Now,
	}
}

// UpdateRule inserts or replaces a rule by ID (the admin-plane
// "update_rule" operation), keeping the rule slice sorted by Priority, and
// invalidates the evaluation cache.
func (e *Engine) UpdateRule(r Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	replaced := false
	for i, existing := range e.rules {
		if existing.ID == r.ID {
			e.rules[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		e.rules = append(e.rules, r)
	}
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority < e.rules[j].Priority })
	e.bumpGeneration()
}

// RemoveRule deletes a rule by ID (admin-plane "remove_rule"). Returns an
// error if no such rule exists.
func (e *Engine) RemoveRule(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.rules {
		if existing.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			e.bumpGeneration()
			return nil
		}
	}
	return fmt.Errorf("rules: rule %q not found", id)
}

// bumpGeneration must be called with e.mu held.
func (e *Engine) bumpGeneration() {
	e.generation++
	e.cacheMu.Lock()
	e.cache = make(map[cacheKey]cacheEntry)
	e.cacheMu.Unlock()
}

// Rules returns a snapshot of the current rule set, in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Evaluate runs the rule set against rc and returns the accumulated
// effect of every matching rule's action, evaluated in priority order.
// Results are memoized per (model,tenant,priority,region) for the
// engine's TTL.
func (e *Engine) Evaluate(rc routectx.RoutingContext) Effect {
	key := cacheKey{model: rc.Model, tenant: rc.TenantID, priority: rc.Priority, region: rc.Region}

	e.mu.RLock()
	generation := e.generation
	e.mu.RUnlock()

	now := e.now()
	e.cacheMu.Lock()
	if entry, ok := e.cache[key]; ok && entry.generation == generation && now.Before(entry.expiresAt) {
		e.cacheMu.Unlock()
		return entry.effect
	}
	e.cacheMu.Unlock()

	effect := e.evaluateUncached(rc)

	e.cacheMu.Lock()
	e.cache[key] = cacheEntry{effect: effect, generation: generation, expiresAt: now.Add(e.ttl)}
	e.cacheMu.Unlock()

	return effect
}

func (e *Engine) evaluateUncached(rc routectx.RoutingContext) Effect {
	var effect Effect
	for _, rule := range e.Rules() {
		if rule.Predicate == nil || !rule.Predicate.Match(rc) {
			continue
		}
		effect = applyAction(effect, rule.Action)
		if effect.Rejected {
			return effect
		}
	}
	return effect
}

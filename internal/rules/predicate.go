// Package rules implements a priority-ordered rules engine: rules whose
// predicates match a RoutingContext and whose actions narrow the candidate
// set, override the selection strategy, or reject the request outright.
// Composable predicates (And/Or/Not) and a memoized, generation-invalidated
// evaluation cache are built on top.
//
// Grounded on internal/strategies/conditional.go's ConditionRule/matches,
// generalized from its single "model"/"model_prefix" key match into five
// distinct matcher types.
package rules

import (
	"strings"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// Predicate reports whether a RoutingContext matches some condition.
type Predicate interface {
	Match(rc routectx.RoutingContext) bool
}

// PredicateFunc adapts a plain function to Predicate.
type PredicateFunc func(rc routectx.RoutingContext) bool

// Match implements Predicate.
func (f PredicateFunc) Match(rc routectx.RoutingContext) bool { return f(rc) }

// ModelMatcher matches rc.Model (or rc.ResolvedModel, if set) against an
// exact value or a "prefix*" glob, mirroring conditional.go's "model" and
// "model_prefix" condition keys.
type ModelMatcher struct {
	Pattern string
}

// Match implements Predicate.
func (m ModelMatcher) Match(rc routectx.RoutingContext) bool {
	candidate := rc.ResolvedModel
	if candidate == "" {
		candidate = rc.Model
	}
	return globMatch(m.Pattern, candidate)
}

// TenantMatcher matches rc.TenantID exactly.
type TenantMatcher struct {
	TenantID string
}

// Match implements Predicate.
func (t TenantMatcher) Match(rc routectx.RoutingContext) bool { return rc.TenantID == t.TenantID }

// PriorityMatcher matches rc.Priority exactly (e.g. "high").
type PriorityMatcher struct {
	Priority string
}

// Match implements Predicate.
func (p PriorityMatcher) Match(rc routectx.RoutingContext) bool { return rc.Priority == p.Priority }

// RegionMatcher matches rc.Region exactly.
type RegionMatcher struct {
	Region string
}

// Match implements Predicate.
func (r RegionMatcher) Match(rc routectx.RoutingContext) bool { return rc.Region == r.Region }

// TimeWindowMatcher matches when rc.Now falls within [Start, End) of each
// day, expressed as minutes since midnight UTC; a window that wraps past
// midnight (Start > End) is treated as spanning to the next day.
type TimeWindowMatcher struct {
	StartMinute int
	EndMinute   int
}

// Match implements Predicate.
func (w TimeWindowMatcher) Match(rc routectx.RoutingContext) bool {
	now := rc.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	if w.StartMinute <= w.EndMinute {
		return minute >= w.StartMinute && minute < w.EndMinute
	}
	return minute >= w.StartMinute || minute < w.EndMinute
}

// And matches when every child predicate matches (vacuously true if empty).
type And []Predicate

// Match implements Predicate.
func (a And) Match(rc routectx.RoutingContext) bool {
	for _, p := range a {
		if !p.Match(rc) {
			return false
		}
	}
	return true
}

// Or matches when any child predicate matches (false if empty).
type Or []Predicate

// Match implements Predicate.
func (o Or) Match(rc routectx.RoutingContext) bool {
	for _, p := range o {
		if p.Match(rc) {
			return true
		}
	}
	return false
}

// Not inverts a single predicate.
type Not struct{ Predicate Predicate }

// Match implements Predicate.
func (n Not) Match(rc routectx.RoutingContext) bool { return !n.Predicate.Match(rc) }

// globMatch supports an exact match or a trailing "*" wildcard, matching
// conditional.go's "model_prefix" semantics generalized to any field.
func globMatch(pattern, value string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

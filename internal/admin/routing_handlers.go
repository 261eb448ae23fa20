package admin

import (
	"encoding/json"
	"net/http"

	aigateway "github.com/ferro-labs/ai-gateway"
	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/rules"
	"github.com/ferro-labs/ai-gateway/providers"
	"github.com/go-chi/chi/v5"
)

// RoutingManager exposes the resilient-mode registry and rules engine to
// the admin API, letting Handlers stay decoupled from the aigateway
// package's concrete Gateway type.
type RoutingManager interface {
	RoutingTable() (*registry.RoutingTable, error)
	RulesEngine() (*rules.Engine, error)
}

// RoutingRoutes returns a chi.Router mounting the admin-plane routing
// operations: register/deregister/reset_breaker against the routing table,
// and update_rule/remove_rule against the rules engine. Kept separate from
// Handlers.Routes so the key-management and routing concerns don't share
// one file.
func (h *Handlers) RoutingRoutes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeAdmin))
		r.Get("/candidates", h.listCandidates)
		r.Get("/rules", h.listRules)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/candidates", h.registerCandidate)
		r.Delete("/candidates/{id}", h.deregisterCandidate)
		r.Post("/candidates/{id}/reset_breaker", h.resetBreaker)
		r.Put("/rules", h.updateRule)
		r.Delete("/rules/{id}", h.removeRule)
	})

	return r
}

func (h *Handlers) routingTable(w http.ResponseWriter) (*registry.RoutingTable, bool) {
	if h.Routing == nil {
		writeError(w, http.StatusNotImplemented, "routing management is not enabled", "not_implemented_error", "not_implemented")
		return nil, false
	}
	table, err := h.Routing.RoutingTable()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
		return nil, false
	}
	return table, true
}

func (h *Handlers) rulesEngine(w http.ResponseWriter) (*rules.Engine, bool) {
	if h.Routing == nil {
		writeError(w, http.StatusNotImplemented, "routing management is not enabled", "not_implemented_error", "not_implemented")
		return nil, false
	}
	engine, err := h.Routing.RulesEngine()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
		return nil, false
	}
	return engine, true
}

// listCandidates reports a HealthSnapshot of every registered candidate.
func (h *Handlers) listCandidates(w http.ResponseWriter, _ *http.Request) {
	table, ok := h.routingTable(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(table.Snapshot())
}

// registerCandidateRequest binds an existing entry from the provider
// source to a new (or replacement) routing candidate, optionally
// overriding its resilience policy and cost/capability metadata.
type registerCandidateRequest struct {
	ID              string                      `json:"id"`
	Provider        string                      `json:"provider"`
	Region          string                      `json:"region,omitempty"`
	Tenant          string                      `json:"tenant,omitempty"`
	Weight          float64                     `json:"weight,omitempty"`
	InputCostPer1K  float64                     `json:"input_cost_per_1k,omitempty"`
	OutputCostPer1K float64                     `json:"output_cost_per_1k,omitempty"`
	Capabilities    registry.Capabilities       `json:"capabilities,omitempty"`
	Breaker         aigateway.BreakerPolicy     `json:"breaker,omitempty"`
	Bulkhead        aigateway.BulkheadPolicy    `json:"bulkhead,omitempty"`
	RetryBudget     aigateway.RetryBudgetPolicy `json:"retry_budget,omitempty"`
}

func (h *Handlers) registerCandidate(w http.ResponseWriter, r *http.Request) {
	table, ok := h.routingTable(w)
	if !ok {
		return
	}

	var body registerCandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	if body.ID == "" || body.Provider == "" {
		writeError(w, http.StatusBadRequest, "id and provider are required", "invalid_request_error", "invalid_request")
		return
	}

	var p providers.Provider
	if h.Providers != nil {
		var found bool
		p, found = h.Providers.Get(body.Provider)
		if !found {
			writeError(w, http.StatusNotFound, "provider not found", "not_found_error", "resource_not_found")
			return
		}
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "provider not found", "not_found_error", "resource_not_found")
		return
	}

	c := registry.NewCandidate(body.ID, p)
	c.Region = body.Region
	c.Tenant = body.Tenant
	c.InputCostPer1K = body.InputCostPer1K
	c.OutputCostPer1K = body.OutputCostPer1K
	c.Capabilities = body.Capabilities
	if body.Weight > 0 {
		c.SetWeight(body.Weight)
	}
	aigateway.ApplyBreakerPolicy(c, body.Breaker)
	aigateway.ApplyBulkheadPolicy(c, body.Bulkhead)
	aigateway.ApplyRetryBudgetPolicy(c, body.RetryBudget)

	table.Register(c)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "registered", "id": body.ID})
}

func (h *Handlers) deregisterCandidate(w http.ResponseWriter, r *http.Request) {
	table, ok := h.routingTable(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := table.Deregister(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error", "resource_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) resetBreaker(w http.ResponseWriter, r *http.Request) {
	table, ok := h.routingTable(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := table.ResetBreaker(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error", "resource_not_found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "reset", "id": id})
}

// listRules reports the rules engine's current rule set in evaluation
// order.
func (h *Handlers) listRules(w http.ResponseWriter, _ *http.Request) {
	engine, ok := h.rulesEngine(w)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(engine.Rules())
}

// updateRule decodes an aigateway.RuleConfig body, the same shape
// accepted by the config file's routing.rules list, and folds it into the
// rules engine. This keeps one rule representation for both config-time
// and admin-time rule changes.
func (h *Handlers) updateRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.rulesEngine(w)
	if !ok {
		return
	}

	var rc aigateway.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&rc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	if rc.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", "invalid_request_error", "invalid_request")
		return
	}

	rule, err := aigateway.BuildRule(rc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_rule")
		return
	}

	engine.UpdateRule(rule)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "updated", "id": rc.ID})
}

func (h *Handlers) removeRule(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.rulesEngine(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := engine.RemoveRule(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found_error", "resource_not_found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/rules"
	"github.com/ferro-labs/ai-gateway/providers"
	"github.com/go-chi/chi/v5"
)

type fakeRoutingProvider struct {
	name   string
	models []string
}

func (f *fakeRoutingProvider) Name() string             { return f.name }
func (f *fakeRoutingProvider) SupportedModels() []string { return f.models }
func (f *fakeRoutingProvider) SupportsModel(m string) bool {
	for _, mm := range f.models {
		if mm == m {
			return true
		}
	}
	return false
}
func (f *fakeRoutingProvider) Models() []providers.ModelInfo { return nil }
func (f *fakeRoutingProvider) Complete(_ context.Context, _ providers.Request) (*providers.Response, error) {
	return nil, nil
}

type fakeProviderSource struct {
	byName map[string]providers.Provider
}

func (s *fakeProviderSource) Get(name string) (providers.Provider, bool) {
	p, ok := s.byName[name]
	return p, ok
}
func (s *fakeProviderSource) List() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	return names
}
func (s *fakeProviderSource) AllModels() []providers.ModelInfo { return nil }
func (s *fakeProviderSource) FindByModel(_ string) (providers.Provider, bool) { return nil, false }

type fakeRoutingManager struct {
	table  *registry.RoutingTable
	engine *rules.Engine
}

func (m *fakeRoutingManager) RoutingTable() (*registry.RoutingTable, error) { return m.table, nil }
func (m *fakeRoutingManager) RulesEngine() (*rules.Engine, error)           { return m.engine, nil }

func setupRoutingTestRouter() (*Handlers, chi.Router, *APIKey) {
	store := NewKeyStore()
	providerSource := &fakeProviderSource{byName: map[string]providers.Provider{
		"openai": &fakeRoutingProvider{name: "openai", models: []string{"gpt-4o"}},
	}}
	manager := &fakeRoutingManager{
		table:  registry.NewRoutingTable(),
		engine: rules.NewEngine(time.Minute),
	}
	h := &Handlers{
		Keys:      store,
		Providers: providerSource,
		Routing:   manager,
	}
	r := chi.NewRouter()
	r.Use(AuthMiddleware(store))
	r.Mount("/admin", h.Routes())

	key, err := store.Create("admin-key", []string{ScopeAdmin}, nil)
	if err != nil {
		panic(err)
	}
	return h, r, key
}

func TestRegisterCandidate(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	body := `{"id":"openai-east","provider":"openai","region":"us-east"}`
	req := authedRequest(http.MethodPost, "/admin/routing/candidates", body, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterCandidateUnknownProvider(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	body := `{"id":"x","provider":"does-not-exist"}`
	req := authedRequest(http.MethodPost, "/admin/routing/candidates", body, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRegisterCandidateMissingFields(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	req := authedRequest(http.MethodPost, "/admin/routing/candidates", `{}`, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeregisterAndListCandidates(t *testing.T) {
	h, r, key := setupRoutingTestRouter()

	table, _ := h.Routing.RoutingTable()
	table.Register(registry.NewCandidate("openai-east", &fakeRoutingProvider{name: "openai"}))

	listReq := authedRequest(http.MethodGet, "/admin/routing/candidates", "", key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, listReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snapshots []registry.HealthSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0].ID != "openai-east" {
		t.Fatalf("expected one snapshot for openai-east, got %+v", snapshots)
	}

	delReq := authedRequest(http.MethodDelete, "/admin/routing/candidates/openai-east", "", key)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, delReq)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}

	if _, ok := table.Get("openai-east"); ok {
		t.Fatal("expected candidate to be deregistered")
	}
}

func TestDeregisterCandidateNotFound(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	req := authedRequest(http.MethodDelete, "/admin/routing/candidates/missing", "", key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestResetBreaker(t *testing.T) {
	h, r, key := setupRoutingTestRouter()

	table, _ := h.Routing.RoutingTable()
	table.Register(registry.NewCandidate("openai-east", &fakeRoutingProvider{name: "openai"}))

	req := authedRequest(http.MethodPost, "/admin/routing/candidates/openai-east/reset_breaker", "", key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateAndRemoveRule(t *testing.T) {
	h, r, key := setupRoutingTestRouter()

	body := `{"id":"force-anthropic","priority":10,"model":"claude-*","route_to_provider":"anthropic"}`
	req := authedRequest(http.MethodPut, "/admin/routing/rules", body, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	engine, _ := h.Routing.RulesEngine()
	if len(engine.Rules()) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(engine.Rules()))
	}

	listReq := authedRequest(http.MethodGet, "/admin/routing/rules", "", key)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, listReq)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	delReq := authedRequest(http.MethodDelete, "/admin/routing/rules/force-anthropic", "", key)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, delReq)
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(engine.Rules()) != 0 {
		t.Fatalf("expected rule removed, got %d rules", len(engine.Rules()))
	}
}

func TestUpdateRuleNoAction(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	req := authedRequest(http.MethodPut, "/admin/routing/rules", `{"id":"broken"}`, key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestRemoveRuleNotFound(t *testing.T) {
	_, r, key := setupRoutingTestRouter()

	req := authedRequest(http.MethodDelete, "/admin/routing/rules/missing", "", key)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRoutingReadOnlyScopeCannotRegister(t *testing.T) {
	h, r, _ := setupRoutingTestRouter()
	readOnly, err := h.Keys.Create("ro", []string{ScopeReadOnly}, nil)
	if err != nil {
		t.Fatalf("create readonly key: %v", err)
	}

	req := authedRequest(http.MethodPost, "/admin/routing/candidates", `{"id":"x","provider":"openai"}`, readOnly)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

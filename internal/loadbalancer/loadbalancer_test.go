package loadbalancer

import (
	"context"
	"testing"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
	"github.com/ferro-labs/ai-gateway/providers"
)

type fakeProv struct{ id string }

func (f fakeProv) Name() string               { return f.id }
func (f fakeProv) SupportedModels() []string  { return []string{"m"} }
func (f fakeProv) SupportsModel(m string) bool { return m == "m" }
func (f fakeProv) Models() []providers.ModelInfo { return nil }
func (f fakeProv) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return nil, nil
}

func candidate(id string) *registry.Candidate {
	return registry.NewCandidate(id, fakeProv{id})
}

func TestRoundRobinCyclesThroughAllCandidates(t *testing.T) {
	rr := NewRoundRobin()
	cands := []*registry.Candidate{candidate("a"), candidate("b"), candidate("c")}
	seen := map[string]int{}
	for i := 0; i < 6; i++ {
		c, err := rr.Select(routectx.RoutingContext{}, cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		seen[c.ID]++
	}
	for _, id := range []string{"a", "b", "c"} {
		if seen[id] != 2 {
			t.Fatalf("expected each candidate picked twice over 6 rounds, got %+v", seen)
		}
	}
}

func TestRoundRobinErrorsOnEmpty(t *testing.T) {
	rr := NewRoundRobin()
	if _, err := rr.Select(routectx.RoutingContext{}, nil); err != ErrNoCandidates {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestWeightedRoundRobinFavorsHigherWeight(t *testing.T) {
	wrr := NewWeightedRoundRobin()
	a, b := candidate("a"), candidate("b")
	a.SetWeight(3)
	b.SetWeight(1)
	cands := []*registry.Candidate{a, b}

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		c, _ := wrr.Select(routectx.RoutingContext{}, cands)
		counts[c.ID]++
	}
	if counts["a"] != 6 || counts["b"] != 2 {
		t.Fatalf("expected 3:1 ratio (6:2) over 8 picks, got %+v", counts)
	}
}

func TestLeastConnectionsPicksLeastBusy(t *testing.T) {
	lc := NewLeastConnections()
	a, b := candidate("a"), candidate("b")
	a.IncrementConnections()
	a.IncrementConnections()
	cands := []*registry.Candidate{a, b}
	chosen, err := lc.Select(routectx.RoutingContext{}, cands)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "b" {
		t.Fatalf("expected b (0 active conns) to win, got %s", chosen.ID)
	}
}

func TestLeastLatencyPrefersUnderSampledCandidate(t *testing.T) {
	ll := NewLeastLatency()
	warm, cold := candidate("warm"), candidate("cold")
	for i := 0; i < MinSamples+5; i++ {
		warm.Latency.Observe(5 * time.Millisecond)
	}
	// cold has zero samples.
	chosen, err := ll.Select(routectx.RoutingContext{}, []*registry.Candidate{warm, cold})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "cold" {
		t.Fatalf("expected under-sampled candidate to be preferred for exploration, got %s", chosen.ID)
	}
}

func TestLeastLatencyPicksFasterAmongSampled(t *testing.T) {
	ll := NewLeastLatency()
	fast, slow := candidate("fast"), candidate("slow")
	for i := 0; i < MinSamples+5; i++ {
		fast.Latency.Observe(5 * time.Millisecond)
		slow.Latency.Observe(500 * time.Millisecond)
	}
	chosen, err := ll.Select(routectx.RoutingContext{}, []*registry.Candidate{fast, slow})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "fast" {
		t.Fatalf("expected faster candidate to win, got %s", chosen.ID)
	}
}

func TestCostOptimizedPicksCheaperCandidate(t *testing.T) {
	co := NewCostOptimized()
	cheap, expensive := candidate("cheap"), candidate("expensive")
	cheap.InputCostPer1K, cheap.OutputCostPer1K = 0.001, 0.002
	expensive.InputCostPer1K, expensive.OutputCostPer1K = 0.01, 0.02

	rc := routectx.RoutingContext{EstimatedPromptTokens: 1000, MaxTokens: 500}
	chosen, err := co.Select(rc, []*registry.Candidate{cheap, expensive})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if chosen.ID != "cheap" {
		t.Fatalf("expected cheaper candidate to win, got %s", chosen.ID)
	}
}

func TestRandomAlwaysReturnsACandidate(t *testing.T) {
	r := NewRandom()
	cands := []*registry.Candidate{candidate("a"), candidate("b")}
	for i := 0; i < 20; i++ {
		c, err := r.Select(routectx.RoutingContext{}, cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if c.ID != "a" && c.ID != "b" {
			t.Fatalf("unexpected candidate %s", c.ID)
		}
	}
}

func TestAdaptiveLearnsTowardReliableFastCandidate(t *testing.T) {
	a := NewAdaptive()
	good, bad := candidate("good"), candidate("bad")
	cands := []*registry.Candidate{good, bad}

	for i := 0; i < 200; i++ {
		a.Record("good", 5*time.Millisecond, true)
		a.Record("bad", time.Second, false)
	}

	counts := map[string]int{}
	for i := 0; i < 100; i++ {
		c, err := a.Select(routectx.RoutingContext{}, cands)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[c.ID]++
	}
	if counts["good"] <= counts["bad"] {
		t.Fatalf("expected adaptive strategy to favor the reliable fast candidate after training, got %+v", counts)
	}
}

func TestNewFallsBackToRoundRobinForUnknownName(t *testing.T) {
	s := New("nonexistent-strategy")
	if s.Name() != "round_robin" {
		t.Fatalf("expected fallback to round_robin, got %s", s.Name())
	}
}

func TestEstimateTokensHeuristic(t *testing.T) {
	if got := EstimateTokens(0); got != 0 {
		t.Fatalf("expected 0 for empty input, got %d", got)
	}
	if got := EstimateTokens(4); got != 1 {
		t.Fatalf("expected ~1 token per 4 chars, got %d", got)
	}
}

package loadbalancer

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/ferro-labs/ai-gateway/internal/registry"
	"github.com/ferro-labs/ai-gateway/internal/routectx"
)

// betaArm holds the Beta(alpha, beta) posterior for one candidate's reward
// distribution, the state a Thompson-sampling multi-armed bandit needs.
// Grounded on the ThompsonSampler referenced (but not defined) in the
// retrieved tokenhub router-engine file; the Beta-Bernoulli update below is
// the standard conjugate-prior form for a bandit whose reward is
// normalized to [0,1].
type betaArm struct {
	alpha float64
	beta  float64
}

// normalizedLatencyCeiling bounds the latency used to compute reward =
// 1 - normalized_latency, so a single catastrophically slow sample doesn't
// permanently tank an arm's apparent reward distribution.
const normalizedLatencyCeiling = 30 * time.Second

// Adaptive implements an epsilon-free Thompson-sampling bandit over
// candidates: each has a Beta(alpha, beta) posterior on its reward
// (1 - normalized_latency, shifted toward 0 on failure), sampled once per
// Select call, highest sample wins. This converges to the
// empirically-best-performing candidate faster than a fixed schedule while
// still exploring under-sampled candidates naturally (wide posteriors
// sample more erratically).
type Adaptive struct {
	mu   sync.Mutex
	arms map[string]*betaArm
	rng  *rand.Rand
}

// NewAdaptive creates an Adaptive strategy with uniform Beta(1,1) priors.
func NewAdaptive() *Adaptive {
	return &Adaptive{
		arms: make(map[string]*betaArm),
		rng:  rand.New(rand.NewSource(rand.Int63())),
	}
}

func (a *Adaptive) Name() string { return "adaptive" }

func (a *Adaptive) armFor(id string) *betaArm {
	arm, ok := a.arms[id]
	if !ok {
		arm = &betaArm{alpha: 1, beta: 1}
		a.arms[id] = arm
	}
	return arm
}

// sampleBeta draws from Beta(alpha, beta) via two Gamma draws, the standard
// construction (Beta(a,b) = X/(X+Y) for X~Gamma(a,1), Y~Gamma(b,1)).
func sampleBeta(rng *rand.Rand, alpha, beta float64) float64 {
	x := sampleGamma(rng, alpha)
	y := sampleGamma(rng, beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma implements Marsaglia-Tsang for shape >= 1, with the standard
// boost transform for shape < 1.
func sampleGamma(rng *rand.Rand, shape float64) float64 {
	if shape < 1 {
		u := rng.Float64()
		return sampleGamma(rng, shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

func (a *Adaptive) Select(_ routectx.RoutingContext, candidates []*registry.Candidate) (*registry.Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ordered := byHealthThenID(candidates)
	var best *registry.Candidate
	var bestSample float64
	for _, c := range ordered {
		arm := a.armFor(c.ID)
		sample := sampleBeta(a.rng, arm.alpha, arm.beta)
		if best == nil || sample > bestSample {
			best = c
			bestSample = sample
		}
	}
	return best, nil
}

// Record updates the chosen candidate's Beta posterior with the observed
// outcome: reward = 1 - normalized_latency on success (so faster attempts
// push alpha up harder), and a reward of 0 on failure regardless of
// latency.
func (a *Adaptive) Record(candidateID string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	arm := a.armFor(candidateID)
	reward := 0.0
	if success {
		reward = 1 - normalizedLatency(latency)
	}
	// Beta-Bernoulli update generalized to a continuous reward in [0,1] by
	// treating reward as the "probability of success" for this one trial.
	arm.alpha += reward
	arm.beta += 1 - reward
}

func normalizedLatency(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	ratio := float64(d) / float64(normalizedLatencyCeiling)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

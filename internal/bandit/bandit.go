// Package bandit implements the multi-armed strategy selector that
// picks a Hybrid Retriever strategy per request and learns from
// feedback (spec.md §4.4): ε-greedy and UCB1 selection over the seven
// fixed arms, a bounded sliding reward window, and full state
// export/import for cross-restart persistence.
package bandit

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Strategy is one of the seven fixed retrieval-strategy arms.
type Strategy string

const (
	StrategyFTSHeavy            Strategy = "fts-heavy"
	StrategyVectorHeavy         Strategy = "vector-heavy"
	StrategyBalanced            Strategy = "balanced"
	StrategyRecencyFocused      Strategy = "recency-focused"
	StrategyEffectivenessFocused Strategy = "effectiveness-focused"
	StrategyPopularityFocused   Strategy = "popularity-focused"
	StrategySemanticFocused     Strategy = "semantic-focused"
)

// Strategies enumerates all fixed arms in a stable order.
var Strategies = []Strategy{
	StrategyFTSHeavy,
	StrategyVectorHeavy,
	StrategyBalanced,
	StrategyRecencyFocused,
	StrategyEffectivenessFocused,
	StrategyPopularityFocused,
	StrategySemanticFocused,
}

// Algorithm selects the arm-selection rule.
type Algorithm string

const (
	AlgorithmEpsilonGreedy Algorithm = "epsilon-greedy"
	AlgorithmUCB1          Algorithm = "ucb"
)

// Config configures the Bandit Learner (spec.md §6 bandit.*).
type Config struct {
	Algorithm       Algorithm
	InitialEpsilon  float64
	EpsilonDecay    float64
	EpsilonFloor    float64
	ConfidenceLevel float64 // UCB1 c
	WindowSize      int
}

// DefaultConfig matches spec.md §8 scenario 5's ε-greedy parameters.
func DefaultConfig() Config {
	return Config{
		Algorithm:       AlgorithmEpsilonGreedy,
		InitialEpsilon:  0.15,
		EpsilonDecay:    0.995,
		EpsilonFloor:    0.01,
		ConfidenceLevel: 2.0,
		WindowSize:      1000,
	}
}

// Context optionally biases arm selection through per-context
// sub-statistics; the zero value selects the context-free baseline.
type Context struct {
	Key string
}

// rewardSample is one entry in the bounded sliding window used to cap
// learning history.
type rewardSample struct {
	arm    Strategy
	reward float64
	at     time.Time
}

// Learner is the bandit's mutable state: arm statistics, protected by
// a single-writer/many-reader discipline (spec.md §5).
type Learner struct {
	cfg Config

	mu      sync.RWMutex
	arms    map[string]*entry.BanditArm
	window  []rewardSample
	pullsN  int64 // total pulls across all arms, drives ε decay and UCB1's T
	rng     *rand.Rand
}

// New constructs a Learner with all seven arms initialized to zero state.
func New(cfg Config) *Learner {
	arms := make(map[string]*entry.BanditArm, len(Strategies))
	for _, s := range Strategies {
		arms[string(s)] = &entry.BanditArm{Name: string(s)}
	}
	return &Learner{
		cfg:  cfg,
		arms: arms,
		rng:  rand.New(rand.NewPCG(1, 2)),
	}
}

// currentEpsilon returns ε_t = ε_0 · decay^t, floored at EpsilonFloor.
func (l *Learner) currentEpsilon() float64 {
	t := float64(l.pullsN)
	eps := l.cfg.InitialEpsilon * math.Pow(l.cfg.EpsilonDecay, t)
	if eps < l.cfg.EpsilonFloor {
		eps = l.cfg.EpsilonFloor
	}
	return eps
}

// SelectArm returns a strategy for the given context. The baseline
// selection is context-free; per-context sub-statistics (when present)
// bias the mean-reward estimate used by both algorithms.
func (l *Learner) SelectArm(ctx Context) Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.cfg.Algorithm {
	case AlgorithmUCB1:
		return l.selectUCB1Locked(ctx)
	default:
		return l.selectEpsilonGreedyLocked(ctx)
	}
}

func (l *Learner) selectEpsilonGreedyLocked(ctx Context) Strategy {
	if l.rng.Float64() < l.currentEpsilon() {
		return Strategies[l.rng.IntN(len(Strategies))]
	}
	return l.bestArmLocked(ctx)
}

func (l *Learner) selectUCB1Locked(ctx Context) Strategy {
	// Every arm must be pulled once before UCB1's confidence term is defined.
	for _, s := range Strategies {
		if l.meanAndCountLocked(s, ctx).count == 0 {
			return s
		}
	}
	total := float64(l.pullsN)
	var best Strategy
	bestScore := math.Inf(-1)
	for _, s := range Strategies {
		ms := l.meanAndCountLocked(s, ctx)
		score := ms.mean + l.cfg.ConfidenceLevel*math.Sqrt(math.Log(total)/float64(ms.count))
		if score > bestScore {
			bestScore = score
			best = s
		}
	}
	return best
}

func (l *Learner) bestArmLocked(ctx Context) Strategy {
	var best Strategy
	bestMean := math.Inf(-1)
	for _, s := range Strategies {
		ms := l.meanAndCountLocked(s, ctx)
		mean := ms.mean
		if ms.count == 0 {
			mean = 0
		}
		if mean > bestMean {
			bestMean = mean
			best = s
		}
	}
	if best == "" {
		best = Strategies[0]
	}
	return best
}

type meanCount struct {
	mean  float64
	count int
}

func (l *Learner) meanAndCountLocked(s Strategy, ctx Context) meanCount {
	arm := l.arms[string(s)]
	if ctx.Key != "" && arm.ContextStats != nil {
		if sub, ok := arm.ContextStats[ctx.Key]; ok && sub.PullCount > 0 {
			return meanCount{mean: sub.CumulativeReward / float64(sub.PullCount), count: sub.PullCount}
		}
	}
	return meanCount{mean: arm.MeanReward(), count: arm.PullCount}
}

// UpdateReward records a reward in [0,1] for the given arm/context,
// trimming the sliding window to cfg.WindowSize.
func (l *Learner) UpdateReward(arm Strategy, ctx Context, reward float64) {
	if reward < 0 {
		reward = 0
	}
	if reward > 1 {
		reward = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.arms[string(arm)]
	if !ok {
		a = &entry.BanditArm{Name: string(arm)}
		l.arms[string(arm)] = a
	}
	a.PullCount++
	a.CumulativeReward += reward
	a.LastUsedAt = time.Now()
	l.pullsN++

	if ctx.Key != "" {
		if a.ContextStats == nil {
			a.ContextStats = make(map[string]*entry.ContextArmStats)
		}
		sub, ok := a.ContextStats[ctx.Key]
		if !ok {
			sub = &entry.ContextArmStats{}
			a.ContextStats[ctx.Key] = sub
		}
		sub.PullCount++
		sub.CumulativeReward += reward
	}

	l.window = append(l.window, rewardSample{arm: arm, reward: reward, at: a.LastUsedAt})
	if len(l.window) > l.cfg.WindowSize {
		evicted := l.window[:len(l.window)-l.cfg.WindowSize]
		l.window = l.window[len(l.window)-l.cfg.WindowSize:]
		for _, ev := range evicted {
			ea := l.arms[string(ev.arm)]
			if ea == nil {
				continue
			}
			ea.PullCount--
			ea.CumulativeReward -= ev.reward
			if ea.PullCount < 0 {
				ea.PullCount = 0
			}
		}
	}
}

// Arms returns a snapshot copy of every arm's current statistics.
func (l *Learner) Arms() map[Strategy]entry.BanditArm {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[Strategy]entry.BanditArm, len(l.arms))
	for s, a := range l.arms {
		out[Strategy(s)] = *a
	}
	return out
}

// Reset clears all arm statistics and the sliding window.
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range Strategies {
		l.arms[string(s)] = &entry.BanditArm{Name: string(s)}
	}
	l.window = nil
	l.pullsN = 0
}

// state is the JSON-serializable snapshot used by Export/Import.
type state struct {
	Arms   map[string]*entry.BanditArm `json:"arms"`
	Window []rewardSample              `json:"-"` // window is not persisted; only aggregate stats are
	Pulls  int64                       `json:"pulls"`
}

// Export serializes the learner's full state to opaque bytes for
// cross-restart persistence (spec.md §6 "Bandit state snapshot").
func (l *Learner) Export() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := state{Arms: l.arms, Pulls: l.pullsN}
	return json.Marshal(st)
}

// Import restores state previously produced by Export, replacing the
// learner's current arms wholesale.
func (l *Learner) Import(data []byte) error {
	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st.Arms == nil {
		st.Arms = map[string]*entry.BanditArm{}
	}
	for _, s := range Strategies {
		if _, ok := st.Arms[string(s)]; !ok {
			st.Arms[string(s)] = &entry.BanditArm{Name: string(s)}
		}
	}
	l.arms = st.Arms
	l.pullsN = st.Pulls
	l.window = nil
	return nil
}

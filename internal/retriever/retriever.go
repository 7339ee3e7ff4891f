// Package retriever implements the Hybrid Retriever (spec.md §4.6): a
// multi-strategy retrieval pipeline that executes one of four modes
// (parallel/cascade/adaptive/ensemble) over the FTS Store and an
// optional vector path, enriches candidates with Feature Vectors,
// fuses the resulting lists (internal/fusion), and caches results by
// query fingerprint. Grounded on pkg/indexer/hybrid.go and
// internal/search/engine.go's "BM25 + vector, fuse, cache" pipeline,
// extended to the spec's four selectable modes and wired to
// internal/bandit for adaptive strategy selection.
package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/feature"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/fusion"
	"github.com/ctxforge/retrievalcore/internal/packcache"
)

// Mode selects how a retrieval's internal lists are gathered and fused.
type Mode string

const (
	ModeParallel Mode = "parallel"
	ModeCascade  Mode = "cascade"
	ModeAdaptive Mode = "adaptive"
	ModeEnsemble Mode = "ensemble"
)

// VectorSearcher is the optional semantic/vector collaborator (off by
// default per spec.md Non-goals). Implementations live behind
// internal/embed + internal/store/hnsw.go.
type VectorSearcher interface {
	Search(ctx context.Context, text string, limit int) ([]*entry.SearchResult, error)
}

// Config configures the Hybrid Retriever (spec.md §6 hybrid.*).
type Config struct {
	DefaultMode        Mode
	ParallelTimeout    time.Duration
	FusionAlgorithm    fusion.Algorithm
	EnableVectorSearch bool
	ExplorationRate    float64
	CacheTTL           time.Duration
	CacheSize          int
}

// DefaultConfig matches spec.md §6's hybrid.* defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMode:     ModeAdaptive,
		ParallelTimeout: 200 * time.Millisecond,
		FusionAlgorithm: fusion.AlgorithmRRF,
		CacheTTL:        time.Minute,
		CacheSize:       500,
	}
}

// Query is a single retrieval request.
type Query struct {
	Text       string
	Kinds      []entry.Kind
	ProjectID  string
	AgentTypes []string
	IssueText  string
	Limit      int
	Offset     int
}

// Result is the Hybrid Retriever's response for one query.
type Result struct {
	Results       []*entry.SearchResult
	Strategy      bandit.Strategy
	Mode          Mode
	CacheUsed     bool
	ExecutionTime time.Duration
	Warnings      []string
	Degraded      bool
}

type strategyMetrics struct {
	calls       int64
	totalMicros int64
}

// Retriever executes retrievals under a selected strategy/mode.
type Retriever struct {
	store     ftsstore.Store
	bandit    *bandit.Learner
	extractor *feature.Extractor
	vector    VectorSearcher
	cfg       Config
	cache     *packcache.Cache[*Result]

	mu      sync.Mutex
	metrics map[bandit.Strategy]*strategyMetrics
}

// New constructs a Retriever. vector may be nil; it is only consulted
// when cfg.EnableVectorSearch is true.
func New(store ftsstore.Store, learner *bandit.Learner, extractor *feature.Extractor, vector VectorSearcher, cfg Config) *Retriever {
	cache, _ := packcache.New[*Result](packcache.Config{
		Enabled: true, TTL: cfg.CacheTTL, MaxEntries: orDefault(cfg.CacheSize, 500),
	})
	return &Retriever{
		store:     store,
		bandit:    learner,
		extractor: extractor,
		vector:    vector,
		cfg:       cfg,
		cache:     cache,
		metrics:   make(map[bandit.Strategy]*strategyMetrics),
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Retrieve executes the full pipeline of spec.md §4.6: cache probe,
// strategy selection, mode execution, feature extraction, enrichment,
// fusion, post-fusion enhancement, truncation, cache write, and
// per-strategy metrics recording.
func (r *Retriever) Retrieve(ctx context.Context, q Query) (*Result, error) {
	started := time.Now()
	if q.Limit <= 0 {
		q.Limit = 10
	}

	key := queryID(q)
	if cached, ok := r.cache.Get(key); ok {
		out := *cached
		out.CacheUsed = true
		out.ExecutionTime = time.Since(started)
		return &out, nil
	}

	strategy := bandit.StrategyBalanced
	if r.bandit != nil {
		strategy = r.bandit.SelectArm(bandit.Context{Key: q.ProjectID})
	}
	mode := r.resolveMode(strategy)

	results, warnings, err := r.executeMode(ctx, mode, strategy, q)
	degraded := len(results) == 0

	if len(results) > 0 {
		r.enrichAndFuse(q, strategy, results)
	}
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	for i, res := range results {
		res.Rank = i + 1
	}

	out := &Result{
		Results:       results,
		Strategy:      strategy,
		Mode:          mode,
		ExecutionTime: time.Since(started),
		Warnings:      warnings,
		Degraded:      degraded,
	}
	if err != nil {
		out.Warnings = append(out.Warnings, err.Error())
	}

	r.recordMetrics(strategy, time.Since(started))
	if !degraded {
		r.cache.Set(key, out)
	}
	return out, nil
}

// resolveMode maps the configured default mode and, for adaptive mode,
// the bandit's chosen strategy onto a concrete execution mode.
func (r *Retriever) resolveMode(strategy bandit.Strategy) Mode {
	if r.cfg.DefaultMode != ModeAdaptive {
		return r.cfg.DefaultMode
	}
	return ModeAdaptive
}

// executeMode runs the chosen mode's internal retrievals and returns
// the fused-candidate-pool input (already list-combined for cascade;
// still List-separated results are merged by ID, de-duplicating).
func (r *Retriever) executeMode(ctx context.Context, mode Mode, strategy bandit.Strategy, q Query) ([]*entry.SearchResult, []string, error) {
	switch mode {
	case ModeCascade:
		return r.runCascade(ctx, q)
	case ModeEnsemble:
		return r.runEnsemble(ctx, q)
	case ModeAdaptive:
		return r.runAdaptive(ctx, strategy, q)
	default:
		return r.runParallel(ctx, q, strategy)
	}
}

// runParallel races FTS, vector, and (for semantic-focused strategies)
// semantic retrieval within ParallelTimeout and fuses the lists that
// completed successfully.
func (r *Retriever) runParallel(ctx context.Context, q Query, strategy bandit.Strategy) ([]*entry.SearchResult, []string, error) {
	type named struct {
		name string
		list []*entry.SearchResult
		err  error
	}
	tasks := map[string]func(context.Context) ([]*entry.SearchResult, error){
		"fts": func(c context.Context) ([]*entry.SearchResult, error) { return r.PerformFTS(c, q) },
	}
	if r.cfg.EnableVectorSearch && r.vector != nil {
		tasks["vector"] = func(c context.Context) ([]*entry.SearchResult, error) { return r.PerformVector(c, q) }
	}
	if strategy == bandit.StrategySemanticFocused {
		tasks["semantic"] = func(c context.Context) ([]*entry.SearchResult, error) { return r.PerformSemantic(c, q) }
	}

	results := r.raceAll(ctx, tasks)

	var warnings []string
	var lists []fusion.RankedList
	for name, res := range results {
		if res.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s retrieval failed: %v", name, res.err))
			continue
		}
		weight := 1.0
		if name == "vector" {
			weight = 0.7
		}
		lists = append(lists, fusion.RankedList{Results: res.list, Weight: weight})
	}
	if len(lists) == 0 {
		return nil, warnings, fmt.Errorf("hybrid fusion failed: all retrieval lists failed or returned empty")
	}
	return fusion.Weighted(lists), warnings, nil
}

// runCascade runs FTS first and only falls back to vector fusion when
// FTS is thin (fewer than 5 results, or mean score <= 0.5).
func (r *Retriever) runCascade(ctx context.Context, q Query) ([]*entry.SearchResult, []string, error) {
	fts, err := r.PerformFTS(ctx, q)
	if err != nil && len(fts) == 0 {
		fts = nil
	}
	if sufficientCascade(fts) {
		return fts, nil, nil
	}
	if !r.cfg.EnableVectorSearch || r.vector == nil {
		return fts, nil, nil
	}
	vec, verr := r.PerformVector(ctx, q)
	var warnings []string
	if verr != nil {
		warnings = append(warnings, "vector retrieval failed: "+verr.Error())
	}
	if len(fts) == 0 && len(vec) == 0 {
		return nil, warnings, fmt.Errorf("hybrid fusion failed: cascade found nothing")
	}
	return fusion.Weighted([]fusion.RankedList{
		{Results: fts, Weight: 0.6},
		{Results: vec, Weight: 0.4},
	}), warnings, nil
}

func sufficientCascade(results []*entry.SearchResult) bool {
	if len(results) < 5 {
		return false
	}
	var sum float64
	for _, r := range results {
		sum += r.Score
	}
	return sum/float64(len(results)) > 0.5
}

// runAdaptive maps the bandit's chosen arm to a concrete retrieval
// path: fts-heavy stays FTS-only, vector-heavy tries vector with an
// FTS fallback on empty, every other arm runs the full parallel mode.
func (r *Retriever) runAdaptive(ctx context.Context, strategy bandit.Strategy, q Query) ([]*entry.SearchResult, []string, error) {
	switch strategy {
	case bandit.StrategyFTSHeavy:
		results, err := r.PerformFTS(ctx, q)
		if err != nil {
			return nil, nil, fmt.Errorf("hybrid fusion failed: %w", err)
		}
		return results, nil, nil
	case bandit.StrategyVectorHeavy:
		if r.cfg.EnableVectorSearch && r.vector != nil {
			results, err := r.PerformVector(ctx, q)
			if err == nil && len(results) > 0 {
				return results, nil, nil
			}
		}
		results, err := r.PerformFTS(ctx, q)
		if err != nil {
			return nil, nil, fmt.Errorf("hybrid fusion failed: %w", err)
		}
		return results, []string{"vector-heavy strategy fell back to FTS"}, nil
	default:
		return r.runParallel(ctx, q, strategy)
	}
}

// runEnsemble runs every fixed strategy's FTS retrieval (re-weighted
// per strategy) in parallel and fuses the lists with RRF.
func (r *Retriever) runEnsemble(ctx context.Context, q Query) ([]*entry.SearchResult, []string, error) {
	tasks := make(map[string]func(context.Context) ([]*entry.SearchResult, error), len(bandit.Strategies))
	for _, s := range bandit.Strategies {
		s := s
		tasks[string(s)] = func(c context.Context) ([]*entry.SearchResult, error) {
			return r.performStrategyFTS(c, q, s)
		}
	}
	outcomes := r.raceAll(ctx, tasks)

	var warnings []string
	var lists []fusion.RankedList
	for name, res := range outcomes {
		if res.err != nil {
			warnings = append(warnings, fmt.Sprintf("%s ensemble member failed: %v", name, res.err))
			continue
		}
		if len(res.list) > 0 {
			lists = append(lists, fusion.RankedList{Results: res.list})
		}
	}
	if len(lists) == 0 {
		return nil, warnings, fmt.Errorf("hybrid fusion failed: ensemble produced no lists")
	}
	return fusion.RRF(lists, fusion.DefaultRRFK), warnings, nil
}

type raceOutcome struct {
	list []*entry.SearchResult
	err  error
}

// raceAll runs every task concurrently, each bounded by
// ParallelTimeout, and collects every outcome without cancelling
// siblings when one fails or times out (spec.md §4.6 cancellation).
func (r *Retriever) raceAll(ctx context.Context, tasks map[string]func(context.Context) ([]*entry.SearchResult, error)) map[string]raceOutcome {
	timeout := r.cfg.ParallelTimeout
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}

	out := make(map[string]raceOutcome, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, task := range tasks {
		wg.Add(1)
		go func(name string, task func(context.Context) ([]*entry.SearchResult, error)) {
			defer wg.Done()
			taskCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			list, err := task(taskCtx)
			mu.Lock()
			out[name] = raceOutcome{list: list, err: err}
			mu.Unlock()
		}(name, task)
	}
	wg.Wait()
	return out
}

// PerformFTS executes the FTS Store search for q.
func (r *Retriever) PerformFTS(ctx context.Context, q Query) ([]*entry.SearchResult, error) {
	if r.store == nil {
		return nil, fmt.Errorf("fts store unavailable")
	}
	resp, err := r.store.Search(ctx, ftsstore.Query{
		Text:     q.Text,
		Kinds:    q.Kinds,
		Category: "",
		Limit:    maxInt(q.Limit*3, 30),
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// performStrategyFTS runs FTS with strategy-specific weight overrides,
// used by ensemble mode to produce distinct per-strategy lists.
func (r *Retriever) performStrategyFTS(ctx context.Context, q Query, strategy bandit.Strategy) ([]*entry.SearchResult, error) {
	w := ftsstore.DefaultWeights()
	switch strategy {
	case bandit.StrategyRecencyFocused:
		w.RecencyHalfLifeDays = 7
	case bandit.StrategyEffectivenessFocused:
		w.EffectivenessBoost = 2.0
	case bandit.StrategyPopularityFocused:
		w.UsageBoostK = 2.0
	}
	resp, err := r.store.Search(ctx, ftsstore.Query{
		Text:   q.Text,
		Kinds:  q.Kinds,
		Limit:  maxInt(q.Limit*2, 20),
		Weights: &w,
	})
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// PerformVector executes the optional vector-search path.
func (r *Retriever) PerformVector(ctx context.Context, q Query) ([]*entry.SearchResult, error) {
	if r.vector == nil {
		return nil, nil
	}
	return r.vector.Search(ctx, q.Text, maxInt(q.Limit*2, 20))
}

// PerformSemantic runs the semantic-focused path. In the absence of a
// dedicated semantic index this degrades to the vector path (the
// closest available signal); when vector search is also disabled it
// degrades to nil, nil per spec.md's "downgrade to a warning, not an
// error" contract for missing collaborators.
func (r *Retriever) PerformSemantic(ctx context.Context, q Query) ([]*entry.SearchResult, error) {
	if r.vector != nil {
		return r.vector.Search(ctx, q.Text, maxInt(q.Limit*2, 20))
	}
	return nil, nil
}

// enrichAndFuse extracts Feature Vectors for every candidate,
// rescales scores into a confidence signal, adds an exploration bonus
// when configured, and applies the post-fusion enhancements of
// spec.md §4.5.
func (r *Retriever) enrichAndFuse(q Query, strategy bandit.Strategy, results []*entry.SearchResult) {
	if r.extractor != nil {
		entries := make([]*entry.Entry, len(results))
		for i, res := range results {
			entries[i] = res.Entry
		}
		qc := feature.QueryContext{Text: q.Text, ProjectID: q.ProjectID, IssueText: q.IssueText}
		if len(q.AgentTypes) > 0 {
			qc.AgentType = q.AgentTypes[0]
		}
		vecs := r.extractor.ExtractBatch(qc, entries)
		for i, res := range results {
			res.Score = rescaleConfidence(res.Score, vecs[i])
			if r.cfg.ExplorationRate > 0 {
				res.Score += rand.Float64() * r.cfg.ExplorationRate
			}
		}
	}

	agentType := ""
	if len(q.AgentTypes) > 0 {
		agentType = q.AgentTypes[0]
	}
	fusion.Enhance(results, fusion.EnhanceContext{
		ProjectID: q.ProjectID,
		AgentType: agentType,
		Strategy:  strategy,
	})
}

func rescaleConfidence(score float64, fv *entry.FeatureVector) float64 {
	if fv == nil {
		return score
	}
	return 0.7*score + 0.3*fv.OverallRelevance
}

// Fuse combines two ranked lists under the given per-list weights
// (public per spec.md §6's Retriever API: fuse(listA, listB, weights)).
func (r *Retriever) Fuse(listA, listB []*entry.SearchResult, weightA, weightB float64) []*entry.SearchResult {
	return fusion.Weighted([]fusion.RankedList{
		{Results: listA, Weight: weightA},
		{Results: listB, Weight: weightB},
	})
}

// OptimalStrategy exposes the bandit's arm selection directly.
func (r *Retriever) OptimalStrategy(ctx bandit.Context) bandit.Strategy {
	if r.bandit == nil {
		return bandit.StrategyBalanced
	}
	return r.bandit.SelectArm(ctx)
}

// Feedback is one piece of user feedback on a retrieved result.
type Feedback struct {
	Satisfaction float64 // [0,1]
}

// AdaptWeights derives a reward from a batch of feedback (mean
// satisfaction) and reports it to the bandit for the given strategy
// (spec.md §4.4 "Update").
func (r *Retriever) AdaptWeights(strategy bandit.Strategy, feedback []Feedback) {
	if r.bandit == nil || len(feedback) == 0 {
		return
	}
	var sum float64
	for _, f := range feedback {
		sum += f.Satisfaction
	}
	r.bandit.UpdateReward(strategy, bandit.Context{}, sum/float64(len(feedback)))
}

func (r *Retriever) recordMetrics(strategy bandit.Strategy, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[strategy]
	if !ok {
		m = &strategyMetrics{}
		r.metrics[strategy] = m
	}
	m.calls++
	m.totalMicros += elapsed.Microseconds()
}

// StrategyMetrics reports calls and mean latency per strategy.
type StrategyMetrics struct {
	Calls       int64
	MeanLatency time.Duration
}

// Metrics returns a snapshot of per-strategy call counts and mean latency.
func (r *Retriever) Metrics() map[bandit.Strategy]StrategyMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[bandit.Strategy]StrategyMetrics, len(r.metrics))
	for s, m := range r.metrics {
		mean := time.Duration(0)
		if m.calls > 0 {
			mean = time.Duration(m.totalMicros/m.calls) * time.Microsecond
		}
		out[s] = StrategyMetrics{Calls: m.calls, MeanLatency: mean}
	}
	return out
}

func queryID(q Query) string {
	var kinds []string
	for _, k := range q.Kinds {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	agents := append([]string(nil), q.AgentTypes...)
	sort.Strings(agents)
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%d", q.Text, strings.Join(kinds, ","), q.ProjectID, strings.Join(agents, ","), q.Limit, q.Offset)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

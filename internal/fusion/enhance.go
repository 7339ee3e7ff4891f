package fusion

import (
	"sort"
	"strings"
	"time"

	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/entry"
)

// EnhanceContext carries the query-specific signals the post-fusion
// enhancements apply (spec.md §4.5 (b)).
type EnhanceContext struct {
	ProjectID        string
	AgentType        string
	UrgencyKeywords  bool
	Strategy         bandit.Strategy
	Now              time.Time
}

const diversityPenaltyCap = 0.1

// Enhance applies, in order: (a) a diversity penalty per repeated
// (category,kind) pair up to a 0.1 cumulative cap, (b) query-specific
// boosts, and (c) strategy-specific tie-break reordering.
func Enhance(results []*entry.SearchResult, ctx EnhanceContext) []*entry.SearchResult {
	if ctx.Now.IsZero() {
		ctx.Now = time.Now()
	}
	applyDiversityPenalty(results)
	applyQueryBoosts(results, ctx)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	applyStrategyTieBreak(results, ctx)
	assignRanks(results)
	return results
}

// applyDiversityPenalty discourages runs of the same (category,kind)
// pair: each repeat beyond the first subtracts a shrinking penalty,
// capped at 0.1 cumulative per pair.
func applyDiversityPenalty(results []*entry.SearchResult) {
	seen := make(map[string]int)
	penaltyApplied := make(map[string]float64)
	for _, r := range results {
		key := r.Entry.Metadata.Category + "|" + string(r.Entry.Kind)
		n := seen[key]
		seen[key] = n + 1
		if n == 0 {
			continue
		}
		remaining := diversityPenaltyCap - penaltyApplied[key]
		if remaining <= 0 {
			continue
		}
		step := 0.02
		if step > remaining {
			step = remaining
		}
		r.Score -= step
		penaltyApplied[key] += step
	}
}

func applyQueryBoosts(results []*entry.SearchResult, ctx EnhanceContext) {
	for _, r := range results {
		if ctx.ProjectID != "" && r.Entry.Metadata.ProjectID == ctx.ProjectID {
			r.Score += 0.05
		}
		if ctx.AgentType != "" && containsFold(r.Entry.Metadata.AgentAffinity, ctx.AgentType) {
			r.Score += 0.03
		}
		if ctx.UrgencyKeywords && !r.Entry.LastModified.IsZero() &&
			ctx.Now.Sub(r.Entry.LastModified) < 7*24*time.Hour {
			r.Score += 0.04
		}
	}
}

// applyStrategyTieBreak reorders near-ties (|Δscore| < 0.1) within
// contiguous runs according to the selected strategy's secondary key.
func applyStrategyTieBreak(results []*entry.SearchResult, ctx EnhanceContext) {
	const nearTie = 0.1
	i := 0
	for i < len(results) {
		j := i + 1
		for j < len(results) && abs(results[j].Score-results[i].Score) < nearTie {
			j++
		}
		if j-i > 1 {
			sortRun(results[i:j], ctx.Strategy)
		}
		i = j
	}
}

func sortRun(run []*entry.SearchResult, strategy bandit.Strategy) {
	switch strategy {
	case bandit.StrategyRecencyFocused:
		sort.SliceStable(run, func(i, j int) bool {
			return run[i].Entry.LastModified.After(run[j].Entry.LastModified)
		})
	case bandit.StrategyEffectivenessFocused:
		sort.SliceStable(run, func(i, j int) bool {
			return run[i].Entry.Metadata.Effectiveness > run[j].Entry.Metadata.Effectiveness
		})
	case bandit.StrategyPopularityFocused:
		sort.SliceStable(run, func(i, j int) bool {
			return run[i].Entry.Metadata.UsageCount > run[j].Entry.Metadata.UsageCount
		})
	}
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

package ftsstore

import (
	"math"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Weights controls the FTS Store's per-query ranking model (spec.md
// §4.1): the field weights feed FTS5's/Bleve's native per-field boost
// directly, while recency/effectiveness/usage boosts are layered on
// top of the raw match score in Go.
type Weights struct {
	TitleWeight    float64
	TagWeight      float64
	ContentWeight  float64
	CategoryWeight float64

	// RecencyHalfLifeDays controls the exponential decay of the recency
	// boost: the boost halves every RecencyHalfLifeDays since last
	// modification.
	RecencyHalfLifeDays float64
	// EffectivenessBoost scales metadata.Effectiveness's contribution.
	EffectivenessBoost float64
	// UsageBoostK is the divisor in log(1+usage)/K.
	UsageBoostK float64

	// MinScoreCutoff discards results below this composite score
	// before snippet generation.
	MinScoreCutoff float64
}

// DefaultWeights returns the default ranking weights. Title >= tag >=
// content >= category, per spec.md §4.1.
func DefaultWeights() Weights {
	return Weights{
		TitleWeight:         3.0,
		TagWeight:           2.0,
		ContentWeight:       1.0,
		CategoryWeight:      0.5,
		RecencyHalfLifeDays: 30,
		EffectivenessBoost:  1.0,
		UsageBoostK:         10,
		MinScoreCutoff:      0.01,
	}
}

// recencyBoost is an exponential-decay multiplier in (0,1], halving
// every halfLifeDays.
func recencyBoost(daysSinceModified, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	if daysSinceModified < 0 {
		daysSinceModified = 0
	}
	return math.Exp(-math.Ln2 * daysSinceModified / halfLifeDays)
}

// usageBoost implements log(1+usage)/K.
func usageBoost(usageCount int, k float64) float64 {
	if k <= 0 {
		return 0
	}
	return math.Log1p(float64(usageCount)) / k
}

// compositeScore combines the raw field-weighted match score with the
// recency/effectiveness/usage boosts of spec.md §4.1.
func compositeScore(fieldScore float64, w Weights, daysSinceModified, effectiveness float64, usageCount int) float64 {
	score := fieldScore
	score += recencyBoost(daysSinceModified, w.RecencyHalfLifeDays)
	score += effectiveness * w.EffectivenessBoost
	score += usageBoost(usageCount, w.UsageBoostK)
	return score
}

// lessResult implements the spec.md §4.1 tie-break: higher score
// first, then higher effectiveness, then more recent modification,
// then lower ID lexicographically.
func lessResult(a, b *entry.SearchResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Entry.Metadata.Effectiveness != b.Entry.Metadata.Effectiveness {
		return a.Entry.Metadata.Effectiveness > b.Entry.Metadata.Effectiveness
	}
	if !a.Entry.LastModified.Equal(b.Entry.LastModified) {
		return a.Entry.LastModified.After(b.Entry.LastModified)
	}
	return a.Entry.ID < b.Entry.ID
}

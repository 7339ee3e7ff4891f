package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/entry"
)

func result(id string, score float64) *entry.SearchResult {
	return &entry.SearchResult{Entry: &entry.Entry{ID: id}, Score: score}
}

func TestRRF_SingleListUnchangedInContent(t *testing.T) {
	list := []*entry.SearchResult{result("a", 0.9), result("b", 0.5), result("c", 0.1)}
	out := RRF([]RankedList{{Results: list}}, DefaultRRFK)
	require.Len(t, out, 3)
	ids := []string{out[0].Entry.ID, out[1].Entry.ID, out[2].Entry.ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	for i, r := range out {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestRRF_UnionOfIDsDeduped(t *testing.T) {
	listA := []*entry.SearchResult{result("a", 1), result("b", 0.5)}
	listB := []*entry.SearchResult{result("b", 0.9), result("c", 0.2)}
	out := RRF([]RankedList{{Results: listA}, {Results: listB}}, DefaultRRFK)
	ids := map[string]bool{}
	for _, r := range out {
		ids[r.Entry.ID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, ids)
	assert.Len(t, out, 3)
}

func TestBorda_ScoreWithinBounds(t *testing.T) {
	listA := []*entry.SearchResult{result("a", 1), result("b", 0.5), result("c", 0.1)}
	listB := []*entry.SearchResult{result("c", 1), result("b", 0.5), result("a", 0.1)}
	out := Borda([]RankedList{{Results: listA}, {Results: listB}})
	maxPossible := float64(len(listA) * 2)
	for _, r := range out {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, maxPossible)
	}
}

func TestWeighted_NormalizesAndDedupes(t *testing.T) {
	listA := []*entry.SearchResult{result("a", 0.8)}
	listB := []*entry.SearchResult{result("a", 0.6), result("b", 0.4)}
	out := Weighted([]RankedList{{Results: listA, Weight: 2}, {Results: listB, Weight: 1}})
	assert.Len(t, out, 2)
}

func TestEnhance_DiversityPenaltyCapped(t *testing.T) {
	results := make([]*entry.SearchResult, 6)
	for i := range results {
		results[i] = &entry.SearchResult{
			Entry: &entry.Entry{ID: string(rune('a' + i)), Kind: entry.KindKnowledge,
				Metadata: entry.Metadata{Category: "auth"}},
			Score: 0.9,
		}
	}
	out := Enhance(results, EnhanceContext{})
	// Cumulative penalty for repeats of the same (category,kind) pair is capped at 0.1.
	minScore := out[len(out)-1].Score
	assert.GreaterOrEqual(t, minScore, 0.9-diversityPenaltyCap-1e-9)
}

func TestEnhance_ProjectBoostAppliedAndRanked(t *testing.T) {
	a := &entry.SearchResult{Entry: &entry.Entry{ID: "a", Metadata: entry.Metadata{ProjectID: "p1"}}, Score: 0.5}
	b := &entry.SearchResult{Entry: &entry.Entry{ID: "b", Metadata: entry.Metadata{ProjectID: "p2"}}, Score: 0.5}
	out := Enhance([]*entry.SearchResult{a, b}, EnhanceContext{ProjectID: "p1"})
	assert.Equal(t, "a", out[0].Entry.ID)
	assert.Equal(t, 1, out[0].Rank)
}

func TestEnhance_RecencyFocusedTieBreak(t *testing.T) {
	older := &entry.SearchResult{Entry: &entry.Entry{ID: "old"}, Score: 0.5}
	newer := &entry.SearchResult{Entry: &entry.Entry{ID: "new"}, Score: 0.5}
	newer.Entry.LastModified = older.Entry.LastModified.Add(1)
	out := Enhance([]*entry.SearchResult{older, newer}, EnhanceContext{Strategy: bandit.StrategyRecencyFocused})
	assert.Equal(t, "new", out[0].Entry.ID)
}

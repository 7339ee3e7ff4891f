package feature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

func TestExtractBatch_TitleMatchStrongerThanNoMatch(t *testing.T) {
	now := time.Now()
	entries := []*entry.Entry{
		{
			ID: "a1", Kind: entry.KindKnowledge, Title: "Authentication Implementation Guide",
			Body: "How to implement JWT authentication", LastModified: now,
			Metadata: entry.Metadata{Tags: []string{"auth", "jwt", "security"}},
		},
		{
			ID: "t1", Kind: entry.KindConfig, Title: "TypeScript Config",
			Body: "tsconfig options", LastModified: now,
			Metadata: entry.Metadata{Tags: []string{"config", "ts"}},
		},
	}

	ex := New(DefaultConfig())
	vecs := ex.ExtractBatch(QueryContext{Text: "authentication jwt", Now: now}, entries)
	require.Len(t, vecs, 2)

	byID := map[string]*entry.FeatureVector{}
	for _, v := range vecs {
		byID[v.EntryID] = v
	}
	assert.Greater(t, byID["a1"].TitleScore, byID["t1"].TitleScore)
	assert.Greater(t, byID["a1"].TagScore, byID["t1"].TagScore)
}

func TestExtractBatch_DisabledCategorySkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Categories[entry.FeatureSemantic] = false
	ex := New(cfg)
	entries := []*entry.Entry{{ID: "x", Body: "func main() { return }"}}
	vecs := ex.ExtractBatch(QueryContext{Text: "main"}, entries)
	require.Len(t, vecs, 1)
	assert.Zero(t, vecs[0].Complexity)
	assert.Zero(t, vecs[0].Readability)
}

func TestMinMaxNormalization_BoundsToUnitInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalization = NormalizeMinMax
	ex := New(cfg)
	entries := []*entry.Entry{
		{ID: "a", Title: "exact match query", Body: "exact match query"},
		{ID: "b", Title: "unrelated", Body: "unrelated"},
	}
	vecs := ex.ExtractBatch(QueryContext{Text: "exact match query"}, entries)
	for _, v := range vecs {
		assert.GreaterOrEqual(t, v.TitleScore, 0.0)
		assert.LessOrEqual(t, v.TitleScore, 1.0)
	}
}

func TestExtractBatch_EmptyEntries(t *testing.T) {
	ex := New(DefaultConfig())
	vecs := ex.ExtractBatch(QueryContext{Text: "anything"}, nil)
	assert.Empty(t, vecs)
}

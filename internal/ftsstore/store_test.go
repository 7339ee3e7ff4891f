package ftsstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

func newTestEntry(id, title, body, category string, tags []string, modifiedDaysAgo int) *entry.Entry {
	return &entry.Entry{
		ID:           id,
		Kind:         entry.KindKnowledge,
		Title:        title,
		Body:         body,
		Path:         "/virtual/" + id,
		ContentHash:  "hash-" + id,
		LastModified: time.Now().Add(-time.Duration(modifiedDaysAgo) * 24 * time.Hour),
		Metadata: entry.Metadata{
			Tags:          tags,
			Category:      category,
			Effectiveness: 0.5,
		},
	}
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore("", DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_IndexAndSearch_Basic(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("e1", "getUserById handler", "func getUserById(id string) (*User, error) { return repo.Find(id) }", "api", []string{"go", "handler"}, 0),
		newTestEntry("e2", "createUser handler", "func createUser(req CreateRequest) (*User, error) { return repo.Save(req) }", "api", []string{"go", "handler"}, 5),
		newTestEntry("e3", "deployment notes", "kubernetes deployment rollout strategy for the user service", "ops", []string{"k8s"}, 2),
	}
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "user", Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestSQLiteStore_Search_RankingPrefersTitleMatch(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("title-match", "widget configuration", "this document discusses unrelated things mostly", "config", nil, 0),
		newTestEntry("body-match", "unrelated document", "deep inside the body we mention widget configuration repeatedly widget widget", "config", nil, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "widget", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "title-match", resp.Results[0].Entry.ID)
}

func TestSQLiteStore_Search_TieBreakDeterministic(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	now := time.Now()
	entries := []*entry.Entry{
		newTestEntry("zzz", "widget", "widget", "", nil, 0),
		newTestEntry("aaa", "widget", "widget", "", nil, 0),
	}
	entries[0].LastModified = now
	entries[1].LastModified = now
	entries[0].Metadata.Effectiveness = 0.5
	entries[1].Metadata.Effectiveness = 0.5
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "widget", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "aaa", resp.Results[0].Entry.ID)
}

func TestSQLiteStore_Search_MinScoreCutoffAndFilters(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("e1", "alpha report", "alpha content here", "reports", []string{"finance"}, 0),
		newTestEntry("e2", "beta report", "beta content here", "reports", []string{"ops"}, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "report", Category: "reports", Tags: []string{"finance"}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "e1", resp.Results[0].Entry.ID)
}

func TestSQLiteStore_Search_SnippetsAndHighlight(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	body := "this is a long piece of text that mentions widget somewhere in the middle of a much longer sentence about configuration"
	entries := []*entry.Entry{newTestEntry("e1", "widget docs", body, "", nil, 0)}
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "widget", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Contains(t, r.HighlightedTitle, "<mark>")
	require.NotEmpty(t, r.Snippets)
	assert.Contains(t, r.Snippets[0], "<mark>widget</mark>")
}

func TestSQLiteStore_Delete_RemovesFromIndex(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{newTestEntry("e1", "widget", "widget content", "", nil, 0)}
	require.NoError(t, s.Index(ctx, entries))

	require.NoError(t, s.Delete(ctx, []string{"e1"}))

	resp, err := s.Search(ctx, Query{Text: "widget", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSQLiteStore_Update_ReplacesAtomically(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	e := newTestEntry("e1", "original title", "original body content", "", nil, 0)
	require.NoError(t, s.Index(ctx, []*entry.Entry{e}))

	updated := newTestEntry("e1", "revised title", "revised body content", "", nil, 0)
	require.NoError(t, s.Update(ctx, []*entry.Entry{updated}))

	resp, err := s.Search(ctx, Query{Text: "revised", Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "revised title", resp.Results[0].Entry.Title)

	resp, err = s.Search(ctx, Query{Text: "original", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSQLiteStore_FindSimilar_SharesTagsAndCategory(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("base", "base entry", "content", "cat-a", []string{"go", "handler"}, 0),
		newTestEntry("close", "close entry", "content", "cat-a", []string{"go", "handler"}, 0),
		newTestEntry("far", "far entry", "content", "cat-b", []string{"python"}, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	results, err := s.FindSimilar(ctx, "base", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "close", results[0].Entry.ID)
}

func TestSQLiteStore_Suggest_PrefixMatch(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("e1", "widget configuration guide", "body", "", nil, 0),
		newTestEntry("e2", "widget troubleshooting", "body", "", nil, 0),
		newTestEntry("e3", "gadget overview", "body", "", nil, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	suggestions, err := s.Suggest(ctx, "widget", 10)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestSQLiteStore_Health_ReportsClosedAsCritical(t *testing.T) {
	s := newSQLiteTestStore(t)
	assert.Equal(t, "ok", s.Health(context.Background()).Status)

	require.NoError(t, s.Close())
	assert.Equal(t, "critical", s.Health(context.Background()).Status)
}

func TestSQLiteStore_ClosedStore_RejectsOperations(t *testing.T) {
	s := newSQLiteTestStore(t)
	require.NoError(t, s.Close())

	err := s.Index(context.Background(), []*entry.Entry{newTestEntry("e1", "t", "b", "", nil, 0)})
	assert.Error(t, err)

	_, err = s.Search(context.Background(), Query{Text: "x"})
	assert.Error(t, err)
}

func TestSQLiteStore_VacuumAndOptimize_Succeed(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, []*entry.Entry{newTestEntry("e1", "t", "b", "", nil, 0)}))
	assert.NoError(t, s.Vacuum(ctx))
	assert.NoError(t, s.Optimize(ctx))

	m := s.Metrics()
	assert.Equal(t, 1, m.DocumentCount)
	assert.False(t, m.LastVacuumAt.IsZero())
	assert.False(t, m.LastOptimizeAt.IsZero())
}

func TestSQLiteStore_Index_RejectsIncompleteEntry(t *testing.T) {
	s := newSQLiteTestStore(t)
	ctx := context.Background()

	bad := &entry.Entry{ID: "e1", Kind: entry.KindKnowledge}
	err := s.Index(ctx, []*entry.Entry{bad})
	assert.Error(t, err)
}

func newBleveTestStore(t *testing.T) *BleveStore {
	t.Helper()
	s, err := NewBleveStore("", DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBleveStore_IndexAndSearch_Basic(t *testing.T) {
	s := newBleveTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("e1", "getUserById handler", "func getUserById(id string) (*User, error)", "api", []string{"go"}, 0),
		newTestEntry("e2", "deployment notes", "kubernetes rollout strategy for the user service", "ops", []string{"k8s"}, 2),
	}
	require.NoError(t, s.Index(ctx, entries))

	resp, err := s.Search(ctx, Query{Text: "user", Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestBleveStore_Delete_RemovesFromIndex(t *testing.T) {
	s := newBleveTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{newTestEntry("e1", "widget", "widget content", "", nil, 0)}
	require.NoError(t, s.Index(ctx, entries))
	require.NoError(t, s.Delete(ctx, []string{"e1"}))

	resp, err := s.Search(ctx, Query{Text: "widget", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestBleveStore_FindSimilar_SharesTagsAndCategory(t *testing.T) {
	s := newBleveTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("base", "base entry", "content", "cat-a", []string{"go", "handler"}, 0),
		newTestEntry("close", "close entry", "content", "cat-a", []string{"go", "handler"}, 0),
		newTestEntry("far", "far entry", "content", "cat-b", []string{"python"}, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	results, err := s.FindSimilar(ctx, "base", 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "close", results[0].Entry.ID)
}

func TestBleveStore_Suggest_PrefixMatch(t *testing.T) {
	s := newBleveTestStore(t)
	ctx := context.Background()

	entries := []*entry.Entry{
		newTestEntry("e1", "widget configuration guide", "body", "", nil, 0),
		newTestEntry("e2", "gadget overview", "body", "", nil, 0),
	}
	require.NoError(t, s.Index(ctx, entries))

	suggestions, err := s.Suggest(ctx, "widget", 10)
	require.NoError(t, err)
	assert.Len(t, suggestions, 1)
}

func TestNew_DispatchesOnBackend(t *testing.T) {
	opts := DefaultOptions()
	opts.Backend = BackendSQLite
	sStore, err := New("", opts)
	require.NoError(t, err)
	defer func() { _ = sStore.Close() }()
	_, ok := sStore.(*SQLiteStore)
	assert.True(t, ok)

	opts.Backend = BackendBleve
	bStore, err := New("", opts)
	require.NoError(t, err)
	defer func() { _ = bStore.Close() }()
	_, ok = bStore.(*BleveStore)
	assert.True(t, ok)

	opts.Backend = "unsupported"
	_, err = New("", opts)
	assert.Error(t, err)
}

func TestWeights_RecencyAndUsageBoosts(t *testing.T) {
	w := DefaultWeights()
	assert.InDelta(t, 1.0, recencyBoost(0, w.RecencyHalfLifeDays), 0.0001)
	assert.Less(t, recencyBoost(w.RecencyHalfLifeDays, w.RecencyHalfLifeDays), 0.51)
	assert.Greater(t, recencyBoost(w.RecencyHalfLifeDays, w.RecencyHalfLifeDays), 0.49)
	assert.Equal(t, 0.0, usageBoost(5, 0))
	assert.Greater(t, usageBoost(100, w.UsageBoostK), usageBoost(1, w.UsageBoostK))
}

func TestBuildSnippets_WindowsAroundMatches(t *testing.T) {
	body := "prefix text " + stringsRepeat("filler ", 10) + "widget" + stringsRepeat(" filler", 10) + " suffix text"
	snippets := buildSnippets(body, []string{"widget"}, 40, 3, DefaultHighlightMarker())
	require.NotEmpty(t, snippets)
	assert.Contains(t, snippets[0], "<mark>widget</mark>")
}

func stringsRepeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

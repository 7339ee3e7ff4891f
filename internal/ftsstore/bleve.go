package ftsstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/ctxforge/retrievalcore/internal/entry"
	coreerrors "github.com/ctxforge/retrievalcore/internal/errors"
	"github.com/ctxforge/retrievalcore/internal/lexer"
)

// bleveDoc mirrors entry.Entry's searchable fields for Bleve indexing.
// It uses the code-aware analyzer internal/lexer registers
// (lexer.CodeAnalyzerName), so this backend tokenizes the same way the
// SQLite backend's ranking queries do.
type bleveDoc struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Tags     string `json:"tags"`
	Category string `json:"category"`
}

// BleveStore implements Store using Bleve v2 (the teacher's legacy,
// single-process backend; internal/store/bm25.go), retargeted from
// chunk documents to entry.Entry documents. The original Entry is kept
// in memory alongside the index since Bleve's stored fields are not a
// convenient place for the full metadata set.
type BleveStore struct {
	mu      sync.RWMutex
	index   bleve.Index
	path    string
	opts    Options
	closed  bool
	entries map[string]*entry.Entry

	queryCount     int64
	slowQueryCount int64
	lastVacuum     time.Time
	lastOptimize   time.Time
}

var _ Store = (*BleveStore)(nil)

func newBleveMapping() (*mapping.IndexMappingImpl, error) {
	return lexer.NewBleveAnalyzerMapping(bleve.NewIndexMapping)
}

// NewBleveStore opens (or creates) a Bleve-backed Store. An empty path
// creates an in-memory index for tests.
func NewBleveStore(path string, opts Options) (*BleveStore, error) {
	im, err := newBleveMapping()
	if err != nil {
		return nil, fmt.Errorf("failed to build bleve index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(im)
	} else {
		dir := filepath.Dir(path)
		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, im)
		} else if err != nil {
			slog.Warn("ftsstore_bleve_open_failed", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return nil, coreerrors.IndexCorruptionError(fmt.Sprintf("bleve index corrupted at %s and cannot remove", path), rmErr)
			}
			idx, err = bleve.New(path, im)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open bleve index: %w", err)
	}

	return &BleveStore{index: idx, path: path, opts: opts, entries: make(map[string]*entry.Entry)}, nil
}

// Index upserts entries atomically.
func (b *BleveStore) Index(ctx context.Context, entries []*entry.Entry) error {
	return b.upsert(entries)
}

// Update has the same atomicity guarantee as Index.
func (b *BleveStore) Update(ctx context.Context, entries []*entry.Entry) error {
	return b.upsert(entries)
}

func (b *BleveStore) upsert(entries []*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerrors.NotInitializedError("fts store")
	}

	batch := b.index.NewBatch()
	for _, e := range entries {
		if e.ID == "" || e.Kind == "" || e.Title == "" || e.Body == "" || e.Path == "" {
			return coreerrors.ContentExtractionError(fmt.Sprintf("entry %q missing required field", e.ID), nil)
		}
		doc := bleveDoc{
			Kind: string(e.Kind), Title: e.Title, Body: e.Body,
			Tags: strings.Join(e.Metadata.Tags, " "), Category: e.Metadata.Category,
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	for _, e := range entries {
		cp := *e
		b.entries[e.ID] = &cp
	}
	return nil
}

// Delete has the same atomicity guarantee as Index.
func (b *BleveStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerrors.NotInitializedError("fts store")
	}

	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete entries: %w", err)
	}
	for _, id := range ids {
		delete(b.entries, id)
	}
	return nil
}

func weightedMatch(text, field string, weight float64) *query.MatchQuery {
	m := bleve.NewMatchQuery(text)
	m.SetField(field)
	m.SetBoost(weight)
	return m
}

// Search mirrors SQLiteStore.Search's ranking model, using per-field
// boosted match queries in place of FTS5's bm25() column weights.
func (b *BleveStore) Search(ctx context.Context, q Query) (*SearchResponse, error) {
	start := time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}

	weights := b.opts.Weights
	if q.Weights != nil {
		weights = *q.Weights
	}
	marker := b.opts.Marker
	if q.Marker != nil {
		marker = *q.Marker
	}
	maxSnippetLen := b.opts.MaxSnippetLen
	if q.MaxSnippetLen > 0 {
		maxSnippetLen = q.MaxSnippetLen
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	if strings.TrimSpace(q.Text) == "" {
		return &SearchResponse{Results: []*entry.SearchResult{}, ExecutionTime: time.Since(start)}, nil
	}

	disjunct := bleve.NewDisjunctionQuery(
		weightedMatch(q.Text, "title", weights.TitleWeight),
		weightedMatch(q.Text, "body", weights.ContentWeight),
		weightedMatch(q.Text, "tags", weights.TagWeight),
		weightedMatch(q.Text, "category", weights.CategoryWeight),
	)
	req := bleve.NewSearchRequest(disjunct)
	req.Size = limit * 4

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, coreerrors.HybridFusionFailedError("fts search failed", err)
	}

	terms := lexer.Tokenize(q.Text)
	results := make([]*entry.SearchResult, 0, len(result.Hits))
	facets := Facets{ByKind: map[string]int{}, ByCategory: map[string]int{}, ByTag: map[string]int{}}

	for _, hit := range result.Hits {
		e, ok := b.entries[hit.ID]
		if !ok {
			continue
		}
		if len(q.Kinds) > 0 && !containsKind(q.Kinds, e.Kind) {
			continue
		}
		if q.Category != "" && e.Metadata.Category != q.Category {
			continue
		}
		if q.ProjectID != "" && e.Metadata.ProjectID != q.ProjectID {
			continue
		}
		if len(q.Tags) > 0 && !hasAnyTag(e.Metadata.Tags, q.Tags) {
			continue
		}

		facets.ByKind[string(e.Kind)]++
		if e.Metadata.Category != "" {
			facets.ByCategory[e.Metadata.Category]++
		}
		for _, t := range e.Metadata.Tags {
			facets.ByTag[t]++
		}

		daysSince := time.Since(e.LastModified).Hours() / 24
		score := compositeScore(hit.Score, weights, daysSince, e.Metadata.Effectiveness, e.Metadata.UsageCount)
		if score < weights.MinScoreCutoff {
			continue
		}

		results = append(results, &entry.SearchResult{
			Entry: e,
			Score: score,
			Factors: entry.RelevanceFactors{
				ContentMatch:  hit.Score,
				Recency:       recencyBoost(daysSince, weights.RecencyHalfLifeDays),
				Effectiveness: e.Metadata.Effectiveness,
				Usage:         usageBoost(e.Metadata.UsageCount, weights.UsageBoostK),
			},
			MatchedFields: []string{"title", "body"},
			RawMatchCount: len(terms),
		})
	}

	sort.Slice(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
		r.HighlightedTitle = highlightTitle(r.Entry.Title, terms, marker)
		r.Snippets = buildSnippets(r.Entry.Body, terms, maxSnippetLen, DefaultMaxSnippetsPerEntry, marker)
	}

	atomic.AddInt64(&b.queryCount, 1)
	elapsed := time.Since(start)
	if elapsed > b.opts.SlowQueryThreshold {
		atomic.AddInt64(&b.slowQueryCount, 1)
	}

	return &SearchResponse{Results: results, Facets: facets, TotalMatches: len(results), ExecutionTime: elapsed}, nil
}

// FindSimilar returns entries sharing tags/category/kind with id,
// excluding it, ranked by shared-signal count.
func (b *BleveStore) FindSimilar(ctx context.Context, id string, limit int) ([]*entry.SearchResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}
	if limit <= 0 {
		limit = 10
	}

	base, ok := b.entries[id]
	if !ok {
		return nil, coreerrors.New(coreerrors.ErrCodeFileNotFound, fmt.Sprintf("entry %s not found", id), nil)
	}

	var results []*entry.SearchResult
	for cid, e := range b.entries {
		if cid == id {
			continue
		}
		score := float64(sharedTagCount(base.Metadata.Tags, e.Metadata.Tags))
		if base.Metadata.Category != "" && e.Metadata.Category == base.Metadata.Category {
			score++
		}
		if e.Kind == base.Kind {
			score += 0.5
		}
		if score <= 0 {
			continue
		}
		results = append(results, &entry.SearchResult{Entry: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > limit {
		results = results[:limit]
	}
	for i, r := range results {
		r.Rank = i + 1
	}
	return results, nil
}

// Suggest returns title completion candidates for prefix.
func (b *BleveStore) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}
	if limit <= 0 {
		limit = 10
	}
	lowerPrefix := strings.ToLower(prefix)
	if lowerPrefix == "" {
		return []string{}, nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, e := range b.entries {
		if strings.HasPrefix(strings.ToLower(e.Title), lowerPrefix) {
			if _, dup := seen[e.Title]; !dup {
				seen[e.Title] = struct{}{}
				out = append(out, e.Title)
			}
		}
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Metrics returns operational counters.
func (b *BleveStore) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count, _ := b.index.DocCount()
	return Metrics{
		DocumentCount:  int(count),
		QueryCount:     atomic.LoadInt64(&b.queryCount),
		SlowQueryCount: atomic.LoadInt64(&b.slowQueryCount),
		LastVacuumAt:   b.lastVacuum,
		LastOptimizeAt: b.lastOptimize,
	}
}

// Health reports whether the index is open.
func (b *BleveStore) Health(ctx context.Context) Health {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return Health{Status: "critical", Message: "fts store is closed"}
	}
	return Health{Status: "ok"}
}

// Vacuum is a no-op for Bleve; BoltDB compacts on its own schedule.
func (b *BleveStore) Vacuum(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerrors.NotInitializedError("fts store")
	}
	b.lastVacuum = time.Now()
	return nil
}

// Optimize resets the slow-query counter; Bleve exposes no manual
// segment-merge API through this backend.
func (b *BleveStore) Optimize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return coreerrors.NotInitializedError("fts store")
	}
	atomic.StoreInt64(&b.slowQueryCount, 0)
	b.lastOptimize = time.Now()
	return nil
}

// Close closes the index. Idempotent.
func (b *BleveStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

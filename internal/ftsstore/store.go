// Package ftsstore provides a durable, queryable full-text index over
// entry.Entry documents: index/update/delete with atomic batch
// visibility, field-weighted ranking with recency/effectiveness/usage
// boosts, snippet generation, facets, query analytics, similarity
// lookup, and prefix suggestions.
//
// Two backends are supported behind the same Store contract, both
// adapted from internal/store's BM25 engines: SQLiteStore (SQLite
// FTS5, default, concurrency-friendly) and BleveStore (legacy,
// single-process).
package ftsstore

import (
	"context"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
)

// Query is a full-text search request against the FTS Store.
type Query struct {
	Text      string
	Kinds     []entry.Kind
	Tags      []string
	Category  string
	ProjectID string
	Limit     int

	// Weights overrides the store's default ranking weights for this
	// query only; nil uses the store's configured weights.
	Weights *Weights
	// Marker overrides the highlight marker for this query only.
	Marker *HighlightMarker
	// MaxSnippetLen overrides the snippet window size for this query only.
	MaxSnippetLen int
}

// Facets holds GROUP BY counts over kind/category/tags for a search response.
type Facets struct {
	ByKind     map[string]int
	ByCategory map[string]int
	ByTag      map[string]int
}

// SearchResponse is the FTS Store's search() return value (spec.md §4.1).
type SearchResponse struct {
	Results       []*entry.SearchResult
	Facets        Facets
	TotalMatches  int
	ExecutionTime time.Duration
}

// Metrics reports operational counters for the FTS Store.
type Metrics struct {
	DocumentCount  int
	QueryCount     int64
	SlowQueryCount int64
	LastVacuumAt   time.Time
	LastOptimizeAt time.Time
}

// Health reports the FTS Store's health for health-check aggregation
// (spec.md §4.11's per-sub-component OK/warning/error report).
type Health struct {
	Status  string // ok | warning | critical
	Message string
}

// Store is the FTS Store's public contract (spec.md §4.1).
type Store interface {
	// Index upserts N entries atomically; on partial failure, no entry
	// is partially visible.
	Index(ctx context.Context, entries []*entry.Entry) error
	// Update has the same atomicity guarantee as Index.
	Update(ctx context.Context, entries []*entry.Entry) error
	// Delete has the same atomicity guarantee as Index.
	Delete(ctx context.Context, ids []string) error

	Search(ctx context.Context, q Query) (*SearchResponse, error)

	// FindSimilar returns up to limit entries sharing tags/category/kind
	// with the given entry, excluding it.
	FindSimilar(ctx context.Context, id string, limit int) ([]*entry.SearchResult, error)
	// Suggest returns completion candidates for prefix.
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)

	Metrics() Metrics
	Health(ctx context.Context) Health
	Vacuum(ctx context.Context) error
	Optimize(ctx context.Context) error
	Close() error
}

func containsKind(kinds []entry.Kind, k entry.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func hasAnyTag(entryTags, wanted []string) bool {
	set := make(map[string]struct{}, len(entryTags))
	for _, t := range entryTags {
		set[t] = struct{}{}
	}
	for _, w := range wanted {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func sharedTagCount(a, b []string) int {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	count := 0
	for _, t := range b {
		if _, ok := set[t]; ok {
			count++
		}
	}
	return count
}

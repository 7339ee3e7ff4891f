package ftsstore

import (
	"fmt"
	"time"
)

// Backend selects the FTS Store's storage engine (spec.md §4.1: sqlite
// is the default, bleve an opt-in legacy choice, mirroring
// internal/store/bm25_factory.go's BM25Backend switch).
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBleve  Backend = "bleve"
)

// Options configures a new Store.
type Options struct {
	Backend            Backend
	Weights            Weights
	Marker             HighlightMarker
	MaxSnippetLen      int
	SlowQueryThreshold time.Duration
}

// DefaultOptions returns sensible defaults for a new Store.
func DefaultOptions() Options {
	return Options{
		Backend:            BackendSQLite,
		Weights:            DefaultWeights(),
		Marker:             DefaultHighlightMarker(),
		MaxSnippetLen:      DefaultMaxSnippetLen,
		SlowQueryThreshold: 200 * time.Millisecond,
	}
}

// New creates a Store using the configured backend. basePath is
// extension-less; ".db" is appended for sqlite, ".bleve" for bleve, an
// empty basePath creates an in-memory store for tests, mirroring
// internal/store/bm25_factory.go's NewBM25IndexWithBackend convention.
func New(basePath string, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteStore(path, opts)

	case BackendBleve:
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveStore(path, opts)

	default:
		return nil, fmt.Errorf("unknown fts store backend: %s (valid options: sqlite, bleve)", opts.Backend)
	}
}

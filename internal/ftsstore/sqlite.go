package ftsstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)

	"github.com/ctxforge/retrievalcore/internal/entry"
	coreerrors "github.com/ctxforge/retrievalcore/internal/errors"
	"github.com/ctxforge/retrievalcore/internal/lexer"
)

// stopWords is the code-aware stop word set used for content
// tokenization (internal/lexer).
var stopWords = lexer.BuildStopWordSet(lexer.CodeStopWords)

// tokenize applies the same code-aware tokenization used for indexing
// and querying, so the two sides agree on term boundaries.
func tokenize(text string) string {
	tokens := lexer.Tokenize(text)
	tokens = lexer.FilterStopWords(tokens, stopWords)
	return strings.Join(tokens, " ")
}

// SQLiteStore implements Store using SQLite FTS5, adapted from
// internal/store/sqlite_bm25.go's WAL-mode, corruption-checked schema
// — retargeted from chunk documents to entry.Entry documents with the
// field-weighted ranking model of spec.md §4.1.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	opts   Options
	closed bool

	queryCount     int64
	slowQueryCount int64
	lastVacuum     time.Time
	lastOptimize   time.Time
}

var _ Store = (*SQLiteStore)(nil)

// validateIntegrity checks if a SQLite FTS5 index is valid before
// opening, mirroring internal/store/sqlite_bm25.go's
// validateSQLiteIntegrity (BUG-049 pattern).
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
	                    WHERE type='table' AND name='fts_content'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

// NewSQLiteStore opens (or creates) a SQLite FTS5-backed Store. An
// empty path creates an in-memory store for tests.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}

		if validErr := validateIntegrity(path); validErr != nil {
			slog.Warn("ftsstore_corrupted", slog.String("path", path), slog.String("error", validErr.Error()))
			if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, coreerrors.IndexCorruptionError(fmt.Sprintf("corrupted index at %s and cannot remove", path), removeErr)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("ftsstore_cleared", slog.String("path", path), slog.String("reason", "corruption detected, please reindex"))
		}

		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer; avoids lock contention the same way the teacher's
	// BM25 index does.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path, opts: opts}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

	CREATE TABLE IF NOT EXISTS entries (
		id                TEXT PRIMARY KEY,
		kind              TEXT NOT NULL,
		title             TEXT NOT NULL,
		body              TEXT NOT NULL,
		path              TEXT NOT NULL,
		content_hash      TEXT NOT NULL,
		last_modified     INTEGER NOT NULL,
		category          TEXT,
		project_id        TEXT,
		language          TEXT,
		tags              TEXT,
		related_entry_ids TEXT,
		parent_id         TEXT,
		child_ids         TEXT,
		usage_count       INTEGER DEFAULT 0,
		last_used_at      INTEGER DEFAULT 0,
		effectiveness     REAL DEFAULT 0,
		success_rate      REAL DEFAULT 0,
		file_size         INTEGER DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);
	CREATE INDEX IF NOT EXISTS idx_entries_project ON entries(project_id);

	-- doc_id is UNINDEXED (stored but not searchable); each remaining
	-- column gets its own bm25() weight, giving the field-weighted
	-- ranking model of spec.md §4.1 directly from FTS5.
	CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
		doc_id UNINDEXED,
		title,
		body,
		tags,
		category,
		tokenize='unicode61'
	);

	CREATE TABLE IF NOT EXISTS query_analytics (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		query_text  TEXT,
		duration_ms INTEGER,
		hit_count   INTEGER,
		executed_at INTEGER
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Index upserts entries atomically.
func (s *SQLiteStore) Index(ctx context.Context, entries []*entry.Entry) error {
	return s.upsert(ctx, entries)
}

// Update has the same atomicity guarantee as Index.
func (s *SQLiteStore) Update(ctx context.Context, entries []*entry.Entry) error {
	return s.upsert(ctx, entries)
}

func (s *SQLiteStore) upsert(ctx context.Context, entries []*entry.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerrors.NotInitializedError("fts store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	delEntry, err := tx.PrepareContext(ctx, `DELETE FROM entries WHERE id = ?`)
	if err != nil {
		return err
	}
	defer delEntry.Close()

	delFTS, err := tx.PrepareContext(ctx, `DELETE FROM fts_content WHERE doc_id = ?`)
	if err != nil {
		return err
	}
	defer delFTS.Close()

	insEntry, err := tx.PrepareContext(ctx, `
		INSERT INTO entries(id, kind, title, body, path, content_hash, last_modified,
			category, project_id, language, tags, related_entry_ids, parent_id,
			child_ids, usage_count, last_used_at, effectiveness, success_rate, file_size)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insEntry.Close()

	// FTS5 virtual tables don't support REPLACE, so rows are deleted
	// then reinserted, same as internal/store/sqlite_bm25.go.
	insFTS, err := tx.PrepareContext(ctx, `INSERT INTO fts_content(doc_id, title, body, tags, category) VALUES (?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insFTS.Close()

	for _, e := range entries {
		if e.ID == "" || e.Kind == "" || e.Title == "" || e.Body == "" || e.Path == "" {
			return coreerrors.ContentExtractionError(fmt.Sprintf("entry %q missing required field", e.ID), nil)
		}

		tagsJSON, _ := json.Marshal(e.Metadata.Tags)
		relatedJSON, _ := json.Marshal(e.Metadata.RelatedEntryIDs)
		childJSON, _ := json.Marshal(e.Metadata.ChildIDs)

		if _, err := delEntry.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to delete existing entry %s: %w", e.ID, err)
		}
		if _, err := delFTS.ExecContext(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to delete existing fts row %s: %w", e.ID, err)
		}

		var lastUsed int64
		if !e.Metadata.LastUsedAt.IsZero() {
			lastUsed = e.Metadata.LastUsedAt.Unix()
		}
		if _, err := insEntry.ExecContext(ctx, e.ID, string(e.Kind), e.Title, e.Body, e.Path,
			e.ContentHash, e.LastModified.Unix(), e.Metadata.Category, e.Metadata.ProjectID,
			e.Metadata.Language, string(tagsJSON), string(relatedJSON), e.Metadata.ParentID,
			string(childJSON), e.Metadata.UsageCount, lastUsed, e.Metadata.Effectiveness,
			e.Metadata.SuccessRate, e.Metadata.FileSize); err != nil {
			return fmt.Errorf("failed to index entry %s: %w", e.ID, err)
		}

		if _, err := insFTS.ExecContext(ctx, e.ID,
			tokenize(e.Title), tokenize(e.Body),
			tokenize(strings.Join(e.Metadata.Tags, " ")), tokenize(e.Metadata.Category)); err != nil {
			return fmt.Errorf("failed to index fts content for %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Delete has the same atomicity guarantee as Index.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerrors.NotInitializedError("fts store")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := strings.Join(placeholders, ",")

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM fts_content WHERE doc_id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("failed to delete from fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM entries WHERE id IN (%s)", in), args...); err != nil {
		return fmt.Errorf("failed to delete from entries: %w", err)
	}
	return tx.Commit()
}

// Search implements the ranking model of spec.md §4.1: FTS5's bm25()
// supplies the field-weighted base score, recency/effectiveness/usage
// boosts are layered on top, a minimum-score cutoff is applied before
// snippet generation, and ties break per lessResult.
func (s *SQLiteStore) Search(ctx context.Context, q Query) (*SearchResponse, error) {
	start := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}

	weights := s.opts.Weights
	if q.Weights != nil {
		weights = *q.Weights
	}
	marker := s.opts.Marker
	if q.Marker != nil {
		marker = *q.Marker
	}
	maxSnippetLen := s.opts.MaxSnippetLen
	if q.MaxSnippetLen > 0 {
		maxSnippetLen = q.MaxSnippetLen
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	terms := lexer.Tokenize(q.Text)
	terms = lexer.FilterStopWords(terms, stopWords)
	if len(terms) == 0 {
		return &SearchResponse{Results: []*entry.SearchResult{}, ExecutionTime: time.Since(start)}, nil
	}
	matchQuery := strings.Join(terms, " ")

	// Over-fetch: kind/category/project/tag filters and the min-score
	// cutoff are applied in Go after loading entry metadata.
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, bm25(fts_content, 0.0, ?, ?, ?, ?) AS score
		FROM fts_content
		WHERE fts_content MATCH ?
		ORDER BY score
		LIMIT ?`,
		weights.TitleWeight, weights.ContentWeight, weights.TagWeight, weights.CategoryWeight,
		matchQuery, limit*4)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return &SearchResponse{Results: []*entry.SearchResult{}, ExecutionTime: time.Since(start)}, nil
		}
		return nil, coreerrors.HybridFusionFailedError("fts search failed", err)
	}
	defer rows.Close()

	type hit struct {
		docID string
		raw   float64
	}
	var hits []hit
	for rows.Next() {
		var h hit
		if err := rows.Scan(&h.docID, &h.raw); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]*entry.SearchResult, 0, len(hits))
	facets := Facets{ByKind: map[string]int{}, ByCategory: map[string]int{}, ByTag: map[string]int{}}

	for _, h := range hits {
		e, err := s.loadEntry(ctx, h.docID)
		if err != nil || e == nil {
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

		// FTS5 bm25() returns negative values where lower = better.
		rawScore := -h.raw
		daysSince := time.Since(e.LastModified).Hours() / 24
		score := compositeScore(rawScore, weights, daysSince, e.Metadata.Effectiveness, e.Metadata.UsageCount)
		if score < weights.MinScoreCutoff {
			continue
		}

		results = append(results, &entry.SearchResult{
			Entry: e,
			Score: score,
			Factors: entry.RelevanceFactors{
				ContentMatch:  rawScore,
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

	elapsed := time.Since(start)
	s.recordAnalytics(ctx, q.Text, elapsed, len(results))

	return &SearchResponse{
		Results:       results,
		Facets:        facets,
		TotalMatches:  len(results),
		ExecutionTime: elapsed,
	}, nil
}

// FindSimilar returns entries sharing tags/category/kind with id,
// excluding it, ranked by shared-signal count.
func (s *SQLiteStore) FindSimilar(ctx context.Context, id string, limit int) ([]*entry.SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}
	if limit <= 0 {
		limit = 10
	}

	base, err := s.loadEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, coreerrors.New(coreerrors.ErrCodeFileNotFound, fmt.Sprintf("entry %s not found", id), nil)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM entries WHERE id != ? AND (category = ? OR kind = ?) LIMIT ?`,
		id, base.Metadata.Category, string(base.Kind), limit*3)
	if err != nil {
		return nil, fmt.Errorf("find_similar query failed: %w", err)
	}
	defer rows.Close()

	var candidateIDs []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			continue
		}
		candidateIDs = append(candidateIDs, cid)
	}

	results := make([]*entry.SearchResult, 0, len(candidateIDs))
	for _, cid := range candidateIDs {
		e, err := s.loadEntry(ctx, cid)
		if err != nil || e == nil {
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

// Suggest returns title completion candidates for prefix, ordered by
// usage count then lexicographically.
func (s *SQLiteStore) Suggest(ctx context.Context, prefix string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, coreerrors.NotInitializedError("fts store")
	}
	if limit <= 0 {
		limit = 10
	}
	if strings.TrimSpace(prefix) == "" {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT title FROM entries WHERE title LIKE ? ORDER BY usage_count DESC, title ASC LIMIT ?`,
		prefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("suggest query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Metrics returns operational counters.
func (s *SQLiteStore) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&count)

	return Metrics{
		DocumentCount:  count,
		QueryCount:     atomic.LoadInt64(&s.queryCount),
		SlowQueryCount: atomic.LoadInt64(&s.slowQueryCount),
		LastVacuumAt:   s.lastVacuum,
		LastOptimizeAt: s.lastOptimize,
	}
}

// Health pings the underlying database.
func (s *SQLiteStore) Health(ctx context.Context) Health {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return Health{Status: "critical", Message: "fts store is closed"}
	}
	if err := s.db.PingContext(ctx); err != nil {
		return Health{Status: "critical", Message: err.Error()}
	}
	return Health{Status: "ok"}
}

// Vacuum reclaims disk space; the Indexing Engine's maintenance loop
// calls this once the document count passes 80% of its MaxEntries setting.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerrors.NotInitializedError("fts store")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return coreerrors.IndexCorruptionError("vacuum failed", err)
	}
	s.lastVacuum = time.Now()
	return nil
}

// Optimize merges FTS5 segments and resets the slow-query counter; the
// maintenance loop calls this after 10 slow queries since the last tick.
func (s *SQLiteStore) Optimize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return coreerrors.NotInitializedError("fts store")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO fts_content(fts_content) VALUES('optimize')`); err != nil {
		return fmt.Errorf("optimize failed: %w", err)
	}
	atomic.StoreInt64(&s.slowQueryCount, 0)
	s.lastOptimize = time.Now()
	return nil
}

// Close checkpoints the WAL and closes the database. Idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) recordAnalytics(ctx context.Context, queryText string, elapsed time.Duration, hitCount int) {
	atomic.AddInt64(&s.queryCount, 1)
	if elapsed > s.opts.SlowQueryThreshold {
		atomic.AddInt64(&s.slowQueryCount, 1)
	}
	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO query_analytics(query_text, duration_ms, hit_count, executed_at) VALUES (?,?,?,?)`,
		queryText, elapsed.Milliseconds(), hitCount, time.Now().Unix())
}

func (s *SQLiteStore) loadEntry(ctx context.Context, id string) (*entry.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, body, path, content_hash, last_modified, category,
		       project_id, language, tags, related_entry_ids, parent_id, child_ids,
		       usage_count, last_used_at, effectiveness, success_rate, file_size
		FROM entries WHERE id = ?`, id)

	var (
		e                                    entry.Entry
		kind                                 string
		lastModified, lastUsed               int64
		tagsJSON, relatedJSON, childJSON      string
		category, projectID, language, parent sql.NullString
	)
	if err := row.Scan(&e.ID, &kind, &e.Title, &e.Body, &e.Path, &e.ContentHash, &lastModified,
		&category, &projectID, &language, &tagsJSON, &relatedJSON, &parent, &childJSON,
		&e.Metadata.UsageCount, &lastUsed, &e.Metadata.Effectiveness, &e.Metadata.SuccessRate,
		&e.Metadata.FileSize); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load entry %s: %w", id, err)
	}

	e.Kind = entry.Kind(kind)
	e.LastModified = time.Unix(lastModified, 0).UTC()
	if lastUsed > 0 {
		e.Metadata.LastUsedAt = time.Unix(lastUsed, 0).UTC()
	}
	e.Metadata.Category = category.String
	e.Metadata.ProjectID = projectID.String
	e.Metadata.Language = language.String
	e.Metadata.ParentID = parent.String
	_ = json.Unmarshal([]byte(tagsJSON), &e.Metadata.Tags)
	_ = json.Unmarshal([]byte(relatedJSON), &e.Metadata.RelatedEntryIDs)
	_ = json.Unmarshal([]byte(childJSON), &e.Metadata.ChildIDs)
	return &e, nil
}

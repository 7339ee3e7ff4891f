// Package indexing implements the Indexing Engine (spec.md §4.2): it
// orchestrates ingestion, validation, batching, and maintenance of the
// FTS Store. Grounded on internal/index/coordinator.go's event-driven
// pipeline and locking discipline, internal/async/indexer.go's
// concurrent batch execution, and internal/daemon/compaction.go's
// ticked maintenance-loop shape, retargeted from file-to-chunk
// indexing to explicit-submission/file-event-to-Entry indexing.
package indexing

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gofrs/flock"

	"github.com/ctxforge/retrievalcore/internal/entry"
	coreerrors "github.com/ctxforge/retrievalcore/internal/errors"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
)

// OpType names one mutation kind within a Batch.
type OpType string

const (
	OpInsert OpType = "insert"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Op is a single mutation: Entry is required for insert/update, ID is
// required for delete.
type Op struct {
	Type  OpType
	Entry *entry.Entry
	ID    string
}

// Batch groups related ops under one source label. A Source containing
// "priority" or "real-time" (case-insensitive) routes to the priority
// queue.
type Batch struct {
	Source string
	Ops    []Op
}

// ChangeRecord is the file-watcher-to-engine event shape (spec.md
// §4.2's "accepts a {created|modified|deleted, path, kind, timestamp}
// record").
type ChangeRecord struct {
	ChangeType string // "created", "modified", "deleted"
	Path       string
	Kind       entry.Kind
	Timestamp  time.Time
}

// ContentLoader resolves a changed path into its indexable Entry body.
// Required for real-time ingestion; not needed for direct
// IndexContent/IndexBatch calls, which already carry full Entries.
type ContentLoader interface {
	Load(ctx context.Context, path string, kind entry.Kind) (*entry.Entry, error)
}

// BatchError records one failed op within a processed batch, tagged
// with whether the underlying cause looks transient.
type BatchError struct {
	Source      string
	OpType      OpType
	Err         error
	Recoverable bool
	At          time.Time
}

// BatchResult reports the outcome of processing one Batch.
type BatchResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Errors   []BatchError
}

func (r BatchResult) ok() bool { return len(r.Errors) == 0 }

// Config configures the Indexing Engine (spec.md §4.2).
type Config struct {
	MaxConcurrentOps int
	TickInterval     time.Duration
	QueueWarnDepth   int

	MaxBodySize            int
	WarnBodySizeMultiplier float64

	MaxEntries         int // size proxy: vacuum triggers at 80% of this
	SlowQueryThreshold int // optimize triggers after this many slow queries since last tick
	RetentionDays      int
	MaxCleanupScan     int

	MaintenanceInterval time.Duration
	ShutdownGrace       time.Duration
	ShutdownBatchGroup  int

	LockDir string // directory for the rebuild/vacuum flock sidecar file

	AllowedExtensions []string
	ExcludeDirs       []string
}

// DefaultConfig matches spec.md §4.2's stated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentOps:       5,
		TickInterval:           2 * time.Second,
		QueueWarnDepth:         1000,
		MaxBodySize:            1 << 20,
		WarnBodySizeMultiplier: 1.5,
		MaxEntries:             1_000_000,
		SlowQueryThreshold:     10,
		RetentionDays:          0,
		MaxCleanupScan:         10000,
		MaintenanceInterval:    30 * time.Minute,
		ShutdownGrace:          5 * time.Second,
		ShutdownBatchGroup:     3,
		AllowedExtensions:      []string{".go", ".md", ".txt", ".yaml", ".yml", ".json"},
		ExcludeDirs:            []string{"node_modules", ".git", "vendor", "dist", "build"},
	}
}

// Stats reports the Indexing Engine's operational state (spec.md
// §4.2's `stats()`).
type Stats struct {
	DocumentCount    int
	QueueDepthTotal  int
	PriorityDepth    int
	StandardDepth    int
	InFlight         int
	TotalIndexed     int64
	TotalErrors      int64
	ErrorRingSize    int
	LastVacuumAt     time.Time
	LastOptimizeAt   time.Time
}

// Engine is the Indexing Engine.
type Engine struct {
	store  ftsstore.Store
	cfg    Config
	loader ContentLoader

	mu            sync.Mutex
	priorityQueue []Batch
	standardQueue []Batch
	inFlight      int
	errorRing     []BatchError
	totalIndexed  int64
	totalErrors   int64
	lastVacuumAt  time.Time
	lastOptimize  time.Time
	lastSlowCount int64

	kickCh  chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New constructs an Engine. loader may be nil if the caller never
// routes file-watcher ChangeRecords through HandleContentChange.
func New(store ftsstore.Store, loader ContentLoader, cfg Config) *Engine {
	if cfg.MaxConcurrentOps <= 0 {
		cfg.MaxConcurrentOps = 5
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.QueueWarnDepth <= 0 {
		cfg.QueueWarnDepth = 1000
	}
	return &Engine{
		store:  store,
		loader: loader,
		cfg:    cfg,
		kickCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
}

// Start launches the scheduler and maintenance loops. Safe to call once.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.schedulerLoop(ctx)
	go e.maintenanceLoop(ctx)
}

// Stop performs the ordered shutdown of spec.md §4.2: drain in-flight
// with a grace period, drain remaining queued batches in small groups,
// then close the store. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()

	grace, cancel := context.WithTimeout(ctx, e.cfg.ShutdownGrace)
	defer cancel()
	e.waitForInFlight(grace)

	e.drainRemaining(ctx)

	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *Engine) waitForInFlight(ctx context.Context) {
	for {
		e.mu.Lock()
		n := e.inFlight
		e.mu.Unlock()
		if n == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (e *Engine) drainRemaining(ctx context.Context) {
	for {
		e.mu.Lock()
		if len(e.priorityQueue) == 0 && len(e.standardQueue) == 0 {
			e.mu.Unlock()
			return
		}
		group := e.dequeueLocked(e.cfg.ShutdownBatchGroup)
		e.mu.Unlock()

		var wg sync.WaitGroup
		for _, b := range group {
			wg.Add(1)
			go func(b Batch) {
				defer wg.Done()
				_, _ = e.IndexBatch(ctx, b)
			}(b)
		}
		wg.Wait()
	}
}

// IndexContent validates entries and forwards them to the FTS Store
// directly, bypassing the queue (spec.md §4.2 `index_content`).
func (e *Engine) IndexContent(ctx context.Context, entries []*entry.Entry) error {
	for _, en := range entries {
		if err := e.validate(en); err != nil {
			return err
		}
	}
	if err := e.store.Index(ctx, entries); err != nil {
		return coreerrors.ContentExtractionError(err.Error(), err)
	}
	e.mu.Lock()
	e.totalIndexed += int64(len(entries))
	e.mu.Unlock()
	return nil
}

// validate enforces spec.md §4.2's entry validation rules, filling
// metadata defaults and warning (not rejecting) on soft violations.
func (e *Engine) validate(en *entry.Entry) error {
	if en.ID == "" || en.Kind == "" || en.Title == "" || en.Body == "" || en.Path == "" {
		return coreerrors.ValidationError(
			fmt.Sprintf("entry %q missing required field (id/kind/title/body/path)", en.ID), nil)
	}
	max := e.cfg.MaxBodySize
	if max > 0 {
		warnAt := float64(max) * e.cfg.WarnBodySizeMultiplier
		if float64(len(en.Body)) > warnAt {
			return coreerrors.ValidationError(
				fmt.Sprintf("entry %q body exceeds hard limit (%d > %d)", en.ID, len(en.Body), max), nil)
		}
		if len(en.Body) > max {
			slog.Warn("entry body exceeds soft limit, accepting",
				slog.String("entry_id", en.ID), slog.Int("size", len(en.Body)), slog.Int("max", max))
		}
	}
	if !filepath.IsAbs(en.Path) && !isDriveQualified(en.Path) {
		slog.Warn("entry path is neither absolute nor drive-qualified, accepting",
			slog.String("entry_id", en.ID), slog.String("path", en.Path))
	}
	if en.Metadata.Tags == nil {
		en.Metadata.Tags = []string{}
	}
	if en.Metadata.Extra == nil {
		en.Metadata.Extra = map[string]string{}
	}
	if en.LastModified.IsZero() {
		en.LastModified = time.Now()
	}
	return nil
}

func isDriveQualified(path string) bool {
	return len(path) >= 2 && path[1] == ':'
}

// Enqueue routes a batch to the priority or standard queue and kicks
// the scheduler. Batches whose Source mentions "priority" or
// "real-time" (case-insensitive) go to the priority queue.
func (e *Engine) Enqueue(b Batch) {
	e.mu.Lock()
	if isPrioritySource(b.Source) {
		e.priorityQueue = append(e.priorityQueue, b)
	} else {
		e.standardQueue = append(e.standardQueue, b)
	}
	depth := len(e.priorityQueue) + len(e.standardQueue)
	warn := depth > e.cfg.QueueWarnDepth
	e.mu.Unlock()

	if warn {
		slog.Warn("indexing queue backpressure", slog.Int("depth", depth), slog.Int("threshold", e.cfg.QueueWarnDepth))
	}
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

func isPrioritySource(source string) bool {
	s := strings.ToLower(source)
	return strings.Contains(s, "priority") || strings.Contains(s, "real-time")
}

// Remove deletes entries by ID (spec.md §4.2 `remove`).
func (e *Engine) Remove(ctx context.Context, ids []string) error {
	if err := e.store.Delete(ctx, ids); err != nil {
		return coreerrors.ContentExtractionError(err.Error(), err)
	}
	return nil
}

// Update re-indexes entries in place (spec.md §4.2 `update(op)`).
func (e *Engine) Update(ctx context.Context, entries []*entry.Entry) error {
	for _, en := range entries {
		if err := e.validate(en); err != nil {
			return err
		}
	}
	return e.store.Update(ctx, entries)
}

// Rebuild performs a full vacuum+optimize under a file lock guarding
// the on-disk FTS files during the atomic swap (spec.md §4.2
// `rebuild()`).
func (e *Engine) Rebuild(ctx context.Context) error {
	return e.withRebuildLock(func() error {
		if err := e.store.Vacuum(ctx); err != nil {
			return err
		}
		return e.store.Optimize(ctx)
	})
}

// RebuildPartial re-optimizes the store with a given kind scoped only
// in logging; the FTS Store contract has no kind-scoped rebuild
// primitive, so this degrades to a full Optimize.
func (e *Engine) RebuildPartial(ctx context.Context, kind entry.Kind) error {
	slog.Info("partial rebuild requested, running full optimize (no kind-scoped primitive available)",
		slog.String("kind", string(kind)))
	return e.withRebuildLock(func() error {
		return e.store.Optimize(ctx)
	})
}

func (e *Engine) withRebuildLock(fn func() error) error {
	if e.cfg.LockDir == "" {
		return fn()
	}
	lock := flock.New(filepath.Join(e.cfg.LockDir, "rebuild.lock"))
	if err := lock.Lock(); err != nil {
		return coreerrors.IOError("acquiring rebuild lock", err)
	}
	defer lock.Unlock()
	return fn()
}

// HandleContentChange converts one file-watcher change into an Op and
// enqueues a single-op priority batch (spec.md §4.2
// `handle_content_change`).
func (e *Engine) HandleContentChange(ctx context.Context, change ChangeRecord) error {
	return e.HandleContentChanges(ctx, []ChangeRecord{change})
}

// HandleContentChanges builds one "real-time-file-watcher" batch from
// a coalesced set of changes and enqueues it into the priority queue,
// matching the debounced-flush contract of spec.md §4.2.
func (e *Engine) HandleContentChanges(ctx context.Context, changes []ChangeRecord) error {
	if !e.extensionsAllowed(changes) {
		return nil
	}
	ops := make([]Op, 0, len(changes))
	for _, c := range changes {
		if e.excluded(c.Path) {
			continue
		}
		switch c.ChangeType {
		case "deleted":
			ops = append(ops, Op{Type: OpDelete, ID: entry.NewEntryID(c.Path)})
		default:
			if e.loader == nil {
				slog.Warn("content change received but no content loader configured", slog.String("path", c.Path))
				continue
			}
			en, err := e.loader.Load(ctx, c.Path, c.Kind)
			if err != nil {
				slog.Warn("failed to load changed content", slog.String("path", c.Path), slog.String("error", err.Error()))
				continue
			}
			opType := OpInsert
			if c.ChangeType == "modified" {
				opType = OpUpdate
			}
			ops = append(ops, Op{Type: opType, Entry: en})
		}
	}
	if len(ops) == 0 {
		return nil
	}
	e.Enqueue(Batch{Source: "real-time-file-watcher", Ops: ops})
	return nil
}

func (e *Engine) extensionsAllowed(changes []ChangeRecord) bool {
	if len(e.cfg.AllowedExtensions) == 0 {
		return true
	}
	for _, c := range changes {
		ext := strings.ToLower(filepath.Ext(c.Path))
		for _, allowed := range e.cfg.AllowedExtensions {
			if ext == allowed {
				return true
			}
		}
	}
	return false
}

func (e *Engine) excluded(path string) bool {
	for _, dir := range e.cfg.ExcludeDirs {
		if strings.Contains(path, string(filepath.Separator)+dir+string(filepath.Separator)) || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// IndexBatch groups a batch's ops by type and executes the three
// groups concurrently, aggregating per-group errors (spec.md §4.2
// `index_batch`).
func (e *Engine) IndexBatch(ctx context.Context, b Batch) (BatchResult, error) {
	var inserts, updates []*entry.Entry
	var deletes []string
	for _, op := range b.Ops {
		switch op.Type {
		case OpInsert:
			inserts = append(inserts, op.Entry)
		case OpUpdate:
			updates = append(updates, op.Entry)
		case OpDelete:
			deletes = append(deletes, op.ID)
		}
	}

	var result BatchResult
	var mu sync.Mutex
	var g errgroup.Group

	if len(inserts) > 0 {
		g.Go(func() error {
			err := e.store.Index(ctx, inserts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, newBatchError(b.Source, OpInsert, err))
			} else {
				result.Inserted = len(inserts)
			}
			return nil
		})
	}
	if len(updates) > 0 {
		g.Go(func() error {
			err := e.store.Update(ctx, updates)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, newBatchError(b.Source, OpUpdate, err))
			} else {
				result.Updated = len(updates)
			}
			return nil
		})
	}
	if len(deletes) > 0 {
		g.Go(func() error {
			err := e.store.Delete(ctx, deletes)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors = append(result.Errors, newBatchError(b.Source, OpDelete, err))
			} else {
				result.Deleted = len(deletes)
			}
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	e.totalIndexed += int64(result.Inserted + result.Updated + result.Deleted)
	e.totalErrors += int64(len(result.Errors))
	for _, be := range result.Errors {
		e.errorRing = append(e.errorRing, be)
	}
	if len(e.errorRing) > 100 {
		e.errorRing = append([]BatchError(nil), e.errorRing[len(e.errorRing)-50:]...)
	}
	e.mu.Unlock()

	if !result.ok() {
		return result, fmt.Errorf("indexing: batch %q completed with %d error(s)", b.Source, len(result.Errors))
	}
	return result, nil
}

func newBatchError(source string, opType OpType, err error) BatchError {
	return BatchError{
		Source:      source,
		OpType:      opType,
		Err:         err,
		Recoverable: looksRecoverable(err),
		At:          time.Now(),
	}
}

func looksRecoverable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, token := range []string{"lock", "busy", "timeout", "network"} {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// schedulerLoop wakes every TickInterval or on an explicit kick and
// drains up to (MaxConcurrentOps - inFlight) batches, priority first.
func (e *Engine) schedulerLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.drainAvailable(ctx)
		case <-e.kickCh:
			e.drainAvailable(ctx)
		}
	}
}

func (e *Engine) drainAvailable(ctx context.Context) {
	e.mu.Lock()
	capacity := e.cfg.MaxConcurrentOps - e.inFlight
	if capacity <= 0 {
		e.mu.Unlock()
		return
	}
	batches := e.dequeueLocked(capacity)
	e.inFlight += len(batches)
	e.mu.Unlock()

	for _, b := range batches {
		e.wg.Add(1)
		go func(b Batch) {
			defer e.wg.Done()
			defer func() {
				e.mu.Lock()
				e.inFlight--
				e.mu.Unlock()
			}()
			if _, err := e.IndexBatch(ctx, b); err != nil {
				slog.Warn("batch processing completed with errors", slog.String("source", b.Source), slog.String("error", err.Error()))
			}
		}(b)
	}
}

// dequeueLocked pops up to n batches, priority queue first. Callers
// must hold e.mu.
func (e *Engine) dequeueLocked(n int) []Batch {
	var out []Batch
	for n > 0 && len(e.priorityQueue) > 0 {
		out = append(out, e.priorityQueue[0])
		e.priorityQueue = e.priorityQueue[1:]
		n--
	}
	for n > 0 && len(e.standardQueue) > 0 {
		out = append(out, e.standardQueue[0])
		e.standardQueue = e.standardQueue[1:]
		n--
	}
	return out
}

// maintenanceLoop runs vacuum/optimize/retention/error-compaction on a
// fixed tick (spec.md §4.2's "Maintenance loop (every 30 min)").
func (e *Engine) maintenanceLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runMaintenance(ctx)
		}
	}
}

func (e *Engine) runMaintenance(ctx context.Context) {
	metrics := e.store.Metrics()

	if e.cfg.MaxEntries > 0 && float64(metrics.DocumentCount) > 0.8*float64(e.cfg.MaxEntries) {
		if err := e.Vacuum(ctx); err != nil {
			slog.Warn("maintenance vacuum failed", slog.String("error", err.Error()))
		}
	}

	e.mu.Lock()
	slowDelta := metrics.SlowQueryCount - e.lastSlowCount
	e.lastSlowCount = metrics.SlowQueryCount
	e.mu.Unlock()
	if int(slowDelta) > e.cfg.SlowQueryThreshold {
		if err := e.store.Optimize(ctx); err != nil {
			slog.Warn("maintenance optimize failed", slog.String("error", err.Error()))
		} else {
			e.mu.Lock()
			e.lastOptimize = time.Now()
			e.mu.Unlock()
		}
	}

	if e.cfg.RetentionDays > 0 {
		if removed, err := e.Cleanup(ctx, e.cfg.RetentionDays); err != nil {
			slog.Warn("retention cleanup failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			slog.Info("retention cleanup removed entries", slog.Int("count", removed))
		}
	}

	e.mu.Lock()
	if len(e.errorRing) > 100 {
		e.errorRing = append([]BatchError(nil), e.errorRing[len(e.errorRing)-50:]...)
	}
	e.mu.Unlock()
}

// Vacuum reclaims space in the FTS Store under the rebuild lock.
func (e *Engine) Vacuum(ctx context.Context) error {
	err := e.withRebuildLock(func() error { return e.store.Vacuum(ctx) })
	if err == nil {
		e.mu.Lock()
		e.lastVacuumAt = time.Now()
		e.mu.Unlock()
	}
	return err
}

// Cleanup removes entries whose LastModified predates olderThanDays.
// The FTS Store contract exposes no range-delete primitive, so this
// performs a best-effort bounded scan via Search and deletes the
// matching IDs; MaxCleanupScan bounds how many candidates are
// considered per call.
func (e *Engine) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	limit := e.cfg.MaxCleanupScan
	if limit <= 0 {
		limit = 10000
	}
	resp, err := e.store.Search(ctx, ftsstore.Query{Limit: limit})
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, r := range resp.Results {
		if r.Entry.LastModified.Before(cutoff) {
			stale = append(stale, r.Entry.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	sort.Strings(stale)
	if err := e.store.Delete(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Stats reports a snapshot of the engine's current state.
func (e *Engine) Stats() Stats {
	metrics := e.store.Metrics()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		DocumentCount:   metrics.DocumentCount,
		QueueDepthTotal: len(e.priorityQueue) + len(e.standardQueue),
		PriorityDepth:   len(e.priorityQueue),
		StandardDepth:   len(e.standardQueue),
		InFlight:        e.inFlight,
		TotalIndexed:    e.totalIndexed,
		TotalErrors:     e.totalErrors,
		ErrorRingSize:   len(e.errorRing),
		LastVacuumAt:    e.lastVacuumAt,
		LastOptimizeAt:  e.lastOptimize,
	}
}

// Errors returns a snapshot of the bounded error ring.
func (e *Engine) Errors() []BatchError {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]BatchError, len(e.errorRing))
	copy(out, e.errorRing)
	return out
}

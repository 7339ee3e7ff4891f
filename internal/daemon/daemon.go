package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ctxforge/retrievalcore/internal/assembler"
	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/feature"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/indexing"
	"github.com/ctxforge/retrievalcore/internal/retriever"
)

// Option configures an optional Daemon collaborator, mainly so tests can
// swap in a fake FTS Store instead of opening one on disk.
type Option func(*Daemon)

// WithStore overrides the FTS Store the daemon would otherwise build from
// Config.SocketPath's directory.
func WithStore(store ftsstore.Store) Option {
	return func(d *Daemon) { d.store = store }
}

// Daemon is the long-running host process named in SPEC_FULL.md §1: it
// owns one FTS Store, one Indexing Engine, one Hybrid Retriever and one
// Context Pack Assembler, and exposes them over the Unix socket managed
// by Server.
type Daemon struct {
	cfg       Config
	store     ftsstore.Store
	engine    *indexing.Engine
	retriever *retriever.Retriever
	assembler *assembler.Assembler
	server    *Server
	pidFile   *PIDFile
	started   time.Time
}

// NewDaemon builds a Daemon from cfg, applying opts before wiring the
// default store/engine/retriever/assembler stack.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{cfg: cfg, pidFile: NewPIDFile(cfg.PIDPath)}
	for _, opt := range opts {
		opt(d)
	}

	if d.store == nil {
		dataDir := filepath.Dir(cfg.SocketPath)
		store, err := ftsstore.New(filepath.Join(dataDir, "index"), ftsstore.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open index store: %w", err)
		}
		d.store = store
	}

	learner := bandit.New(bandit.DefaultConfig())
	extractor := feature.New(feature.DefaultConfig())

	d.engine = indexing.New(d.store, nil, indexing.DefaultConfig())
	d.retriever = retriever.New(d.store, learner, extractor, nil, retriever.DefaultConfig())

	asm, err := assembler.New(assembler.Gatherers{
		IndexSearch: assembler.GathererFunc(d.gatherFromRetriever),
	}, assembler.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build assembler: %w", err)
	}
	d.assembler = asm

	return d, nil
}

// gatherFromRetriever adapts the Hybrid Retriever into the Assembler's
// Gatherer interface for the index-search collaborator slot.
func (d *Daemon) gatherFromRetriever(ctx context.Context, req assembler.Request) ([]*entry.SearchResult, error) {
	text := req.IssueText
	if text == "" {
		text = req.IssueID
	}
	result, err := d.retriever.Retrieve(ctx, retriever.Query{
		Text:       text,
		ProjectID:  req.ProjectID,
		AgentTypes: []string{req.AgentType},
		Limit:      10,
	})
	if err != nil {
		return nil, err
	}
	return result.Results, nil
}

// Start brings up the Indexing Engine's scheduler, writes the PID file,
// and blocks serving RPC requests until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer d.cleanup()

	d.engine.Start(ctx)
	d.started = time.Now()

	server, err := NewServer(d.cfg.SocketPath)
	if err != nil {
		return err
	}
	server.SetHandler(d)
	d.server = server

	return server.ListenAndServe(ctx)
}

// cleanup releases resources on shutdown. Tolerant of a partially
// constructed Daemon so tests can call it directly.
func (d *Daemon) cleanup() {
	if d.engine != nil {
		_ = d.engine.Stop(context.Background())
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	_ = d.pidFile.Remove()
}

func orDefaultLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	return limit
}

// HandleSearch retargets the legacy file-search RPC onto the Hybrid
// Retriever: RootPath becomes the project scope and results are
// flattened from entry.SearchResult into the wire SearchResult shape.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	result, err := d.retriever.Retrieve(ctx, retriever.Query{
		Text:      params.Query,
		ProjectID: params.RootPath,
		Limit:     orDefaultLimit(params.Limit),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("no index found for %s", params.RootPath)
	}

	out := make([]SearchResult, 0, len(result.Results))
	for _, r := range result.Results {
		out = append(out, SearchResult{
			FilePath: r.Entry.Path,
			Score:    r.Score,
			Content:  r.Entry.Body,
		})
	}
	return out, nil
}

// HandleAssemble runs the Context Pack Assembler for one issue/agent pair.
func (d *Daemon) HandleAssemble(ctx context.Context, params AssembleParams) (*AssembleResult, error) {
	pack, metrics, err := d.assembler.Assemble(ctx, assembler.Request{
		IssueID:      params.IssueID,
		AgentType:    params.AgentType,
		ProjectID:    params.ProjectID,
		IssueText:    params.IssueText,
		ForceRefresh: params.ForceRefresh,
		TemplateID:   params.TemplateID,
	})
	if err != nil {
		return nil, err
	}

	sections := make([]ContextSectionResult, 0, len(pack.Sections))
	for _, s := range pack.Sections {
		sections = append(sections, ContextSectionResult{
			Kind:      s.Kind,
			Title:     s.Title,
			Content:   s.Content,
			Tokens:    s.Tokens,
			Truncated: s.Truncated,
		})
	}

	degraded := false
	for _, tag := range pack.Tags {
		if tag == "error" {
			degraded = true
		}
	}

	warnings := append([]string{}, pack.TokenUsage.Warnings...)
	if metrics.LatencyBreach {
		warnings = append(warnings, "assembly exceeded configured generation time budget")
	}

	return &AssembleResult{
		PackID:            pack.PackID,
		ExecutiveSummary:  pack.ExecutiveSummary,
		KeyInsights:       pack.KeyInsights,
		CriticalActions:   pack.CriticalActions,
		Sections:          sections,
		TotalTokens:       pack.TokenUsage.TotalTokens,
		OptimizationLevel: pack.OptimizationLevel,
		CacheUsed:         pack.CacheUsed,
		Degraded:          degraded,
		Warnings:          warnings,
	}, nil
}

// HandleRetrieve runs the Hybrid Retriever for a single query.
func (d *Daemon) HandleRetrieve(ctx context.Context, params RetrieveParams) (*RetrieveResult, error) {
	kinds := make([]entry.Kind, 0, len(params.Kinds))
	for _, k := range params.Kinds {
		kinds = append(kinds, entry.Kind(k))
	}

	result, err := d.retriever.Retrieve(ctx, retriever.Query{
		Text:       params.Query,
		Kinds:      kinds,
		ProjectID:  params.ProjectID,
		AgentTypes: params.AgentTypes,
		Limit:      orDefaultLimit(params.Limit),
	})
	if err != nil {
		return nil, err
	}

	items := make([]RetrieveResultItem, 0, len(result.Results))
	for i, r := range result.Results {
		items = append(items, RetrieveResultItem{
			EntryID: r.Entry.ID,
			Title:   r.Entry.Title,
			Kind:    string(r.Entry.Kind),
			Score:   r.Score,
			Rank:    i + 1,
		})
	}

	return &RetrieveResult{
		Results:  items,
		Strategy: string(result.Strategy),
		Mode:     string(result.Mode),
		Degraded: result.Degraded,
		Warnings: result.Warnings,
	}, nil
}

// HandleIndexContent forwards a single entry to the Indexing Engine.
func (d *Daemon) HandleIndexContent(ctx context.Context, params IndexContentParams) (*IndexContentResult, error) {
	err := d.engine.IndexContent(ctx, []*entry.Entry{{
		ID:    params.ID,
		Kind:  entry.Kind(params.Kind),
		Title: params.Title,
		Body:  params.Body,
		Path:  params.Path,
	}})
	if err != nil {
		return nil, err
	}
	return &IndexContentResult{Indexed: true}, nil
}

// HandleEngineStats reports the Indexing Engine's current counters.
func (d *Daemon) HandleEngineStats(ctx context.Context) (*EngineStatsResult, error) {
	stats := d.engine.Stats()
	result := &EngineStatsResult{
		DocumentCount:   stats.DocumentCount,
		QueueDepthTotal: stats.QueueDepthTotal,
		PriorityDepth:   stats.PriorityDepth,
		StandardDepth:   stats.StandardDepth,
		InFlight:        stats.InFlight,
		TotalIndexed:    stats.TotalIndexed,
		TotalErrors:     stats.TotalErrors,
	}
	if !stats.LastVacuumAt.IsZero() {
		result.LastVacuumAt = stats.LastVacuumAt.Format(time.RFC3339)
	}
	if !stats.LastOptimizeAt.IsZero() {
		result.LastOptimizeAt = stats.LastOptimizeAt.Format(time.RFC3339)
	}
	return result, nil
}

// GetStatus reports the daemon's liveness and index size for the status
// RPC method.
func (d *Daemon) GetStatus() StatusResult {
	status := StatusResult{
		Running:      true,
		PID:          os.Getpid(),
		EngineType:   "fts-store",
		EngineStatus: "ready",
	}
	if !d.started.IsZero() {
		status.Uptime = time.Since(d.started).Round(time.Second).String()
	}
	if d.engine != nil {
		status.DocumentCount = d.engine.Stats().DocumentCount
	} else {
		status.EngineStatus = "unavailable"
	}
	return status
}

// Package assembler implements the Context Pack Assembler (spec.md
// §4.11): the user-facing orchestrator that gathers candidate content
// from several collaborators, prioritizes and budgets it, renders it
// per agent template, tracks provenance, and caches the result.
// Grounded on internal/daemon/server.go (long-running orchestrator
// wiring multiple subsystems behind one API) and internal/mcp/server.go's
// "gather from several sources, assemble a response" tool-handler
// shape.
package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctxforge/retrievalcore/internal/budget"
	"github.com/ctxforge/retrievalcore/internal/entry"
	coreerrors "github.com/ctxforge/retrievalcore/internal/errors"
	"github.com/ctxforge/retrievalcore/internal/feature"
	"github.com/ctxforge/retrievalcore/internal/packcache"
	"github.com/ctxforge/retrievalcore/internal/prioritizer"
	"github.com/ctxforge/retrievalcore/internal/provenance"
)

// Gatherer pulls candidate SearchResults for a request from one
// collaborator (Memory, Knowledge, Index-search, or the Hybrid
// Retriever). A nil Gatherer slot is treated as an absent, optional
// collaborator (spec.md §4.11 "Missing collaborators downgrade to
// warnings, not errors").
type Gatherer interface {
	Gather(ctx context.Context, req Request) ([]*entry.SearchResult, error)
}

// GathererFunc adapts a function to the Gatherer interface.
type GathererFunc func(ctx context.Context, req Request) ([]*entry.SearchResult, error)

func (f GathererFunc) Gather(ctx context.Context, req Request) ([]*entry.SearchResult, error) {
	return f(ctx, req)
}

// Gatherers names the four fixed collaborator slots of spec.md §4.11
// stage 3.
type Gatherers struct {
	Memory      Gatherer
	Knowledge   Gatherer
	IndexSearch Gatherer
	Retriever   Gatherer
}

// AgentProfile carries the per-agent-type block rendered into the
// "agent-specific" section (spec.md §4.11 stage 6).
type AgentProfile struct {
	Specializations []string
	Tools           []string
	Constraints     []string
	Preferences     []string
}

// TemplateSection configures one section slot in a render template.
type TemplateSection struct {
	Kind        string // matches entry.ContextSection.Kind
	Required    bool
	MaxTokens   int
	ContentType string // text|list|code|json|markdown
}

// Template is the per-agent renderer configuration (spec.md §1's
// "template catalog treated as a pluggable renderer").
type Template struct {
	ID       string
	Sections []TemplateSection
}

// DefaultTemplate renders all known section kinds with no per-section
// cap (related context as a list, every other kind as plain text), used
// when no agent-specific template is registered.
func DefaultTemplate(id string) Template {
	return Template{
		ID: id,
		Sections: []TemplateSection{
			{Kind: "memory", Required: false, ContentType: "text"},
			{Kind: "knowledge", Required: false, ContentType: "text"},
			{Kind: "realtime", Required: false, ContentType: "text"},
			{Kind: "agent-specific", Required: true, ContentType: "text"},
			{Kind: "related-context", Required: false, ContentType: "list"},
		},
	}
}

// Config configures the Assembler (spec.md §6 assembler.*).
type Config struct {
	MaxGenerationTime       time.Duration
	MemoryContentPercentage float64
	BudgetConfig            budget.Config
	PrioritizerConfig       prioritizer.Config
	ExtractorConfig         feature.Config
	CacheConfig             packcache.Config
	Templates               map[string]Template
	DefaultTemplateID       string
	AgentProfiles           map[string]AgentProfile
}

// DefaultConfig matches spec.md §6's assembler defaults.
func DefaultConfig() Config {
	return Config{
		MaxGenerationTime:       1000 * time.Millisecond,
		MemoryContentPercentage: 0.3,
		BudgetConfig:            budget.DefaultConfig(),
		PrioritizerConfig:       prioritizer.DefaultConfig(),
		ExtractorConfig:         feature.DefaultConfig(),
		CacheConfig:             packcache.DefaultConfig(),
		Templates:               map[string]Template{"default": DefaultTemplate("default")},
		DefaultTemplateID:       "default",
	}
}

// Request is one assembly request (spec.md §6 `assemble(request)`).
type Request struct {
	IssueID      string
	AgentType    string
	ProjectID    string
	IssueText    string
	ForceRefresh bool
	TemplateID   string
}

// AssemblyPerformanceMetrics times every pipeline stage of one
// assembly (spec.md §4.11).
type AssemblyPerformanceMetrics struct {
	CacheProbe         time.Duration
	ProvenanceStart    time.Duration
	Gathering          time.Duration
	Prioritization     time.Duration
	BudgetEnforcement  time.Duration
	Assembly           time.Duration
	Render             time.Duration
	ProvenanceEnd      time.Duration
	Total              time.Duration
	CacheHit           bool
	LatencyBreach      bool
}

// Assembler is the Context Pack Assembler.
type Assembler struct {
	gatherers   Gatherers
	cache       *packcache.Cache[*entry.ContextPack]
	provenance  *provenance.Tracker
	prioritizer *prioritizer.Prioritizer
	extractor   *feature.Extractor
	cfg         Config

	mu          sync.Mutex
	totalRuns   int64
	degradedRuns int64
	cacheHits   int64
}

// New constructs an Assembler. Any Gatherers field may be nil.
func New(gatherers Gatherers, cfg Config) (*Assembler, error) {
	if cfg.Templates == nil {
		cfg.Templates = map[string]Template{"default": DefaultTemplate("default")}
	}
	if cfg.DefaultTemplateID == "" {
		cfg.DefaultTemplateID = "default"
	}
	if cfg.MaxGenerationTime <= 0 {
		cfg.MaxGenerationTime = 1000 * time.Millisecond
	}
	cache, err := packcache.New[*entry.ContextPack](cfg.CacheConfig)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		gatherers:   gatherers,
		cache:       cache,
		provenance:  provenance.New(),
		prioritizer: prioritizer.New(cfg.PrioritizerConfig),
		extractor:   feature.New(cfg.ExtractorConfig),
		cfg:         cfg,
	}, nil
}

// Assemble runs the full 8-stage pipeline of spec.md §4.11.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*entry.ContextPack, AssemblyPerformanceMetrics, error) {
	started := time.Now()
	var metrics AssemblyPerformanceMetrics
	a.mu.Lock()
	a.totalRuns++
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.MaxGenerationTime)
	defer cancel()

	// Stage 1: cache probe.
	t0 := time.Now()
	key := a.cacheKey(req)
	if !req.ForceRefresh {
		if pack, ok := a.cache.Get(key); ok && !pack.Expired(time.Now()) {
			metrics.CacheProbe = time.Since(t0)
			metrics.CacheHit = true
			metrics.Total = time.Since(started)
			a.mu.Lock()
			a.cacheHits++
			a.mu.Unlock()
			clone := *pack
			clone.CacheUsed = true
			return &clone, metrics, nil
		}
	}
	metrics.CacheProbe = time.Since(t0)

	// Stage 2: provenance start.
	t0 = time.Now()
	packID := key
	sessionID := a.provenance.StartSession(packID)
	metrics.ProvenanceStart = time.Since(t0)

	// Stage 3: gathering.
	t0 = time.Now()
	candidates, gatherWarnings := a.gather(ctx, req, sessionID)
	metrics.Gathering = time.Since(t0)

	if len(candidates) == 0 {
		pack := a.degradedPack(req, packID, sessionID, append(gatherWarnings, "no gatherer returned content"))
		metrics.Total = time.Since(started)
		a.markDegraded()
		return pack, metrics, nil
	}

	// Stage 4: prioritization.
	t0 = time.Now()
	features := a.extractFeatures(req, candidates)
	ranked := a.prioritizer.Prioritize(time.Now(), candidates, features)
	metrics.Prioritization = time.Since(t0)

	// Stage 5: budget enforcement.
	t0 = time.Now()
	sections := sectionsFromRanked(ranked.Primary)
	budgeted, usage := budget.Enforce(a.cfg.BudgetConfig, sections, time.Now())
	metrics.BudgetEnforcement = time.Since(t0)

	// Stage 6: assembly.
	t0 = time.Now()
	pack, assemblyWarnings := a.assemble(req, packID, budgeted, usage)
	metrics.Assembly = time.Since(t0)

	// Stage 7: render.
	t0 = time.Now()
	template := a.templateFor(req)
	a.render(pack, template)
	metrics.Render = time.Since(t0)

	allWarnings := append(append([]string{}, gatherWarnings...), assemblyWarnings...)
	pack.TokenUsage.Warnings = append(pack.TokenUsage.Warnings, allWarnings...)

	// Stage 8: provenance end + cache store.
	t0 = time.Now()
	a.provenance.RecordDecision(sessionID, "assemble", "assembled context pack",
		fmt.Sprintf("%d candidates prioritized into %d sections", len(candidates), len(pack.Sections)), nil, 0.8)
	pack.Provenance = a.provenance.Generate(sessionID)
	a.provenance.EndSession(sessionID)
	a.cache.Set(key, pack)
	metrics.ProvenanceEnd = time.Since(t0)

	metrics.Total = time.Since(started)
	if metrics.Total > a.cfg.MaxGenerationTime {
		metrics.LatencyBreach = true
		slog.Warn("assembly exceeded latency target",
			slog.Duration("elapsed", metrics.Total), slog.Duration("target", a.cfg.MaxGenerationTime))
	}
	return pack, metrics, nil
}

func (a *Assembler) markDegraded() {
	a.mu.Lock()
	a.degradedRuns++
	a.mu.Unlock()
}

func (a *Assembler) cacheKey(req Request) string {
	return packcache.KeyString(entry.CacheKey{
		IssueID:            req.IssueID,
		AgentType:          req.AgentType,
		ContentFingerprint: fingerprint(req),
		Version:            1,
	})
}

func fingerprint(req Request) string {
	sum := sha256.Sum256([]byte(req.IssueID + "|" + req.AgentType + "|" + req.ProjectID + "|" + req.IssueText))
	return hex.EncodeToString(sum[:8])
}

// gather runs all configured gatherers concurrently, collecting every
// outcome without letting one gatherer's failure abort the others
// (spec.md §4.11 stage 3).
func (a *Assembler) gather(ctx context.Context, req Request, sessionID string) ([]*entry.SearchResult, []string) {
	type slot struct {
		name string
		g    Gatherer
	}
	slots := []slot{
		{"memory", a.gatherers.Memory},
		{"knowledge", a.gatherers.Knowledge},
		{"index-search", a.gatherers.IndexSearch},
		{"retriever", a.gatherers.Retriever},
	}

	var mu sync.Mutex
	var candidates []*entry.SearchResult
	var warnings []string
	var wg sync.WaitGroup

	for _, s := range slots {
		if s.g == nil {
			mu.Lock()
			warnings = append(warnings, fmt.Sprintf("%s gatherer not configured", s.name))
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(s slot) {
			defer wg.Done()
			results, err := s.g.Gather(ctx, req)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s gatherer failed: %v", s.name, err))
				return
			}
			a.provenance.RegisterSource(sessionID, s.name, s.name, "gathered content for assembly", nil)
			candidates = append(candidates, results...)
		}(s)
	}
	wg.Wait()
	return dedupeByID(candidates), warnings
}

func dedupeByID(results []*entry.SearchResult) []*entry.SearchResult {
	seen := make(map[string]bool, len(results))
	out := make([]*entry.SearchResult, 0, len(results))
	for _, r := range results {
		if r == nil || r.Entry == nil || seen[r.Entry.ID] {
			continue
		}
		seen[r.Entry.ID] = true
		out = append(out, r)
	}
	return out
}

func (a *Assembler) extractFeatures(req Request, candidates []*entry.SearchResult) map[string]*entry.FeatureVector {
	entries := make([]*entry.Entry, len(candidates))
	for i, c := range candidates {
		entries[i] = c.Entry
	}
	qc := feature.QueryContext{Text: req.IssueText, AgentType: req.AgentType, ProjectID: req.ProjectID, IssueText: req.IssueText}
	vecs := a.extractor.ExtractBatch(qc, entries)
	out := make(map[string]*entry.FeatureVector, len(vecs))
	for _, v := range vecs {
		out[v.EntryID] = v
	}
	return out
}

// sectionsFromRanked partitions ranked candidates into ContextSections
// by kind, in ascending priority order (budget.Enforce requires this).
func sectionsFromRanked(ranked []prioritizer.Ranked) []*entry.ContextSection {
	type bucket struct {
		kind  string
		items []prioritizer.Ranked
	}
	order := []string{"related-context", "realtime", "knowledge", "memory"}
	buckets := make(map[string]*bucket, len(order))
	for _, k := range order {
		buckets[k] = &bucket{kind: k}
	}
	for _, r := range ranked {
		k := sectionKind(r.Result.Entry.Kind)
		buckets[k].items = append(buckets[k].items, r)
	}

	sections := make([]*entry.ContextSection, 0, len(order))
	for _, k := range order {
		b := buckets[k]
		if len(b.items) == 0 {
			continue
		}
		var body strings.Builder
		for _, item := range b.items {
			body.WriteString("## " + item.Result.Entry.Title + "\n")
			body.WriteString(item.Result.Entry.Body)
			body.WriteString("\n\n")
		}
		content := strings.TrimSpace(body.String())
		sections = append(sections, &entry.ContextSection{
			Kind:     k,
			Title:    strings.Title(strings.ReplaceAll(k, "-", " ")),
			Content:  content,
			Tokens:   budget.Count(budget.MethodWord, content),
			Required: k == "memory",
		})
	}
	return sections
}

func sectionKind(k entry.Kind) string {
	switch k {
	case entry.KindMemory:
		return "memory"
	case entry.KindKnowledge, entry.KindDecision, entry.KindPitfall:
		return "knowledge"
	case entry.KindCode, entry.KindConfig:
		return "realtime"
	default:
		return "related-context"
	}
}

// assemble builds the ContextPack's structural fields from budgeted
// sections: executive summary, key insights, critical actions, and
// the agent-specific block (spec.md §4.11 stage 6).
func (a *Assembler) assemble(req Request, packID string, sections []*entry.ContextSection, usage entry.TokenUsage) (*entry.ContextPack, []string) {
	pack := &entry.ContextPack{
		PackID:     packID,
		Version:    1,
		IssueID:    req.IssueID,
		AgentType:  req.AgentType,
		GeneratedAt: time.Now(),
		ValidUntil:  time.Now().Add(15 * time.Minute),
		Priority:    1,
		TemplateID:  req.TemplateID,
		Sections:    sectionsValue(sections),
		TokenUsage:  usage,
	}

	agentSection := a.agentSpecificSection(req.AgentType)
	pack.Sections = append(pack.Sections, agentSection)

	pack.ExecutiveSummary = summarize(sections)
	pack.KeyInsights = keyInsights(sections)
	pack.CriticalActions = criticalActions(sections)

	var warnings []string
	memPct := a.cfg.MemoryContentPercentage
	if memPct > 0 {
		total := usage.TotalTokens
		if total > 0 && float64(pack.MemoryContentTokens())/float64(total) < memPct {
			warnings = append(warnings, fmt.Sprintf("memory content share below configured %.0f%%", memPct*100))
		}
	}
	return pack, warnings
}

func sectionsValue(sections []*entry.ContextSection) []entry.ContextSection {
	out := make([]entry.ContextSection, len(sections))
	for i, s := range sections {
		out[i] = *s
	}
	return out
}

func (a *Assembler) agentSpecificSection(agentType string) entry.ContextSection {
	profile, ok := a.cfg.AgentProfiles[agentType]
	var body strings.Builder
	if ok {
		if len(profile.Specializations) > 0 {
			body.WriteString("Specializations: " + strings.Join(profile.Specializations, ", ") + "\n")
		}
		if len(profile.Tools) > 0 {
			body.WriteString("Tools: " + strings.Join(profile.Tools, ", ") + "\n")
		}
		if len(profile.Constraints) > 0 {
			body.WriteString("Constraints: " + strings.Join(profile.Constraints, ", ") + "\n")
		}
		if len(profile.Preferences) > 0 {
			body.WriteString("Preferences: " + strings.Join(profile.Preferences, ", ") + "\n")
		}
	}
	content := strings.TrimSpace(body.String())
	if content == "" {
		content = fmt.Sprintf("No registered profile for agent type %q.", agentType)
	}
	return entry.ContextSection{
		Kind:     "agent-specific",
		Title:    "Agent Profile",
		Content:  content,
		Tokens:   budget.Count(budget.MethodWord, content),
		Required: true,
	}
}

func summarize(sections []*entry.ContextSection) string {
	if len(sections) == 0 {
		return "No content available for this request."
	}
	var kinds []string
	for _, s := range sections {
		kinds = append(kinds, s.Kind)
	}
	return fmt.Sprintf("Assembled %d section(s) covering: %s.", len(sections), strings.Join(kinds, ", "))
}

func keyInsights(sections []*entry.ContextSection) []string {
	var out []string
	for _, s := range sections {
		title := firstLine(s.Content)
		if title != "" {
			out = append(out, fmt.Sprintf("%s: %s", s.Title, title))
		}
		if len(out) >= 5 {
			break
		}
	}
	return out
}

func criticalActions(sections []*entry.ContextSection) []string {
	var out []string
	for _, s := range sections {
		if s.Kind != "knowledge" {
			continue
		}
		lower := strings.ToLower(s.Content)
		if strings.Contains(lower, "pitfall") || strings.Contains(lower, "critical") || strings.Contains(lower, "must") {
			out = append(out, firstLine(s.Content))
		}
	}
	return out
}

func firstLine(s string) string {
	lines := strings.SplitN(s, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimPrefix(strings.TrimSpace(lines[0]), "## ")
}

func (a *Assembler) templateFor(req Request) Template {
	id := req.TemplateID
	if id == "" {
		id = a.cfg.DefaultTemplateID
	}
	if t, ok := a.cfg.Templates[id]; ok {
		return t
	}
	return a.cfg.Templates[a.cfg.DefaultTemplateID]
}

// render orders sections per template, drops missing optional
// sections, enforces per-section token caps, and applies content-type
// formatting and per-agent transformations (spec.md §4.11 stage 7).
func (a *Assembler) render(pack *entry.ContextPack, tmpl Template) {
	byKind := make(map[string]entry.ContextSection, len(pack.Sections))
	for _, s := range pack.Sections {
		byKind[s.Kind] = s
	}

	ordered := make([]entry.ContextSection, 0, len(tmpl.Sections))
	for _, ts := range tmpl.Sections {
		s, ok := byKind[ts.Kind]
		if !ok {
			if ts.Required {
				ordered = append(ordered, entry.ContextSection{Kind: ts.Kind, Title: ts.Kind, Required: true, Content: ""})
			}
			continue
		}
		s.Required = ts.Required
		if ts.MaxTokens > 0 && s.Tokens > ts.MaxTokens {
			s.Content = truncateWords(s.Content, ts.MaxTokens)
			s.Tokens = ts.MaxTokens
			s.Truncated = true
		}
		s.Content = formatContent(s.Content, ts.ContentType)
		s.Content = applyAgentTransform(s.Content, pack.AgentType, ts.Kind)
		ordered = append(ordered, s)
	}
	pack.Sections = ordered
	pack.TemplateID = tmpl.ID
}

func truncateWords(content string, maxWords int) string {
	words := strings.Fields(content)
	if len(words) <= maxWords {
		return content
	}
	return strings.Join(words[:maxWords], " ") + " ..."
}

func formatContent(content, contentType string) string {
	switch contentType {
	case "list":
		var lines []string
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			lines = append(lines, "- "+strings.TrimPrefix(line, "## "))
		}
		return strings.Join(lines, "\n")
	case "code":
		return "```\n" + content + "\n```"
	case "json":
		return `{"content": ` + fmt.Sprintf("%q", content) + `}`
	case "markdown", "text":
		return content
	default:
		return content
	}
}

// applyAgentTransform applies the small set of per-agent content
// transformations named in spec.md §4.11 stage 7: code highlighting
// for coder agents, gotcha summarization for long pitfall content, and
// vulnerability-term categorization for security agents.
func applyAgentTransform(content, agentType, sectionKind string) string {
	switch agentType {
	case "coder":
		if sectionKind == "realtime" && !strings.Contains(content, "```") {
			return "```\n" + content + "\n```"
		}
	case "security":
		if sectionKind == "knowledge" {
			return categorizeVulnerabilities(content)
		}
	}
	if sectionKind == "knowledge" && len(content) > 2000 {
		return truncateWords(content, 300) + "\n\n(gotcha summarized; see source for full detail)"
	}
	return content
}

func categorizeVulnerabilities(content string) string {
	categories := map[string][]string{
		"injection":       {"sql injection", "command injection", "xss"},
		"auth":            {"authentication", "authorization", "session"},
		"crypto":          {"encryption", "hashing", "certificate"},
	}
	lower := strings.ToLower(content)
	var tags []string
	for cat, terms := range categories {
		for _, term := range terms {
			if strings.Contains(lower, term) {
				tags = append(tags, cat)
				break
			}
		}
	}
	if len(tags) == 0 {
		return content
	}
	sort.Strings(tags)
	return "[" + strings.Join(tags, ", ") + "]\n" + content
}

// degradedPack builds the explanatory, zero-optimization pack of
// spec.md §4.11's error-isolation contract.
func (a *Assembler) degradedPack(req Request, packID, sessionID string, warnings []string) *entry.ContextPack {
	pack := &entry.ContextPack{
		PackID:            packID,
		Version:           1,
		IssueID:           req.IssueID,
		AgentType:         req.AgentType,
		GeneratedAt:       time.Now(),
		ValidUntil:        time.Now().Add(time.Minute),
		Tags:              []string{"error"},
		OptimizationLevel: 0,
		ExecutiveSummary:  "Assembly degraded: " + strings.Join(warnings, "; "),
		KeyInsights:       []string{"no candidate content was available for this request"},
		CriticalActions:   []string{"verify gatherer configuration and retry"},
		TokenUsage:        entry.TokenUsage{Warnings: warnings},
	}
	a.provenance.RecordDecision(sessionID, "degraded-assembly", "returned degraded pack", strings.Join(warnings, "; "), nil, 0.1)
	pack.Provenance = a.provenance.Generate(sessionID)
	a.provenance.EndSession(sessionID)
	return pack
}

// Stats reports assembler-level counters.
type Stats struct {
	TotalRuns    int64
	DegradedRuns int64
	CacheHits    int64
}

// Stats returns a snapshot of assembly counters (spec.md §6 `stats`).
func (a *Assembler) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{TotalRuns: a.totalRuns, DegradedRuns: a.degradedRuns, CacheHits: a.cacheHits}
}

// Shutdown releases the Assembler's cache (spec.md §6 `shutdown`).
func (a *Assembler) Shutdown() error {
	return a.cache.Shutdown()
}

// BatchAssemble runs several requests with bounded concurrency (spec.md
// §6 `batch_assemble(requests, maxConcurrency)`).
func (a *Assembler) BatchAssemble(ctx context.Context, requests []Request, maxConcurrency int) []*entry.ContextPack {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	sem := make(chan struct{}, maxConcurrency)
	out := make([]*entry.ContextPack, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, req Request) {
			defer wg.Done()
			defer func() { <-sem }()
			pack, _, err := a.Assemble(ctx, req)
			if err != nil {
				slog.Warn("batch assembly failed", slog.String("issue_id", req.IssueID), slog.String("error", err.Error()))
				return
			}
			out[i] = pack
		}(i, req)
	}
	wg.Wait()
	return out
}

// HealthCheck runs a minimal assembly and returns an empty category when
// it succeeds within the latency target, or CategoryRetrieval when it
// fails or breaches the target (spec.md §6 "Health check: runs a minimal assembly").
func (a *Assembler) HealthCheck(ctx context.Context) coreerrors.Category {
	_, metrics, err := a.Assemble(ctx, Request{IssueID: "health-check", AgentType: "generic", ForceRefresh: true})
	if err != nil {
		return coreerrors.CategoryRetrieval
	}
	if metrics.LatencyBreach {
		return coreerrors.CategoryRetrieval
	}
	return ""
}

package mcp

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ctxforge/retrievalcore/internal/assembler"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/retriever"
)

// AssembleContextInput defines the input schema for the assemble_context tool.
type AssembleContextInput struct {
	IssueID      string `json:"issue_id" jsonschema:"identifier of the issue or task this context pack is for"`
	AgentType    string `json:"agent_type" jsonschema:"the requesting agent type, e.g. coder, reviewer, security"`
	ProjectID    string `json:"project_id,omitempty" jsonschema:"project identifier, scopes retrieval to one project"`
	IssueText    string `json:"issue_text,omitempty" jsonschema:"free-text description of the issue, used for relevance scoring"`
	ForceRefresh bool   `json:"force_refresh,omitempty" jsonschema:"bypass the cache and reassemble from scratch"`
	TemplateID   string `json:"template_id,omitempty" jsonschema:"render template to use, defaults to the configured default"`
}

// AssembleContextOutput defines the output schema for the assemble_context tool.
type AssembleContextOutput struct {
	PackID            string              `json:"pack_id"`
	ExecutiveSummary  string              `json:"executive_summary"`
	KeyInsights       []string            `json:"key_insights"`
	CriticalActions   []string            `json:"critical_actions"`
	Sections          []ContextSectionOut `json:"sections"`
	TotalTokens       int                 `json:"total_tokens"`
	OptimizationLevel int                 `json:"optimization_level"`
	CacheUsed         bool                `json:"cache_used"`
	Degraded          bool                `json:"degraded"`
	Warnings          []string            `json:"warnings,omitempty"`
}

// ContextSectionOut is one rendered section of an assembled context pack.
type ContextSectionOut struct {
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated,omitempty"`
}

// RetrieveInput defines the input schema for the retrieve tool.
type RetrieveInput struct {
	Query      string   `json:"query" jsonschema:"the retrieval query text"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"restrict results to these entry kinds, e.g. knowledge, code, memory"`
	ProjectID  string   `json:"project_id,omitempty" jsonschema:"project identifier, scopes retrieval to one project"`
	AgentTypes []string `json:"agent_types,omitempty" jsonschema:"requesting agent types, used for affinity scoring"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// RetrieveOutput defines the output schema for the retrieve tool.
type RetrieveOutput struct {
	Results  []RetrieveResultOut `json:"results"`
	Strategy string              `json:"strategy"`
	Mode     string              `json:"mode"`
	Degraded bool                `json:"degraded"`
	Warnings []string            `json:"warnings,omitempty"`
}

// RetrieveResultOut is one ranked candidate returned by the retrieve tool.
type RetrieveResultOut struct {
	EntryID string  `json:"entry_id"`
	Title   string  `json:"title"`
	Kind    string  `json:"kind"`
	Score   float64 `json:"score"`
	Rank    int     `json:"rank"`
}

// IndexContentInput defines the input schema for the index_content tool.
type IndexContentInput struct {
	ID    string `json:"id" jsonschema:"stable identifier for the entry, e.g. a content-addressed hash"`
	Kind  string `json:"kind" jsonschema:"entry kind, e.g. knowledge, memory, code, decision-record, pitfall, config"`
	Title string `json:"title" jsonschema:"short human-readable title"`
	Body  string `json:"body" jsonschema:"full entry content to index"`
	Path  string `json:"path" jsonschema:"source path the content was read from"`
}

// IndexContentOutput defines the output schema for the index_content tool.
type IndexContentOutput struct {
	Indexed bool `json:"indexed"`
}

// EngineStatsInput defines the input schema for the engine_stats tool (no parameters).
type EngineStatsInput struct{}

// EngineStatsOutput defines the output schema for the engine_stats tool.
type EngineStatsOutput struct {
	DocumentCount   int    `json:"document_count"`
	QueueDepthTotal int    `json:"queue_depth_total"`
	PriorityDepth   int    `json:"priority_depth"`
	StandardDepth   int    `json:"standard_depth"`
	InFlight        int    `json:"in_flight"`
	TotalIndexed    int64  `json:"total_indexed"`
	TotalErrors     int64  `json:"total_errors"`
	LastVacuumAt    string `json:"last_vacuum_at,omitempty"`
	LastOptimizeAt  string `json:"last_optimize_at,omitempty"`
}

// retrievalToolInfos lists the retrieval-core tool group for ListTools.
func (s *Server) retrievalToolInfos() []ToolInfo {
	return []ToolInfo{
		{
			Name:        "assemble_context",
			Description: "Gathers, prioritizes, budgets, and renders a complete context pack for an issue and agent type. Use this instead of several individual searches when preparing an agent for a task.",
		},
		{
			Name:        "retrieve",
			Description: "Runs the hybrid retrieval pipeline (full-text plus optional vector search, fused and ranked) for a single query. Lower-level than assemble_context; use it when you need raw ranked candidates rather than a rendered pack.",
		},
		{
			Name:        "index_content",
			Description: "Adds or updates one content entry in the retrieval index.",
		},
		{
			Name:        "engine_stats",
			Description: "Reports indexing queue depth, throughput, and maintenance timestamps.",
		},
	}
}

// registerRetrievalTools registers the MCP SDK handlers for the
// retrieval-core tool group. Called once, lazily, the first time a
// collaborator (Assembler/Retriever/Engine) is attached.
func (s *Server) registerRetrievalTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "assemble_context",
		Description: "Gathers, prioritizes, budgets, and renders a complete context pack for an issue and agent type.",
	}, s.mcpAssembleContextHandler)
	s.logger.Debug("Registered tool", slog.String("name", "assemble_context"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "retrieve",
		Description: "Runs the hybrid retrieval pipeline for a single query and returns ranked candidates.",
	}, s.mcpRetrieveHandler)
	s.logger.Debug("Registered tool", slog.String("name", "retrieve"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_content",
		Description: "Adds or updates one content entry in the retrieval index.",
	}, s.mcpIndexContentHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_content"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "engine_stats",
		Description: "Reports indexing queue depth, throughput, and maintenance timestamps.",
	}, s.mcpEngineStatsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "engine_stats"))
}

// handleRetrievalTool dispatches the generic map[string]any CallTool
// path (used by non-SDK callers) to the same logic the typed MCP SDK
// handlers below use.
func (s *Server) handleRetrievalTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "assemble_context":
		input := AssembleContextInput{
			IssueID:      stringArg(args, "issue_id"),
			AgentType:    stringArg(args, "agent_type"),
			ProjectID:    stringArg(args, "project_id"),
			IssueText:    stringArg(args, "issue_text"),
			ForceRefresh: boolArg(args, "force_refresh"),
			TemplateID:   stringArg(args, "template_id"),
		}
		_, out, err := s.mcpAssembleContextHandler(ctx, nil, input)
		return out, err
	case "retrieve":
		input := RetrieveInput{
			Query:      stringArg(args, "query"),
			Kinds:      stringSliceArg(args, "kinds"),
			ProjectID:  stringArg(args, "project_id"),
			AgentTypes: stringSliceArg(args, "agent_types"),
			Limit:      intArg(args, "limit"),
		}
		_, out, err := s.mcpRetrieveHandler(ctx, nil, input)
		return out, err
	case "index_content":
		input := IndexContentInput{
			ID:    stringArg(args, "id"),
			Kind:  stringArg(args, "kind"),
			Title: stringArg(args, "title"),
			Body:  stringArg(args, "body"),
			Path:  stringArg(args, "path"),
		}
		_, out, err := s.mcpIndexContentHandler(ctx, nil, input)
		return out, err
	case "engine_stats":
		_, out, err := s.mcpEngineStatsHandler(ctx, nil, EngineStatsInput{})
		return out, err
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// mcpAssembleContextHandler is the MCP SDK handler for assemble_context.
func (s *Server) mcpAssembleContextHandler(ctx context.Context, _ *mcp.CallToolRequest, input AssembleContextInput) (
	*mcp.CallToolResult,
	AssembleContextOutput,
	error,
) {
	if s.assembler == nil {
		return nil, AssembleContextOutput{}, NewInvalidParamsError("assemble_context is unavailable: no assembler is attached to this server")
	}
	if input.IssueID == "" {
		return nil, AssembleContextOutput{}, NewInvalidParamsError("issue_id parameter is required")
	}
	if input.AgentType == "" {
		return nil, AssembleContextOutput{}, NewInvalidParamsError("agent_type parameter is required")
	}

	pack, metrics, err := s.assembler.Assemble(ctx, assembler.Request{
		IssueID:      input.IssueID,
		AgentType:    input.AgentType,
		ProjectID:    input.ProjectID,
		IssueText:    input.IssueText,
		ForceRefresh: input.ForceRefresh,
		TemplateID:   input.TemplateID,
	})
	if err != nil {
		return nil, AssembleContextOutput{}, MapError(err)
	}

	sections := make([]ContextSectionOut, 0, len(pack.Sections))
	for _, sec := range pack.Sections {
		sections = append(sections, ContextSectionOut{
			Kind:      sec.Kind,
			Title:     sec.Title,
			Content:   sec.Content,
			Tokens:    sec.Tokens,
			Truncated: sec.Truncated,
		})
	}

	degraded := len(pack.Tags) > 0 && contains(pack.Tags, "error")
	out := AssembleContextOutput{
		PackID:            pack.PackID,
		ExecutiveSummary:  pack.ExecutiveSummary,
		KeyInsights:       pack.KeyInsights,
		CriticalActions:   pack.CriticalActions,
		Sections:          sections,
		TotalTokens:       pack.TokenUsage.TotalTokens,
		OptimizationLevel: pack.OptimizationLevel,
		CacheUsed:         pack.CacheUsed,
		Degraded:          degraded,
		Warnings:          pack.TokenUsage.Warnings,
	}
	if metrics.LatencyBreach {
		out.Warnings = append(out.Warnings, "assembly exceeded the configured latency target")
	}
	return nil, out, nil
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

// mcpRetrieveHandler is the MCP SDK handler for retrieve.
func (s *Server) mcpRetrieveHandler(ctx context.Context, _ *mcp.CallToolRequest, input RetrieveInput) (
	*mcp.CallToolResult,
	RetrieveOutput,
	error,
) {
	if s.retriever == nil {
		return nil, RetrieveOutput{}, NewInvalidParamsError("retrieve is unavailable: no retriever is attached to this server")
	}
	if strings.TrimSpace(input.Query) == "" {
		return nil, RetrieveOutput{}, NewInvalidParamsError("query parameter is required")
	}

	kinds := make([]entry.Kind, 0, len(input.Kinds))
	for _, k := range input.Kinds {
		kinds = append(kinds, entry.Kind(k))
	}

	result, err := s.retriever.Retrieve(ctx, retriever.Query{
		Text:       input.Query,
		Kinds:      kinds,
		ProjectID:  input.ProjectID,
		AgentTypes: input.AgentTypes,
		Limit:      input.Limit,
	})
	if err != nil {
		return nil, RetrieveOutput{}, MapError(err)
	}

	out := RetrieveOutput{
		Strategy: string(result.Strategy),
		Mode:     string(result.Mode),
		Degraded: result.Degraded,
		Warnings: result.Warnings,
	}
	for _, r := range result.Results {
		out.Results = append(out.Results, RetrieveResultOut{
			EntryID: r.Entry.ID,
			Title:   r.Entry.Title,
			Kind:    string(r.Entry.Kind),
			Score:   r.Score,
			Rank:    r.Rank,
		})
	}
	return nil, out, nil
}

// mcpIndexContentHandler is the MCP SDK handler for index_content.
func (s *Server) mcpIndexContentHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexContentInput) (
	*mcp.CallToolResult,
	IndexContentOutput,
	error,
) {
	if s.indexingEngine == nil {
		return nil, IndexContentOutput{}, NewInvalidParamsError("index_content is unavailable: no indexing engine is attached to this server")
	}
	if input.ID == "" || input.Title == "" || input.Body == "" || input.Path == "" {
		return nil, IndexContentOutput{}, NewInvalidParamsError("id, kind, title, body, and path are all required")
	}

	err := s.indexingEngine.IndexContent(ctx, []*entry.Entry{{
		ID:    input.ID,
		Kind:  entry.Kind(input.Kind),
		Title: input.Title,
		Body:  input.Body,
		Path:  input.Path,
	}})
	if err != nil {
		return nil, IndexContentOutput{}, MapError(err)
	}
	return nil, IndexContentOutput{Indexed: true}, nil
}

// mcpEngineStatsHandler is the MCP SDK handler for engine_stats.
func (s *Server) mcpEngineStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ EngineStatsInput) (
	*mcp.CallToolResult,
	EngineStatsOutput,
	error,
) {
	if s.indexingEngine == nil {
		return nil, EngineStatsOutput{}, NewInvalidParamsError("engine_stats is unavailable: no indexing engine is attached to this server")
	}
	stats := s.indexingEngine.Stats()
	out := EngineStatsOutput{
		DocumentCount:   stats.DocumentCount,
		QueueDepthTotal: stats.QueueDepthTotal,
		PriorityDepth:   stats.PriorityDepth,
		StandardDepth:   stats.StandardDepth,
		InFlight:        stats.InFlight,
		TotalIndexed:    stats.TotalIndexed,
		TotalErrors:     stats.TotalErrors,
	}
	if !stats.LastVacuumAt.IsZero() {
		out.LastVacuumAt = stats.LastVacuumAt.Format("2006-01-02T15:04:05Z07:00")
	}
	if !stats.LastOptimizeAt.IsZero() {
		out.LastOptimizeAt = stats.LastOptimizeAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return nil, out, nil
}

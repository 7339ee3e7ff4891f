package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctxforge/retrievalcore/internal/assembler"
	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/config"
	"github.com/ctxforge/retrievalcore/internal/daemon"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/feature"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/logging"
	"github.com/ctxforge/retrievalcore/internal/output"
	"github.com/ctxforge/retrievalcore/internal/retriever"
)

// assembleOptions holds CLI flags for assemble.
type assembleOptions struct {
	agentType    string
	issueText    string
	template     string
	forceRefresh bool
	format       string // "text", "json"
	local        bool   // bypass the daemon
}

func newAssembleCmd() *cobra.Command {
	var opts assembleOptions

	cmd := &cobra.Command{
		Use:   "assemble <issue-id>",
		Short: "Assemble a context pack for an issue",
		Long: `Assemble runs the Context Pack Assembler for one issue/agent pair,
gathering candidate content from the Hybrid Retriever, prioritizing and
budgeting it, and rendering it per the selected agent template.

Examples:
  retrievalcore assemble PROJ-123 --agent implementer
  retrievalcore assemble PROJ-123 --agent reviewer --issue-text "fix auth regression"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssemble(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.agentType, "agent", "implementer", "Agent type the pack is rendered for")
	cmd.Flags().StringVar(&opts.issueText, "issue-text", "", "Free-text description used to gather candidates")
	cmd.Flags().StringVar(&opts.template, "template", "", "Template ID to render with (default: the assembler's default)")
	cmd.Flags().BoolVar(&opts.forceRefresh, "force-refresh", false, "Bypass the pack cache and regenerate")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local assembly (bypass the daemon)")

	return cmd
}

func runAssemble(ctx context.Context, cmd *cobra.Command, issueID string, opts assembleOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("assemble_started", slog.String("issue_id", issueID), slog.String("agent", opts.agentType))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("assemble_using_daemon")
		result, err := client.Assemble(ctx, daemon.AssembleParams{
			IssueID:      issueID,
			AgentType:    opts.agentType,
			ProjectID:    root,
			IssueText:    opts.issueText,
			ForceRefresh: opts.forceRefresh,
			TemplateID:   opts.template,
		})
		if err != nil {
			slog.Warn("daemon assemble failed, falling back to local", slog.String("error", err.Error()))
		} else {
			slog.Info("assemble_complete", slog.String("mode", "daemon"), slog.Int("tokens", result.TotalTokens))
			return formatDaemonAssembleResult(cmd, out, result, opts.format)
		}
	}

	slog.Info("assemble_using_local")
	return runLocalAssemble(ctx, cmd, root, issueID, opts)
}

// runLocalAssemble builds a one-shot Assembler backed directly by an
// open FTS Store's Hybrid Retriever, for use when no daemon is running.
func runLocalAssemble(ctx context.Context, cmd *cobra.Command, root, issueID string, opts assembleOptions) error {
	out := output.New(cmd.OutOrStdout())
	dataDir := filepath.Join(root, ".retrievalcore")

	ftsBasePath := filepath.Join(dataDir, "retrieval")
	store, err := ftsstore.New(ftsBasePath, ftsstore.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open FTS store: %w", err)
	}
	defer func() { _ = store.Close() }()

	learner := bandit.New(bandit.DefaultConfig())
	extractor := feature.New(feature.DefaultConfig())
	hybrid := retriever.New(store, learner, extractor, nil, retriever.DefaultConfig())

	gatherer := assembler.GathererFunc(func(ctx context.Context, req assembler.Request) ([]*entry.SearchResult, error) {
		text := req.IssueText
		if text == "" {
			text = req.IssueID
		}
		result, err := hybrid.Retrieve(ctx, retriever.Query{
			Text:       text,
			ProjectID:  req.ProjectID,
			AgentTypes: []string{req.AgentType},
			Limit:      10,
		})
		if err != nil {
			return nil, err
		}
		return result.Results, nil
	})

	packAssembler, err := assembler.New(assembler.Gatherers{IndexSearch: gatherer}, assembler.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create context pack assembler: %w", err)
	}

	pack, metrics, err := packAssembler.Assemble(ctx, assembler.Request{
		IssueID:      issueID,
		AgentType:    opts.agentType,
		ProjectID:    root,
		IssueText:    opts.issueText,
		ForceRefresh: opts.forceRefresh,
		TemplateID:   opts.template,
	})
	if err != nil {
		return fmt.Errorf("assemble failed: %w", err)
	}
	slog.Info("assemble_complete", slog.String("mode", "local"), slog.Int("tokens", pack.TokenUsage.TotalTokens),
		slog.Bool("latency_breach", metrics.LatencyBreach))

	switch opts.format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(pack)
	default:
		return formatAssembleText(out, pack)
	}
}

func formatAssembleText(out *output.Writer, pack *entry.ContextPack) error {
	out.Statusf("📦", "Context pack %s for %s (%s)", pack.PackID, pack.IssueID, pack.AgentType)
	if pack.ExecutiveSummary != "" {
		out.Newline()
		out.Status("", pack.ExecutiveSummary)
	}
	for _, insight := range pack.KeyInsights {
		out.Status("💡", insight)
	}
	for _, action := range pack.CriticalActions {
		out.Status("⚡", action)
	}
	out.Newline()

	for _, section := range pack.Sections {
		out.Statusf("", "── %s (%d tokens) ──", section.Title, section.Tokens)
		out.Status("", section.Content)
		out.Newline()
	}

	out.Statusf("🔢", "Total tokens: %d (cache used: %v)", pack.TokenUsage.TotalTokens, pack.CacheUsed)
	for _, w := range pack.TokenUsage.Warnings {
		out.Status("⚠️ ", w)
	}
	return nil
}

func formatDaemonAssembleResult(cmd *cobra.Command, out *output.Writer, result *daemon.AssembleResult, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		out.Statusf("📦", "Context pack %s", result.PackID)
		if result.ExecutiveSummary != "" {
			out.Newline()
			out.Status("", result.ExecutiveSummary)
		}
		for _, insight := range result.KeyInsights {
			out.Status("💡", insight)
		}
		for _, action := range result.CriticalActions {
			out.Status("⚡", action)
		}
		out.Newline()

		for _, section := range result.Sections {
			out.Statusf("", "── %s (%d tokens) ──", section.Title, section.Tokens)
			out.Status("", section.Content)
			out.Newline()
		}

		out.Statusf("🔢", "Total tokens: %d (cache used: %v, degraded: %v)", result.TotalTokens, result.CacheUsed, result.Degraded)
		for _, w := range result.Warnings {
			out.Status("⚠️ ", w)
		}
		return nil
	}
}

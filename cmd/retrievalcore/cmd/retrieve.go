package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

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

// retrieveOptions holds CLI flags for retrieve.
type retrieveOptions struct {
	limit   int
	kinds   []string
	format  string // "text", "json"
	local   bool   // bypass the daemon
	agent   string
}

func newRetrieveCmd() *cobra.Command {
	var opts retrieveOptions

	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Retrieve ranked entries for a query",
		Long: `Retrieve runs the Hybrid Retriever over the indexed entries and
prints the ranked result set.

Examples:
  retrievalcore retrieve "authentication middleware"
  retrievalcore retrieve "error handling" --kind code --limit 5
  retrievalcore retrieve "design decisions" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runRetrieve(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.kinds, "kind", "k", nil, "Filter by entry kind (repeatable, e.g., --kind code)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Force local retrieval (bypass the daemon)")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "Agent type used to bias ranking (e.g., implementer, reviewer)")

	return cmd
}

func runRetrieve(ctx context.Context, cmd *cobra.Command, query string, opts retrieveOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("retrieve_started", slog.String("query", query), slog.Int("limit", opts.limit))
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".retrievalcore")
	ftsPath := filepath.Join(dataDir, "retrieval")
	if !fileExists(ftsPath+".db") && !fileExists(ftsPath+".bleve") {
		return fmt.Errorf("no index found. Run 'retrievalcore index' first")
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !opts.local && client.IsRunning() {
		slog.Info("retrieve_using_daemon")
		agentTypes := []string{}
		if opts.agent != "" {
			agentTypes = append(agentTypes, opts.agent)
		}
		result, err := client.Retrieve(ctx, daemon.RetrieveParams{
			Query:      query,
			Kinds:      opts.kinds,
			ProjectID:  root,
			AgentTypes: agentTypes,
			Limit:      opts.limit,
		})
		if err != nil {
			slog.Warn("daemon retrieve failed, falling back to local", slog.String("error", err.Error()))
		} else {
			slog.Info("retrieve_complete", slog.String("mode", "daemon"), slog.Int("results", len(result.Results)))
			return formatDaemonRetrieveResult(cmd, out, query, result, opts.format)
		}
	}

	slog.Info("retrieve_using_local")
	return runLocalRetrieve(ctx, cmd, root, query, opts)
}

// runLocalRetrieve opens the FTS Store directly and runs a one-shot
// Hybrid Retriever query, for use when no daemon is running.
func runLocalRetrieve(ctx context.Context, cmd *cobra.Command, root, query string, opts retrieveOptions) error {
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

	kinds := make([]entry.Kind, 0, len(opts.kinds))
	for _, k := range opts.kinds {
		kinds = append(kinds, entry.Kind(k))
	}
	agentTypes := []string{}
	if opts.agent != "" {
		agentTypes = append(agentTypes, opts.agent)
	}

	result, err := hybrid.Retrieve(ctx, retriever.Query{
		Text:       query,
		Kinds:      kinds,
		ProjectID:  root,
		AgentTypes: agentTypes,
		Limit:      opts.limit,
	})
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}
	slog.Info("retrieve_complete", slog.String("mode", "local"), slog.Int("results", len(result.Results)))

	if len(result.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch opts.format {
	case "json":
		return formatRetrieveJSON(cmd, result.Results)
	default:
		return formatRetrieveText(out, query, result.Results, result.Degraded, result.Warnings)
	}
}

func formatRetrieveText(out *output.Writer, query string, results []*entry.SearchResult, degraded bool, warnings []string) error {
	out.Statusf("🔍", "Found %d results for %q:", len(results), query)
	if degraded {
		out.Status("⚠️ ", "Retrieval is running in degraded mode")
	}
	for _, w := range warnings {
		out.Status("", "  "+w)
	}
	out.Newline()

	for i, r := range results {
		if r.Entry == nil {
			continue
		}
		out.Statusf("", "%d. [%s] %s (score: %.3f)", i+1, r.Entry.Kind, r.Entry.Path, r.Score)
		for _, snippet := range r.Snippets {
			out.Status("", "   "+snippet)
		}
		out.Newline()
	}
	return nil
}

func formatRetrieveJSON(cmd *cobra.Command, results []*entry.SearchResult) error {
	type jsonResult struct {
		EntryID string   `json:"entry_id"`
		Path    string   `json:"path"`
		Kind    string   `json:"kind"`
		Score   float64  `json:"score"`
		Rank    int      `json:"rank"`
		Snippet []string `json:"snippets,omitempty"`
	}

	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		if r.Entry == nil {
			continue
		}
		out = append(out, jsonResult{
			EntryID: r.Entry.ID,
			Path:    r.Entry.Path,
			Kind:    string(r.Entry.Kind),
			Score:   r.Score,
			Rank:    r.Rank,
			Snippet: r.Snippets,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// formatDaemonRetrieveResult formats a daemon-sourced retrieve response.
func formatDaemonRetrieveResult(cmd *cobra.Command, out *output.Writer, query string, result *daemon.RetrieveResult, format string) error {
	if len(result.Results) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.Results)
	default:
		out.Statusf("🔍", "Found %d results for %q (%s/%s):", len(result.Results), query, result.Strategy, result.Mode)
		if result.Degraded {
			out.Status("⚠️ ", "Retrieval is running in degraded mode")
		}
		for _, w := range result.Warnings {
			out.Status("", "  "+w)
		}
		out.Newline()

		for _, item := range result.Results {
			out.Statusf("", "%d. [%s] %s (score: %.3f)", item.Rank, item.Kind, item.Title, item.Score)
		}
		return nil
	}
}

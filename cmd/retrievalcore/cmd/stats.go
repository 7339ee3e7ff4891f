package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxforge/retrievalcore/internal/config"
	"github.com/ctxforge/retrievalcore/internal/daemon"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/indexing"
)

// EngineStatsOutput is the JSON/text output format for `stats`.
type EngineStatsOutput struct {
	DocumentCount   int    `json:"document_count"`
	QueryCount      int64  `json:"query_count"`
	SlowQueryCount  int64  `json:"slow_query_count"`
	QueueDepthTotal int    `json:"queue_depth_total"`
	PriorityDepth   int    `json:"priority_depth"`
	StandardDepth   int    `json:"standard_depth"`
	InFlight        int    `json:"in_flight"`
	TotalIndexed    int64  `json:"total_indexed"`
	TotalErrors     int64  `json:"total_errors"`
	LastVacuumAt    string `json:"last_vacuum_at,omitempty"`
	LastOptimizeAt  string `json:"last_optimize_at,omitempty"`
	Source          string `json:"source"` // "daemon" or "local"
}

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	var local bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show FTS Store and Indexing Engine statistics",
		Long: `Display operational counters for the FTS Store (document count, query
volume) and the Indexing Engine (queue depth, throughput, maintenance
timestamps).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, local)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&local, "local", false, "Force local stats (bypass the daemon)")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput, local bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	daemonCfg := daemon.DefaultConfig()
	client := daemon.NewClient(daemonCfg)
	if !local && client.IsRunning() {
		result, err := client.EngineStats(ctx)
		if err == nil {
			stats := EngineStatsOutput{
				QueueDepthTotal: result.QueueDepthTotal,
				PriorityDepth:   result.PriorityDepth,
				StandardDepth:   result.StandardDepth,
				InFlight:        result.InFlight,
				DocumentCount:   result.DocumentCount,
				TotalIndexed:    result.TotalIndexed,
				TotalErrors:     result.TotalErrors,
				LastVacuumAt:    result.LastVacuumAt,
				LastOptimizeAt:  result.LastOptimizeAt,
				Source:          "daemon",
			}
			return printStats(cmd, stats, jsonOutput)
		}
	}

	return runLocalStats(cmd, root, jsonOutput)
}

func runLocalStats(cmd *cobra.Command, root string, jsonOutput bool) error {
	dataDir := filepath.Join(root, ".retrievalcore")
	ftsBasePath := filepath.Join(dataDir, "retrieval")

	if !fileExists(ftsBasePath+".db") && !fileExists(ftsBasePath+".bleve") {
		return fmt.Errorf("no index found in %s\nRun 'retrievalcore index' to create one", root)
	}

	store, err := ftsstore.New(ftsBasePath, ftsstore.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open FTS store: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine := indexing.New(store, nil, indexing.DefaultConfig())
	metrics := store.Metrics()
	engineStats := engine.Stats()

	stats := EngineStatsOutput{
		DocumentCount:   metrics.DocumentCount,
		QueryCount:      metrics.QueryCount,
		SlowQueryCount:  metrics.SlowQueryCount,
		QueueDepthTotal: engineStats.QueueDepthTotal,
		PriorityDepth:   engineStats.PriorityDepth,
		StandardDepth:   engineStats.StandardDepth,
		InFlight:        engineStats.InFlight,
		TotalIndexed:    engineStats.TotalIndexed,
		TotalErrors:     engineStats.TotalErrors,
		Source:          "local",
	}
	if !metrics.LastVacuumAt.IsZero() {
		stats.LastVacuumAt = metrics.LastVacuumAt.Format(time.RFC3339)
	}
	if !metrics.LastOptimizeAt.IsZero() {
		stats.LastOptimizeAt = metrics.LastOptimizeAt.Format(time.RFC3339)
	}

	return printStats(cmd, stats, jsonOutput)
}

func printStats(cmd *cobra.Command, stats EngineStatsOutput, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "Engine Statistics")
	fmt.Fprintln(w, "=================")
	fmt.Fprintf(w, "Source:           %s\n", stats.Source)
	fmt.Fprintf(w, "Documents:        %d\n", stats.DocumentCount)
	fmt.Fprintf(w, "Queries served:   %d (slow: %d)\n", stats.QueryCount, stats.SlowQueryCount)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Queue depth:      %d (priority: %d, standard: %d)\n", stats.QueueDepthTotal, stats.PriorityDepth, stats.StandardDepth)
	fmt.Fprintf(w, "In flight:        %d\n", stats.InFlight)
	fmt.Fprintf(w, "Total indexed:    %d\n", stats.TotalIndexed)
	fmt.Fprintf(w, "Total errors:     %d\n", stats.TotalErrors)
	if stats.LastVacuumAt != "" {
		fmt.Fprintf(w, "Last vacuum:      %s\n", stats.LastVacuumAt)
	}
	if stats.LastOptimizeAt != "" {
		fmt.Fprintf(w, "Last optimize:    %s\n", stats.LastOptimizeAt)
	}
	return nil
}

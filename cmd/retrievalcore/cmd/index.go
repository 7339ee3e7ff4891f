package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ctxforge/retrievalcore/internal/config"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/gitignore"
	"github.com/ctxforge/retrievalcore/internal/indexing"
	"github.com/ctxforge/retrievalcore/internal/logging"
	"github.com/ctxforge/retrievalcore/internal/ui"
)

// maxIndexableFileSize skips anything larger, the same way the file
// watcher's startup scan does.
const maxIndexableFileSize = 1 << 20 // 1 MiB

// indexableExtensions maps a file extension to the entry.Kind it should
// be indexed as. Everything else is skipped.
var indexableExtensions = map[string]entry.Kind{
	".go": entry.KindCode, ".ts": entry.KindCode, ".tsx": entry.KindCode,
	".js": entry.KindCode, ".jsx": entry.KindCode, ".py": entry.KindCode,
	".rs": entry.KindCode, ".java": entry.KindCode, ".c": entry.KindCode,
	".h": entry.KindCode, ".cpp": entry.KindCode, ".hpp": entry.KindCode,
	".rb": entry.KindCode, ".sh": entry.KindCode,
	".md": entry.KindKnowledge, ".mdx": entry.KindKnowledge, ".txt": entry.KindKnowledge,
	".yaml": entry.KindConfig, ".yml": entry.KindConfig, ".json": entry.KindConfig,
	".toml": entry.KindConfig,
}

func newIndexCmd() *cobra.Command {
	var (
		noTUI bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for retrieval",
		Long: `Index walks a directory, skipping whatever .gitignore excludes, and
adds every text and code file it finds as an entry in the FTS store via
the Indexing Engine.

Use --force to clear existing index data and rebuild from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal handling propagates Ctrl+C through ctx so a large
			// walk or index batch stops promptly instead of running to
			// completion after the user asked to cancel.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndexWithOptions(ctx, cmd, path, noTUI, force)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&force, "force", false, "Clear existing index and rebuild from scratch")

	return cmd
}

// clearIndexData removes the FTS store's on-disk data, preserving the
// .retrievalcore.yaml config file (which lives at project root, not here).
func clearIndexData(dataDir string) error {
	base := filepath.Join(dataDir, "retrieval")
	for _, path := range []string{base + ".db", base + ".db-wal", base + ".db-shm", base + ".bleve"} {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func runIndexWithOptions(ctx context.Context, cmd *cobra.Command, path string, noTUI bool, force bool) error {
	// File-only logging so stdout stays clean for the progress renderer.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithProjectDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	dataDir := filepath.Join(root, ".retrievalcore")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if force {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...\n")
		slog.Info("index_force_clear", slog.String("data_dir", dataDir))
	}

	ftsBasePath := filepath.Join(dataDir, "retrieval")
	ftsStore, err := ftsstore.New(ftsBasePath, ftsstore.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open FTS store: %w", err)
	}
	defer func() { _ = ftsStore.Close() }()

	loader := &fileContentLoader{root: root}
	engine := indexing.New(ftsStore, loader, indexing.DefaultConfig())
	engine.Start(ctx)
	defer func() { _ = engine.Stop(context.Background()) }()

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning files..."})
	paths, err := scanIndexablePaths(root)
	if err != nil {
		return fmt.Errorf("failed to scan directory: %w", err)
	}

	entries := make([]*entry.Entry, 0, len(paths))
	for i, p := range paths {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		body, readErr := os.ReadFile(filepath.Join(root, p))
		if readErr != nil {
			renderer.AddError(ui.ErrorEvent{File: p, Err: readErr, IsWarn: true})
			continue
		}
		entries = append(entries, &entry.Entry{
			ID:    entry.NewEntryID(p),
			Kind:  indexableExtensions[strings.ToLower(filepath.Ext(p))],
			Title: filepath.Base(p),
			Body:  string(body),
			Path:  p,
		})
		renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageScanning,
			Current:     i + 1,
			Total:       len(paths),
			CurrentFile: p,
		})
	}

	renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Total: len(entries), Message: "Indexing entries..."})
	if err := engine.IndexContent(ctx, entries); err != nil {
		return fmt.Errorf("failed to index entries: %w", err)
	}

	renderer.Complete(ui.CompletionStats{Files: len(entries)})
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files from %s\n", len(entries), root)
	return nil
}

// scanIndexablePaths walks root, filtering out whatever .gitignore (and
// the fixed .git/.retrievalcore exclusions) matches, and returns
// root-relative paths whose extension is in indexableExtensions.
func scanIndexablePaths(root string) ([]string, error) {
	matcher := gitignore.New()
	matcher.AddPattern(".git/")
	matcher.AddPattern(".retrievalcore/")
	matcher.AddPattern(".retrievalcore/**")
	if err := matcher.AddFromFile(filepath.Join(root, ".gitignore"), ""); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .gitignore: %w", err)
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := indexableExtensions[strings.ToLower(filepath.Ext(rel))]; !ok {
			return nil
		}
		if info, statErr := d.Info(); statErr == nil && info.Size() > maxIndexableFileSize {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxforge/retrievalcore/internal/assembler"
	"github.com/ctxforge/retrievalcore/internal/bandit"
	"github.com/ctxforge/retrievalcore/internal/config"
	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/ctxforge/retrievalcore/internal/feature"
	"github.com/ctxforge/retrievalcore/internal/ftsstore"
	"github.com/ctxforge/retrievalcore/internal/indexing"
	"github.com/ctxforge/retrievalcore/internal/logging"
	"github.com/ctxforge/retrievalcore/internal/mcp"
	"github.com/ctxforge/retrievalcore/internal/retriever"
	"github.com/ctxforge/retrievalcore/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var transport string
	var debug bool
	var session string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Serve exposes hybrid search and context pack assembly over the Model
Context Protocol, for AI coding assistants like Claude Code and Cursor.

stdout is reserved exclusively for the JSON-RPC stream. All diagnostics
go to ~/.retrievalcore/logs/, never to stdout or stderr, since any
stray byte on stdout corrupts the MCP handshake.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if session != "" {
				return runServeWithSession(cmd.Context(), transport, session)
			}
			return runServe(cmd.Context(), transport, 0)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose MCP diagnostics (written to the log file only)")
	cmd.Flags().StringVar(&session, "session", "", "Session identifier recorded in MCP log lines")

	return cmd
}

// runServe starts the MCP server. The trailing int argument is reserved
// for a future port/addr selector; stdio is the only transport today.
func runServe(ctx context.Context, transport string, _ int) error {
	return serve(ctx, transport, "")
}

// runServeWithSession is the --session entry point. BUG-035: this must
// initialize MCP-safe logging the same way runServe does, not just log
// to whatever logger happens to be configured.
func runServeWithSession(ctx context.Context, transport, session string) error {
	return serve(ctx, transport, session)
}

func serve(ctx context.Context, transport, session string) error {
	cleanupLog, err := logging.SetupMCPMode()
	if err != nil {
		return fmt.Errorf("failed to initialize MCP logging: %w", err)
	}
	defer cleanupLog()

	if session != "" {
		slog.Info("mcp_session_started", slog.String("session", session))
	}

	if err := verifyStdinForMCP(); err != nil {
		slog.Warn("stdin_verification_failed", slog.String("error", err.Error()))
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	srv, cleanupSrv, err := buildMCPServer(ctx, root)
	if err != nil {
		return fmt.Errorf("failed to build MCP server: %w", err)
	}
	defer cleanupSrv()

	slog.Info("mcp_server_starting", slog.String("transport", transport), slog.String("root", root))
	return srv.Serve(ctx, transport, "")
}

// verifyStdinForMCP checks that stdin is a pipe, as the MCP stdio
// transport expects a client on the other end rather than an
// interactive terminal. BUG-035: running `retrievalcore serve`
// directly in a terminal produces a confusing silent hang without
// this check.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: the MCP stdio transport expects a client " +
			"to provide JSON-RPC requests over stdin (run this command from an MCP client, not interactively)")
	}
	return nil
}

// buildMCPServer wires the FTS Store/Indexing Engine/Hybrid
// Retriever/Assembler stack together, attaches it to the MCP server,
// and starts a file watcher in the background. Returns the server and
// a cleanup function that closes every opened resource.
func buildMCPServer(ctx context.Context, root string) (*mcp.Server, func(), error) {
	dataDir := filepath.Join(root, ".retrievalcore")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	mcpServer, err := mcp.NewServer(cfg, root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create MCP server: %w", err)
	}

	ftsBasePath := filepath.Join(dataDir, "retrieval")
	ftsStore, err := ftsstore.New(ftsBasePath, ftsstore.DefaultOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open FTS store: %w", err)
	}

	loader := &fileContentLoader{root: root}
	engineStack := indexing.New(ftsStore, loader, indexing.DefaultConfig())
	engineStack.Start(ctx)

	learner := bandit.New(bandit.DefaultConfig())
	extractor := feature.New(feature.DefaultConfig())
	hybrid := retriever.New(ftsStore, learner, extractor, nil, retriever.DefaultConfig())

	assemblerGatherer := assembler.GathererFunc(func(ctx context.Context, req assembler.Request) ([]*entry.SearchResult, error) {
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
	packAssembler, err := assembler.New(assembler.Gatherers{IndexSearch: assemblerGatherer}, assembler.DefaultConfig())
	if err != nil {
		_ = engineStack.Stop(context.Background())
		_ = ftsStore.Close()
		return nil, nil, fmt.Errorf("failed to create context pack assembler: %w", err)
	}

	mcpServer.SetIndexingEngine(engineStack)
	mcpServer.SetRetriever(hybrid)
	mcpServer.SetAssembler(packAssembler)

	startFileWatcher(ctx, root, engineStack)

	cleanup := func() {
		_ = engineStack.Stop(context.Background())
		_ = ftsStore.Close()
	}
	return mcpServer, cleanup, nil
}

// fileContentLoader resolves a watcher-reported path into an indexable
// Entry by reading it off disk relative to root.
type fileContentLoader struct {
	root string
}

func (l *fileContentLoader) Load(_ context.Context, path string, kind entry.Kind) (*entry.Entry, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(l.root, path)
	}
	body, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	return &entry.Entry{
		ID:    entry.NewEntryID(path),
		Kind:  kind,
		Title: filepath.Base(path),
		Body:  string(body),
		Path:  path,
	}, nil
}

// startFileWatcher starts watching root in the background and feeds
// change records into engine. BUG-035: the watcher's own startup
// (fsnotify registration across a large tree) can take seconds on slow
// filesystems; it must never block MCP server startup, so it runs in
// its own goroutine with its own bounded timeout, independent of ctx's
// caller.
func startFileWatcher(ctx context.Context, root string, engine *indexing.Engine) {
	timeout := 5 * time.Second
	if v := os.Getenv("RETRIEVALCORE_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	go func() {
		w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
		if err != nil {
			slog.Warn("watcher_init_failed", slog.String("error", err.Error()))
			return
		}

		startCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := w.Start(startCtx, root); err != nil {
			slog.Warn("watcher_start_failed", slog.String("error", err.Error()))
			return
		}
		defer func() { _ = w.Stop() }()

		slog.Debug("watcher_started", slog.String("root", root))

		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-w.Events():
				if !ok {
					return
				}
				changes := make([]indexing.ChangeRecord, 0, len(batch))
				for _, evt := range batch {
					if evt.IsDir {
						continue
					}
					changeType, ok := changeTypeFor(evt.Operation)
					if !ok {
						continue
					}
					changes = append(changes, indexing.ChangeRecord{
						ChangeType: changeType,
						Path:       evt.Path,
						Kind:       entry.KindCode,
						Timestamp:  evt.Timestamp,
					})
				}
				if len(changes) == 0 {
					continue
				}
				if err := engine.HandleContentChanges(ctx, changes); err != nil {
					slog.Warn("watcher_ingest_failed", slog.String("error", err.Error()))
				}
			case err, ok := <-w.Errors():
				if !ok {
					continue
				}
				slog.Warn("watcher_error", slog.String("error", err.Error()))
			}
		}
	}()
}

func changeTypeFor(op watcher.Operation) (string, bool) {
	switch op {
	case watcher.OpCreate, watcher.OpRename:
		return "created", true
	case watcher.OpModify:
		return "modified", true
	case watcher.OpDelete:
		return "deleted", true
	default:
		return "", false
	}
}

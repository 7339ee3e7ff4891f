package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ctxforge/retrievalcore/internal/assembler"
	"github.com/ctxforge/retrievalcore/internal/config"
	"github.com/ctxforge/retrievalcore/internal/indexing"
	"github.com/ctxforge/retrievalcore/internal/retriever"
	"github.com/ctxforge/retrievalcore/pkg/version"
)

// Server is the MCP server for RetrievalCore. It exposes the retrieval
// core (FTS store, retriever, assembler, indexing engine) to AI clients
// over the Model Context Protocol.
type Server struct {
	mcp    *mcp.Server
	config *config.Config
	logger *slog.Logger

	rootPath string

	// Retrieval core collaborators, attached via SetAssembler/
	// SetRetriever/SetIndexingEngine. Nil until set; the retrieval tool
	// group is registered lazily the first time any of them is attached.
	assembler           *assembler.Assembler
	retriever           *retriever.Retriever
	indexingEngine      *indexing.Engine
	retrievalToolsAdded bool

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a new MCP server for the project rooted at rootPath.
// Collaborators (assembler, retriever, indexing engine) are attached
// after construction via SetAssembler/SetRetriever/SetIndexingEngine,
// which register the retrieval tool group once any of them lands.
func NewServer(cfg *config.Config, rootPath string) (*Server, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "RetrievalCore",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	return s, nil
}

// SetAssembler attaches the Context Pack Assembler, registering the
// assemble_context tool the first time any of SetAssembler/SetRetriever/
// SetIndexingEngine is called.
func (s *Server) SetAssembler(a *assembler.Assembler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assembler = a
	s.registerRetrievalToolsLocked()
}

// SetRetriever attaches the Hybrid Retriever, registering the retrieve
// tool the first time any retrieval-core collaborator is attached.
func (s *Server) SetRetriever(r *retriever.Retriever) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retriever = r
	s.registerRetrievalToolsLocked()
}

// SetIndexingEngine attaches the Indexing Engine, registering the
// index_content and engine_stats tools the first time any
// retrieval-core collaborator is attached.
func (s *Server) SetIndexingEngine(e *indexing.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexingEngine = e
	s.registerRetrievalToolsLocked()
}

// registerRetrievalToolsLocked registers the retrieval tool group once,
// the first time any collaborator is attached. Each handler nil-checks
// its own collaborator so tools for collaborators not yet attached
// return a clear error instead of panicking.
func (s *Server) registerRetrievalToolsLocked() {
	if s.retrievalToolsAdded {
		return
	}
	s.retrievalToolsAdded = true
	s.registerRetrievalTools()
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "RetrievalCore", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	return true, false
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.retrievalToolsAdded {
		return nil
	}
	return s.retrievalToolInfos()
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "assemble_context", "retrieve", "index_content", "engine_stats":
		return s.handleRetrievalTool(ctx, name, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled.
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/server"

	"github.com/recallkit/recall-mcp/internal/embedder"
	"github.com/recallkit/recall-mcp/internal/lexical"
	"github.com/recallkit/recall-mcp/internal/reranker"
	"github.com/recallkit/recall-mcp/internal/searcher"
	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/internal/validator"
)

const (
	// ServerName is the MCP server name
	ServerName = "recall-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultDBPath is the default location for the memory database
	DefaultDBPath = "~/.recall"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	store     storage.Store
	searcher  *searcher.Searcher
	validator *validator.Validator
	lexical   *lexical.Retriever
	embedder  embedder.Embedder
	reranker  reranker.Reranker
	hasher    *validator.DirHasher
}

// NewServer creates a new MCP server instance
func NewServer(dbPath string) (*Server, error) {
	if dbPath == "" || dbPath == DefaultDBPath {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(home, ".recall")
	}

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	dbFile := filepath.Join(dbPath, "memory.db")

	store, err := storage.NewSQLiteStore(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	rr, err := reranker.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize reranker: %w", err)
	}

	lex := lexical.New(store)
	hasher := validator.NewDirHasher()
	val := validator.New(store, hasher)

	srch, err := searcher.New(store, lex, emb, rr, val, searcher.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize searcher: %w", err)
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:       mcpServer,
		store:     store,
		searcher:  srch,
		validator: val,
		lexical:   lex,
		embedder:  emb,
		reranker:  rr,
		hasher:    hasher,
	}

	s.registerTools()

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() { _ = s.Close() }()
	return server.ServeStdio(s.mcp)
}

// Close releases the server's backing resources: reranker, embedder,
// and store, in that order.
func (s *Server) Close() error {
	var errs []error
	if s.reranker != nil {
		if err := s.reranker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.embedder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchTool(), s.handleSearch)

	s.mcp.AddTool(saveNoteTool(), s.handleSaveNote)
	s.mcp.AddTool(saveInsightTool(), s.handleSaveInsight)
	s.mcp.AddTool(saveSessionSummaryTool(), s.handleSaveSessionSummary)

	s.mcp.AddTool(verifyInsightTool(), s.handleVerifyInsight)
	s.mcp.AddTool(deprecateInsightTool(), s.handleDeprecateInsight)

	s.mcp.AddTool(createInitiativeTool(), s.handleCreateInitiative)
	s.mcp.AddTool(listInitiativesTool(), s.handleListInitiatives)
	s.mcp.AddTool(focusInitiativeTool(), s.handleFocusInitiative)

	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

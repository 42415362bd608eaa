package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/recallkit/recall-mcp/internal/searcher"
	"github.com/recallkit/recall-mcp/internal/storage"
	"github.com/recallkit/recall-mcp/internal/validator"
	"github.com/recallkit/recall-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeRetrievalDown     = -32001 // No retrieval source could answer
	ErrorCodeInvalidTransition = -32002 // Lifecycle transition not permitted
	ErrorCodeInvalidReference  = -32003 // superseded_by does not resolve
	ErrorCodeNotFound          = -32004 // Requested entity does not exist
	ErrorCodeEmptyQuery        = -32005 // Query parameter is empty
)

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	repository := getStringDefault(args, "repository", "")
	branch := getStringDefault(args, "branch", "")

	topK := getIntDefault(args, "top_k", searcher.DefaultTopK)
	if topK < 1 || topK > 50 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k must be between 1 and 50", map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	typeFilter, err := parseTypeFilter(args)
	if err != nil {
		return nil, err
	}

	// A registered working tree enables read-time staleness checks on
	// insight results.
	if path := getStringDefault(args, "repository_path", ""); path != "" && repository != "" {
		if err := s.registerRepository(repository, path); err != nil {
			return nil, err
		}
	}

	req := searcher.Request{
		Query: types.Query{
			Text:              query,
			TypeFilter:        typeFilter,
			Repository:        repository,
			Branch:            branch,
			TopK:              topK,
			IncludeDeprecated: getBoolDefault(args, "include_deprecated", false),
		},
		SkipRerank: getBoolDefault(args, "skip_rerank", false),
	}

	resp, err := s.searcher.Search(ctx, req)
	if err != nil {
		if errors.Is(err, types.ErrAllRetrieversUnavailable) {
			return nil, newMCPError(ErrorCodeRetrievalDown, "no retrieval source could answer", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, len(resp.Results))
	for i, r := range resp.Results {
		entry := map[string]interface{}{
			"id":         r.Document.ID,
			"type":       string(r.Document.Type),
			"score":      r.Score,
			"text":       r.Document.Text,
			"repository": r.Document.Repository,
			"branch":     r.Document.Branch,
			"created_at": r.Document.CreatedAt.Format(time.RFC3339),
		}
		if r.Document.InitiativeID != "" {
			entry["initiative_id"] = r.Document.InitiativeID
		}
		if r.Insight != nil {
			entry["status"] = string(r.Insight.Status)
			entry["files"] = r.Insight.Files
			if r.Insight.Status == types.StatusNeedsVerification {
				entry["verification_hint"] = "this insight may be stale; re-check it and report with verify_insight"
			}
			if r.Insight.SupersededBy != "" {
				entry["superseded_by"] = r.Insight.SupersededBy
			}
		}
		results[i] = entry
	}

	response := map[string]interface{}{
		"results":      results,
		"degraded":     resp.Degraded,
		"reranked":     resp.Reranked,
		"lexical_used": resp.LexicalUsed,
		"vector_used":  resp.VectorUsed,
		"cache_hit":    resp.CacheHit,
		"duration_ms":  resp.Duration.Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSaveNote handles the save_note tool invocation
func (s *Server) handleSaveNote(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.saveDocument(ctx, request, types.TypeNote)
}

// handleSaveSessionSummary handles the save_session_summary tool invocation
func (s *Server) handleSaveSessionSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.saveDocument(ctx, request, types.TypeSessionSummary)
}

// saveDocument implements the shared save path for plain memory documents
func (s *Server) saveDocument(ctx context.Context, request mcp.CallToolRequest, docType types.DocumentType) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, repository, mcpErr := requireTextAndRepository(args)
	if mcpErr != nil {
		return nil, mcpErr
	}

	doc := s.newDocument(ctx, docType, text, repository, getStringDefault(args, "branch", ""))
	if err := s.store.PutDocument(ctx, doc); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to save document", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":   doc.ID,
		"type": string(doc.Type),
	})), nil
}

// handleSaveInsight handles the save_insight tool invocation
func (s *Server) handleSaveInsight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	text, repository, mcpErr := requireTextAndRepository(args)
	if mcpErr != nil {
		return nil, mcpErr
	}

	files := getStringSlice(args, "files")
	hashes := make(map[string]string, len(files))
	if len(files) > 0 {
		path := getStringDefault(args, "repository_path", "")
		if path == "" {
			return nil, newMCPError(ErrorCodeInvalidParams, "repository_path is required when files are given", map[string]interface{}{
				"param": "repository_path",
			})
		}
		if err := s.registerRepository(repository, path); err != nil {
			return nil, err
		}
		for _, f := range files {
			h, err := s.hasher.Hash(repository, f)
			if err != nil {
				return nil, newMCPError(ErrorCodeInvalidParams, "cannot hash anchored file", map[string]interface{}{
					"file":  f,
					"error": err.Error(),
				})
			}
			hashes[f] = h
		}
	}

	ins := &types.Insight{
		Document:   *s.newDocument(ctx, types.TypeInsight, text, repository, getStringDefault(args, "branch", "")),
		Files:      files,
		FileHashes: hashes,
		Status:     types.StatusActive,
	}
	if err := s.store.PutInsight(ctx, ins); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to save insight", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":     ins.ID,
		"type":   string(types.TypeInsight),
		"status": string(ins.Status),
		"files":  files,
	})), nil
}

// newDocument builds a document with a fresh id, an embedding when the
// backend is reachable, and the focused initiative stamp.
func (s *Server) newDocument(ctx context.Context, docType types.DocumentType, text, repository, branch string) *types.Document {
	doc := &types.Document{
		ID:         storage.NewDocumentID(docType),
		Type:       docType,
		Text:       text,
		Repository: repository,
		Branch:     branch,
		CreatedAt:  time.Now().UTC(),
	}

	// Embedding failures degrade the document to lexical-only retrieval
	// rather than failing the save.
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("save without embedding: %v", err)
	} else {
		doc.Embedding = vec
	}

	if init, err := s.store.FocusedInitiative(ctx, repository); err == nil {
		doc.InitiativeID = init.ID
	}

	return doc
}

// handleVerifyInsight handles the verify_insight tool invocation
func (s *Server) handleVerifyInsight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, ok := args["insight_id"].(string)
	if !ok || id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "insight_id parameter is required", map[string]interface{}{
			"param":  "insight_id",
			"reason": "missing or empty",
		})
	}
	result := getStringDefault(args, "result", "")
	if !types.IsValidValidationResult(result) {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid result", map[string]interface{}{
			"param":   "result",
			"value":   result,
			"allowed": []string{"still_valid", "partially_valid", "no_longer_valid"},
		})
	}

	// Hash refresh needs a working tree; register it against the
	// insight's repository when provided.
	if path := getStringDefault(args, "repository_path", ""); path != "" {
		ins, err := s.store.GetInsight(ctx, id)
		if err != nil {
			return nil, mapLifecycleError(err, "verify failed")
		}
		if err := s.registerRepository(ins.Repository, path); err != nil {
			return nil, err
		}
	}

	ins, err := s.validator.Verify(ctx, id, validator.VerifyRequest{
		Result:         types.ValidationResult(result),
		Notes:          getStringDefault(args, "notes", ""),
		ConfirmedFiles: getStringSlice(args, "confirmed_files"),
	})
	if err != nil {
		return nil, mapLifecycleError(err, "verify failed")
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":     ins.ID,
		"status": string(ins.Status),
		"result": string(ins.LastValidation),
	})), nil
}

// handleDeprecateInsight handles the deprecate_insight tool invocation
func (s *Server) handleDeprecateInsight(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, ok := args["insight_id"].(string)
	if !ok || id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "insight_id parameter is required", map[string]interface{}{
			"param":  "insight_id",
			"reason": "missing or empty",
		})
	}
	reason, ok := args["reason"].(string)
	if !ok || reason == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "reason parameter is required", map[string]interface{}{
			"param":  "reason",
			"reason": "missing or empty",
		})
	}

	ins, err := s.validator.Deprecate(ctx, id, reason, getStringDefault(args, "superseded_by", ""))
	if err != nil {
		return nil, mapLifecycleError(err, "deprecate failed")
	}
	s.searcher.InvalidateCache()

	response := map[string]interface{}{
		"id":            ins.ID,
		"status":        string(ins.Status),
		"deprecated_at": ins.DeprecatedAt.Format(time.RFC3339),
	}
	if ins.SupersededBy != "" {
		response["superseded_by"] = ins.SupersededBy
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCreateInitiative handles the create_initiative tool invocation
func (s *Server) handleCreateInitiative(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}
	repository, ok := args["repository"].(string)
	if !ok || repository == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repository parameter is required", map[string]interface{}{
			"param":  "repository",
			"reason": "missing or empty",
		})
	}

	now := time.Now().UTC()
	init := &types.Initiative{
		ID:         storage.NewDocumentID(types.TypeInitiative),
		Name:       name,
		Repository: repository,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateInitiative(ctx, init); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to create initiative", map[string]interface{}{
			"error": err.Error(),
		})
	}

	if getBoolDefault(args, "focus", false) {
		if err := s.store.FocusInitiative(ctx, repository, init.ID); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "initiative created but focus failed", map[string]interface{}{
				"id":    init.ID,
				"error": err.Error(),
			})
		}
		init.IsFocused = true
		s.searcher.InvalidateCache()
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"id":      init.ID,
		"name":    init.Name,
		"focused": init.IsFocused,
	})), nil
}

// handleListInitiatives handles the list_initiatives tool invocation
func (s *Server) handleListInitiatives(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, ok := args["repository"].(string)
	if !ok || repository == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repository parameter is required", map[string]interface{}{
			"param":  "repository",
			"reason": "missing or empty",
		})
	}

	inits, err := s.store.ListInitiatives(ctx, repository)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list initiatives", map[string]interface{}{
			"error": err.Error(),
		})
	}

	entries := make([]map[string]interface{}, len(inits))
	for i, init := range inits {
		entries[i] = map[string]interface{}{
			"id":         init.ID,
			"name":       init.Name,
			"focused":    init.IsFocused,
			"created_at": init.CreatedAt.Format(time.RFC3339),
		}
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"initiatives": entries,
	})), nil
}

// handleFocusInitiative handles the focus_initiative tool invocation
func (s *Server) handleFocusInitiative(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repository, ok := args["repository"].(string)
	if !ok || repository == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repository parameter is required", map[string]interface{}{
			"param":  "repository",
			"reason": "missing or empty",
		})
	}
	id, ok := args["initiative_id"].(string)
	if !ok || id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "initiative_id parameter is required", map[string]interface{}{
			"param":  "initiative_id",
			"reason": "missing or empty",
		})
	}

	if err := s.store.FocusInitiative(ctx, repository, id); err != nil {
		return nil, mapLifecycleError(err, "focus failed")
	}
	s.searcher.InvalidateCache()

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"focused": id,
	})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	counts, err := s.store.CountsByType(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	version, err := s.store.Version(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read store version", map[string]interface{}{
			"error": err.Error(),
		})
	}

	countsByName := make(map[string]interface{}, len(counts))
	total := 0
	for t, n := range counts {
		countsByName[string(t)] = n
		total += n
	}

	response := map[string]interface{}{
		"documents": map[string]interface{}{
			"total":   total,
			"by_type": countsByName,
			"version": version,
		},
		"lexical_index": map[string]interface{}{
			"built_version": s.lexical.BuiltVersion(),
			"current":       s.lexical.BuiltVersion() == version,
		},
		"embedding": map[string]interface{}{
			"provider":  s.embedder.Provider(),
			"dimension": s.embedder.Dimension(),
		},
		"storage": map[string]interface{}{
			"driver":           storage.BuildMode,
			"vector_extension": storage.VectorExtensionAvailable,
		},
		"reranker_configured": s.reranker != nil,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// registerRepository maps a repository name to its working tree root
func (s *Server) registerRepository(repository, path string) error {
	if !filepath.IsAbs(path) {
		return newMCPError(ErrorCodeInvalidParams, "repository_path must be absolute", map[string]interface{}{
			"param": "repository_path",
			"value": path,
		})
	}
	s.hasher.Register(repository, path)
	return nil
}

// requireTextAndRepository extracts the common save parameters
func requireTextAndRepository(args map[string]interface{}) (text, repository string, err error) {
	text, ok := args["text"].(string)
	if !ok || text == "" {
		return "", "", newMCPError(ErrorCodeInvalidParams, "text parameter is required", map[string]interface{}{
			"param":  "text",
			"reason": "missing or empty",
		})
	}
	repository, ok = args["repository"].(string)
	if !ok || repository == "" {
		return "", "", newMCPError(ErrorCodeInvalidParams, "repository parameter is required", map[string]interface{}{
			"param":  "repository",
			"reason": "missing or empty",
		})
	}
	return text, repository, nil
}

// parseTypeFilter resolves type_filter or, failing that, a preset
func parseTypeFilter(args map[string]interface{}) ([]types.DocumentType, error) {
	if raw := getStringSlice(args, "type_filter"); len(raw) > 0 {
		filter := make([]types.DocumentType, len(raw))
		for i, name := range raw {
			if !types.IsValidDocumentType(name) {
				return nil, newMCPError(ErrorCodeInvalidParams, "unknown document type in type_filter", map[string]interface{}{
					"param": "type_filter",
					"value": name,
				})
			}
			filter[i] = types.DocumentType(name)
		}
		return filter, nil
	}

	if preset := getStringDefault(args, "preset", ""); preset != "" {
		filter, ok := types.SearchPresets[preset]
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "unknown preset", map[string]interface{}{
				"param": "preset",
				"value": preset,
			})
		}
		return filter, nil
	}
	return nil, nil
}

// mapLifecycleError translates domain errors to MCP error codes
func mapLifecycleError(err error, message string) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrInvalidTransition):
		return newMCPError(ErrorCodeInvalidTransition, message, data)
	case errors.Is(err, types.ErrInvalidReference):
		return newMCPError(ErrorCodeInvalidReference, message, data)
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeNotFound, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
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

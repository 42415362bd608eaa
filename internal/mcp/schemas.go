package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/recallkit/recall-mcp/pkg/types"
)

func documentTypeNames() []string {
	names := make([]string, len(types.AllDocumentTypes))
	for i, t := range types.AllDocumentTypes {
		names[i] = string(t)
	}
	return names
}

func presetNames() []string {
	names := make([]string, 0, len(types.SearchPresets))
	for name := range types.SearchPresets {
		names = append(names, name)
	}
	return names
}

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search stored memory: insights, notes, session summaries, and structural code knowledge",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository name to scope the search to",
				},
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Current branch; structural results are scoped to it (plus the default branch)",
				},
				"type_filter": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these document types",
					"items": map[string]interface{}{
						"type": "string",
						"enum": documentTypeNames(),
					},
				},
				"preset": map[string]interface{}{
					"type":        "string",
					"description": "Named type-filter bundle; ignored when type_filter is given",
					"enum":        presetNames(),
				},
				"top_k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-50)",
					"default":     5,
					"minimum":     1,
					"maximum":     50,
				},
				"include_deprecated": map[string]interface{}{
					"type":        "boolean",
					"description": "Include deprecated insights in results",
					"default":     false,
				},
				"skip_rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Bypass the cross-encoder rerank stage",
					"default":     false,
				},
				"repository_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository working tree, enabling staleness checks on insight results",
				},
			},
			Required: []string{"query"},
		},
	}
}

// saveNoteTool returns the tool definition for save_note
func saveNoteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_note",
		Description: "Save a freeform note to memory",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Note content",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the note belongs to",
				},
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Branch the note was written on",
				},
			},
			Required: []string{"text", "repository"},
		},
	}
}

// saveInsightTool returns the tool definition for save_insight
func saveInsightTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_insight",
		Description: "Save a validated understanding anchored to specific files; file hashes are recorded for staleness detection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "The insight content",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the insight describes",
				},
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Branch the insight was formed on",
				},
				"files": map[string]interface{}{
					"type":        "array",
					"description": "Repository-relative paths the insight depends on",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"repository_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository working tree; required when files are given",
				},
			},
			Required: []string{"text", "repository"},
		},
	}
}

// saveSessionSummaryTool returns the tool definition for save_session_summary
func saveSessionSummaryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "save_session_summary",
		Description: "Save a summary of the current working session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Session summary content",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the session worked on",
				},
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Branch the session worked on",
				},
			},
			Required: []string{"text", "repository"},
		},
	}
}

// verifyInsightTool returns the tool definition for verify_insight
func verifyInsightTool() mcp.Tool {
	return mcp.Tool{
		Name:        "verify_insight",
		Description: "Record the outcome of re-checking an insight flagged for verification",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"insight_id": map[string]interface{}{
					"type":        "string",
					"description": "Insight to verify",
				},
				"result": map[string]interface{}{
					"type":        "string",
					"description": "Verification outcome",
					"enum":        []string{"still_valid", "partially_valid", "no_longer_valid"},
				},
				"notes": map[string]interface{}{
					"type":        "string",
					"description": "What was checked and what was found",
				},
				"confirmed_files": map[string]interface{}{
					"type":        "array",
					"description": "For partially_valid: the anchored files that were re-checked and confirmed",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"repository_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the repository working tree, needed to refresh file hashes",
				},
			},
			Required: []string{"insight_id", "result"},
		},
	}
}

// deprecateInsightTool returns the tool definition for deprecate_insight
func deprecateInsightTool() mcp.Tool {
	return mcp.Tool{
		Name:        "deprecate_insight",
		Description: "Retire an insight that no longer holds, optionally pointing at its replacement",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"insight_id": map[string]interface{}{
					"type":        "string",
					"description": "Insight to deprecate",
				},
				"reason": map[string]interface{}{
					"type":        "string",
					"description": "Why the insight no longer holds",
				},
				"superseded_by": map[string]interface{}{
					"type":        "string",
					"description": "Id of the insight that replaces this one",
				},
			},
			Required: []string{"insight_id", "reason"},
		},
	}
}

// createInitiativeTool returns the tool definition for create_initiative
func createInitiativeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "create_initiative",
		Description: "Create a named workstream; documents saved while it is focused are tagged with it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Initiative name",
				},
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the initiative belongs to",
				},
				"focus": map[string]interface{}{
					"type":        "boolean",
					"description": "Focus the initiative immediately after creating it",
					"default":     false,
				},
			},
			Required: []string{"name", "repository"},
		},
	}
}

// listInitiativesTool returns the tool definition for list_initiatives
func listInitiativesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_initiatives",
		Description: "List initiatives for a repository",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository to list initiatives for",
				},
			},
			Required: []string{"repository"},
		},
	}
}

// focusInitiativeTool returns the tool definition for focus_initiative
func focusInitiativeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "focus_initiative",
		Description: "Focus one initiative per repository; search boosts documents tagged with it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repository": map[string]interface{}{
					"type":        "string",
					"description": "Repository the initiative belongs to",
				},
				"initiative_id": map[string]interface{}{
					"type":        "string",
					"description": "Initiative to focus",
				},
			},
			Required: []string{"repository", "initiative_id"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report memory store statistics and retrieval health",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

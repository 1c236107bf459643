package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/persona/internal/analysis"
	"github.com/kalambet/persona/internal/storage"
)

const recentMediaLimit = 10

// NewMCPServer creates an MCP server exposing media analysis tools and the
// recently analysed media resource.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"persona",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("persona: inspect media records, trigger and retry personality-signal analysis."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("get_media",
			mcp.WithDescription("Fetch one media record with its analysis status, payload and error."),
			mcp.WithString("media_id", mcp.Description("Media record id"), mcp.Required()),
		),
		mcpGetMedia(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_analysis",
			mcp.WithDescription("Start analysis of a pending media record. Runs asynchronously; poll get_media for the outcome."),
			mcp.WithString("media_id", mcp.Description("Media record id"), mcp.Required()),
		),
		mcpTriggerAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_analysis",
			mcp.WithDescription("Return a failed media record to pending so it can be triggered again."),
			mcp.WithString("media_id", mcp.Description("Media record id"), mcp.Required()),
		),
		mcpResetAnalysis(deps),
	)

	s.AddTool(
		mcp.NewTool("get_subject",
			mcp.WithDescription("Fetch a subject with its media records."),
			mcp.WithString("subject_id", mcp.Description("Subject id"), mcp.Required()),
		),
		mcpGetSubject(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"media://recent",
			"Recently Analysed Media",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d media records that finished analysis", recentMediaLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpGetMedia(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("media_id")
		if err != nil {
			return mcpError("media_id is required"), nil
		}

		m, err := deps.Store.GetMedia(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("media %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get media: %v", err)), nil
		}
		return mcpJSON(toMediaResponse(m, nil))
	}
}

func mcpTriggerAnalysis(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("media_id")
		if err != nil {
			return mcpError("media_id is required"), nil
		}

		m, err := deps.Analysis.Trigger(ctx, id)
		if err != nil {
			return mcpAnalysisError(err), nil
		}
		return mcpText(fmt.Sprintf("Analysis of media %s is processing", m.ID)), nil
	}
}

func mcpResetAnalysis(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("media_id")
		if err != nil {
			return mcpError("media_id is required"), nil
		}

		m, err := deps.Analysis.ResetForRetry(ctx, id)
		if err != nil {
			return mcpAnalysisError(err), nil
		}
		return mcpText(fmt.Sprintf("Media %s reset to %s", m.ID, m.Status)), nil
	}
}

func mcpGetSubject(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("subject_id")
		if err != nil {
			return mcpError("subject_id is required"), nil
		}

		sub, err := deps.Store.GetSubject(id)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("subject %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get subject: %v", err)), nil
		}
		media, err := deps.Store.ListMediaByOwner(id, "")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list media: %v", err)), nil
		}

		out := struct {
			subjectResponse
			Media []mediaResponse `json:"media"`
		}{subjectResponse: toSubjectResponse(sub), Media: make([]mediaResponse, len(media))}
		for i, m := range media {
			out.Media[i] = toMediaResponse(m, nil)
		}
		return mcpJSON(out)
	}
}

func mcpResourceRecent(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		media, err := deps.Store.ListRecentlyAnalysed(recentMediaLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent media: %w", err)
		}

		type mediaSummary struct {
			ID          string `json:"id"`
			OwnerID     string `json:"owner_id"`
			MediaType   string `json:"media_type"`
			Status      string `json:"status"`
			Provider    string `json:"provider,omitempty"`
			Error       string `json:"error,omitempty"`
			CompletedAt string `json:"completed_at,omitempty"`
		}

		summaries := make([]mediaSummary, len(media))
		for i, m := range media {
			summaries[i] = mediaSummary{
				ID:        m.ID,
				OwnerID:   m.OwnerID,
				MediaType: string(m.Type),
				Status:    string(m.Status),
				Provider:  m.Provider,
				Error:     m.Error,
			}
			if !m.CompletedAt.IsZero() {
				summaries[i].CompletedAt = m.CompletedAt.UTC().Format(time.RFC3339)
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal media: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpAnalysisError(err error) *mcp.CallToolResult {
	if kind := analysis.KindOf(err); kind != "" {
		return mcpError(fmt.Sprintf("%s: %v", kind, err))
	}
	return mcpError(fmt.Sprintf("analysis request failed: %v", err))
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

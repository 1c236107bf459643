package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/persona/internal/storage"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newMCPEnv(t *testing.T) *testEnv {
	t.Helper()
	env := setupHandler(t)
	env.createSubject(t, "u-1", "Ada")
	if err := env.store.CreateMedia(storage.Media{ID: "m-1", OwnerID: "u-1", Type: storage.MediaImage, StoragePath: "images/u-1/a.jpg", ContentType: "image/jpeg"}); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	return env
}

// --- tests ---

func TestMCPTool_GetMedia(t *testing.T) {
	env := newMCPEnv(t)
	handler := mcpGetMedia(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_media", map[string]interface{}{"media_id": "m-1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &m); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if m["id"] != "m-1" || m["status"] != "pending" {
		t.Errorf("media = %v", m)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_media", map[string]interface{}{"media_id": "nope"}))
	if !result.IsError {
		t.Error("expected tool error for unknown media")
	}
	result, _ = handler(context.Background(), makeCallToolRequest("get_media", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected tool error for missing media_id")
	}
}

func TestMCPTool_TriggerAnalysis(t *testing.T) {
	env := newMCPEnv(t)
	handler := mcpTriggerAnalysis(env.deps)
	req := makeCallToolRequest("trigger_analysis", map[string]interface{}{"media_id": "m-1"})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "processing") {
		t.Errorf("text = %q", toolText(t, result))
	}

	result, _ = handler(context.Background(), req)
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "conflict:") {
		t.Errorf("second trigger = %+v, want conflict error", result)
	}
}

func TestMCPTool_ResetAnalysis(t *testing.T) {
	env := newMCPEnv(t)
	handler := mcpResetAnalysis(env.deps)
	req := makeCallToolRequest("reset_analysis", map[string]interface{}{"media_id": "m-1"})

	result, _ := handler(context.Background(), req)
	if !result.IsError || !strings.HasPrefix(toolText(t, result), "invalid_state:") {
		t.Fatalf("reset of pending = %+v, want invalid_state", result)
	}

	if _, err := env.deps.Analysis.Trigger(context.Background(), "m-1"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := env.store.FailAnalysis("m-1", "boom", "detail"); err != nil {
		t.Fatalf("FailAnalysis: %v", err)
	}

	result, _ = handler(context.Background(), req)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	m, _ := env.store.GetMedia("m-1")
	if m.Status != storage.StatusPending {
		t.Errorf("status = %s, want pending", m.Status)
	}
}

func TestMCPTool_GetSubject(t *testing.T) {
	env := newMCPEnv(t)
	handler := mcpGetSubject(env.deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_subject", map[string]interface{}{"subject_id": "u-1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sub struct {
		Name  string           `json:"name"`
		Media []map[string]any `json:"media"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &sub); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if sub.Name != "Ada" || len(sub.Media) != 1 {
		t.Errorf("subject = %+v", sub)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("get_subject", map[string]interface{}{"subject_id": "ghost"}))
	if !result.IsError {
		t.Error("expected tool error for unknown subject")
	}
}

func TestMCPResource_Recent(t *testing.T) {
	env := newMCPEnv(t)
	if _, err := env.deps.Analysis.Trigger(context.Background(), "m-1"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if err := env.store.FailAnalysis("m-1", "boom", "detail"); err != nil {
		t.Fatalf("FailAnalysis: %v", err)
	}

	handler := mcpResourceRecent(env.deps)
	contents, err := handler(context.Background(), mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "media://recent"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	text := contents[0].(mcp.TextResourceContents).Text

	var items []map[string]any
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		t.Fatalf("failed to parse resource: %v", err)
	}
	if len(items) != 1 || items[0]["status"] != "failed" || items[0]["error"] != "boom" {
		t.Errorf("items = %v", items)
	}
}

package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dev2prod/concierge/internal/storage"
)

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", result.Content[0])
	}
	return tc.Text
}

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	_, s, p := newTestHandler(t)
	return MCPDeps{Pipeline: p}, s
}

func TestMCPTool_ListEscalations(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	c := escalatedConversation(t, store, 1)

	result, err := mcpListEscalations(deps)(context.Background(), makeCallToolRequest("list_escalations", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var items []conversationJSON
	if err := json.Unmarshal([]byte(toolText(t, result)), &items); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(items) != 1 || items[0].ID != c.ID {
		t.Fatalf("items = %+v", items)
	}
}

func TestMCPTool_ClaimAndConflict(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	c := escalatedConversation(t, store, 1)

	handler := mcpClaim(deps)
	result, err := handler(context.Background(), makeCallToolRequest("claim_conversation", map[string]interface{}{
		"conversation_id": c.ID,
		"agent_id":        "alice",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("claim failed: %s", toolText(t, result))
	}
	if text := toolText(t, result); !strings.HasPrefix(text, "Claimed.") {
		t.Fatalf("unexpected response: %s", text)
	}

	result, err = handler(context.Background(), makeCallToolRequest("claim_conversation", map[string]interface{}{
		"conversation_id": c.ID,
		"agent_id":        "bob",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected conflict error")
	}
	if text := toolText(t, result); !strings.Contains(text, "alice") {
		t.Fatalf("conflict should name the owner: %s", text)
	}
}

func TestMCPTool_ReplyRequiresClaim(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	c := escalatedConversation(t, store, 1)

	result, err := mcpReply(deps)(context.Background(), makeCallToolRequest("reply", map[string]interface{}{
		"conversation_id": c.ID,
		"agent_id":        "alice",
		"text":            "hello from support",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("reply without claim should error")
	}
}

func TestMCPTool_ReleaseResolve(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	c := escalatedConversation(t, store, 1)

	if _, err := mcpClaim(deps)(context.Background(), makeCallToolRequest("claim_conversation", map[string]interface{}{
		"conversation_id": c.ID,
		"agent_id":        "alice",
	})); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result, err := mcpRelease(deps)(context.Background(), makeCallToolRequest("release_conversation", map[string]interface{}{
		"conversation_id": c.ID,
		"agent_id":        "alice",
		"resolve":         true,
	}))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if result.IsError {
		t.Fatalf("release failed: %s", toolText(t, result))
	}

	got, err := store.GetConversation(c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.StatusClosed {
		t.Errorf("status = %s, want closed", got.Status)
	}
}

func TestMCPResource_Escalations(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	escalatedConversation(t, store, 1)

	contents, err := mcpResourceEscalations(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "concierge://escalations"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %+v", contents)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents[0] is %T", contents[0])
	}
	var items []conversationJSON
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
}

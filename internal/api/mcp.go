package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dev2prod/concierge/internal/arbiter"
	"github.com/dev2prod/concierge/internal/pipeline"
	"github.com/dev2prod/concierge/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline *pipeline.Pipeline
}

// NewMCPServer registers the agent-side tools so support staff can work the
// escalation queue from MCP-capable clients.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"concierge",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("concierge — support bot escalation queue: list, claim, and answer conversations waiting for a human."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_escalations",
			mcp.WithDescription("List conversations escalated to human agents, oldest first, with claim status."),
		),
		mcpListEscalations(deps),
	)

	s.AddTool(
		mcp.NewTool("claim_conversation",
			mcp.WithDescription("Claim an escalated conversation. Returns the hand-off summary on success; exactly one agent can hold a claim."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to claim"), mcp.Required()),
			mcp.WithString("agent_id", mcp.Description("Your agent identifier"), mcp.Required()),
		),
		mcpClaim(deps),
	)

	s.AddTool(
		mcp.NewTool("release_conversation",
			mcp.WithDescription("Release a claimed conversation. With resolve=true the conversation closes; otherwise the bot resumes."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to release"), mcp.Required()),
			mcp.WithString("agent_id", mcp.Description("Your agent identifier"), mcp.Required()),
			mcp.WithBoolean("resolve", mcp.Description("Close the conversation instead of handing it back to the bot")),
		),
		mcpRelease(deps),
	)

	s.AddTool(
		mcp.NewTool("reply",
			mcp.WithDescription("Send a message to the user in a conversation you have claimed."),
			mcp.WithString("conversation_id", mcp.Description("Conversation to reply in"), mcp.Required()),
			mcp.WithString("agent_id", mcp.Description("Your agent identifier"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
		),
		mcpReply(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"concierge://escalations",
			"Escalation Queue",
			mcp.WithResourceDescription("Conversations waiting for a human agent, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceEscalations(deps),
	)

	return s
}

func escalationListJSON(deps MCPDeps) ([]byte, error) {
	items, err := deps.Pipeline.EscalationQueue()
	if err != nil {
		return nil, err
	}
	out := make([]conversationJSON, 0, len(items))
	for _, it := range items {
		out = append(out, toConversationJSON(it.Conversation, it.Owner))
	}
	return json.Marshal(out)
}

func mcpListEscalations(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := escalationListJSON(deps)
		if err != nil {
			return mcpError(fmt.Sprintf("listing escalations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClaim(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}

		res, summary, err := deps.Pipeline.Claim(ctx, conversationID, agentID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError("conversation not found"), nil
		case errors.Is(err, pipeline.ErrNotEscalated):
			return mcpError("conversation is not escalated"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("claiming: %v", err)), nil
		}

		if res.Outcome == arbiter.Conflict {
			return mcpError(fmt.Sprintf("already claimed by %s", res.Owner)), nil
		}
		return mcpText(fmt.Sprintf("Claimed.\n\n%s", summary)), nil
	}
}

func mcpRelease(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}
		resolve := req.GetBool("resolve", false)

		res, err := deps.Pipeline.Release(ctx, conversationID, agentID, resolve)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError("conversation not found"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("releasing: %v", err)), nil
		}

		if res.Outcome != arbiter.Released {
			if res.Owner == "" {
				return mcpError("conversation is not claimed"), nil
			}
			return mcpError(fmt.Sprintf("claimed by %s, not you", res.Owner)), nil
		}
		if resolve {
			return mcpText("Released and closed."), nil
		}
		return mcpText("Released; the bot has resumed the conversation."), nil
	}
}

func mcpReply(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversationID, err := req.RequireString("conversation_id")
		if err != nil {
			return mcpError("conversation_id is required"), nil
		}
		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return mcpError("agent_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		err = deps.Pipeline.AgentReply(ctx, conversationID, agentID, text)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return mcpError("conversation not found"), nil
		case errors.Is(err, pipeline.ErrNotOwner):
			return mcpError("claim the conversation before replying"), nil
		case err != nil:
			return mcpError(fmt.Sprintf("replying: %v", err)), nil
		}
		return mcpText("Sent."), nil
	}
}

func mcpResourceEscalations(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := escalationListJSON(deps)
		if err != nil {
			return nil, fmt.Errorf("listing escalations: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "concierge://escalations",
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
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

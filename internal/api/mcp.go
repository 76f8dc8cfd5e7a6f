package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/webdriver"
)

// MCPMemory abstracts the memory manager for the MCP layer.
type MCPMemory interface {
	Retrieve(ctx context.Context, q memory.RetrievalQuery) ([]memory.RetrievedMemory, error)
	Put(item memory.MemoryItem) string
}

// MCPDriver abstracts the driver service.
type MCPDriver interface {
	State() webdriver.State
	Err() error
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Memory  MCPMemory
	Driver  MCPDriver // optional
	AgentID string
}

// NewMCPServer creates an MCP server exposing the agent's memory and
// driver state as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"agentcore",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("agentcore: episodic and semantic memory for a browser automation agent."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("memory_search",
			mcp.WithDescription("Semantically search the agent's memory and return relevant items."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("namespace", mcp.Description("Namespace path, slash-separated (default: agent's semantic memory)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpMemorySearch(deps),
	)

	s.AddTool(
		mcp.NewTool("store_knowledge",
			mcp.WithDescription("Store a fact into the agent's semantic memory for later retrieval."),
			mcp.WithString("text", mcp.Description("The fact to remember"), mcp.Required()),
			mcp.WithString("source", mcp.Description("Where the fact came from")),
		),
		mcpStoreKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("driver_status",
			mcp.WithDescription("Report the WebDriver lifecycle state."),
		),
		mcpDriverStatus(deps),
	)

	return s
}

func mcpMemorySearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		ns := memory.NS(deps.AgentID, memory.NamespaceSemantic)
		if path := req.GetString("namespace", ""); path != "" {
			ns = memory.NS(strings.Split(path, "/")...)
		}

		results, err := deps.Memory.Retrieve(ctx, memory.RetrievalQuery{
			Namespace: ns,
			Query:     query,
			K:         limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type item struct {
			ID    string  `json:"id"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		out := make([]item, len(results))
		for i, r := range results {
			out[i] = item{ID: r.ID, Text: r.Text, Score: r.Score}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpStoreKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		md := map[string]string{"type": "knowledge"}
		if source := req.GetString("source", ""); source != "" {
			md["source"] = source
		}

		id := deps.Memory.Put(memory.MemoryItem{
			Namespace: memory.NS(deps.AgentID, memory.NamespaceSemantic),
			Text:      text,
			Metadata:  md,
		})
		return mcpText(fmt.Sprintf("Stored memory item %s", id)), nil
	}
}

func mcpDriverStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Driver == nil {
			return mcpText(`{"state":"disabled"}`), nil
		}
		out := map[string]string{"state": string(deps.Driver.State())}
		if err := deps.Driver.Err(); err != nil {
			out["error"] = err.Error()
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/webdriver"
)

// --- mocks ---

type mockMemory struct {
	results []memory.RetrievedMemory
	err     error
	stored  []memory.MemoryItem
}

func (m *mockMemory) Retrieve(_ context.Context, _ memory.RetrievalQuery) ([]memory.RetrievedMemory, error) {
	return m.results, m.err
}

func (m *mockMemory) Put(item memory.MemoryItem) string {
	m.stored = append(m.stored, item)
	return "item-1"
}

type mockDriver struct {
	state webdriver.State
	err   error
}

func (m *mockDriver) State() webdriver.State { return m.state }
func (m *mockDriver) Err() error             { return m.err }

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content blocks = %d", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T", res.Content[0])
	}
	return tc.Text
}

// --- tests ---

func TestMCPMemorySearch(t *testing.T) {
	mem := &mockMemory{results: []memory.RetrievedMemory{
		{ID: "a", Text: "login needs 2fa", Score: 0.91},
	}}
	handler := mcpMemorySearch(MCPDeps{Memory: mem, AgentID: "agent-1"})

	res, err := handler(context.Background(), makeCallToolRequest("memory_search", map[string]any{
		"query": "login",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}

	var items []struct {
		ID    string  `json:"id"`
		Text  string  `json:"text"`
		Score float32 `json:"score"`
	}
	if err := json.Unmarshal([]byte(toolText(t, res)), &items); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(items) != 1 || items[0].Text != "login needs 2fa" {
		t.Fatalf("items = %+v", items)
	}
}

func TestMCPMemorySearchMissingQuery(t *testing.T) {
	handler := mcpMemorySearch(MCPDeps{Memory: &mockMemory{}, AgentID: "agent-1"})
	res, err := handler(context.Background(), makeCallToolRequest("memory_search", map[string]any{}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("missing query should report a tool error")
	}
}

func TestMCPMemorySearchFailure(t *testing.T) {
	handler := mcpMemorySearch(MCPDeps{Memory: &mockMemory{err: errors.New("backend down")}, AgentID: "agent-1"})
	res, err := handler(context.Background(), makeCallToolRequest("memory_search", map[string]any{
		"query": "anything",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !res.IsError {
		t.Fatal("backend failure should report a tool error")
	}
}

func TestMCPStoreKnowledge(t *testing.T) {
	mem := &mockMemory{}
	handler := mcpStoreKnowledge(MCPDeps{Memory: mem, AgentID: "agent-1"})

	res, err := handler(context.Background(), makeCallToolRequest("store_knowledge", map[string]any{
		"text":   "shop requires login before checkout",
		"source": "operator",
	}))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %s", toolText(t, res))
	}
	if len(mem.stored) != 1 {
		t.Fatalf("stored %d items", len(mem.stored))
	}
	item := mem.stored[0]
	wantKey := memory.NS("agent-1", memory.NamespaceSemantic).Key()
	if item.Namespace.Key() != wantKey {
		t.Errorf("namespace = %q, want %q", item.Namespace.Key(), wantKey)
	}
	if item.Metadata["source"] != "operator" {
		t.Errorf("metadata = %v", item.Metadata)
	}
}

func TestMCPDriverStatus(t *testing.T) {
	handler := mcpDriverStatus(MCPDeps{Driver: &mockDriver{state: webdriver.StateReady}})
	res, err := handler(context.Background(), makeCallToolRequest("driver_status", nil))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(toolText(t, res)), &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out["state"] != "ready" {
		t.Fatalf("state = %q", out["state"])
	}

	// Without a driver the tool degrades, it does not error.
	handler = mcpDriverStatus(MCPDeps{})
	res, err = handler(context.Background(), makeCallToolRequest("driver_status", nil))
	if err != nil || res.IsError {
		t.Fatalf("disabled driver: err=%v isError=%v", err, res.IsError)
	}
}

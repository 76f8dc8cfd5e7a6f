package manager

import (
	"context"
	"testing"
	"time"

	"github.com/ecanhq/agentcore/internal/embedding"
	"github.com/ecanhq/agentcore/internal/memory"
	"github.com/ecanhq/agentcore/internal/vector"
)

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	opener := func(emb embedding.Embedder) (vector.Factory, error) {
		return vector.NewSQLiteFactory(":memory:", emb)
	}
	m, err := New("agent-test", embedding.Config{Provider: "fake"}, opener, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := m.Stop(context.Background()); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return m
}

func TestIngestStampsMetadata(t *testing.T) {
	m := newTestManager(t, Options{CollectionPrefix: "test_"})
	ctx := context.Background()
	ns := memory.NS("agent-test", "semantic")

	id := m.Put(memory.MemoryItem{
		Namespace: ns,
		Text:      "always wait for the page to settle before clicking",
		Metadata:  map[string]string{"source": "reflection"},
	})
	if id == "" {
		t.Fatal("Put returned empty ID")
	}
	m.Flush(ctx)

	got, err := m.Retrieve(ctx, memory.RetrievalQuery{
		Namespace: ns,
		Query:     "wait for the page",
		K:         3,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("retrieved %d items, want 1", len(got))
	}
	md := got[0].Metadata
	if md["agent_id"] != "agent-test" {
		t.Errorf("agent_id = %q", md["agent_id"])
	}
	if md["namespace_key"] != ns.Key() {
		t.Errorf("namespace_key = %q, want %q", md["namespace_key"], ns.Key())
	}
	if md["source"] != "reflection" {
		t.Errorf("caller metadata lost: %v", md)
	}
}

func TestRetrieveClientSideFilter(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx := context.Background()
	ns := memory.NS("agent-test", "task")

	m.Put(memory.MemoryItem{Namespace: ns, Text: "checkout flow on shop site", Metadata: map[string]string{"kind": "web"}})
	m.Put(memory.MemoryItem{Namespace: ns, Text: "checkout flow via terminal", Metadata: map[string]string{"kind": "cli"}})
	m.Flush(ctx)

	got, err := m.Retrieve(ctx, memory.RetrievalQuery{
		Namespace: ns,
		Query:     "checkout flow",
		K:         5,
		Filters:   map[string]string{"kind": "cli"},
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("retrieved %d items, want 1", len(got))
	}
	if got[0].Metadata["kind"] != "cli" {
		t.Fatalf("filter leaked: %v", got[0].Metadata)
	}
}

func TestMoveItems(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx := context.Background()
	from := memory.NS("agent-test", "chat")
	to := memory.NS("agent-test", "semantic")

	id := m.Put(memory.MemoryItem{Namespace: from, Text: "prefers dark mode"})
	m.Flush(ctx)

	if err := m.MoveItem(ctx, id, from, to); err != nil {
		t.Fatalf("MoveItem: %v", err)
	}

	moved, err := m.Retrieve(ctx, memory.RetrievalQuery{Namespace: to, Query: "dark mode", K: 3})
	if err != nil {
		t.Fatalf("Retrieve target: %v", err)
	}
	if len(moved) != 1 {
		t.Fatalf("target has %d items, want 1", len(moved))
	}
	if moved[0].Metadata["namespace_key"] != to.Key() {
		t.Errorf("namespace metadata not rewritten: %v", moved[0].Metadata)
	}

	left, err := m.Retrieve(ctx, memory.RetrievalQuery{Namespace: from, Query: "dark mode", K: 3})
	if err != nil {
		t.Fatalf("Retrieve source: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("source still has %d items", len(left))
	}
}

func TestMoveItemsUnknownID(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx := context.Background()
	err := m.MoveItems(ctx, []string{"missing"}, memory.NS("a"), memory.NS("b"))
	if err != nil {
		t.Fatalf("MoveItems with unknown ID: %v", err)
	}
}

func TestDrainWorker(t *testing.T) {
	m := newTestManager(t, Options{DrainInterval: 20 * time.Millisecond})
	m.Start()
	ctx := context.Background()
	ns := memory.NS("agent-test", "episodic")

	for i := 0; i < 50; i++ {
		m.Put(memory.MemoryItem{Namespace: ns, Text: "step record"})
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		stats, err := m.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[ns.Key()] == 50 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("worker did not drain queue, stats = %v, depth = %d", stats, m.QueueDepth())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUpdateEmbeddings(t *testing.T) {
	m := newTestManager(t, Options{})
	ctx := context.Background()
	ns := memory.NS("agent-test", "semantic")

	m.Put(memory.MemoryItem{Namespace: ns, Text: "original fact"})
	m.Flush(ctx)

	if err := m.UpdateEmbeddings("fake", ""); err != nil {
		t.Fatalf("UpdateEmbeddings: %v", err)
	}

	// Stores drop to zero open collections and reopen lazily.
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 0 {
		t.Fatalf("store map not swapped, stats = %v", stats)
	}

	m.Put(memory.MemoryItem{Namespace: ns, Text: "fact after swap"})
	m.Flush(ctx)
	got, err := m.Retrieve(ctx, memory.RetrievalQuery{Namespace: ns, Query: "fact after swap", K: 1})
	if err != nil {
		t.Fatalf("Retrieve after swap: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("retrieved %d items after swap, want 1", len(got))
	}

	if err := m.UpdateEmbeddings("unknown-provider", ""); err == nil {
		t.Fatal("UpdateEmbeddings with unknown provider should fail")
	}
}

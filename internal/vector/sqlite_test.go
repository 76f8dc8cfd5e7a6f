package vector

import (
	"context"
	"testing"

	"github.com/ecanhq/agentcore/internal/embedding"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	f, err := NewSQLiteFactory(":memory:", embedding.NewFake(64))
	if err != nil {
		t.Fatalf("NewSQLiteFactory: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	s, err := f.Open("test_collection")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestSQLiteAddAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	docs := []Document{
		{ID: "d1", Text: "Always wait for page load", Metadata: map[string]string{"kind": "lesson"}},
		{ID: "d2", Text: "Verify element exists before clicking", Metadata: map[string]string{"kind": "lesson"}},
		{ID: "d3", Text: "The capital of France is Paris", Metadata: map[string]string{"kind": "fact"}},
	}
	if err := s.Add(ctx, docs); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.SimilaritySearch(ctx, "Always wait for page load", 2, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Exact text match with the deterministic fake embedder must rank first.
	if results[0].ID != "d1" {
		t.Errorf("best result = %q, want d1", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not best-first: %f < %f", results[0].Score, results[1].Score)
	}
	if results[0].Score < 0.99 {
		t.Errorf("exact match score = %f, want > 0.99", results[0].Score)
	}
}

func TestSQLiteGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	doc := Document{ID: "d1", Text: "hello", Metadata: map[string]string{"agent_id": "A"}}
	if err := s.Add(ctx, []Document{doc}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	docs, err := s.Get(ctx, []string{"d1", "missing"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}
	if docs[0].Text != "hello" {
		t.Errorf("Text = %q, want hello", docs[0].Text)
	}
	if docs[0].Metadata["agent_id"] != "A" {
		t.Errorf("Metadata = %v, want agent_id=A", docs[0].Metadata)
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, []Document{{ID: "d1", Text: "bye"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(ctx, []string{"d1", "never-existed"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestSQLiteCollectionsIsolated(t *testing.T) {
	f, err := NewSQLiteFactory(":memory:", embedding.NewFake(32))
	if err != nil {
		t.Fatalf("NewSQLiteFactory: %v", err)
	}
	defer f.Close()
	ctx := context.Background()

	a, _ := f.Open("ns_a")
	b, _ := f.Open("ns_b")

	if err := a.Add(ctx, []Document{{ID: "x", Text: "in a"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	n, err := b.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("collection b sees %d docs from a", n)
	}
}

func TestSQLiteSearchEmptyCollection(t *testing.T) {
	s := openTestStore(t)
	results, err := s.SimilaritySearch(context.Background(), "anything", 5, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results from empty collection", len(results))
	}
}

func TestSQLiteDrop(t *testing.T) {
	f, err := NewSQLiteFactory(":memory:", embedding.NewFake(32))
	if err != nil {
		t.Fatalf("NewSQLiteFactory: %v", err)
	}
	defer f.Close()
	ctx := context.Background()

	s, _ := f.Open("gone")
	if err := s.Add(ctx, []Document{{ID: "x", Text: "y"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := f.Drop("gone"); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	n, _ := s.Count(ctx)
	if n != 0 {
		t.Errorf("Count after drop = %d, want 0", n)
	}
}

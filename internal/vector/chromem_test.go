package vector

import (
	"context"
	"testing"

	"github.com/ecanhq/agentcore/internal/embedding"
)

func openChromemStore(t *testing.T) Store {
	t.Helper()
	f, err := NewChromemFactory(t.TempDir(), embedding.NewFake(64))
	if err != nil {
		t.Fatalf("NewChromemFactory: %v", err)
	}
	s, err := f.Open("ecan_mem_test__default")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestChromemAddAndSearch(t *testing.T) {
	s := openChromemStore(t)
	ctx := context.Background()

	err := s.Add(ctx, []Document{
		{ID: "k1", Text: "Always wait for page load", Metadata: map[string]string{"agent_id": "A"}},
		{ID: "k2", Text: "Verify element exists", Metadata: map[string]string{"agent_id": "A"}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.SimilaritySearch(ctx, "Always wait for page load", 2, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "k1" {
		t.Errorf("best result = %q, want k1", results[0].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results not ordered best-first")
	}
}

func TestChromemSearchKExceedsCount(t *testing.T) {
	s := openChromemStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, []Document{{ID: "only", Text: "single document"}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Asking for more results than stored documents must not error.
	results, err := s.SimilaritySearch(ctx, "single", 10, nil)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestChromemGetAndDelete(t *testing.T) {
	s := openChromemStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, []Document{{ID: "g1", Text: "to fetch", Metadata: map[string]string{"k": "v"}}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	docs, err := s.Get(ctx, []string{"g1", "missing"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(docs) != 1 || docs[0].Text != "to fetch" {
		t.Fatalf("Get returned %+v", docs)
	}

	if err := s.Delete(ctx, []string{"g1"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	docs, err = s.Get(ctx, []string{"g1"})
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("document still present after delete")
	}
}

func TestChromemFilters(t *testing.T) {
	s := openChromemStore(t)
	ctx := context.Background()

	if !s.SupportsFilters() {
		t.Fatal("chromem store must support metadata filters")
	}

	err := s.Add(ctx, []Document{
		{ID: "a1", Text: "alpha", Metadata: map[string]string{"agent_id": "A"}},
		{ID: "b1", Text: "alpha", Metadata: map[string]string{"agent_id": "B"}},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := s.SimilaritySearch(ctx, "alpha", 2, map[string]string{"agent_id": "B"})
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 1 || results[0].ID != "b1" {
		t.Errorf("filtered search returned %+v, want only b1", results)
	}
}

package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ecanhq/agentcore/internal/embedding"
)

// ChromemFactory opens collections in an embedded chromem-go database
// persisted under a single directory.
type ChromemFactory struct {
	db       *chromem.DB
	embedder embedding.Embedder
}

// NewChromemFactory opens (or creates) a persistent chromem database at
// dir. All collections opened through the factory embed with the given
// embedder.
func NewChromemFactory(dir string, embedder embedding.Embedder) (*ChromemFactory, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", dir, err)
	}
	return &ChromemFactory{db: db, embedder: embedder}, nil
}

func (f *ChromemFactory) Open(collection string) (Store, error) {
	embedFn := func(ctx context.Context, text string) ([]float32, error) {
		return f.embedder.EmbedQuery(ctx, text)
	}
	col, err := f.db.GetOrCreateCollection(collection, nil, embedFn)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", collection, err)
	}
	return &chromemStore{col: col, embedder: f.embedder}, nil
}

func (f *ChromemFactory) Drop(collection string) error {
	if err := f.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op: chromem persists write-through and holds no external
// resources.
func (f *ChromemFactory) Close() error { return nil }

type chromemStore struct {
	col      *chromem.Collection
	embedder embedding.Embedder

	mu sync.Mutex // serializes Add batches
}

func (s *chromemStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d documents: %w", len(docs), err)
	}

	for i, d := range docs {
		doc := chromem.Document{
			ID:        d.ID,
			Content:   d.Text,
			Embedding: vecs[i],
			Metadata:  d.Metadata,
		}
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("adding document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (s *chromemStore) SimilaritySearch(ctx context.Context, query string, k int, filters map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// chromem rejects nResults larger than the collection size, so shrink
	// until the query is accepted or the collection proves empty.
	var results []chromem.Result
	for n := k; n >= 1; n-- {
		results, err = s.col.QueryEmbedding(ctx, vec, n, filters, nil)
		if err == nil {
			break
		}
		if strings.Contains(err.Error(), "nResults") {
			if n == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			Document: Document{ID: r.ID, Text: r.Content, Metadata: r.Metadata},
			Score:    r.Similarity,
		})
	}
	return out, nil
}

func (s *chromemStore) Get(ctx context.Context, ids []string) ([]Document, error) {
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(ctx, id)
		if err != nil {
			continue // unknown IDs are skipped
		}
		docs = append(docs, Document{ID: doc.ID, Text: doc.Content, Metadata: doc.Metadata})
	}
	return docs, nil
}

func (s *chromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting %d documents: %w", len(ids), err)
	}
	return nil
}

func (s *chromemStore) Count(ctx context.Context) (int, error) {
	return s.col.Count(), nil
}

// Persist is a no-op: the persistent chromem DB writes through on every
// mutation.
func (s *chromemStore) Persist() error { return nil }

func (s *chromemStore) SupportsFilters() bool { return true }

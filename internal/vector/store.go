// Package vector provides per-namespace vector collections with similarity
// search. Two backends exist: an embedded chromem-go database (default)
// and a SQLite table with brute-force cosine search. A Store captures its
// embedder at construction; changing the embedding provider requires
// opening fresh stores.
package vector

import (
	"context"
)

// Document is one stored text with optional metadata.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
}

// Result is a retrieved document with its similarity score. Higher is
// better: backends that report distances convert them before returning.
type Result struct {
	Document
	Score float32
}

// Store is one vector collection. Implementations serialize concurrent
// Add calls internally.
type Store interface {
	// Add inserts documents in batch. Every document must have an ID.
	Add(ctx context.Context, docs []Document) error

	// SimilaritySearch embeds the query and returns up to k results,
	// best first. Filters match metadata equality; backends that cannot
	// filter report it via SupportsFilters and ignore the argument.
	SimilaritySearch(ctx context.Context, query string, k int, filters map[string]string) ([]Result, error)

	// Get returns the stored documents for the given IDs. Unknown IDs are
	// skipped, not errors.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by ID. Best-effort: unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Persist flushes the collection to disk. Safe to call often.
	Persist() error

	// SupportsFilters reports whether SimilaritySearch honors the filters
	// argument. Probed once at construction rather than discovered by
	// failed calls.
	SupportsFilters() bool
}

// Factory opens named collections against one backing database.
type Factory interface {
	// Open returns the Store for the given collection, creating it if
	// needed. Opening the same name twice returns equivalent handles.
	Open(collection string) (Store, error)

	// Drop removes a collection entirely.
	Drop(collection string) error

	// Close releases the backing database.
	Close() error
}

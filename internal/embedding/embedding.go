// Package embedding resolves a configured provider and model into an
// Embedder that turns text into vectors. When the provider cannot be
// initialized the caller is expected to fall back to NewFake so retrieval
// keeps functioning in degraded mode.
package embedding

import (
	"context"
	"fmt"
)

// Embedder converts text into embedding vectors.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Fingerprint identifies the provider/model pair. Two embedders with
	// the same fingerprint produce comparable vectors.
	Fingerprint() string
}

// Config enumerates the recognized provider options.
type Config struct {
	Provider string // "openai", "ollama", "fake"
	Model    string
	APIBase  string
	APIKey   string
}

// InitError reports a provider that could not be constructed: unknown
// name, missing credentials, or unreachable endpoint.
type InitError struct {
	Provider string
	Reason   string
}

func (e *InitError) Error() string {
	return fmt.Sprintf("embedding: provider %q: %s", e.Provider, e.Reason)
}

// Resolve constructs an Embedder for the given configuration.
func Resolve(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return newOpenAI(cfg)
	case "ollama":
		return newOllama(cfg)
	case "fake":
		return NewFake(FakeDimensions), nil
	default:
		return nil, &InitError{Provider: cfg.Provider, Reason: "unknown provider"}
	}
}

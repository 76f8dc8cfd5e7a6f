package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
)

// openAIEmbedder talks to OpenAI or any OpenAI-compatible endpoint.
type openAIEmbedder struct {
	client *openai.Client
	model  string
	dims   int
}

// modelDims maps known OpenAI embedding models to their vector sizes.
var modelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const openAIBatchSize = 64

func newOpenAI(cfg Config) (Embedder, error) {
	if cfg.APIKey == "" {
		return nil, &InitError{Provider: "openai", Reason: "missing API key"}
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		c.BaseURL = cfg.APIBase
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dims, ok := modelDims[model]
	if !ok {
		dims = FakeDimensions
	}
	return &openAIEmbedder{
		client: openai.NewClientWithConfig(c),
		model:  model,
		dims:   dims,
	}, nil
}

func (e *openAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrent API calls.

	for start := 0; start < len(texts); start += openAIBatchSize {
		start := start
		end := start + openAIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			resp, err := e.client.CreateEmbeddings(gCtx, openai.EmbeddingRequest{
				Input: texts[start:end],
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
			}
			if len(resp.Data) != end-start {
				return fmt.Errorf("embedding batch [%d:%d]: got %d vectors", start, end, len(resp.Data))
			}
			for i, d := range resp.Data {
				out[start+i] = d.Embedding
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *openAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding query: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (e *openAIEmbedder) Dimensions() int { return e.dims }

func (e *openAIEmbedder) Fingerprint() string { return "openai/" + e.model }

package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// FakeDimensions matches the dimensionality of the default OpenAI
// embedding model so stores built in degraded mode stay queryable.
const FakeDimensions = 1536

// Fake is a deterministic stand-in embedder. Vectors are derived from a
// hash of the text, so equal texts always embed identically across
// processes. Retrieval quality is meaningless, but the system keeps
// running when a real provider is unavailable.
type Fake struct {
	dims int
}

// NewFake returns a Fake embedder with the given dimensionality.
func NewFake(dims int) *Fake {
	if dims <= 0 {
		dims = FakeDimensions
	}
	return &Fake{dims: dims}
}

func (f *Fake) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.embed(t)
	}
	return out, nil
}

func (f *Fake) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.embed(text), nil
}

func (f *Fake) Dimensions() int { return f.dims }

func (f *Fake) Fingerprint() string { return "fake" }

func (f *Fake) embed(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.dims)
	for i := range vec {
		// LCG seeded by the text hash keeps output deterministic.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec)
}

func normalize(vec []float32) []float32 {
	var sum float32
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	n := float32(math.Sqrt(float64(sum)))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

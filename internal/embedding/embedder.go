// Package embedding turns text into fixed-dimension normalized vectors.
// Two providers are available: a local Ollama endpoint (default) and the
// OpenAI embeddings API. Both validate the configured dimension on every
// response; a mismatch indicates model/configuration drift and is fatal.
package embedding

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrDimensionMismatch means the provider returned vectors of a
	// different length than configured. Not retryable.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrUnavailable means the embedding backend cannot be reached.
	ErrUnavailable = errors.New("embedding service unavailable")
)

// Embedder generates L2-normalized embeddings of a fixed dimension.
// Implementations must be safe for concurrent callers.
type Embedder interface {
	// Embed returns the normalized vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one normalized vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is the configured vector length.
	Dimension() int
	// Ready reports whether the backend is reachable.
	Ready(ctx context.Context) error
}

// normalize scales v to unit L2 norm in place. Zero vectors are left as-is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// checkDimension validates every vector in a batch against want.
func checkDimension(vectors [][]float32, want int) error {
	for _, v := range vectors {
		if len(v) != want {
			return ErrDimensionMismatch
		}
	}
	return nil
}

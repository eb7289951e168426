package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// OpenAIModel is the embedding model used by the OpenAI provider.
	OpenAIModel = "text-embedding-3-small"

	// OpenAIDimension is the vector dimension for text-embedding-3-small.
	OpenAIDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute
	// rate limits. OpenAI accepts up to 2048 texts per batch.
	DefaultBatchSize = 500
)

// OpenAIEmbedder generates embeddings with OpenAI's text-embedding-3-small.
// Requests are batched and retried with exponential backoff on rate limits.
// OpenAI embeddings are unit-normalized by the API.
type OpenAIEmbedder struct {
	client    *openai.Client
	batchSize int
}

// NewOpenAIEmbedder creates the OpenAI provider. Reads OPENAI_API_KEY from
// the environment and fails if it is not set. If batchSize is 0,
// DefaultBatchSize is used.
func NewOpenAIEmbedder(batchSize int) (*OpenAIEmbedder, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// openai-go reads OPENAI_API_KEY from the environment.
	client := openai.NewClient()

	return &OpenAIEmbedder{client: &client, batchSize: batchSize}, nil
}

// Dimension returns the vector length for the configured model.
func (e *OpenAIEmbedder) Dimension() int { return OpenAIDimension }

// Embed generates a normalized embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for the given texts, batching requests
// and retrying rate-limited batches with exponential backoff.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	if err := checkDimension(allEmbeddings, OpenAIDimension); err != nil {
		return nil, fmt.Errorf("%w: model %s did not produce %d-dim vectors",
			err, OpenAIModel, OpenAIDimension)
	}

	return allEmbeddings, nil
}

// Ready reports whether the OpenAI API is reachable by issuing a minimal
// embedding request.
func (e *OpenAIEmbedder) Ready(ctx context.Context) error {
	_, err := e.embedBatchWithRetry(ctx, []string{"ping"})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// embedBatchWithRetry generates embeddings for one batch. Rate limit errors
// (HTTP 429) retry with backoff; other errors are permanent.
func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: OpenAIModel,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32. OpenAI returns float64, but
// storage uses float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

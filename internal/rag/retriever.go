package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/corpora-labs/ragserve/internal/embedding"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// NoContextSentinel is returned by FormatContext for an empty result set.
const NoContextSentinel = "No relevant context found."

// VectorSearcher is the narrow slice of the vector store the retriever
// needs. storage.QdrantStore satisfies it.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]storage.SearchHit, error)
}

// Retriever embeds queries and fetches the top-k most similar chunks.
// It preserves the store's ranking order and performs no re-ranking.
type Retriever struct {
	embedder embedding.Embedder
	store    VectorSearcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever with the given logger (slog.Default if nil).
func NewRetriever(embedder embedding.Embedder, store VectorSearcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{embedder: embedder, store: store, logger: logger}
}

// Retrieve returns the top-k chunks for a query in descending similarity
// order along with the retrieval time in milliseconds. An empty result is
// "insufficient context", not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]RetrievedChunk, float64, error) {
	start := time.Now()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}

	retrievalMS := float64(time.Since(start).Microseconds()) / 1000

	chunks := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunks = append(chunks, RetrievedChunk{
			DocID:      hit.Payload.DocID,
			ChunkID:    hit.Payload.Sequence,
			Text:       hit.Payload.Text,
			SourcePath: hit.Payload.SourcePath,
			Page:       hit.Payload.Page,
			Score:      hit.Score,
		})
	}

	r.logger.Info("retrieved chunks", "count", len(chunks), "k", k,
		"retrieval_ms", fmt.Sprintf("%.2f", retrievalMS))

	return chunks, retrievalMS, nil
}

// FormatContext renders chunks as numbered source blocks in the order
// supplied. The numbering is load-bearing: citation markers "[Source i]"
// in generated answers are positional references into this exact ordering,
// and ExtractSources must match it.
func FormatContext(chunks []RetrievedChunk) string {
	if len(chunks) == 0 {
		return NoContextSentinel
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s\n", i+1, chunkReference(chunk), chunk.Text))
	}
	return strings.Join(parts, "\n")
}

// chunkReference formats the "doc#chunkN (page p)" label for one chunk.
func chunkReference(c RetrievedChunk) string {
	ref := fmt.Sprintf("%s#chunk%d", c.DocID, c.ChunkID)
	if c.Page != nil {
		ref += fmt.Sprintf(" (page %d)", *c.Page)
	}
	return ref
}

// ExtractSources deduplicates chunks into citation sources. A source is
// keyed by (doc_id, chunk_id); the first occurrence wins so the list
// matches the numbering used in FormatContext.
func ExtractSources(chunks []RetrievedChunk) []Source {
	sources := make([]Source, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))

	for _, chunk := range chunks {
		ref := fmt.Sprintf("%s#chunk%d", chunk.DocID, chunk.ChunkID)
		if seen[ref] {
			continue
		}
		seen[ref] = true
		sources = append(sources, Source{
			DocID:      chunk.DocID,
			ChunkID:    chunk.ChunkID,
			SourcePath: chunk.SourcePath,
			Page:       chunk.Page,
			Score:      chunk.Score,
			Reference:  ref,
		})
	}

	return sources
}

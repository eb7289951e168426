// Package ingest runs the ingestion path: load documents into pages, chunk
// them deterministically, embed the chunk texts, and upsert the resulting
// points with content-hash deduplication. Re-ingesting the same content is
// idempotent end to end.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/corpora-labs/ragserve/internal/chunker"
	"github.com/corpora-labs/ragserve/internal/document"
	"github.com/corpora-labs/ragserve/internal/embedding"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// ErrNoContent means the requested path or upload set produced no
// ingestible chunks. Surfaced to the caller; no partial side effects.
var ErrNoContent = errors.New("no ingestible content found")

// PointUpserter is the slice of the vector store the pipeline needs.
// storage.QdrantStore satisfies it.
type PointUpserter interface {
	UpsertPoints(ctx context.Context, points []storage.StoredPoint) (int, error)
}

// Blob is an uploaded file that never touches the filesystem.
type Blob struct {
	Name    string
	Content []byte
}

// Result reports one ingestion run to operators: duplicates are counted,
// never raised as errors.
type Result struct {
	Status             string   `json:"status"`
	DocumentsProcessed int      `json:"documents_processed"`
	ChunksCreated      int      `json:"chunks_created"`
	PointsInserted     int      `json:"points_inserted"`
	TimeTakenSeconds   float64  `json:"time_taken_seconds"`
	DocIDs             []string `json:"doc_ids"`
}

// Pipeline wires loader, chunker, embedder and store for the ingestion path.
type Pipeline struct {
	loader   *document.Loader
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	store    PointUpserter
	logger   *slog.Logger
}

// NewPipeline creates an ingestion pipeline with the given components.
func NewPipeline(
	loader *document.Loader,
	chunker *chunker.Chunker,
	embedder embedding.Embedder,
	store PointUpserter,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger,
	}
}

// IngestPath ingests a single file or, for directories, every supported
// file underneath. Unreadable files are skipped with a warning so one bad
// document cannot abort a corpus load.
func (p *Pipeline) IngestPath(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	paths := []string{path}
	if info.IsDir() {
		paths, err = document.ScanDir(path)
		if err != nil {
			return nil, err
		}
		p.logger.Info("scanned directory", "path", path, "files", len(paths))
	}

	var chunks []chunker.Chunk
	docIDs := make([]string, 0, len(paths))
	for _, filePath := range paths {
		pages, err := p.loader.Load(filePath)
		if err != nil {
			p.logger.Warn("skipping document", "path", filePath, "error", err)
			continue
		}
		docChunks := p.chunker.ChunkPages(pages, filePath)
		if len(docChunks) == 0 {
			continue
		}
		chunks = append(chunks, docChunks...)
		docIDs = append(docIDs, filepath.Base(filePath))
	}

	return p.finish(ctx, start, chunks, docIDs)
}

// IngestBlobs ingests uploaded file contents. The blob name doubles as the
// source identifier, so re-uploading the same file deduplicates.
func (p *Pipeline) IngestBlobs(ctx context.Context, blobs []Blob) (*Result, error) {
	start := time.Now()

	var chunks []chunker.Chunk
	docIDs := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		pages, err := p.loader.LoadBytes(blob.Name, blob.Content)
		if err != nil {
			p.logger.Warn("skipping upload", "name", blob.Name, "error", err)
			continue
		}
		docChunks := p.chunker.ChunkPages(pages, blob.Name)
		if len(docChunks) == 0 {
			continue
		}
		chunks = append(chunks, docChunks...)
		docIDs = append(docIDs, filepath.Base(blob.Name))
	}

	return p.finish(ctx, start, chunks, docIDs)
}

// finish embeds the accumulated chunks and upserts them in one batch call.
func (p *Pipeline) finish(ctx context.Context, start time.Time, chunks []chunker.Chunk, docIDs []string) (*Result, error) {
	if len(chunks) == 0 {
		return nil, ErrNoContent
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	p.logger.Info("embedding chunks", "count", len(texts))
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	points := BuildPoints(chunks, vectors, time.Now())

	inserted, err := p.store.UpsertPoints(ctx, points)
	if err != nil {
		return nil, fmt.Errorf("upsert points: %w", err)
	}

	elapsed := time.Since(start)
	p.logger.Info("ingestion complete",
		"documents", len(docIDs),
		"chunks", len(chunks),
		"inserted", inserted,
		"duplicates", len(chunks)-inserted,
		"duration", elapsed.Round(time.Millisecond),
	)

	return &Result{
		Status:             "success",
		DocumentsProcessed: len(docIDs),
		ChunksCreated:      len(chunks),
		PointsInserted:     inserted,
		TimeTakenSeconds:   elapsed.Seconds(),
		DocIDs:             docIDs,
	}, nil
}

// BuildPoints pairs chunks with their vectors into storage candidates.
// Point IDs are derived from (doc_id, sequence, content-hash prefix) via a
// name-based UUID, so re-ingestion always produces the same identifiers.
func BuildPoints(chunks []chunker.Chunk, vectors [][]float32, createdAt time.Time) []storage.StoredPoint {
	points := make([]storage.StoredPoint, len(chunks))
	for i, chunk := range chunks {
		docID := filepath.Base(chunk.SourceID)
		points[i] = storage.StoredPoint{
			ID:     PointID(docID, chunk.Sequence, chunk.ContentHash),
			Vector: vectors[i],
			Payload: storage.PointPayload{
				DocID:       docID,
				Sequence:    chunk.Sequence,
				Text:        chunk.Text,
				SourcePath:  chunk.SourceID,
				Page:        chunk.Page,
				ContentHash: chunk.ContentHash,
				CreatedAt:   createdAt,
			},
		}
	}
	return points
}

// PointID derives the stable point identifier. Qdrant requires UUID point
// ids, so the "doc_seq_hashprefix" name is folded through uuid.NewSHA1.
func PointID(docID string, sequence int, contentHash string) string {
	prefix := contentHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	name := fmt.Sprintf("%s_%d_%s", docID, sequence, prefix)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

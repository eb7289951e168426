// Package storage wraps the Qdrant client with connection management,
// idempotent collection bootstrap, and content-hash deduplicated upserts.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// upsertBatchSize bounds one Qdrant upsert request.
const upsertBatchSize = 100

// QdrantStore wraps the Qdrant client for one collection. The underlying
// gRPC client is safe for concurrent callers, so a single QdrantStore is
// shared process-wide.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	vectorDim  int
	logger     *slog.Logger
}

// NewQdrantStore creates a Qdrant client and validates connectivity with
// exponential-backoff retry. Failure after the retry budget is fatal to
// startup, not to an individual request.
func NewQdrantStore(host string, port int, collection string, vectorDim int, logger *slog.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{
		client:     client,
		collection: collection,
		vectorDim:  vectorDim,
		logger:     logger,
	}

	if err := store.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return store, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStore) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return s.Health(ctx)
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStore) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with the configured vector
// dimension and cosine distance if it does not exist, plus payload indexes
// for dedup lookups and per-document stats. Idempotent.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.vectorDim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without these indexes the dedup scroll filter and stats scans become
	// full collection scans.
	for _, field := range []string{"content_hash", "doc_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// hashExists reports whether any point with the given content hash is
// already stored.
func (s *QdrantStore) hashExists(ctx context.Context, hash string) (bool, error) {
	results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("content_hash", hash),
			},
		},
		Limit: qdrant.PtrOf(uint32(1)),
	})
	if err != nil {
		return false, fmt.Errorf("scroll for content hash: %w", err)
	}
	return len(results) > 0, nil
}

// UpsertPoints persists candidate points, skipping any whose content hash
// already exists in the collection, and returns the number actually
// inserted. The check-then-insert sequence is atomic per call batch only:
// two concurrent ingestions of the same new content may both insert. That
// race is accepted; queries are order-insensitive over duplicate content.
func (s *QdrantStore) UpsertPoints(ctx context.Context, points []StoredPoint) (int, error) {
	survivors := make([]StoredPoint, 0, len(points))
	for _, point := range points {
		exists, err := s.hashExists(ctx, point.Payload.ContentHash)
		if err != nil {
			return 0, err
		}
		if !exists {
			survivors = append(survivors, point)
		}
	}

	if len(survivors) == 0 {
		s.logger.Info("all points already exist, idempotent upsert", "candidates", len(points))
		return 0, nil
	}

	for i := 0; i < len(survivors); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(survivors))
		batch := make([]*qdrant.PointStruct, 0, end-i)
		for _, point := range survivors[i:end] {
			if len(point.Vector) != s.vectorDim {
				return 0, fmt.Errorf("%w: point %s has %d dimensions, expected %d",
					ErrDimensionMismatch, point.ID, len(point.Vector), s.vectorDim)
			}
			batch = append(batch, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(point.ID),
				Vectors: qdrant.NewVectors(point.Vector...),
				Payload: qdrant.NewValueMap(payloadMap(point.Payload)),
			})
		}
		if err := s.upsertWithRetry(ctx, batch); err != nil {
			return 0, fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	s.logger.Info("upserted points",
		"inserted", len(survivors),
		"skipped", len(points)-len(survivors),
	)
	return len(survivors), nil
}

// upsertWithRetry performs one upsert request with exponential backoff.
func (s *QdrantStore) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
		})
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx))
}

// Search returns the top-k nearest points by cosine similarity, in the
// store's descending ranking order. No matches yields an empty slice, not
// an error.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, k int) ([]SearchHit, error) {
	if len(vector) != s.vectorDim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), s.vectorDim)
	}

	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, result := range results {
		hits = append(hits, SearchHit{
			ID:      result.Id.GetUuid(),
			Score:   float64(result.Score),
			Payload: payloadFromMap(result.Payload),
		})
	}

	return hits, nil
}

// GetStats reports collection statistics, counting chunks per document via
// the Scroll API.
func (s *QdrantStore) GetStats(ctx context.Context) (*Stats, error) {
	collection, err := s.client.GetCollection(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	stats := &Stats{
		CollectionName: s.collection,
		TotalPoints:    collection.GetPointsCount(),
		VectorDim:      s.vectorDim,
		Distance:       "cosine",
		Documents:      make(map[string]int),
	}

	var offset *qdrant.PointId
	batchSize := uint32(1000)
	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("doc_id"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		for _, result := range results {
			docID := result.Payload["doc_id"].GetStringValue()
			if docID == "" {
				docID = "unknown"
			}
			stats.Documents[docID]++
		}

		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	return stats, nil
}

// Close closes the Qdrant client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// payloadMap converts a typed payload into the Qdrant value map.
func payloadMap(p PointPayload) map[string]any {
	m := map[string]any{
		"doc_id":       p.DocID,
		"sequence":     int64(p.Sequence),
		"text":         p.Text,
		"source_path":  p.SourcePath,
		"content_hash": p.ContentHash,
		"created_at":   p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if p.Page != nil {
		m["page"] = int64(*p.Page)
	}
	return m
}

// payloadFromMap validates a dynamic Qdrant payload back into the typed
// record at the storage boundary.
func payloadFromMap(m map[string]*qdrant.Value) PointPayload {
	p := PointPayload{
		DocID:       m["doc_id"].GetStringValue(),
		Sequence:    int(m["sequence"].GetIntegerValue()),
		Text:        m["text"].GetStringValue(),
		SourcePath:  m["source_path"].GetStringValue(),
		ContentHash: m["content_hash"].GetStringValue(),
	}
	if v, ok := m["page"]; ok {
		page := int(v.GetIntegerValue())
		p.Page = &page
	}
	if created, err := time.Parse(time.RFC3339, m["created_at"].GetStringValue()); err == nil {
		p.CreatedAt = created
	}
	return p
}

package storage

import "time"

// PointPayload is the metadata stored alongside each vector. It is the
// read-only projection surfaced by search results; the pipeline never
// mutates a point after upsert.
type PointPayload struct {
	DocID       string
	Sequence    int
	Text        string
	SourcePath  string
	Page        *int // nil when the source document has a single page
	ContentHash string
	CreatedAt   time.Time
}

// StoredPoint is a candidate for upsert: a deterministic UUID, an embedding
// vector of the collection's configured dimension, and the payload.
type StoredPoint struct {
	ID      string
	Vector  []float32
	Payload PointPayload
}

// SearchHit is one ranked result from a similarity search. Score is cosine
// similarity, higher is more relevant.
type SearchHit struct {
	ID      string
	Score   float64
	Payload PointPayload
}

// Stats describes the collection for operators: total point count and
// per-document chunk counts.
type Stats struct {
	CollectionName string         `json:"collection_name"`
	TotalPoints    uint64         `json:"total_points"`
	VectorDim      int            `json:"vector_dim"`
	Distance       string         `json:"distance"`
	Documents      map[string]int `json:"documents"`
}

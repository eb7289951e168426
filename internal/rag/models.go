// Package rag assembles retrieval-augmented answers: similarity retrieval
// and context formatting, prompt construction with positional citations,
// and the streaming generation state machine with its two wire encodings.
package rag

import "errors"

// ErrEmptyQuery rejects blank queries before any retrieval work happens.
var ErrEmptyQuery = errors.New("query must not be empty")

// RetrievedChunk is a read-only projection of a stored point plus its
// similarity score, scoped to a single query. Score is cosine similarity
// in [-1, 1]; higher is more relevant.
type RetrievedChunk struct {
	DocID      string  `json:"doc_id"`
	ChunkID    int     `json:"chunk_id"`
	Text       string  `json:"text"`
	SourcePath string  `json:"source_path"`
	Page       *int    `json:"page,omitempty"`
	Score      float64 `json:"score"`
}

// Source is one deduplicated citation target. Reference matches the
// "[Source i]" labels in the formatted context by position.
type Source struct {
	DocID      string  `json:"doc_id"`
	ChunkID    int     `json:"chunk_id"`
	SourcePath string  `json:"source_path"`
	Page       *int    `json:"page,omitempty"`
	Score      float64 `json:"score"`
	Reference  string  `json:"reference"`
}

// Usage carries timing and token accounting for one query. Values
// accumulate monotonically during a stream and are finalized at Complete.
type Usage struct {
	LatencyMS          float64 `json:"latency_ms"`
	RetrievalTimeMS    float64 `json:"retrieval_time_ms"`
	TokensGenerated    int     `json:"tokens_generated"`
	TimeToFirstTokenMS float64 `json:"time_to_first_token_ms"`
}

// EventKind tags the variants of a stream event.
type EventKind int

const (
	// EventRetrieval reports retrieval timing and hit count. Exactly one
	// is emitted per query, before any other event.
	EventRetrieval EventKind = iota
	// EventDelta carries one generated token.
	EventDelta
	// EventComplete terminates a successful stream with usage and sources.
	EventComplete
	// EventError terminates a failed stream. Deltas already delivered
	// remain valid and are not retracted.
	EventError
)

// Event is the tagged union flowing from the orchestrator to the wire
// encoders. Only the fields for the tagged Kind are populated.
type Event struct {
	Kind EventKind

	// EventRetrieval
	RetrievalTimeMS float64
	ChunksFound     int

	// EventDelta
	Delta string

	// EventComplete
	TraceID string
	Sources []Source
	Usage   *Usage

	// EventError
	Err error
}

// QueryResult is the non-streaming answer for one query.
type QueryResult struct {
	Answer          string           `json:"answer"`
	Sources         []Source         `json:"sources"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	TraceID         string           `json:"trace_id"`
	LatencyMS       float64          `json:"latency_ms"`
	RetrievalTimeMS float64          `json:"retrieval_time_ms"`
}

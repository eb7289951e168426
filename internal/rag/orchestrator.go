package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/corpora-labs/ragserve/internal/llm"
)

// Retrieval is bounded in seconds; generation in minutes, since total
// answer length is model-dependent.
const (
	DefaultRetrievalTimeout  = 10 * time.Second
	DefaultGenerationTimeout = 5 * time.Minute
)

// Orchestrator drives the query path: retrieve, build the augmented
// prompt, stream tokens from the inference service, and account for usage.
// One orchestrator serves all requests; per-request state lives on the
// goroutine spawned by Stream.
type Orchestrator struct {
	retriever   *Retriever
	generator   llm.Generator
	retrTimeout time.Duration
	genTimeout  time.Duration
	logger      *slog.Logger
}

// NewOrchestrator wires the orchestrator from its injected dependencies.
// Zero timeouts fall back to the package defaults.
func NewOrchestrator(retriever *Retriever, generator llm.Generator, retrTimeout, genTimeout time.Duration, logger *slog.Logger) *Orchestrator {
	if retrTimeout <= 0 {
		retrTimeout = DefaultRetrievalTimeout
	}
	if genTimeout <= 0 {
		genTimeout = DefaultGenerationTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		retriever:   retriever,
		generator:   generator,
		retrTimeout: retrTimeout,
		genTimeout:  genTimeout,
		logger:      logger,
	}
}

// retrieve applies the short retrieval bound around embed + search.
func (o *Orchestrator) retrieve(ctx context.Context, query string, k int) ([]RetrievedChunk, float64, error) {
	retrCtx, cancel := context.WithTimeout(ctx, o.retrTimeout)
	defer cancel()
	return o.retriever.Retrieve(retrCtx, query, k)
}

// Stream answers a query as an event sequence: exactly one Retrieval
// event, zero or more Deltas, then one terminal Complete (or Error).
// Each Delta is handed off before the next token is pulled, so downstream
// delivery never builds more than one token of lead. Cancelling ctx stops
// the upstream pull and closes the channel; nothing is persisted.
func (o *Orchestrator) Stream(ctx context.Context, query string, k int, temperature float64) (<-chan Event, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	traceID := uuid.New().String()
	events := make(chan Event)

	go func() {
		defer close(events)

		send := func(e Event) bool {
			select {
			case events <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		start := time.Now()
		log := o.logger.With("trace_id", traceID)
		log.Info("streaming query", "query", truncate(query, 100), "k", k)

		chunks, retrievalMS, err := o.retrieve(ctx, query, k)
		if err != nil {
			send(Event{Kind: EventError, TraceID: traceID, Err: fmt.Errorf("retrieve: %w", err)})
			return
		}

		if !send(Event{Kind: EventRetrieval, RetrievalTimeMS: retrievalMS, ChunksFound: len(chunks)}) {
			return
		}

		if len(chunks) == 0 {
			// Empty short-circuit: canned delta, immediate completion,
			// no generation work.
			if !send(Event{Kind: EventDelta, Delta: FallbackAnswer}) {
				return
			}
			send(Event{Kind: EventComplete, TraceID: traceID, Usage: &Usage{
				LatencyMS:       msSince(start),
				RetrievalTimeMS: retrievalMS,
			}})
			return
		}

		prompt := BuildPrompt(query, FormatContext(chunks))

		genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
		defer cancel()

		tokens, err := o.generator.GenerateStream(genCtx, prompt, temperature)
		if err != nil {
			send(Event{Kind: EventError, TraceID: traceID, Err: fmt.Errorf("open stream: %w", err)})
			return
		}

		var tokenCount int
		var firstTokenMS float64

		for token := range tokens {
			if token.Err != nil {
				send(Event{Kind: EventError, TraceID: traceID, Err: token.Err})
				return
			}
			if token.Done {
				break
			}
			if tokenCount == 0 {
				firstTokenMS = msSince(start)
			}
			tokenCount++
			if !send(Event{Kind: EventDelta, Delta: token.Text}) {
				return
			}
		}

		usage := &Usage{
			LatencyMS:          msSince(start),
			RetrievalTimeMS:    retrievalMS,
			TokensGenerated:    tokenCount,
			TimeToFirstTokenMS: firstTokenMS,
		}
		log.Info("stream complete", "tokens", tokenCount,
			"ttft_ms", fmt.Sprintf("%.2f", firstTokenMS),
			"latency_ms", fmt.Sprintf("%.2f", usage.LatencyMS))

		send(Event{
			Kind:    EventComplete,
			TraceID: traceID,
			Sources: ExtractSources(chunks),
			Usage:   usage,
		})
	}()

	return events, nil
}

// Answer runs the same retrieve + prompt-build + generate steps to
// completion. Against a deterministic backend the answer text is identical
// to concatenating a streamed query's deltas.
func (o *Orchestrator) Answer(ctx context.Context, query string, k int, temperature float64) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	traceID := uuid.New().String()
	start := time.Now()
	log := o.logger.With("trace_id", traceID)
	log.Info("query", "query", truncate(query, 100), "k", k)

	chunks, retrievalMS, err := o.retrieve(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	if len(chunks) == 0 {
		return &QueryResult{
			Answer:          FallbackAnswer,
			Sources:         []Source{},
			RetrievedChunks: []RetrievedChunk{},
			TraceID:         traceID,
			LatencyMS:       msSince(start),
			RetrievalTimeMS: retrievalMS,
		}, nil
	}

	prompt := BuildPrompt(query, FormatContext(chunks))

	genCtx, cancel := context.WithTimeout(ctx, o.genTimeout)
	defer cancel()

	answer, err := o.generator.Generate(genCtx, prompt, temperature)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	result := &QueryResult{
		Answer:          answer,
		Sources:         ExtractSources(chunks),
		RetrievedChunks: chunks,
		TraceID:         traceID,
		LatencyMS:       msSince(start),
		RetrievalTimeMS: retrievalMS,
	}
	log.Info("query complete", "latency_ms", fmt.Sprintf("%.2f", result.LatencyMS))

	return result, nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

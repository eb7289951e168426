package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// fakeEmbedder returns a fixed vector for any input.
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int                  { return 3 }
func (f *fakeEmbedder) Ready(ctx context.Context) error { return f.err }

// fakeSearcher returns canned hits.
type fakeSearcher struct {
	hits []storage.SearchHit
	err  error
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, k int) ([]storage.SearchHit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

// fakeGenerator streams a fixed token sequence.
type fakeGenerator struct {
	tokens  []string
	openErr error
	midErr  error // delivered after all tokens instead of Done
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	if f.midErr != nil {
		return "", f.midErr
	}
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, temperature float64) (<-chan llm.Token, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	ch := make(chan llm.Token)
	go func() {
		defer close(ch)
		for _, text := range f.tokens {
			select {
			case ch <- llm.Token{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if f.midErr != nil {
			ch <- llm.Token{Err: f.midErr}
			return
		}
		ch <- llm.Token{Done: true}
	}()
	return ch, nil
}

func (f *fakeGenerator) Ready(ctx context.Context) error { return nil }
func (f *fakeGenerator) ModelName() string               { return "fake-model" }

func testHits() []storage.SearchHit {
	return []storage.SearchHit{
		{ID: "a", Score: 0.92, Payload: storage.PointPayload{
			DocID: "guide.md", Sequence: 0, Text: "Alpha facts.", SourcePath: "/docs/guide.md",
		}},
		{ID: "b", Score: 0.85, Payload: storage.PointPayload{
			DocID: "guide.md", Sequence: 3, Text: "Beta facts.", SourcePath: "/docs/guide.md",
		}},
	}
}

func newTestOrchestrator(searcher *fakeSearcher, gen *fakeGenerator) *Orchestrator {
	retriever := NewRetriever(&fakeEmbedder{}, searcher, nil)
	return NewOrchestrator(retriever, gen, time.Second, time.Minute, nil)
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-deadline:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestStream_EventOrdering(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{hits: testHits()}, &fakeGenerator{tokens: []string{"The ", "answer ", "[Source 1]."}})

	events, err := o.Stream(context.Background(), "what are the facts?", 5, 0.2)
	require.NoError(t, err)

	got := collect(t, events)
	require.GreaterOrEqual(t, len(got), 3)

	assert.Equal(t, EventRetrieval, got[0].Kind, "retrieval event comes first")
	assert.Equal(t, 2, got[0].ChunksFound)

	var deltas []string
	for _, e := range got[1 : len(got)-1] {
		require.Equal(t, EventDelta, e.Kind, "only deltas between retrieval and terminal")
		deltas = append(deltas, e.Delta)
	}
	assert.Equal(t, []string{"The ", "answer ", "[Source 1]."}, deltas)

	last := got[len(got)-1]
	require.Equal(t, EventComplete, last.Kind)
	assert.NotEmpty(t, last.TraceID)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 3, last.Usage.TokensGenerated, "token count equals deltas emitted")
	assert.Greater(t, last.Usage.LatencyMS, 0.0)
	require.Len(t, last.Sources, 2)
	assert.Equal(t, "guide.md#chunk0", last.Sources[0].Reference)
	assert.Equal(t, "guide.md#chunk3", last.Sources[1].Reference)
}

func TestStream_EmptyRetrievalShortCircuits(t *testing.T) {
	gen := &fakeGenerator{openErr: errors.New("generator must not be called")}
	o := newTestOrchestrator(&fakeSearcher{}, gen)

	events, err := o.Stream(context.Background(), "anything indexed?", 5, 0.2)
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)

	assert.Equal(t, EventRetrieval, got[0].Kind)
	assert.Equal(t, 0, got[0].ChunksFound)

	require.Equal(t, EventDelta, got[1].Kind)
	assert.Equal(t, FallbackAnswer, got[1].Delta)

	require.Equal(t, EventComplete, got[2].Kind)
	require.NotNil(t, got[2].Usage)
	assert.Equal(t, 0, got[2].Usage.TokensGenerated)
	assert.Empty(t, got[2].Sources)
}

func TestStream_EmptyQueryRejected(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{hits: testHits()}, &fakeGenerator{})

	_, err := o.Stream(context.Background(), "   ", 5, 0.2)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = o.Answer(context.Background(), "", 5, 0.2)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestStream_RetrievalFailureIsTerminalError(t *testing.T) {
	searchErr := errors.New("backend down")
	o := newTestOrchestrator(&fakeSearcher{err: searchErr}, &fakeGenerator{})

	events, err := o.Stream(context.Background(), "query", 5, 0.2)
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Kind)
	assert.ErrorIs(t, got[0].Err, searchErr)
}

func TestStream_MidStreamFailureKeepsDeliveredDeltas(t *testing.T) {
	streamErr := errors.New("connection reset")
	o := newTestOrchestrator(
		&fakeSearcher{hits: testHits()},
		&fakeGenerator{tokens: []string{"partial ", "answer"}, midErr: streamErr},
	)

	events, err := o.Stream(context.Background(), "query", 5, 0.2)
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 4)
	assert.Equal(t, EventRetrieval, got[0].Kind)
	assert.Equal(t, "partial ", got[1].Delta)
	assert.Equal(t, "answer", got[2].Delta)
	assert.Equal(t, EventError, got[3].Kind)
	assert.ErrorIs(t, got[3].Err, streamErr)
}

func TestStream_CancellationStopsStream(t *testing.T) {
	o := newTestOrchestrator(
		&fakeSearcher{hits: testHits()},
		&fakeGenerator{tokens: []string{"a", "b", "c", "d", "e", "f"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Stream(ctx, "query", 5, 0.2)
	require.NoError(t, err)

	// Take the retrieval event and one delta, then walk away.
	<-events
	<-events
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancellation")
		}
	}
}

func TestAnswer_MatchesStreamConcatenation(t *testing.T) {
	tokens := []string{"Grounded ", "answer ", "[Source 1]", "."}
	makeOrch := func() *Orchestrator {
		return newTestOrchestrator(&fakeSearcher{hits: testHits()}, &fakeGenerator{tokens: tokens})
	}

	result, err := makeOrch().Answer(context.Background(), "query", 5, 0.2)
	require.NoError(t, err)

	events, err := makeOrch().Stream(context.Background(), "query", 5, 0.2)
	require.NoError(t, err)

	var streamed strings.Builder
	for _, e := range collect(t, events) {
		if e.Kind == EventDelta {
			streamed.WriteString(e.Delta)
		}
	}

	assert.Equal(t, streamed.String(), result.Answer)
	assert.Len(t, result.Sources, 2)
	assert.Len(t, result.RetrievedChunks, 2)
	assert.NotEmpty(t, result.TraceID)
}

func TestAnswer_EmptyRetrievalFallback(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{}, &fakeGenerator{openErr: errors.New("must not generate")})

	result, err := o.Answer(context.Background(), "query", 5, 0.2)
	require.NoError(t, err)

	assert.Equal(t, FallbackAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Empty(t, result.RetrievedChunks)
}

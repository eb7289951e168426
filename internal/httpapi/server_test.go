package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpora-labs/ragserve/internal/chunker"
	"github.com/corpora-labs/ragserve/internal/config"
	"github.com/corpora-labs/ragserve/internal/document"
	"github.com/corpora-labs/ragserve/internal/ingest"
	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/rag"
	"github.com/corpora-labs/ragserve/internal/storage"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int                  { return 3 }
func (fakeEmbedder) Ready(ctx context.Context) error { return nil }

type fakeSearcher struct {
	hits []storage.SearchHit
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, k int) ([]storage.SearchHit, error) {
	return f.hits, nil
}

type fakeGenerator struct {
	tokens []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return strings.Join(f.tokens, ""), nil
}

func (f *fakeGenerator) GenerateStream(ctx context.Context, prompt string, temperature float64) (<-chan llm.Token, error) {
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
		select {
		case ch <- llm.Token{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (f *fakeGenerator) Ready(ctx context.Context) error { return nil }
func (f *fakeGenerator) ModelName() string               { return "fake-model" }

type fakeUpserter struct{}

func (fakeUpserter) UpsertPoints(ctx context.Context, points []storage.StoredPoint) (int, error) {
	return len(points), nil
}

type fakeStatusStore struct {
	healthErr error
	statsErr  error
}

func (f *fakeStatusStore) Health(ctx context.Context) error { return f.healthErr }

func (f *fakeStatusStore) GetStats(ctx context.Context) (*storage.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return &storage.Stats{
		CollectionName: "corpus",
		TotalPoints:    2,
		VectorDim:      3,
		Distance:       "Cosine",
		Documents:      map[string]int{"guide.md": 2},
	}, nil
}

func testHits() []storage.SearchHit {
	return []storage.SearchHit{
		{ID: "a", Score: 0.9, Payload: storage.PointPayload{
			DocID: "guide.md", Sequence: 0, Text: "Alpha facts.", SourcePath: "/docs/guide.md",
		}},
	}
}

func newTestServer(t *testing.T, hits []storage.SearchHit, store StatusStore) *Server {
	t.Helper()
	cfg := &config.Config{
		TopK:        5,
		Temperature: 0.2,
	}

	gen := &fakeGenerator{tokens: []string{"Grounded ", "answer."}}
	retriever := rag.NewRetriever(fakeEmbedder{}, &fakeSearcher{hits: hits}, nil)
	orchestrator := rag.NewOrchestrator(retriever, gen, time.Second, time.Minute, nil)

	splitter, err := chunker.New(800, 100)
	require.NoError(t, err)
	pipeline := ingest.NewPipeline(document.NewLoader(nil), splitter, fakeEmbedder{}, fakeUpserter{}, nil)

	return New(orchestrator, pipeline, store, fakeEmbedder{}, gen, cfg, nil)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	return got
}

func TestHandleQuery(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/query", map[string]any{"query": "what are the facts?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "Grounded answer.", got["answer"])
	assert.NotEmpty(t, got["trace_id"])
	sources := got["sources"].([]any)
	require.Len(t, sources, 1)
	assert.Equal(t, "guide.md#chunk0", sources[0].(map[string]any)["reference"])
}

func TestHandleQuery_EmptyQuestion(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/query", map[string]any{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleQuery_NoResultsFallback(t *testing.T) {
	s := newTestServer(t, nil, &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/query", map[string]any{"query": "anything?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody(t, resp)
	assert.Equal(t, rag.FallbackAnswer, got["answer"])
}

func TestHandleStream(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/stream", map[string]any{"query": "what are the facts?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	frames := sseData(t, string(body))
	require.GreaterOrEqual(t, len(frames), 4)

	var retrieval map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &retrieval))
	assert.Equal(t, "retrieval", retrieval["event"])

	var delta map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &delta))
	assert.Equal(t, "Grounded ", delta["delta"])

	var complete map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &complete))
	assert.Equal(t, true, complete["complete"])
}

func TestHandleChatCompletions(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]any{
		"model": "fake-model",
		"messages": []map[string]string{
			{"role": "system", "content": "be helpful"},
			{"role": "user", "content": "what are the facts?"},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "chat.completion", got["object"])
	choices := got["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	message := choice["message"].(map[string]any)
	assert.Equal(t, "assistant", message["role"])
	assert.Equal(t, "Grounded answer.", message["content"])

	// Strict clients expect the usage object even when counts are unknown.
	usage, ok := got["usage"].(map[string]any)
	require.True(t, ok, "response must carry a usage object")
	assert.Equal(t, float64(0), usage["prompt_tokens"])
	assert.Equal(t, float64(0), usage["completion_tokens"])
	assert.Equal(t, float64(0), usage["total_tokens"])
}

func TestHandleChatCompletions_Stream(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]any{
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "facts?"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	text := string(body)

	assert.True(t, strings.HasSuffix(text, "data: [DONE]\n\n"))
	assert.NotContains(t, text, `"event":"retrieval"`, "retrieval has no chat-chunk equivalent")

	frames := sseData(t, text)
	// token chunks plus the finish chunk; [DONE] is not JSON
	require.GreaterOrEqual(t, len(frames), 3)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, "chat.completion.chunk", first["object"])
	choice := first["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "Grounded ", choice["delta"].(map[string]any)["content"])

	var last map[string]any
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-1]), &last))
	lastChoice := last["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "stop", lastChoice["finish_reason"])
}

func TestHandleChatCompletions_NoUserMessage(t *testing.T) {
	s := newTestServer(t, testHits(), &fakeStatusStore{})

	resp := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]any{
		"messages": []map[string]string{{"role": "system", "content": "be helpful"}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	got := decodeBody(t, resp)
	errObj := got["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", errObj["type"])
}

func TestHandleIngest_Path(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Some ingestible content."), 0o644))

	s := newTestServer(t, nil, &fakeStatusStore{})
	resp := doJSON(t, s, http.MethodPost, "/ingest", map[string]any{"path": path})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "success", got["status"])
	assert.Equal(t, float64(1), got["documents_processed"])
}

func TestHandleIngest_MissingPath(t *testing.T) {
	s := newTestServer(t, nil, &fakeStatusStore{})
	resp := doJSON(t, s, http.MethodPost, "/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, nil, &fakeStatusStore{})
	resp := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "healthy", got["status"])
	assert.Equal(t, true, got["qdrant_connected"])
	assert.Equal(t, true, got["embedder_ready"])
	assert.Equal(t, true, got["llm_connected"])
}

func TestHandleHealth_Degraded(t *testing.T) {
	s := newTestServer(t, nil, &fakeStatusStore{healthErr: errors.New("qdrant gone")})
	resp := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "degraded", got["status"])
	assert.Equal(t, false, got["qdrant_connected"])
	assert.Equal(t, true, got["embedder_ready"])
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, nil, &fakeStatusStore{})
	resp := doJSON(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := decodeBody(t, resp)
	assert.Equal(t, "corpus", got["collection_name"])
	assert.Equal(t, float64(2), got["total_points"])
}

// sseData extracts the JSON payloads of "data:" frames, skipping [DONE].
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		out = append(out, payload)
	}
	return out
}

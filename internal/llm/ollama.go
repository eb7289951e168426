package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// OllamaGenerator implements Generator against the Ollama REST API
// (/api/generate).
type OllamaGenerator struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaGenerator creates an Ollama-backed generator. Per-call deadlines
// come from ctx; the shared http.Client carries no global timeout because
// generation length is model-dependent.
func NewOllamaGenerator(baseURL, model string, maxTokens int, logger *slog.Logger) *OllamaGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaGenerator{
		baseURL:    baseURL,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// ModelName returns the configured model identifier.
func (g *OllamaGenerator) ModelName() string { return g.model }

// generateRequest is the Ollama /api/generate request body.
type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

// generateChunk is one line of the Ollama /api/generate response stream.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Generate runs a non-streaming completion and returns the answer text.
func (g *OllamaGenerator) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": g.maxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(msg))
	}

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", chunk.Error)
	}

	g.logger.Info("generated response", "model", g.model, "duration", time.Since(start).Round(time.Millisecond))
	return chunk.Response, nil
}

// GenerateStream opens a streaming completion. Tokens are delivered one at
// a time on an unbuffered channel; the HTTP body is closed as soon as the
// consumer's context is cancelled, which stops the upstream pull.
func (g *OllamaGenerator) GenerateStream(ctx context.Context, prompt string, temperature float64) (<-chan Token, error) {
	body, err := json.Marshal(generateRequest{
		Model:  g.model,
		Prompt: prompt,
		Stream: true,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": g.maxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(msg))
	}

	tokens := make(chan Token)
	go func() {
		defer close(tokens)
		defer resp.Body.Close()

		send := func(t Token) bool {
			select {
			case tokens <- t:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := json.NewDecoder(resp.Body)
		for decoder.More() {
			var chunk generateChunk
			if err := decoder.Decode(&chunk); err != nil {
				if ctx.Err() != nil {
					return // consumer went away, not a stream failure
				}
				send(Token{Err: fmt.Errorf("%w: %v", ErrStreamInterrupted, err)})
				return
			}
			if chunk.Error != "" {
				send(Token{Err: fmt.Errorf("%w: %s", ErrStreamInterrupted, chunk.Error)})
				return
			}
			if chunk.Done {
				send(Token{Done: true})
				return
			}
			if chunk.Response != "" {
				if !send(Token{Text: chunk.Response}) {
					return
				}
			}
		}
		// Stream ended without a done marker.
		send(Token{Err: fmt.Errorf("%w: stream closed before done signal", ErrStreamInterrupted)})
	}()

	return tokens, nil
}

// Ready checks that Ollama is reachable and the configured model is
// available. Matches on the base model name before any ":tag" suffix.
func (g *OllamaGenerator) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrModelUnavailable, resp.StatusCode)
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return fmt.Errorf("%w: decode tags: %v", ErrModelUnavailable, err)
	}

	base, _, _ := strings.Cut(g.model, ":")
	for _, m := range tags.Models {
		if strings.Contains(m.Name, base) {
			return nil
		}
	}
	return fmt.Errorf("%w: model %s not found", ErrModelUnavailable, g.model)
}

// WaitReady blocks until Ready succeeds, retrying with exponential backoff.
// Used at startup; exhausting the retry budget is fatal to startup.
func (g *OllamaGenerator) WaitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return g.Ready(ctx)
	}, backoff.WithContext(b, ctx))
}

package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/rag"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// chatRequest is the subset of the OpenAI chat completion request the
// pipeline consumes. Unknown fields are ignored.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatUsage is reported as zeros: the pipeline does not count prompt or
// completion tokens on the non-streaming path.
type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// handleChatCompletions adapts the pipeline to the OpenAI chat completion
// contract. The last user message is the query; earlier turns are context
// the retrieval step does not consume.
func (s *Server) handleChatCompletions(c fiber.Ctx) error {
	var req chatRequest
	if err := c.Bind().JSON(&req); err != nil {
		return openaiError(c, fiber.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		return openaiError(c, fiber.StatusBadRequest, errors.New("messages must contain at least one user message"))
	}
	if req.Temperature == nil {
		req.Temperature = &s.cfg.Temperature
	}
	model := req.Model
	if model == "" {
		model = s.generator.ModelName()
	}

	if req.Stream {
		return s.streamChatCompletion(c, query, model, *req.Temperature)
	}

	result, err := s.orchestrator.Answer(c.Context(), query, s.cfg.TopK, *req.Temperature)
	if err != nil {
		return openaiQueryError(c, err)
	}

	return c.JSON(chatResponse{
		ID:      "chatcmpl-" + uuid.New().String(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatChoice{{
			Message:      chatMessage{Role: "assistant", Content: result.Answer},
			FinishReason: "stop",
		}},
	})
}

func (s *Server) streamChatCompletion(c fiber.Ctx, query, model string, temperature float64) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Context()))

	events, err := s.orchestrator.Stream(ctx, query, s.cfg.TopK, temperature)
	if err != nil {
		cancel()
		return openaiQueryError(c, err)
	}

	encoder := rag.NewChunkEncoder(model)

	setSSEHeaders(c)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for event := range events {
			frames, err := encoder.Frames(event)
			if err != nil {
				s.logger.Error("encode chunk", "error", err)
				return
			}
			for _, frame := range frames {
				io.WriteString(w, frame)
			}
			if len(frames) == 0 {
				continue
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}

func lastUserMessage(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func openaiError(c fiber.Ctx, status int, err error) error {
	errType := "invalid_request_error"
	if status >= 500 {
		errType = "server_error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"message": err.Error(),
			"type":    errType,
		},
	})
}

func openaiQueryError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, rag.ErrEmptyQuery):
		return openaiError(c, fiber.StatusBadRequest, err)
	case errors.Is(err, storage.ErrQdrantUnreachable), errors.Is(err, llm.ErrModelUnavailable):
		return openaiError(c, fiber.StatusServiceUnavailable, err)
	default:
		return openaiError(c, fiber.StatusInternalServerError, err)
	}
}

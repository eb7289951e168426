package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/rag"
	"github.com/corpora-labs/ragserve/internal/storage"
)

type queryRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k"`
	Temperature *float64 `json:"temperature"`
}

func (s *Server) bindQuery(c fiber.Ctx) (queryRequest, error) {
	var req queryRequest
	if err := c.Bind().JSON(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.TopK
	}
	if req.Temperature == nil {
		req.Temperature = &s.cfg.Temperature
	}
	return req, nil
}

// handleQuery runs the full pipeline to completion and returns one JSON
// answer with sources and timing.
func (s *Server) handleQuery(c fiber.Ctx) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}

	result, err := s.orchestrator.Answer(c.Context(), req.Query, req.TopK, *req.Temperature)
	if err != nil {
		return queryError(c, err)
	}
	return c.JSON(result)
}

// handleStream serves the native event protocol over SSE: one retrieval
// frame, a frame per token, then a terminal complete or error frame.
func (s *Server) handleStream(c fiber.Ctx) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return errJSON(c, fiber.StatusBadRequest, err)
	}

	// The stream writer runs after this handler returns, so the
	// orchestrator gets a context detached from the request lifecycle;
	// cancel fires when the client stops reading.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Context()))

	events, err := s.orchestrator.Stream(ctx, req.Query, req.TopK, *req.Temperature)
	if err != nil {
		cancel()
		return queryError(c, err)
	}

	setSSEHeaders(c)
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		for event := range events {
			frame, err := rag.EncodeNative(event)
			if err != nil {
				s.logger.Error("encode event", "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			if err := w.Flush(); err != nil {
				// Client gone; cancel stops the generator pull.
				return
			}
		}
	})
}

func setSSEHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func queryError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, rag.ErrEmptyQuery):
		return errJSON(c, fiber.StatusBadRequest, err)
	case errors.Is(err, storage.ErrQdrantUnreachable):
		return errJSON(c, fiber.StatusServiceUnavailable, err)
	case errors.Is(err, llm.ErrModelUnavailable):
		return errJSON(c, fiber.StatusServiceUnavailable, err)
	default:
		return errJSON(c, fiber.StatusInternalServerError, err)
	}
}

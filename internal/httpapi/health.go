package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v3"
)

// handleHealth probes each backend independently. Any failing component
// degrades the report and flips the status code to 503, but the response
// always carries all three flags so operators see what broke.
func (s *Server) handleHealth(c fiber.Ctx) error {
	qdrantOK := s.probe(c.Context(), s.store.Health)
	embedderOK := s.probe(c.Context(), s.embedder.Ready)
	llmOK := s.probe(c.Context(), s.generator.Ready)

	status := "healthy"
	code := fiber.StatusOK
	if !qdrantOK || !embedderOK || !llmOK {
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":           status,
		"qdrant_connected": qdrantOK,
		"embedder_ready":   embedderOK,
		"llm_connected":    llmOK,
	})
}

func (s *Server) probe(ctx context.Context, check func(context.Context) error) bool {
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	if err := check(probeCtx); err != nil {
		s.logger.Warn("health probe failed", "error", err)
		return false
	}
	return true
}

// handleStats reports collection-level counters from the vector store.
func (s *Server) handleStats(c fiber.Ctx) error {
	stats, err := s.store.GetStats(c.Context())
	if err != nil {
		return errJSON(c, fiber.StatusServiceUnavailable, err)
	}
	return c.JSON(stats)
}

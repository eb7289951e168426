// Package httpapi exposes the ingestion and query pipelines over HTTP:
// a native JSON surface plus an OpenAI-compatible chat completion
// endpoint, both backed by the same orchestrator.
package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/corpora-labs/ragserve/internal/config"
	"github.com/corpora-labs/ragserve/internal/embedding"
	"github.com/corpora-labs/ragserve/internal/ingest"
	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/rag"
	"github.com/corpora-labs/ragserve/internal/storage"
)

// healthProbeTimeout bounds each dependency check on /health so a hung
// backend degrades the report instead of the endpoint.
const healthProbeTimeout = 3 * time.Second

// StatusStore is the slice of the vector store the HTTP surface needs
// for its health and stats endpoints. storage.QdrantStore satisfies it.
type StatusStore interface {
	Health(ctx context.Context) error
	GetStats(ctx context.Context) (*storage.Stats, error)
}

// Server holds the wired pipeline components behind the HTTP surface.
type Server struct {
	app          *fiber.App
	orchestrator *rag.Orchestrator
	pipeline     *ingest.Pipeline
	store        StatusStore
	embedder     embedding.Embedder
	generator    llm.Generator
	cfg          *config.Config
	logger       *slog.Logger
}

// New builds the fiber app and registers all routes.
func New(
	orchestrator *rag.Orchestrator,
	pipeline *ingest.Pipeline,
	store StatusStore,
	embedder embedding.Embedder,
	generator llm.Generator,
	cfg *config.Config,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	app := fiber.New(fiber.Config{
		AppName: "ragserve",
		// Streaming responses can run for minutes; the generation
		// timeout inside the orchestrator is the real bound.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	})

	s := &Server{
		app:          app,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		store:        store,
		embedder:     embedder,
		generator:    generator,
		cfg:          cfg,
		logger:       logger,
	}

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
	}))

	app.Get("/health", s.handleHealth)
	app.Get("/stats", s.handleStats)
	app.Post("/ingest", s.handleIngest)
	app.Post("/query", s.handleQuery)
	app.Post("/stream", s.handleStream)
	app.Post("/v1/chat/completions", s.handleChatCompletions)

	return s
}

// Listen blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Listen(addr string) error {
	s.logger.Info("http listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func errJSON(c fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

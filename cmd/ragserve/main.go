// Package main provides the ragserve CLI: an HTTP server for
// retrieval-augmented generation and an offline corpus ingestion command.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/corpora-labs/ragserve/internal/chunker"
	"github.com/corpora-labs/ragserve/internal/config"
	"github.com/corpora-labs/ragserve/internal/document"
	"github.com/corpora-labs/ragserve/internal/embedding"
	"github.com/corpora-labs/ragserve/internal/httpapi"
	"github.com/corpora-labs/ragserve/internal/ingest"
	"github.com/corpora-labs/ragserve/internal/llm"
	"github.com/corpora-labs/ragserve/internal/rag"
	"github.com/corpora-labs/ragserve/internal/storage"
)

const shutdownGrace = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:   "ragserve",
	Short: "Retrieval-augmented generation server",
	Long:  "HTTP server and CLI for document ingestion and grounded question answering over a Qdrant vector store",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Starts the ingestion and query API.

Endpoints:
  POST /ingest                Index a server-side path or uploaded files
  POST /query                 Answer a question in one response
  POST /stream                Answer a question as an SSE event stream
  POST /v1/chat/completions   OpenAI-compatible chat surface
  GET  /health                Dependency health report
  GET  /stats                 Collection counters

Environment variables:
  PORT                Listen port (default: 8000)
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  EMBEDDING_PROVIDER  "ollama" or "openai" (default: ollama)
  OLLAMA_BASE_URL     Ollama endpoint (default: http://localhost:11434)
  LLM_MODEL           Generation model name
  OPENAI_API_KEY      Required when EMBEDDING_PROVIDER=openai`,
	RunE: runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Index a file or directory into the vector store",
	Long: `Chunks, embeds and upserts the documents under the given path.

Duplicate content is skipped by content hash, so re-running over an
unchanged corpus inserts nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildStore connects to Qdrant and ensures the collection and its
// payload indexes exist.
func buildStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.QdrantStore, error) {
	store, err := storage.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, cfg.EmbeddingDim, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return store, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		return embedding.NewOpenAIEmbedder(0)
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.OllamaBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()
	logger.Info("starting ragserve",
		"port", cfg.Port,
		"qdrant", fmt.Sprintf("%s:%d", cfg.QdrantHost, cfg.QdrantPort),
		"collection", cfg.QdrantCollection,
		"embedding_provider", cfg.EmbeddingProvider,
		"llm_model", cfg.LLMModel,
	)

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	generator := llm.NewOllamaGenerator(cfg.OllamaBaseURL, cfg.LLMModel, cfg.MaxTokens, logger)
	if err := generator.WaitReady(ctx); err != nil {
		return fmt.Errorf("generation model not ready: %w", err)
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("chunker config: %w", err)
	}

	retriever := rag.NewRetriever(embedder, store, logger)
	orchestrator := rag.NewOrchestrator(retriever, generator, cfg.RetrievalTimeout, cfg.GenerationTimeout, logger)
	pipeline := ingest.NewPipeline(document.NewLoader(logger), splitter, embedder, store, logger)

	server := httpapi.New(orchestrator, pipeline, store, embedder, generator, cfg, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	logger := slog.Default()
	cfg := config.Load()
	start := time.Now()

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.QdrantHost, cfg.QdrantPort)
	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("chunker config: %w", err)
	}

	pipeline := ingest.NewPipeline(document.NewLoader(logger), splitter, embedder, store, logger)

	fmt.Printf("Ingesting %s...\n", args[0])
	result, err := pipeline.IngestPath(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingestion complete!")
	fmt.Printf("  Documents: %d\n", result.DocumentsProcessed)
	fmt.Printf("  Chunks: %d\n", result.ChunksCreated)
	fmt.Printf("  Inserted: %d (duplicates skipped: %d)\n", result.PointsInserted, result.ChunksCreated-result.PointsInserted)
	fmt.Printf("  Duration: %s\n", time.Since(start).Round(time.Millisecond))

	return nil
}

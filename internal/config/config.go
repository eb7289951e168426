// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration with defaults suitable for local
// development against a docker-compose Qdrant and Ollama.
type Config struct {
	// Server
	Port string

	// Qdrant
	QdrantHost       string
	QdrantPort       int
	QdrantCollection string

	// Embeddings. Provider is "ollama" (default, bge-m3 via local Ollama)
	// or "openai" (text-embedding-3-small). EmbeddingDim must match the
	// provider's model; drift is a fatal configuration error.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingDim      int

	// Ollama
	OllamaBaseURL string

	// Generation
	LLMModel          string
	Temperature       float64
	MaxTokens         int
	GenerationTimeout time.Duration

	// Retrieval
	TopK             int
	ChunkSize        int
	ChunkOverlap     int
	RetrievalTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port: envOrDefault("PORT", "8000"),

		QdrantHost:       envOrDefault("QDRANT_HOST", "localhost"),
		QdrantPort:       envOrDefaultInt("QDRANT_PORT", 6334),
		QdrantCollection: envOrDefault("QDRANT_COLLECTION", "corpus"),

		EmbeddingProvider: envOrDefault("EMBEDDING_PROVIDER", "ollama"),
		EmbeddingModel:    envOrDefault("EMBEDDING_MODEL", "bge-m3"),
		EmbeddingDim:      envOrDefaultInt("EMBEDDING_DIM", 1024),

		OllamaBaseURL: envOrDefault("OLLAMA_BASE_URL", "http://localhost:11434"),

		LLMModel:          envOrDefault("LLM_MODEL", "llama3.1:8b-instruct-q4_0"),
		Temperature:       envOrDefaultFloat("LLM_TEMPERATURE", 0.2),
		MaxTokens:         envOrDefaultInt("LLM_MAX_TOKENS", 2048),
		GenerationTimeout: envOrDefaultDuration("GENERATION_TIMEOUT", 5*time.Minute),

		TopK:             envOrDefaultInt("TOP_K", 5),
		ChunkSize:        envOrDefaultInt("CHUNK_SIZE", 800),
		ChunkOverlap:     envOrDefaultInt("CHUNK_OVERLAP", 100),
		RetrievalTimeout: envOrDefaultDuration("RETRIEVAL_TIMEOUT", 10*time.Second),
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func envOrDefaultFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func envOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

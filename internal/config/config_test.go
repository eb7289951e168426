package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "localhost", cfg.QdrantHost)
	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, "ollama", cfg.EmbeddingProvider)
	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, 800, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.TopK)
	assert.Equal(t, 10*time.Second, cfg.RetrievalTimeout)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("QDRANT_PORT", "7000")
	t.Setenv("EMBEDDING_PROVIDER", "openai")
	t.Setenv("LLM_TEMPERATURE", "0.7")
	t.Setenv("GENERATION_TIMEOUT", "90s")

	cfg := Load()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 7000, cfg.QdrantPort)
	assert.Equal(t, "openai", cfg.EmbeddingProvider)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 90*time.Second, cfg.GenerationTimeout)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("QDRANT_PORT", "not-a-number")
	t.Setenv("GENERATION_TIMEOUT", "whenever")

	cfg := Load()

	assert.Equal(t, 6334, cfg.QdrantPort)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout)
}

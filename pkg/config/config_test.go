package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finvault/bankrag/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
openai:
  api_key: sk-test
  model: gpt-4o-mini
  max_tokens: 800
database:
  url: postgres://localhost/bankrag
rag:
  chunk_size: 256
  chunk_overlap: 50
server:
  port: 9000
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 800, cfg.OpenAI.MaxTokens)
	assert.Equal(t, "postgres://localhost/bankrag", cfg.Database.URL)
	assert.Equal(t, 256, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
openai:
  api_key: sk-test
database:
  url: postgres://localhost/bankrag
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "text-embedding-ada-002", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, 1500, cfg.OpenAI.MaxTokens)
	assert.InDelta(t, 0.2, cfg.OpenAI.Temperature, 0.001)
	assert.Equal(t, 1536, cfg.Database.TextVectorDim)
	assert.Equal(t, 1024, cfg.Database.ImageVectorDim)
	assert.Equal(t, 512, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 5, cfg.RAG.TopK)
	assert.InDelta(t, 0.7, cfg.RAG.SimilarityThreshold, 0.001)
	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, int64(100<<20), cfg.Server.MaxUploadBytes)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("PORT", "7000")

	path := writeConfig(t, `
openai:
  api_key: sk-file
database:
  url: postgres://file/db
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.Equal(t, "postgres://env/db", cfg.Database.URL)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		cfg, err := config.LoadConfig(writeConfig(t, `
openai:
  api_key: sk-test
database:
  url: postgres://localhost/bankrag
`))
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid config passes", func(t *testing.T) {
		assert.Empty(t, valid().Validate())
	})

	t.Run("missing api key", func(t *testing.T) {
		cfg := valid()
		cfg.OpenAI.APIKey = ""
		errs := cfg.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "openai.api_key", errs[0].Field)
	})

	t.Run("missing database url", func(t *testing.T) {
		cfg := valid()
		cfg.Database.URL = ""
		errs := cfg.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "database.url", errs[0].Field)
	})

	t.Run("overlap must stay below chunk size", func(t *testing.T) {
		cfg := valid()
		cfg.RAG.ChunkOverlap = cfg.RAG.ChunkSize
		errs := cfg.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "rag.chunk_overlap", errs[0].Field)
	})

	t.Run("top_k bounds", func(t *testing.T) {
		cfg := valid()
		cfg.RAG.TopK = 21
		errs := cfg.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "rag.top_k", errs[0].Field)
	})

	t.Run("temperature bounds", func(t *testing.T) {
		cfg := valid()
		cfg.OpenAI.Temperature = 2.5
		errs := cfg.Validate()
		require.Len(t, errs, 1)
		assert.Equal(t, "openai.temperature", errs[0].Field)
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configData := `
llm:
  provider: "ollama"
  base_url: "http://localhost:11434"
  model: "llama3"
  max_tokens: 1000
  temperature: 0.5

embedding:
  provider: "hash"
  dimension: 64

index:
  backend: "pgvector"
  database_url: "postgres://localhost:5432/test"
  table_name: "test_passages"
  vector_dim: 64

processor:
  chunk_size: 500
  chunk_overlap: 100

retrieval:
  top_k: 5

corpus:
  path: "data/corpus.json"
  bootstrap: false
  bootstrap_timeout: 30s

conversation:
  inactivity: 90m
`
	err := os.WriteFile(configPath, []byte(configData), 0644)
	require.NoError(t, err)

	// Test loading config
	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Verify loaded values
	assert.Equal(t, "http://localhost:11434", config.LLM.BaseURL)
	assert.Equal(t, "llama3", config.LLM.Model)
	assert.Equal(t, 1000, config.LLM.MaxTokens)
	assert.Equal(t, 0.5, config.LLM.Temperature)
	assert.Equal(t, "hash", config.Embedding.Provider)
	assert.Equal(t, 64, config.Embedding.Dimension)
	assert.Equal(t, "postgres://localhost:5432/test", config.Index.DatabaseURL)
	assert.Equal(t, 500, config.Processor.ChunkSize)
	assert.Equal(t, 5, config.Retrieval.TopK)
	assert.Equal(t, "data/corpus.json", config.Corpus.Path)
	assert.False(t, config.BootstrapEnabled())
	assert.True(t, config.PersistDegradedReplies())
	assert.Equal(t, 30*time.Second, config.Corpus.BootstrapTimeout)
	assert.Equal(t, 90*time.Minute, config.Conversation.Inactivity)
	assert.Empty(t, config.Validate())
}

func TestDefaults(t *testing.T) {
	config := Default()

	assert.Equal(t, "ollama", config.LLM.Provider)
	assert.Equal(t, 2048, config.LLM.MaxTokens)
	assert.Equal(t, 0.2, config.LLM.Temperature)
	assert.Equal(t, "disk", config.Index.Backend)
	assert.Equal(t, "Vector_DB", config.Index.Dir)
	assert.Equal(t, 2000, config.Processor.ChunkSize)
	assert.Equal(t, 300, config.Processor.ChunkOverlap)
	assert.Equal(t, 15, config.Retrieval.TopK)
	assert.Equal(t, filepath.Join("knowledge_base", "corpus_utpl.json"), config.Corpus.Path)
	assert.Equal(t, "docs", config.Corpus.DocsDir)
	assert.True(t, config.BootstrapEnabled())
	assert.Equal(t, 2*time.Hour, config.Conversation.Inactivity)
	assert.Equal(t, ":8080", config.Server.Addr)
	assert.Empty(t, config.Validate())
}

func TestGoogleDefaults(t *testing.T) {
	config := &Config{}
	config.LLM.Provider = "googleai"
	config.Embedding.Provider = "googleai"
	applyDefaults(config)

	assert.Equal(t, "gemini-2.5-flash", config.LLM.Model)
	assert.Equal(t, "text-embedding-004", config.Embedding.Model)

	errs := config.Validate()
	require.Len(t, errs, 1)
	assert.Equal(t, "llm.api_key", errs[0].Field)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name         string
		mutate       func(c *Config)
		expectedErrs []string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name: "invalid llm",
			mutate: func(c *Config) {
				c.LLM.BaseURL = "invalid-url"
				c.LLM.MaxTokens = 10000
				c.LLM.Temperature = 3.0
			},
			expectedErrs: []string{
				"llm.base_url: invalid Ollama base URL",
				"llm.max_tokens: max_tokens must be between 1 and 8192",
				"llm.temperature: temperature must be between 0 and 2",
			},
		},
		{
			name: "pgvector without database",
			mutate: func(c *Config) {
				c.Index.Backend = "pgvector"
				c.Index.VectorDim = -1
			},
			expectedErrs: []string{
				"index.database_url: database_url is required for the pgvector backend",
				"index.vector_dim: vector_dim must be positive",
			},
		},
		{
			name: "overlap not below chunk size",
			mutate: func(c *Config) {
				c.Processor.ChunkOverlap = c.Processor.ChunkSize
				c.Retrieval.TopK = -1
			},
			expectedErrs: []string{
				"processor.chunk_overlap: chunk_overlap must be non-negative and less than chunk_size",
				"retrieval.top_k: top_k must be positive",
			},
		},
		{
			name: "unknown drivers",
			mutate: func(c *Config) {
				c.Embedding.Provider = "openai"
				c.Conversation.Driver = "mysql"
			},
			expectedErrs: []string{
				"embedding.provider: unknown provider: openai",
				"conversation.driver: unknown driver: mysql",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)

			errors := config.Validate()
			require.Len(t, errors, len(tt.expectedErrs))
			for i, msg := range tt.expectedErrs {
				assert.Equal(t, msg, errors[i].Error())
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://env-ollama:11434")
	t.Setenv("DATABASE_URL", "postgres://env-db:5432/test")
	t.Setenv("CONVERSATION_DSN", "postgres://env-db:5432/chat")
	t.Setenv("REDIS_URL", "redis://env-redis:6379/0")
	t.Setenv("GOOGLE_API_KEY", "secret")
	t.Setenv("PORT", "9000")

	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)

	assert.Equal(t, "http://env-ollama:11434", config.LLM.BaseURL)
	assert.Equal(t, "http://env-ollama:11434", config.Embedding.BaseURL)
	assert.Equal(t, "postgres://env-db:5432/test", config.Index.DatabaseURL)
	assert.Equal(t, "postgres", config.Conversation.Driver)
	assert.Equal(t, "postgres://env-db:5432/chat", config.Conversation.DSN)
	assert.Equal(t, "redis://env-redis:6379/0", config.Redis.URL)
	assert.Equal(t, "secret", config.LLM.APIKey)
	assert.Equal(t, ":9000", config.Server.Addr)
}

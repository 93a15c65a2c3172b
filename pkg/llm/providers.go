package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/becabot/internal/types"
)

const (
	ProviderOllama   = "ollama"
	ProviderGoogleAI = "googleai"
	ProviderHash     = "hash"
)

// NewModel builds the chat model for the configured provider.
func NewModel(ctx context.Context, config ChatConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOllama, "":
		return ollama.New(
			ollama.WithModel(config.Model),
			ollama.WithServerURL(config.BaseURL),
		)
	case ProviderGoogleAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("googleai: api key is required")
		}
		return googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultModel(config.Model),
		)
	}
	return nil, fmt.Errorf("unknown llm provider: %s", config.Provider)
}

// EmbedderConfig represents the configuration for an embedding provider.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string // Ollama server URL
	APIKey    string
	Dimension int // hash provider only
	BatchSize int
}

// NewEmbedderWithConfig returns an embedder whose vectors are L2-normalized.
func NewEmbedderWithConfig(ctx context.Context, config EmbedderConfig) (types.Embedder, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 32
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderHash:
		return Normalize(NewHashEmbedder(config.Dimension)), nil
	case ProviderOllama, "":
		if config.Model == "" {
			config.Model = "nomic-embed-text"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		emb, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	case ProviderGoogleAI:
		if config.APIKey == "" {
			return nil, fmt.Errorf("googleai: api key is required")
		}
		emb, err := googleai.New(ctx,
			googleai.WithAPIKey(config.APIKey),
			googleai.WithDefaultEmbeddingModel(config.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		client = emb
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", config.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return Normalize(embedder), nil
}

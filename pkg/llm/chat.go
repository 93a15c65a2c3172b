package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/becabot/internal/models"
	"github.com/xhad/becabot/pkg/logger"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider       string
	Model          string
	Temperature    float64
	MaxTokens      int
	SystemTemplate string
	BaseURL        string // Ollama server URL
	APIKey         string // Google AI key
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
	log    *logger.Logger
}

var errEmptyResponse = errors.New("empty response from model")

func normalizeChatConfig(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = "mistral" // Default Ollama model
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.SystemTemplate == "" {
		config.SystemTemplate = SystemTemplate
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434" // Default Ollama URL
	}
	return config, nil
}

// NewWithConfig creates a new ChatEngine backed by the configured provider.
func NewWithConfig(ctx context.Context, config ChatConfig, log *logger.Logger) (*ChatEngine, error) {
	config, err := normalizeChatConfig(config)
	if err != nil {
		return nil, err
	}

	model, err := NewModel(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return NewChatEngine(model, config, log)
}

// NewChatEngine wraps an existing model. A nil model is allowed: every
// answer is then the model-unavailable reply.
func NewChatEngine(model llms.Model, config ChatConfig, log *logger.Logger) (*ChatEngine, error) {
	config, err := normalizeChatConfig(config)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ChatEngine{
		config: config,
		llm:    model,
		log:    log.With("component", "chat"),
	}, nil
}

func (ce *ChatEngine) Available() bool {
	return ce.llm != nil
}

// Generate answers question from passages and history. When onChunk is set
// the reply is streamed to it as it arrives.
func (ce *ChatEngine) Generate(ctx context.Context, question string, history []models.ConversationTurn, passages []models.Passage, onChunk func(string)) models.Generation {
	if ce.llm == nil {
		return models.Generation{Text: ModelUnavailable, Degraded: true}
	}

	content := BuildMessages(ce.config.SystemTemplate, question, history, passages)

	opts := []llms.CallOption{
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
	}
	if onChunk != nil {
		opts = append(opts, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			onChunk(string(chunk))
			return nil
		}))
	}

	response, err := ce.llm.GenerateContent(ctx, content, opts...)
	if err == nil && (response == nil || len(response.Choices) == 0 || response.Choices[0] == nil) {
		err = errEmptyResponse
	}
	if err != nil {
		ce.log.Error("chat error", "error", err, "passages", len(passages), "history", len(history))
		return models.Generation{Text: FailureMessage(err), Degraded: true}
	}

	return models.Generation{
		Text:    response.Choices[0].Content,
		Context: passages,
	}
}

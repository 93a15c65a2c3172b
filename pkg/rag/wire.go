package rag

import (
	"context"
	"fmt"

	"github.com/xhad/becabot/internal/types"
	"github.com/xhad/becabot/pkg/config"
	"github.com/xhad/becabot/pkg/conversation"
	"github.com/xhad/becabot/pkg/extractor"
	"github.com/xhad/becabot/pkg/llm"
	"github.com/xhad/becabot/pkg/lock"
	"github.com/xhad/becabot/pkg/logger"
	"github.com/xhad/becabot/pkg/processor"
	"github.com/xhad/becabot/pkg/scraper"
	"github.com/xhad/becabot/pkg/store"
)

// EmbeddingModelID names the embedding model an index generation is tied to.
func EmbeddingModelID(cfg config.EmbeddingConfig) string {
	if cfg.Provider == llm.ProviderHash {
		return fmt.Sprintf("%s:%d", cfg.Provider, cfg.Dimension)
	}
	return cfg.Provider + ":" + cfg.Model
}

// Open builds a Service from configuration. The chat model failing to
// initialize is not fatal: answers then come back degraded.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}
	var closers []func() error
	fail := func(err error) (*Service, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	embedder, err := llm.NewEmbedderWithConfig(ctx, llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	chatConfig := llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
	}
	chat, err := llm.NewWithConfig(ctx, chatConfig, log)
	if err != nil {
		log.Warn("chat model unavailable", "provider", cfg.LLM.Provider, "error", err)
		if chat, err = llm.NewChatEngine(nil, chatConfig, log); err != nil {
			return nil, err
		}
	}

	index, err := store.New(ctx, cfg.Index, EmbeddingModelID(cfg.Embedding), log)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	closers = append(closers, index.Close)

	turns, err := conversation.Open(cfg.Conversation, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, turns.Close)

	var buildLock types.BuildLock = lock.NewLocal()
	if cfg.Redis.URL != "" {
		client, err := lock.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		buildLock = lock.Chain{buildLock, lock.NewRedis(client, cfg.Redis.LockKey, cfg.Redis.LockTTL, log)}
	}

	var corpus types.CorpusBuilder
	if cfg.Scraper.BaseURL != "" {
		sc, err := scraper.NewWithConfig(scraper.ScraperConfig{
			BaseURL:    cfg.Scraper.BaseURL,
			OutputPath: cfg.Corpus.Path,
			RateLimit:  cfg.Scraper.RateLimit,
			Timeout:    cfg.Scraper.Timeout,
			UserAgent:  cfg.Scraper.UserAgent,
		}, log)
		if err != nil {
			return fail(err)
		}
		corpus = sc
	}

	opts.CorpusPath = cfg.Corpus.Path
	opts.DocsDir = cfg.Corpus.DocsDir
	opts.TopK = cfg.Retrieval.TopK
	opts.EmbedBatchSize = cfg.Embedding.BatchSize
	opts.EmbedWorkers = cfg.Embedding.Workers
	opts.Bootstrap = cfg.BootstrapEnabled()
	opts.BootstrapTimeout = cfg.Corpus.BootstrapTimeout
	opts.BuildRetryAfter = cfg.Index.BuildRetryAfter
	opts.PersistDegraded = cfg.PersistDegradedReplies()

	svc, err := New(Deps{
		Extractor: extractor.New(cfg.Corpus.DocsDir, extractor.WithLogger(log)),
		Processor: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    cfg.Processor.ChunkSize,
			ChunkOverlap: cfg.Processor.ChunkOverlap,
		}),
		Embedder:  embedder,
		Index:     index,
		Generator: chat,
		Turns:     turns,
		Corpus:    corpus,
		Lock:      buildLock,
		Log:       log,
	}, opts)
	if err != nil {
		return fail(err)
	}
	svc.closers = closers
	return svc, nil
}

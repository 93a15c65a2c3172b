package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
	Workers   int    `yaml:"workers"`
}

type IndexConfig struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
	TableName   string `yaml:"table_name"`
	VectorDim   int    `yaml:"vector_dim"`

	// BuildRetryAfter throttles automatic rebuilds after one fails.
	BuildRetryAfter time.Duration `yaml:"build_retry_after"`
}

type ProcessorConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

type CorpusConfig struct {
	Path             string        `yaml:"path"`
	DocsDir          string        `yaml:"docs_dir"`
	Bootstrap        *bool         `yaml:"bootstrap"`
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout"`
	PersistDegraded  *bool         `yaml:"persist_degraded"`
}

type ScraperConfig struct {
	BaseURL   string        `yaml:"base_url"`
	RateLimit float64       `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ConversationConfig struct {
	Driver     string        `yaml:"driver"`
	DSN        string        `yaml:"dsn"`
	Inactivity time.Duration `yaml:"inactivity"`
}

type RedisConfig struct {
	URL     string        `yaml:"url"`
	LockKey string        `yaml:"lock_key"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
}

type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Index        IndexConfig        `yaml:"index"`
	Processor    ProcessorConfig    `yaml:"processor"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Corpus       CorpusConfig       `yaml:"corpus"`
	Scraper      ScraperConfig      `yaml:"scraper"`
	Conversation ConversationConfig `yaml:"conversation"`
	Redis        RedisConfig        `yaml:"redis"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/becabot/config.yaml"),
			"/etc/becabot/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Merge with environment variables
	mergeWithEnv(&config)

	// Apply defaults for unset values
	applyDefaults(&config)

	return &config, nil
}

// Default returns a config with every default applied and no environment merge.
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func boolPtr(v bool) *bool { return &v }

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "googleai" {
			config.LLM.Model = "gemini-2.5-flash"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2048
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "ollama"
	}
	if config.Embedding.BaseURL == "" {
		config.Embedding.BaseURL = config.LLM.BaseURL
	}
	if config.Embedding.Model == "" {
		if config.Embedding.Provider == "googleai" {
			config.Embedding.Model = "text-embedding-004"
		} else {
			config.Embedding.Model = "nomic-embed-text"
		}
	}
	if config.Embedding.Dimension == 0 {
		config.Embedding.Dimension = 384
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 32
	}
	if config.Embedding.Workers == 0 {
		config.Embedding.Workers = 4
	}

	if config.Index.Backend == "" {
		config.Index.Backend = "disk"
	}
	if config.Index.Dir == "" {
		config.Index.Dir = "Vector_DB"
	}
	if config.Index.TableName == "" {
		config.Index.TableName = "passages"
	}
	if config.Index.BuildRetryAfter == 0 {
		config.Index.BuildRetryAfter = time.Minute
	}
	if config.Index.VectorDim == 0 {
		config.Index.VectorDim = 768
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 2000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 300
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 15
	}

	if config.Corpus.Path == "" {
		config.Corpus.Path = filepath.Join("knowledge_base", "corpus_utpl.json")
	}
	if config.Corpus.DocsDir == "" {
		config.Corpus.DocsDir = "docs"
	}
	if config.Corpus.Bootstrap == nil {
		config.Corpus.Bootstrap = boolPtr(true)
	}
	if config.Corpus.BootstrapTimeout == 0 {
		config.Corpus.BootstrapTimeout = 5 * time.Minute
	}
	if config.Corpus.PersistDegraded == nil {
		config.Corpus.PersistDegraded = boolPtr(true)
	}

	if config.Scraper.BaseURL == "" {
		config.Scraper.BaseURL = "https://becas.utpl.edu.ec/"
	}
	if config.Scraper.RateLimit == 0 {
		config.Scraper.RateLimit = 2.0
	}
	if config.Scraper.Timeout == 0 {
		config.Scraper.Timeout = 30 * time.Second
	}
	if config.Scraper.UserAgent == "" {
		config.Scraper.UserAgent = "becabot/1.0"
	}

	if config.Conversation.Driver == "" {
		config.Conversation.Driver = "sqlite"
	}
	if config.Conversation.DSN == "" {
		config.Conversation.DSN = "becabot.db"
	}
	if config.Conversation.Inactivity == 0 {
		config.Conversation.Inactivity = 2 * time.Hour
	}

	if config.Redis.LockKey == "" {
		config.Redis.LockKey = "becabot:index:build"
	}
	if config.Redis.LockTTL == 0 {
		config.Redis.LockTTL = 10 * time.Minute
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "debug"
	}

	if config.Log.Mode == "" {
		config.Log.Mode = "dev"
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
		config.Embedding.BaseURL = baseURL
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Index.DatabaseURL = dbURL
	}
	if dsn := os.Getenv("CONVERSATION_DSN"); dsn != "" {
		config.Conversation.DSN = dsn
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			config.Conversation.Driver = "postgres"
		}
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}
	if port := os.Getenv("PORT"); port != "" {
		config.Server.Addr = ":" + strings.TrimPrefix(port, ":")
	}
}

// BootstrapEnabled reports whether a missing corpus is scraped on first use.
func (c *Config) BootstrapEnabled() bool {
	return c.Corpus.Bootstrap == nil || *c.Corpus.Bootstrap
}

func (c *Config) PersistDegradedReplies() bool {
	return c.Corpus.PersistDegraded == nil || *c.Corpus.PersistDegraded
}

// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"CONTEXT_HOST" yaml:"host"`
	Port int    `envconfig:"CONTEXT_PORT" yaml:"port"`

	// Feature flags
	EnableHybridSearch bool `envconfig:"ENABLE_HYBRID_SEARCH" yaml:"enable_hybrid_search"`
	EnableReranking    bool `envconfig:"ENABLE_RERANKING" yaml:"enable_reranking"`

	// Vector store configuration
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Relational store configuration
	Registry RegistryConfig `yaml:"registry"`

	// Embedding service configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Search configuration
	Search SearchConfig `yaml:"search"`

	// Index configuration
	Index IndexConfig `yaml:"index"`

	// Crawl configuration
	Crawl CrawlConfig `yaml:"crawl"`

	// LLM configuration (smart query synthesis)
	LLM LLMConfig `yaml:"llm"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL    string `envconfig:"QDRANT_URL" yaml:"url"`
	APIKey string `envconfig:"QDRANT_API_KEY" yaml:"api_key"`
}

// RegistryConfig holds relational store settings.
type RegistryConfig struct {
	DSN string `envconfig:"REGISTRY_DSN" yaml:"dsn"`
}

// EmbeddingConfig holds embedding service endpoints and tuning.
type EmbeddingConfig struct {
	DenseURL   string `envconfig:"EMBEDDING_DENSE_URL" yaml:"dense_url"`
	SparseURL  string `envconfig:"EMBEDDING_SPARSE_URL" yaml:"sparse_url"`
	RerankURL  string `envconfig:"EMBEDDING_RERANK_URL" yaml:"rerank_url"`
	APIKey     string `envconfig:"EMBEDDING_API_KEY" yaml:"api_key"`
	Dimension  int    `envconfig:"EMBEDDING_DIMENSION" yaml:"dimension"`
	BatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" yaml:"batch_size"`
	TimeoutSec int    `envconfig:"EMBEDDING_TIMEOUT_SEC" yaml:"timeout_sec"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultTopK    int     `envconfig:"SEARCH_DEFAULT_TOP_K" yaml:"default_top_k"`
	RerankInitialK int     `envconfig:"RERANK_INITIAL_K" yaml:"rerank_initial_k"`
	Threshold      float64 `envconfig:"SEARCH_THRESHOLD" yaml:"threshold"`
}

// IndexConfig holds indexing settings.
type IndexConfig struct {
	ChunkSize       int `envconfig:"INDEX_CHUNK_SIZE" yaml:"chunk_size"`
	ChunkOverlap    int `envconfig:"INDEX_CHUNK_OVERLAP" yaml:"chunk_overlap"`
	UpsertBatchSize int `envconfig:"INDEX_UPSERT_BATCH_SIZE" yaml:"upsert_batch_size"`
}

// CrawlConfig holds crawl settings.
type CrawlConfig struct {
	BatchSize               int  `envconfig:"CRAWL_BATCH_SIZE" yaml:"batch_size"`
	MaxConcurrent           int  `envconfig:"CRAWL_MAX_CONCURRENT" yaml:"max_concurrent"`
	MemoryThresholdPct      int  `envconfig:"MEMORY_THRESHOLD_PERCENT" yaml:"memory_threshold_percent"`
	PageTimeoutMS           int  `envconfig:"CRAWL_PAGE_TIMEOUT" yaml:"page_timeout_ms"`
	DefaultMaxDepth         int  `envconfig:"CRAWL_MAX_DEPTH" yaml:"max_depth"`
	DefaultMaxPages         int  `envconfig:"CRAWL_MAX_PAGES" yaml:"max_pages"`
	RequestsPerSecond       int  `envconfig:"CRAWL_REQUESTS_PER_SECOND" yaml:"requests_per_second"`
	SameDomainOnlyByDefault bool `envconfig:"CRAWL_SAME_DOMAIN_ONLY" yaml:"same_domain_only"`
}

// PageTimeout returns the per-page fetch timeout.
func (c CrawlConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutMS) * time.Millisecond
}

// LLMConfig holds LLM synthesis settings.
type LLMConfig struct {
	APIKey      string  `envconfig:"LLM_API_KEY" yaml:"api_key"`
	APIBase     string  `envconfig:"LLM_API_BASE" yaml:"api_base"`
	ModelName   string  `envconfig:"MODEL_NAME" yaml:"model_name"`
	MaxTokens   int     `envconfig:"LLM_MAX_TOKENS" yaml:"max_tokens"`
	Temperature float64 `envconfig:"LLM_TEMPERATURE" yaml:"temperature"`
}

// Enabled reports whether smart-query synthesis is configured.
func (c LLMConfig) Enabled() bool {
	return c.APIKey != "" && c.APIBase != ""
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Type     string `envconfig:"CONTEXT_CACHE_TYPE" yaml:"type"`
	Size     int    `envconfig:"CONTEXT_CACHE_SIZE" yaml:"size"`
	RedisURL string `envconfig:"CONTEXT_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"CONTEXT_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"CONTEXT_KAFKA_BROKERS" yaml:"kafka_brokers"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"CONTEXT_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"CONTEXT_LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	// Accept legacy MINIMAX_* names for the LLM settings
	applyLegacyLLMEnv(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyLegacyLLMEnv maps MINIMAX_* variables onto the LLM settings when the
// canonical names are unset.
func applyLegacyLLMEnv(cfg *Config) {
	aliases := map[string]*string{
		"MINIMAX_API_KEY":  &cfg.LLM.APIKey,
		"MINIMAX_API_BASE": &cfg.LLM.APIBase,
	}
	for env, target := range aliases {
		if *target == "" {
			if v := os.Getenv(env); v != "" {
				*target = v
			}
		}
	}
	if cfg.LLM.ModelName == "" {
		if v := os.Getenv("MINIMAX_MODEL"); v != "" {
			cfg.LLM.ModelName = v
		}
	}
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8080
	cfg.EnableHybridSearch = true
	cfg.EnableReranking = false

	cfg.Qdrant = QdrantConfig{
		URL: "http://localhost:6333",
	}

	cfg.Registry = RegistryConfig{
		DSN: defaultRegistryDSN(),
	}

	cfg.Embedding = EmbeddingConfig{
		DenseURL:   "http://localhost:8081",
		SparseURL:  "http://localhost:8082",
		RerankURL:  "http://localhost:8083",
		Dimension:  1024,
		BatchSize:  64,
		TimeoutSec: 30,
	}

	cfg.Search = SearchConfig{
		DefaultTopK:    10,
		RerankInitialK: 150,
		Threshold:      0,
	}

	cfg.Index = IndexConfig{
		ChunkSize:       512,
		ChunkOverlap:    64,
		UpsertBatchSize: 100,
	}

	cfg.Crawl = CrawlConfig{
		BatchSize:               50,
		MaxConcurrent:           10,
		MemoryThresholdPct:      80,
		PageTimeoutMS:           30000,
		DefaultMaxDepth:         2,
		DefaultMaxPages:         100,
		RequestsPerSecond:       5,
		SameDomainOnlyByDefault: true,
	}

	cfg.LLM = LLMConfig{
		MaxTokens:   16384,
		Temperature: 0.2,
	}

	cfg.Cache = CacheConfig{
		Type:     "memory",
		Size:     10000,
		RedisURL: "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type: "memory",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}
}

func defaultRegistryDSN() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "claude-context.db"
	}
	return home + "/.claude-context/registry.db"
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Embedding.Dimension < 1 {
		errs = append(errs, "embedding dimension must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, "embedding batch_size must be positive")
	}

	if c.Search.DefaultTopK < 1 {
		errs = append(errs, "default_top_k must be positive")
	}
	if c.Search.RerankInitialK < 1 {
		errs = append(errs, "rerank_initial_k must be positive")
	}

	if c.Index.ChunkSize < 64 {
		errs = append(errs, "chunk_size must be at least 64")
	}
	if c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, "chunk_overlap must be less than chunk_size")
	}

	if c.Crawl.BatchSize < 1 {
		errs = append(errs, "crawl batch_size must be positive")
	}
	if c.Crawl.MaxConcurrent < 1 {
		errs = append(errs, "crawl max_concurrent must be positive")
	}
	if c.Crawl.MemoryThresholdPct < 1 || c.Crawl.MemoryThresholdPct > 100 {
		errs = append(errs, "memory_threshold_percent must be between 1 and 100")
	}

	validCacheTypes := map[string]bool{"memory": true, "redis": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be memory or redis)", c.Cache.Type))
	}

	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

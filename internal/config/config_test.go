package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if !cfg.EnableHybridSearch {
		t.Error("hybrid search should default to enabled")
	}
	if cfg.EnableReranking {
		t.Error("reranking should default to disabled")
	}
	if cfg.Search.RerankInitialK != 150 {
		t.Errorf("rerank_initial_k = %d, want 150", cfg.Search.RerankInitialK)
	}
	if cfg.Crawl.BatchSize != 50 {
		t.Errorf("crawl batch_size = %d, want 50", cfg.Crawl.BatchSize)
	}
	if cfg.Crawl.MaxConcurrent != 10 {
		t.Errorf("crawl max_concurrent = %d, want 10", cfg.Crawl.MaxConcurrent)
	}
	if cfg.Crawl.MemoryThresholdPct != 80 {
		t.Errorf("memory_threshold_percent = %d, want 80", cfg.Crawl.MemoryThresholdPct)
	}
	if cfg.Crawl.PageTimeoutMS != 30000 {
		t.Errorf("crawl page timeout = %d, want 30000", cfg.Crawl.PageTimeoutMS)
	}
	if cfg.LLM.MaxTokens != 16384 {
		t.Errorf("llm max_tokens = %d, want 16384", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("llm temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Embedding.BatchSize != 64 {
		t.Errorf("embedding batch_size = %d, want 64", cfg.Embedding.BatchSize)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("RERANK_INITIAL_K", "200")
	t.Setenv("ENABLE_RERANKING", "true")
	t.Setenv("CRAWL_BATCH_SIZE", "25")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Search.RerankInitialK != 200 {
		t.Errorf("rerank_initial_k = %d, want 200", cfg.Search.RerankInitialK)
	}
	if !cfg.EnableReranking {
		t.Error("ENABLE_RERANKING=true not applied")
	}
	if cfg.Crawl.BatchSize != 25 {
		t.Errorf("crawl batch_size = %d, want 25", cfg.Crawl.BatchSize)
	}
}

func TestLegacyLLMAliases(t *testing.T) {
	t.Setenv("MINIMAX_API_KEY", "legacy-key")
	t.Setenv("MINIMAX_API_BASE", "https://legacy.example")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.LLM.APIKey != "legacy-key" {
		t.Errorf("llm api key = %q, want legacy alias applied", cfg.LLM.APIKey)
	}
	if cfg.LLM.APIBase != "https://legacy.example" {
		t.Errorf("llm api base = %q, want legacy alias applied", cfg.LLM.APIBase)
	}
	if !cfg.LLM.Enabled() {
		t.Error("LLM should report enabled once key and base are set")
	}
}

func TestCanonicalLLMWinsOverLegacy(t *testing.T) {
	t.Setenv("LLM_API_KEY", "canonical")
	t.Setenv("MINIMAX_API_KEY", "legacy")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.LLM.APIKey != "canonical" {
		t.Errorf("llm api key = %q, canonical name must win", cfg.LLM.APIKey)
	}
}

func TestYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("port: 9090\nsearch:\n  default_top_k: 5\n")
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Port)
	}
	if cfg.Search.DefaultTopK != 5 {
		t.Errorf("default_top_k = %d, want 5", cfg.Search.DefaultTopK)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"bad dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"overlap >= chunk size", func(c *Config) { c.Index.ChunkOverlap = c.Index.ChunkSize }},
		{"bad memory threshold", func(c *Config) { c.Crawl.MemoryThresholdPct = 101 }},
		{"bad cache type", func(c *Config) { c.Cache.Type = "disk" }},
		{"bad bus type", func(c *Config) { c.Bus.Type = "nats" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

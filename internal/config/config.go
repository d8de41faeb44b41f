// Package config defines CodeSage's typed configuration surface and a
// dotted-key bridge over it, mirroring the layout of a nested-struct
// config loaded from YAML with a flat override surface for callers that
// still want to address settings by name.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a CodeSage instance.
type Config struct {
	React         ReactConfig         `yaml:"react"`
	Compaction    CompactionConfig    `yaml:"compaction"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Reranker      RerankerConfig      `yaml:"reranker"`
	Evolution     EvolutionConfig     `yaml:"self_evolution"`
	VectorStore   VectorStoreConfig   `yaml:"vector_db"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency"`
	DoomLoop      DoomLoopConfig      `yaml:"doomloop"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ReactConfig configures the Reasoning-Acting Loop (C7).
type ReactConfig struct {
	MaxSteps        int  `yaml:"max_steps"`        // react.max.steps
	EnableStreaming bool `yaml:"enable_streaming"` // react.enable.streaming
}

// CompactionConfig configures the Context Compactor & Summarizer (C6).
type CompactionConfig struct {
	MaxTokens int `yaml:"max_tokens"` // compaction.max.tokens
	Threshold int `yaml:"threshold"`  // compaction.threshold
}

// EmbeddingConfig configures the embedding half of C3.
type EmbeddingConfig struct {
	Endpoint   string `yaml:"endpoint"` // bge.endpoint
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	Dimension  int    `yaml:"dimension"`
	TokenLimit int    `yaml:"token_limit"` // default 8192
}

// RerankerConfig configures the rerank half of C3.
type RerankerConfig struct {
	Enabled   bool    `yaml:"enabled"`    // reranker.enabled
	BaseURL   string  `yaml:"base_url"`   // reranker.base.url
	APIKey    string  `yaml:"api_key"`
	Threshold float32 `yaml:"threshold"` // reranker.threshold
	Retry     int     `yaml:"retry"`     // reranker.retry
}

// EvolutionConfig configures the Self-Evolution Loop (C10).
type EvolutionConfig struct {
	Enabled               bool `yaml:"enabled"`                 // self.evolution.enabled
	QuestionsPerIteration int  `yaml:"questions_per_iteration"` // self.evolution.questions.per.iteration
	MaxExplorationSteps   int  `yaml:"max_exploration_steps"`   // self.evolution.max.exploration.steps
	IntervalMs            int  `yaml:"interval_ms"`             // self.evolution.interval.ms
	Timezone              string `yaml:"timezone"`
}

// VectorStoreConfig configures the Tiered Vector Store (C2).
type VectorStoreConfig struct {
	L1CacheSize int    `yaml:"l1_cache_size"` // vector.db.l1.cache.size
	Driver      string `yaml:"driver"`        // "sqlite" or "postgres"
	DSN         string `yaml:"dsn"`
	RebuildEvery int   `yaml:"rebuild_every"` // not passed to vectorstore; L2 rebuilds every 1000 mutations
}

// ConcurrencyConfig configures per-endpoint-class semaphore sizes.
type ConcurrencyConfig struct {
	BGE      int `yaml:"bge"`      // concurrency.bge
	LLM      int `yaml:"llm"`      // concurrency.llm
	Rerank   int `yaml:"rerank"`   // concurrency.rerank
	Analysis int `yaml:"analysis"` // concurrency.analysis
}

// DoomLoopConfig configures the Doom-Loop Guard (C8).
type DoomLoopConfig struct {
	BaseMs             int64 `yaml:"base_ms"`             // doomloop.baseMs
	CapMs              int64 `yaml:"cap_ms"`              // doomloop.capMs
	DailyQuota         int   `yaml:"daily_quota"`         // doomloop.dailyQuota
	DuplicateThreshold int   `yaml:"duplicate_threshold"`
}

// LLMConfig configures the LLM Service (C5).
type LLMConfig struct {
	Provider  string `yaml:"provider"` // "anthropic" or "openai"
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	MaxTokens int    `yaml:"max_tokens"`
}

// ObservabilityConfig configures the Prometheus metrics endpoint.
type ObservabilityConfig struct {
	// MetricsAddr is the listen address for a /metrics endpoint (e.g.
	// ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with sensible defaults for every
// component.
func Default() *Config {
	return &Config{
		React:      ReactConfig{MaxSteps: 25, EnableStreaming: true},
		Compaction: CompactionConfig{MaxTokens: 8000, Threshold: 6000},
		Embedding:  EmbeddingConfig{Dimension: 1024, TokenLimit: 8192},
		Reranker:   RerankerConfig{Enabled: false, Threshold: 0.0, Retry: 2},
		Evolution: EvolutionConfig{
			Enabled:               false,
			QuestionsPerIteration: 3,
			MaxExplorationSteps:   10,
			IntervalMs:            int(30 * time.Minute / time.Millisecond),
			Timezone:              "UTC",
		},
		VectorStore: VectorStoreConfig{L1CacheSize: 500, Driver: "sqlite", RebuildEvery: 1000},
		Concurrency: ConcurrencyConfig{BGE: 4, LLM: 2, Rerank: 2, Analysis: 4},
		DoomLoop:    DoomLoopConfig{BaseMs: 1000, CapMs: 10 * 60 * 1000, DailyQuota: 200, DuplicateThreshold: 3},
		LLM:         LLMConfig{Provider: "anthropic", MaxTokens: 4096},
	}
}

// Load reads a YAML configuration file, applying Default() for any zero
// fields left unset by the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Option is a flat dotted-key bridge over Config, for callers (CLI
// flags, tests, legacy integrations) that address settings by their
// documented dotted key rather than through the typed struct.
type Option struct {
	cfg *Config
}

// NewOption wraps cfg for dotted-key access.
func NewOption(cfg *Config) *Option {
	return &Option{cfg: cfg}
}

// Get resolves a dotted key (e.g. "react.max.steps") to its string
// representation, or "" if the key is unrecognized.
func (o *Option) Get(key string) string {
	c := o.cfg
	switch key {
	case "react.max.steps":
		return strconv.Itoa(c.React.MaxSteps)
	case "react.enable.streaming":
		return strconv.FormatBool(c.React.EnableStreaming)
	case "compaction.max.tokens":
		return strconv.Itoa(c.Compaction.MaxTokens)
	case "compaction.threshold":
		return strconv.Itoa(c.Compaction.Threshold)
	case "bge.endpoint":
		return c.Embedding.Endpoint
	case "reranker.enabled":
		return strconv.FormatBool(c.Reranker.Enabled)
	case "reranker.base.url":
		return c.Reranker.BaseURL
	case "reranker.threshold":
		return strconv.FormatFloat(float64(c.Reranker.Threshold), 'f', -1, 32)
	case "reranker.retry":
		return strconv.Itoa(c.Reranker.Retry)
	case "self.evolution.enabled":
		return strconv.FormatBool(c.Evolution.Enabled)
	case "self.evolution.questions.per.iteration":
		return strconv.Itoa(c.Evolution.QuestionsPerIteration)
	case "self.evolution.max.exploration.steps":
		return strconv.Itoa(c.Evolution.MaxExplorationSteps)
	case "self.evolution.interval.ms":
		return strconv.Itoa(c.Evolution.IntervalMs)
	case "vector.db.l1.cache.size":
		return strconv.Itoa(c.VectorStore.L1CacheSize)
	case "concurrency.bge":
		return strconv.Itoa(c.Concurrency.BGE)
	case "concurrency.llm":
		return strconv.Itoa(c.Concurrency.LLM)
	case "concurrency.rerank":
		return strconv.Itoa(c.Concurrency.Rerank)
	case "concurrency.analysis":
		return strconv.Itoa(c.Concurrency.Analysis)
	case "doomloop.baseMs":
		return strconv.FormatInt(c.DoomLoop.BaseMs, 10)
	case "doomloop.capMs":
		return strconv.FormatInt(c.DoomLoop.CapMs, 10)
	case "doomloop.dailyQuota":
		return strconv.Itoa(c.DoomLoop.DailyQuota)
	default:
		return ""
	}
}

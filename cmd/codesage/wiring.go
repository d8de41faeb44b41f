package main

import (
	"fmt"
	"os"

	"github.com/codesage-ai/codesage/internal/config"
	"github.com/codesage-ai/codesage/internal/doomloop"
	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/internal/observability"
	"github.com/codesage-ai/codesage/internal/question"
	"github.com/codesage-ai/codesage/internal/react"
	"github.com/codesage-ai/codesage/internal/staterepo"
	"github.com/codesage-ai/codesage/internal/toolkit"
	"github.com/codesage-ai/codesage/internal/vectorstore"
)

// loadConfig loads path, falling back to config.Default() when the
// file doesn't exist so a bare `codesage chat` works against a fresh
// checkout without requiring a config file first.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

// services bundles every component New() needs, built once per CLI
// invocation from a loaded config.Config.
type services struct {
	cfg       *config.Config
	llmSvc    *llm.Service
	embed     *embedclient.Client
	store     *vectorstore.Store
	repo      staterepo.Repository
	guard     *doomloop.Guard
	generator *question.Generator
	registry  *toolkit.Registry
	executor  *toolkit.Executor
	metrics   *observability.Metrics
}

// buildServices wires every internal package together for a single
// project key.
func buildServices(cfg *config.Config, projectKey string) (*services, error) {
	provider, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build LLM provider: %w", err)
	}
	llmSvc := llm.NewService(provider)

	embed := embedclient.NewClient(embedclient.Config{
		BaseURL:   cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		MaxTokens: cfg.Embedding.TokenLimit,
	})

	store, err := vectorstore.New(vectorstore.Config{
		Dimension:   cfg.Embedding.Dimension,
		L1CacheSize: cfg.VectorStore.L1CacheSize,
		Driver:      vectorstore.Driver(cfg.VectorStore.Driver),
		DSN:         cfg.VectorStore.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	repo, err := buildRepository(cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("open state repository: %w", err)
	}

	guard := doomloop.New(doomloop.Config{
		BaseMs:     cfg.DoomLoop.BaseMs,
		CapMs:      cfg.DoomLoop.CapMs,
		DailyQuota: cfg.DoomLoop.DailyQuota,
		Timezone:   cfg.Evolution.Timezone,
	}, repo)

	generator := question.New(question.Config{DesiredCount: cfg.Evolution.QuestionsPerIteration}, llmSvc)

	registry := toolkit.NewRegistry()
	if err := registry.Register(&toolkit.SemanticSearchTool{ProjectKey: projectKey, Embed: embed, Store: store}); err != nil {
		return nil, fmt.Errorf("register semantic_search tool: %w", err)
	}
	executor := toolkit.NewExecutor(registry, toolkit.DefaultExecutorConfig())

	metrics := observability.NewMetrics()
	executor.Prom = metrics
	guard.Prom = metrics

	return &services{
		cfg: cfg, llmSvc: llmSvc, embed: embed, store: store, repo: repo,
		guard: guard, generator: generator, registry: registry, executor: executor,
		metrics: metrics,
	}, nil
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       resolveAPIKey(cfg.APIKey, "ANTHROPIC_API_KEY"),
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY"),
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func resolveAPIKey(configured, envVar string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(envVar)
}

func buildRepository(cfg config.VectorStoreConfig) (staterepo.Repository, error) {
	if cfg.DSN == "" {
		return staterepo.NewMemoryRepository(), nil
	}
	driver := staterepo.DriverSQLite
	if cfg.Driver == "postgres" {
		driver = staterepo.DriverPostgres
	}
	sqlCfg := staterepo.DefaultConfig()
	sqlCfg.Driver = driver
	sqlCfg.DSN = cfg.DSN
	return staterepo.Open(sqlCfg)
}

// newExplorer builds a react.Loop configured for interactive chat
// (the full configured step budget).
func newExplorer(svc *services) *react.Loop {
	cfg := react.DefaultConfig()
	cfg.MaxSteps = svc.cfg.React.MaxSteps
	return react.New(cfg, svc.llmSvc, svc.executor, svc.store, svc.embed)
}

// newExplorationLoop builds a react.Loop capped at MaxExplorationSteps
// for the Self-Evolution Loop's Exploring phase: the same reasoning
// primitive the interactive chat command uses, reconfigured with a
// tighter step budget.
func newExplorationLoop(svc *services) *react.Loop {
	cfg := react.DefaultConfig()
	cfg.MaxSteps = svc.cfg.Evolution.MaxExplorationSteps
	cfg.RunAcknowledgementPreCall = false
	return react.New(cfg, svc.llmSvc, svc.executor, svc.store, svc.embed)
}

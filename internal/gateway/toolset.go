// ABOUTME: Builds the tool registry: Meilisearch groups plus the optional AI router.
// ABOUTME: Shared by the server and the one-shot CLI commands.

package gateway

import (
	"fmt"
	"log/slog"

	"github.com/2389/meili-gateway/internal/airouter"
	"github.com/2389/meili-gateway/internal/config"
	"github.com/2389/meili-gateway/internal/llm"
	"github.com/2389/meili-gateway/internal/meili"
	"github.com/2389/meili-gateway/internal/metrics"
	"github.com/2389/meili-gateway/internal/tools"
)

// Toolset is the registry together with the clients behind it.
type Toolset struct {
	Registry *tools.Registry
	Meili    *meili.Client
	Backend  llm.Backend      // nil when ai.provider is empty
	Router   *airouter.Router // nil when ai.provider is empty
}

// ToolsetOptions carries optional collaborators.
type ToolsetOptions struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Recorder airouter.Recorder
}

// NewToolset builds the Meilisearch client and registers every tool group.
func NewToolset(cfg *config.Config, opts ToolsetOptions) (*Toolset, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := meili.NewClient(meili.Config{
		Host:      cfg.Meilisearch.Host,
		APIKey:    cfg.Meilisearch.APIKey,
		Timeout:   cfg.Meilisearch.Timeout,
		RateLimit: cfg.Meilisearch.RateLimit,
		Logger:    logger.With("component", "meili"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating meilisearch client: %w", err)
	}

	registry := tools.NewRegistry(logger.With("component", "tools"))
	groups := meili.Groups(client, meili.GroupOptions{
		Wait: meili.WaitOptions{
			Timeout:  cfg.Meilisearch.TaskWaitTimeout,
			Interval: cfg.Meilisearch.TaskPollInterval,
		},
	})
	for _, g := range groups {
		if err := registry.RegisterGroup(g); err != nil {
			return nil, fmt.Errorf("registering %s tools: %w", g.Name, err)
		}
	}

	ts := &Toolset{Registry: registry, Meili: client}
	if !cfg.AI.Enabled() {
		logger.Info("ai provider not configured, process-ai-query disabled")
		return ts, nil
	}

	backend, err := llm.New(llm.Config{
		Provider:  cfg.AI.Provider,
		APIKey:    cfg.AI.APIKey,
		Model:     cfg.AI.Model,
		Endpoint:  cfg.AI.Endpoint,
		MaxTokens: int32(cfg.AI.MaxTokens),
		Timeout:   cfg.AI.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ai backend: %w", err)
	}

	router, err := airouter.New(airouter.Config{
		Registry:    registry,
		Backend:     backend,
		Logger:      logger,
		Metrics:     opts.Metrics,
		Recorder:    opts.Recorder,
		ChunkSize:   cfg.AI.ChunkSize,
		MaxParallel: cfg.AI.MaxParallel,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ai router: %w", err)
	}
	if err := registry.RegisterGroup(router.Group()); err != nil {
		return nil, fmt.Errorf("registering ai tools: %w", err)
	}

	ts.Backend = backend
	ts.Router = router
	logger.Info("ai router enabled", "provider", backend.Name(), "tools", registry.Len())
	return ts, nil
}

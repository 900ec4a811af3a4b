// Package app wires the service graph from configuration. Both binaries use
// it so the CLI and the daemon run the same stack.
package app

import (
	"context"
	"fmt"

	"github.com/claudecontext/claude-context/internal/bus"
	"github.com/claudecontext/claude-context/internal/chunker"
	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/defaults"
	"github.com/claudecontext/claude-context/internal/embed"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/vector"
)

// App is the wired service graph.
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Registry  *registry.Registry
	Store     vector.Store
	Gateway   *embed.Gateway
	Coord     *ingest.Coordinator
	Retrieval *retrieve.Service
	Crawler   *crawl.Strategy
	Tracker   *progress.Tracker
	Bus       bus.Bus
	LLM       *llm.Client
	Defaults  *defaults.Store
}

// New builds the graph. The vector store prefers Qdrant; when it is
// unreachable the in-memory dense-only store backs the process so local
// workflows keep working.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	reg, err := registry.Open(cfg.Registry.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	store, kind := openVectorStore(ctx, cfg, log)

	eventBus, err := bus.NewBus(cfg.Bus)
	if err != nil {
		log.Warn("Failed to initialize configured bus, falling back to memory bus", "error", err, "type", cfg.Bus.Type)
		eventBus = bus.NewMemoryBus()
	}

	gateway := embed.NewGatewayFromConfig(cfg, log)
	tracker := progress.NewTracker()
	ch := chunker.New(chunker.Config{
		TargetSize: cfg.Index.ChunkSize,
		Overlap:    cfg.Index.ChunkOverlap,
		MinSize:    32,
		MaxSize:    cfg.Index.ChunkSize * 4,
	})

	coord := ingest.NewCoordinator(reg, store, gateway, ch, tracker, eventBus, log, ingest.Config{
		Dimension:       cfg.Embedding.Dimension,
		UpsertBatchSize: cfg.Index.UpsertBatchSize,
		VectorKind:      kind,
	})

	retrieval := retrieve.NewService(reg, store, gateway, log, retrieve.Config{
		DefaultTopK:    cfg.Search.DefaultTopK,
		RerankInitialK: cfg.Search.RerankInitialK,
	})

	strategy := crawl.NewStrategy(crawl.NewHTTPFetcher(cfg.Crawl), cfg.Crawl, log)

	return &App{
		Config:    cfg,
		Log:       log,
		Registry:  reg,
		Store:     store,
		Gateway:   gateway,
		Coord:     coord,
		Retrieval: retrieval,
		Crawler:   strategy,
		Tracker:   tracker,
		Bus:       eventBus,
		LLM:       llm.NewClient(cfg.LLM, log),
		Defaults:  defaults.NewStore(""),
	}, nil
}

func openVectorStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (vector.Store, string) {
	clientCfg, err := vector.ParseURL(cfg.Qdrant.URL)
	if err == nil {
		clientCfg.APIKey = cfg.Qdrant.APIKey
		client, cerr := vector.NewClient(clientCfg)
		if cerr == nil {
			if herr := client.HealthCheck(ctx); herr == nil {
				log.Info("Connected to Qdrant", "host", clientCfg.Host, "port", clientCfg.Port)
				return client, registry.VectorKindPrimary
			} else {
				err = herr
			}
			client.Close()
		} else {
			err = cerr
		}
	}

	log.Warn("Qdrant unavailable, using in-memory vector store", "error", err)
	return vector.NewMemoryStore(), registry.VectorKindFallback
}

// Close releases resources.
func (a *App) Close() {
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.Registry != nil {
		a.Registry.Close()
	}
}

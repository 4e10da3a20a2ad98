/**
 * Application wiring for the document understanding worker
 *
 * Builds the pipeline, its storage collaborators and its sinks from the
 * environment configuration. Shared by the queue worker, the CLI and the
 * Cloud Functions entry point.
 */

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/adverant/nexus/docintel-worker/internal/catalog"
	"github.com/adverant/nexus/docintel-worker/internal/classify"
	"github.com/adverant/nexus/docintel-worker/internal/config"
	"github.com/adverant/nexus/docintel-worker/internal/enrich"
	"github.com/adverant/nexus/docintel-worker/internal/extract"
	"github.com/adverant/nexus/docintel-worker/internal/llm"
	"github.com/adverant/nexus/docintel-worker/internal/logging"
	"github.com/adverant/nexus/docintel-worker/internal/normalize"
	"github.com/adverant/nexus/docintel-worker/internal/ocr"
	"github.com/adverant/nexus/docintel-worker/internal/pipeline"
	"github.com/adverant/nexus/docintel-worker/internal/storage"
)

// Options selects the optional parts of the application.
type Options struct {
	// Sinks enables result delivery. Local CLI runs leave it off.
	Sinks bool
	// Engine overrides the OCR engine.
	Engine ocr.Engine
	// Providers overrides the configured language model providers.
	Providers []llm.Provider
	// Source overrides the storage path resolver.
	Source pipeline.Source
}

// App is a wired pipeline and everything it holds open.
type App struct {
	Config       *config.Config
	Orchestrator *pipeline.Orchestrator
	Catalog      catalog.Provider
	Sinks        *storage.Manager
	// Results is the PostgreSQL result store, nil when DATABASE_URL is unset.
	Results *storage.PostgresSink
	// Index is the vector index, nil when QDRANT_URL is unset.
	Index *storage.QdrantIndex

	closers []io.Closer
	logger  *logging.Logger
}

// Build wires an App from cfg. The caller owns Close.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{
		Config: cfg,
		Sinks:  storage.NewManager(logging.NewLogger("storage")),
		logger: logging.NewLogger("app"),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	providers := opts.Providers
	if len(providers) == 0 {
		if providers, err = a.providers(ctx, cfg); err != nil {
			return nil, err
		}
	}
	invoker := llm.NewInvoker(providers, InvokerConfig(cfg), llm.WithLogger(logging.NewLogger("llm")))

	if a.Catalog, err = a.catalog(cfg); err != nil {
		return nil, err
	}

	engine := opts.Engine
	if engine == nil {
		engine = ocr.NewTesseractEngine(cfg.OCRLanguage)
	}

	boxes := []pipeline.Box{
		ocr.NewExtractor(OCRConfig(cfg), engine, ocr.WithLogger(logging.NewLogger("ocr"))),
		normalize.NewNormalizer(NormalizeConfig(cfg), logging.NewLogger("normalize")),
		classify.NewClassifier(ClassifyConfig(cfg), a.Catalog, invoker,
			classify.WithCache(a.classificationCache(cfg)),
			classify.WithLogger(logging.NewLogger("classify"))),
		extract.NewExtractor(ExtractConfig(cfg), a.Catalog, invoker, extract.WithLogger(logging.NewLogger("extract"))),
		enrich.NewEnricher(EnrichConfig(cfg), enrich.WithLogger(logging.NewLogger("enrich"))),
	}

	source := opts.Source
	if source == nil {
		source = a.source(ctx)
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithSource(source),
		pipeline.WithLogger(logging.NewLogger("pipeline")),
	}
	if opts.Sinks {
		if err := a.sinks(ctx, cfg); err != nil {
			return nil, err
		}
		pipeOpts = append(pipeOpts, pipeline.WithSink(a.Sinks))
	}
	a.Orchestrator = pipeline.New(boxes, pipeOpts...)

	a.logger.Info("app.ready",
		"stages", a.Orchestrator.Stages(),
		"providers", providerNames(providers),
		"catalog", cfg.CatalogSource,
		"sinks", a.Sinks.Sinks())
	return a, nil
}

func providerNames(providers []llm.Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return names
}

func (a *App) providers(ctx context.Context, cfg *config.Config) ([]llm.Provider, error) {
	var providers []llm.Provider
	for _, name := range cfg.LLMProviders {
		switch name {
		case "openai":
			p, err := llm.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to create openai provider: %w", err)
			}
			providers = append(providers, p)
		case "anthropic":
			p, err := llm.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnthropicModel)
			if err != nil {
				return nil, fmt.Errorf("failed to create anthropic provider: %w", err)
			}
			providers = append(providers, p)
		case "vertex":
			p, err := llm.NewVertexProvider(ctx, cfg.VertexProject, cfg.VertexRegion, cfg.VertexModel)
			if err != nil {
				return nil, fmt.Errorf("failed to create vertex provider: %w", err)
			}
			a.closers = append(a.closers, p)
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", name)
		}
	}
	return providers, nil
}

func (a *App) catalog(cfg *config.Config) (catalog.Provider, error) {
	if cfg.CatalogSource == "postgres" {
		cat, err := catalog.NewPostgresCatalog(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		a.closers = append(a.closers, cat)
		return cat, nil
	}
	cat, err := catalog.NewFileCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return cat, nil
}

// classificationCache prefers Redis and falls back to process memory.
func (a *App) classificationCache(cfg *config.Config) classify.ResultCache {
	if cfg.ClassifyCacheTTL <= 0 {
		return nil
	}
	ttl := time.Duration(cfg.ClassifyCacheTTL) * time.Second
	if cfg.RedisURL != "" {
		cache, err := classify.NewRedisCache(cfg.RedisURL, ttl)
		if err == nil {
			a.closers = append(a.closers, cache)
			return cache
		}
		a.logger.Warn("app.cache.redis_unavailable", "error", err)
	}
	return classify.NewMemoryCache(ttl)
}

func (a *App) source(ctx context.Context) *storage.Router {
	router := storage.NewRouter(storage.FileSource{})
	web := storage.NewHTTPSource(storage.DefaultHTTPSourceConfig(), logging.NewLogger("source"))
	router.Handle("http", web)
	router.Handle("https", web)

	client, err := gcs.NewClient(ctx)
	if err != nil {
		a.logger.Warn("app.source.gcs_unavailable", "error", err)
		return router
	}
	a.closers = append(a.closers, client)
	router.Handle("gs", storage.NewGCSSource(client, storage.DefaultHTTPSourceConfig().MaxBytes))
	return router
}

// sinks registers PostgreSQL as the required system of record and the
// other configured stores as best effort.
func (a *App) sinks(ctx context.Context, cfg *config.Config) error {
	log := logging.NewLogger("storage")

	if cfg.DatabaseURL != "" {
		pg, err := storage.NewPostgresSink(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open result store: %w", err)
		}
		a.Results = pg
		a.Sinks.Add("postgres", pg, true)
	}

	if cfg.QdrantURL != "" {
		embedder, err := storage.NewVoyageEmbedder(cfg.VoyageAPIKey, log)
		if err != nil {
			return err
		}
		idx, err := storage.NewQdrantIndex(cfg.QdrantURL, cfg.QdrantCollection, embedder)
		if err != nil {
			return fmt.Errorf("failed to open vector index: %w", err)
		}
		a.Index = idx
		a.Sinks.Add("qdrant", idx, false)
	}

	if cfg.ResultsBucket != "" {
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		a.closers = append(a.closers, client)
		archive, err := storage.NewGCSArchive(client, cfg.ResultsBucket, "results", log)
		if err != nil {
			return err
		}
		a.Sinks.Add("gcs", archive, false)
	}

	if cfg.FirestoreProject != "" {
		mirror, err := storage.NewFirestoreMirror(ctx, cfg.FirestoreProject, cfg.FirestoreCollection)
		if err != nil {
			return err
		}
		a.Sinks.Add("firestore", mirror, false)
	}
	return nil
}

// Close releases sinks, clients and connections.
func (a *App) Close() error {
	var first error
	if a.Sinks != nil {
		first = a.Sinks.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/bryanwahyu/designlens/internal/application"
	aiapp "github.com/bryanwahyu/designlens/internal/application/ai"
	appanalysis "github.com/bryanwahyu/designlens/internal/application/analysis"
	appknowledge "github.com/bryanwahyu/designlens/internal/application/knowledge"
	"github.com/bryanwahyu/designlens/internal/application/pipeline"
	"github.com/bryanwahyu/designlens/internal/cache"
	"github.com/bryanwahyu/designlens/internal/config"
	"github.com/bryanwahyu/designlens/internal/domain/ai"
	domain "github.com/bryanwahyu/designlens/internal/domain/analysis"
	domknowledge "github.com/bryanwahyu/designlens/internal/domain/knowledge"
	dompipe "github.com/bryanwahyu/designlens/internal/domain/pipeline"
	"github.com/bryanwahyu/designlens/internal/domain/runerrors"
	geminiai "github.com/bryanwahyu/designlens/internal/infra/ai/gemini"
	openaiai "github.com/bryanwahyu/designlens/internal/infra/ai/openai"
	"github.com/bryanwahyu/designlens/internal/infra/ai/prompt"
	mysqlp "github.com/bryanwahyu/designlens/internal/infra/db/mysql"
	pg "github.com/bryanwahyu/designlens/internal/infra/db/postgres"
	"github.com/bryanwahyu/designlens/internal/infra/httpserver"
	minioStore "github.com/bryanwahyu/designlens/internal/infra/storage"
	"github.com/bryanwahyu/designlens/internal/logging"
	"github.com/bryanwahyu/designlens/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config load error", "path", path, "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := application.SystemClock{}
	checkers := map[string]middleware.HealthChecker{}

	// database
	db, repo, errLog, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}

	// providers
	dispatcher := aiapp.NewDispatcher(cfg.Providers.Timeout, logger)
	var embedClient *openaiai.Client
	for _, p := range cfg.SortedProviders() {
		provider, err := newProvider(ctx, p)
		if err != nil {
			return fmt.Errorf("provider %s: %w", p.ID, err)
		}
		dispatcher.Register(provider, p.Priority)
		if c, ok := provider.(*openaiai.Client); ok && embedClient == nil {
			embedClient = c
		}
		logger.Info("provider registered", "provider", p.ID, "kind", p.Kind, "model", p.Model, "priority", p.Priority)
	}

	// knowledge base (pgvector, postgres only)
	var retriever domknowledge.Retriever
	switch {
	case !cfg.Knowledge.Enabled:
	case cfg.Database.Driver != "postgres":
		logger.Warn("knowledge retrieval needs postgres with pgvector; running without it", "driver", cfg.Database.Driver)
	case embedClient == nil:
		logger.Warn("knowledge retrieval needs an openai provider for embeddings; running without it")
	default:
		retriever = pg.NewKnowledgeRepository(db, openaiai.NewEmbedder(embedClient, cfg.Knowledge.EmbeddingModel))
	}
	snippetCache, err := cache.NewTTL[string, []domknowledge.Snippet](cfg.Knowledge.CacheSize, cfg.Knowledge.CacheTTL, clock)
	if err != nil {
		return fmt.Errorf("knowledge cache: %w", err)
	}
	builder := appknowledge.NewBuilder(retriever, domknowledge.SearchOptions{
		MatchThreshold: cfg.Knowledge.MatchThreshold,
		MatchCount:     cfg.Knowledge.MatchCount,
	}, snippetCache, logger)

	// raw output archive
	var artifacts domain.ArtifactStore
	if cfg.ArchiveEnabled() {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			return fmt.Errorf("minio init: %w", err)
		}
		artifacts = store
		checkers["storage"] = middleware.CheckFunc(store.Ping)
	}

	metrics := middleware.NewMetrics()
	events := make(chan dompipe.Event, 256)
	go logEvents(ctx, logger, events)

	svc := &appanalysis.Service{
		Repo:             repo,
		ErrorLog:         errLog,
		Artifacts:        artifacts,
		Context:          builder,
		Dispatcher:       dispatcher,
		Parser:           appanalysis.NewParser(),
		Validator:        appanalysis.NewCoordinateValidator(),
		Selector:         appanalysis.NewCandidateSelector(cfg.Pipeline.MaxCandidates),
		Clock:            clock,
		Logger:           logger,
		Events:           events,
		Metrics:          metrics,
		SystemPrompt:     prompt.System(cfg.Pipeline.SystemPrompt),
		DefaultProviders: dispatcher.Providers(),
	}

	sweeper := pipeline.NewSweeper(repo, svc, svc, clock, logger)
	go sweeper.Run(ctx, cfg.Pipeline.SweepInterval, cfg.Pipeline.StalenessThreshold, cfg.Pipeline.FailureThreshold)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RequestsPerMinute, cfg.Server.RateLimit.Burst, clock)
	go pruneLimiter(ctx, limiter)

	handler := httpserver.NewRouter(svc, sweeper, httpserver.Options{
		APIKeys:     cfg.Auth.APIKeys,
		OpsKey:      cfg.Auth.OpsKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimiter: limiter,
		Metrics:     metrics,
		Checkers:    checkers,
		Logger:      logger,
		Staleness:   cfg.Pipeline.StalenessThreshold,
		Failure:     cfg.Pipeline.FailureThreshold,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// ?wait=true holds the request for the whole pipeline
		WriteTimeout: cfg.Providers.Timeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr, "driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...", "in_flight", svc.InFlight())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, domain.Repository, runerrors.Repository, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		return db, mysqlp.NewRunRepository(db), mysqlp.NewRunErrorRepository(db), nil
	default:
		db, err := pg.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		return db, pg.NewRunRepository(db), pg.NewRunErrorRepository(db), nil
	}
}

func newProvider(ctx context.Context, p config.ProviderConfig) (ai.Provider, error) {
	switch p.Kind {
	case "openai":
		oc := goopenai.DefaultConfig(p.APIKey)
		if p.BaseURL != "" {
			oc.BaseURL = p.BaseURL
		}
		return openaiai.NewClientWithConfig(oc, ai.ProviderID(p.ID), p.Model), nil
	case "gemini":
		gc := &genai.ClientConfig{APIKey: p.APIKey, Backend: genai.BackendGeminiAPI}
		if p.BaseURL != "" {
			gc.HTTPOptions = genai.HTTPOptions{BaseURL: p.BaseURL}
		}
		return geminiai.NewClientWithConfig(ctx, gc, ai.ProviderID(p.ID), p.Model)
	default:
		return nil, fmt.Errorf("%w: kind %q", ai.ErrUnknownProvider, p.Kind)
	}
}

// logEvents drains stage transitions. The channel is never closed; the
// goroutine ends with the process context.
func logEvents(ctx context.Context, logger *slog.Logger, events <-chan dompipe.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			logger.Debug("stage transition",
				"run_id", ev.RunID, "seq", ev.Seq, "stage", ev.Stage,
				"from", ev.From, "to", ev.To, "detail", ev.Detail)
		}
	}
}

func pruneLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rl.Prune(10 * time.Minute)
		}
	}
}

// Package app builds the ingestion service from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/api"
	"github.com/JakeFAU/youth-justice-ingest/internal/breaker"
	"github.com/JakeFAU/youth-justice-ingest/internal/clock/system"
	"github.com/JakeFAU/youth-justice-ingest/internal/config"
	"github.com/JakeFAU/youth-justice-ingest/internal/dispatcher"
	"github.com/JakeFAU/youth-justice-ingest/internal/extract"
	"github.com/JakeFAU/youth-justice-ingest/internal/fetcher"
	collyfetcher "github.com/JakeFAU/youth-justice-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/youth-justice-ingest/internal/fetcher/firecrawl"
	headlessfetcher "github.com/JakeFAU/youth-justice-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/youth-justice-ingest/internal/hash/sha256"
	"github.com/JakeFAU/youth-justice-ingest/internal/health"
	"github.com/JakeFAU/youth-justice-ingest/internal/id/uuid"
	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
	"github.com/JakeFAU/youth-justice-ingest/internal/persist"
	"github.com/JakeFAU/youth-justice-ingest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/youth-justice-ingest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/youth-justice-ingest/internal/publisher/pubsub"
	"github.com/JakeFAU/youth-justice-ingest/internal/queue"
	"github.com/JakeFAU/youth-justice-ingest/internal/scrape"
	gcsstorage "github.com/JakeFAU/youth-justice-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/youth-justice-ingest/internal/storage/local"
	memorystorage "github.com/JakeFAU/youth-justice-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/youth-justice-ingest/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/youth-justice-ingest/internal/storage/sqlite"
	"github.com/JakeFAU/youth-justice-ingest/internal/telemetry"
	"github.com/JakeFAU/youth-justice-ingest/internal/validate"
	"github.com/JakeFAU/youth-justice-ingest/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type migrator interface {
	Migrate(ctx context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store      ingest.Store
	linkQueue  *queue.LinkQueue
	breaker    *breaker.Registry
	health     *health.Checker
	scrape     *scrape.Service
	apiServer  *api.Server
	publisher  *memorypublisher.Publisher
	headless   *headlessfetcher.Fetcher
	gcsClient  *storage.Client
	psClient   *pubsub.Client
	psPublish  *gcppublisher.Publisher
	closeOnce  sync.Once
	tracerStop func(context.Context) error
}

// Build creates the application's dependencies. On error every resource
// opened so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.Close(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("fetch", cfg.Fetch.Backend),
		zap.String("archive", cfg.Archive.Backend),
	)

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerStop = tp.Shutdown

	if app.store, err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	pageFetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}
	extractor, err := app.setupExtractor()
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.NewUUIDGenerator()

	app.linkQueue = queue.New(app.store, clock, logger.Named("queue"))
	app.breaker = breaker.New(breaker.Config{
		Threshold:   cfg.Breaker.Threshold,
		ResetWindow: cfg.Breaker.ResetWindow,
	}, clock, logger.Named("breaker"))
	app.breaker.OnChange(breakerGauge())
	app.health = health.New(health.Config{
		Timeout:   cfg.Health.Timeout,
		UserAgent: cfg.Health.UserAgent,
	}, nil)

	persister := persist.New(persist.Config{BlobPrefix: cfg.Archive.Prefix}, persist.Deps{
		Entities: app.store,
		History:  app.store,
		Raw:      app.store,
		Blobs:    blobs,
		IDs:      ids,
		Clock:    clock,
		Hasher:   sha256.New(),
		Logger:   logger.Named("persist"),
	})

	validator, err := validate.New(validate.Config{
		MinLength: cfg.Content.MinLength,
		Keywords:  cfg.Content.Keywords,
		Denylist:  cfg.Content.Denylist,
	})
	if err != nil {
		return nil, fmt.Errorf("content gates: %w", err)
	}

	w := worker.New(worker.Config{
		SkipHealthCheck: cfg.Worker.SkipHealthCheck,
		Topic:           cfg.PubSub.Topic,
	}, worker.Deps{
		Queue:     app.linkQueue,
		Breaker:   app.breaker,
		Health:    app.health,
		Fetcher:   pageFetcher,
		Validator: validator,
		Extractor: extractor,
		Persister: persister,
		Publisher: publisher,
		Clock:     clock,
		Logger:    logger,
	})

	spacer := ratelimit.New(ratelimit.Config{
		Delay:   cfg.Worker.PerDomainDelay,
		Observe: metrics.ObserveRateLimitDelay,
	})
	dispatch := dispatcher.New(dispatcher.Config{Concurrency: cfg.Worker.Concurrency}, w, spacer, logger.Named("dispatcher"))

	mode, err := ingest.ParseSelectMode(cfg.Scheduler.Mode)
	if err != nil {
		return nil, fmt.Errorf("scheduler mode: %w", err)
	}
	app.scrape = scrape.New(scrape.Config{
		DefaultBatchSize: cfg.Queue.DefaultBatchSize,
		MaxBatchSize:     cfg.Queue.MaxBatchSize,
		Scheduler: scrape.SchedulerConfig{
			Interval:  cfg.Scheduler.Interval,
			BatchSize: cfg.Scheduler.BatchSize,
			Mode:      mode,
		},
	}, scrape.Deps{
		Queue:   app.linkQueue,
		Runner:  dispatch,
		Breaker: app.breaker,
		Links:   app.store,
		History: app.store,
		IDs:     ids,
		Clock:   clock,
		Logger:  logger.Named("scrape"),
	})

	app.apiServer = api.NewServer(app.scrape, app.breaker, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
		Ready:          app.ready,
	}, logger.Named("api"))

	return app, nil
}

// breakerGauge mirrors the blocked-domain count into metrics and counts a
// trip whenever the count grows.
func breakerGauge() func(blocked int) {
	var last atomic.Int64
	return func(blocked int) {
		if prev := last.Swap(int64(blocked)); int64(blocked) > prev {
			metrics.ObserveBreakerTrip()
		}
		metrics.SetBlockedDomains(blocked)
	}
}

func (a *App) setupStore(ctx context.Context) (ingest.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.StoragePostgres:
		a.logger.Info("using postgres storage backend")
		s, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:             a.cfg.Storage.DSN,
			MaxConns:        a.cfg.Storage.MaxConns,
			MinConns:        a.cfg.Storage.MinConns,
			MaxConnLifetime: a.cfg.Storage.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		return s, nil
	case config.StorageSQLite:
		a.logger.Info("using sqlite storage backend", zap.String("path", a.cfg.Storage.SQLitePath))
		s, err := sqlitestore.Open(ctx, sqlitestore.Config{Path: a.cfg.Storage.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		return s, nil
	default:
		a.logger.Warn("using in-memory storage backend; links do not survive a restart")
		return memorystorage.NewStore(), nil
	}
}

func (a *App) setupArchive(ctx context.Context) (ingest.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		a.logger.Info("using GCS raw archive", zap.String("bucket", a.cfg.Archive.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveLocal:
		a.logger.Info("using local raw archive", zap.String("path", a.cfg.Archive.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	case config.ArchiveMemory:
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.Topic == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return a.publisher, nil
	}
	client, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.psClient = client
	a.psPublish = gcppublisher.New(client, a.cfg.PubSub.Topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.psPublish, nil
}

func (a *App) setupFetcher() (ingest.Fetcher, error) {
	fc := a.cfg.Fetch
	var base ingest.Fetcher
	switch fc.Backend {
	case config.FetchColly:
		base = collyfetcher.New(collyfetcher.Config{
			UserAgent:     fc.UserAgent,
			RespectRobots: true,
			Timeout:       fc.Timeout,
		})
	case config.FetchHeadless:
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       fc.Headless.MaxParallel,
			UserAgent:         fc.UserAgent,
			NavigationTimeout: fc.Headless.NavTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = h
		base = h
	default:
		base = firecrawl.New(firecrawl.Config{
			BaseURL: fc.Firecrawl.BaseURL,
			APIKey:  fc.Firecrawl.APIKey,
			Timeout: fc.Timeout,
		}, nil)
	}
	a.logger.Info("page fetcher ready",
		zap.String("backend", fc.Backend),
		zap.Int("max_attempts", fc.MaxAttempts),
	)
	return fetcher.NewRetrying(base, fc.RetryPolicy(), a.logger.Named("fetch")), nil
}

func (a *App) setupExtractor() (ingest.Extractor, error) {
	ec := a.cfg.Extract
	var providers []extract.Completer
	for _, name := range ec.Configured() {
		p, _ := ec.Provider(name)
		switch name {
		case config.ProviderAnthropic:
			providers = append(providers, extract.NewAnthropic(extract.AnthropicConfig{
				APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL,
			}, nil))
		case config.ProviderOpenAI:
			providers = append(providers, extract.NewOpenAI(extract.OpenAIConfig{
				APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL,
			}, nil))
		case config.ProviderGroq:
			providers = append(providers, extract.NewGroq(extract.OpenAIConfig{
				APIKey: p.APIKey, Model: p.Model, BaseURL: p.BaseURL,
			}, nil))
		}
	}
	if len(providers) == 0 {
		return nil, errors.New("no extraction provider configured")
	}
	chain := extract.NewChain(a.logger.Named("extract"), providers...)
	a.logger.Info("extraction chain ready", zap.Strings("providers", chain.Providers()))
	return extract.New(extract.Config{
		MaxContentChars: ec.MaxContentChars,
		MaxTokens:       ec.MaxTokens,
		Timeout:         ec.Timeout,
	}, chain, a.logger.Named("extract")), nil
}

func (a *App) ready(ctx context.Context) error {
	if _, err := a.store.CountByStatus(ctx); err != nil {
		return fmt.Errorf("store not ready: %w", err)
	}
	return nil
}

// Scrape exposes the batch service for CLI commands.
func (a *App) Scrape() *scrape.Service { return a.scrape }

// Health exposes the URL probe for the health command.
func (a *App) Health() ingest.HealthChecker { return a.health }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Migrate applies the storage schema. The in-memory backend has none.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(migrator)
	if !ok {
		a.logger.Info("storage backend has no schema to migrate", zap.String("backend", a.cfg.Storage.Backend))
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema migrated", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

// Run serves the HTTP API, sweeps expired breaker states and, when enabled,
// drains the queue on a schedule. It blocks until ctx is cancelled or a
// termination signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.breaker.Run(ctx, a.cfg.Breaker.SweepInterval)
	}()
	if a.cfg.Scheduler.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.Scheduler.Interval))
			a.scrape.RunScheduled(ctx)
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close releases every resource Build opened. It is safe to call more than
// once.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() {
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.psPublish != nil {
		a.psPublish.Close()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerStop != nil {
		if err := a.tracerStop(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

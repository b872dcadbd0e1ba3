// Package app builds and holds the long-lived services of the enricher: the
// job store, supplier registry, extraction engine, scheduler and HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/inn-enricher/internal/api"
	"github.com/JakeFAU/inn-enricher/internal/config"
	"github.com/JakeFAU/inn-enricher/internal/engine"
	"github.com/JakeFAU/inn-enricher/internal/enrich"
	collyfetcher "github.com/JakeFAU/inn-enricher/internal/fetcher/colly"
	"github.com/JakeFAU/inn-enricher/internal/fetcher/headless"
	"github.com/JakeFAU/inn-enricher/internal/headless/detector"
	"github.com/JakeFAU/inn-enricher/internal/id/uuid"
	"github.com/JakeFAU/inn-enricher/internal/learning"
	"github.com/JakeFAU/inn-enricher/internal/metrics"
	"github.com/JakeFAU/inn-enricher/internal/pdftext"
	"github.com/JakeFAU/inn-enricher/internal/policy/blocklist"
	"github.com/JakeFAU/inn-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/inn-enricher/internal/progress"
	"github.com/JakeFAU/inn-enricher/internal/progress/sinks"
	"github.com/JakeFAU/inn-enricher/internal/publisher/memory"
	"github.com/JakeFAU/inn-enricher/internal/publisher/pubsub"
	"github.com/JakeFAU/inn-enricher/internal/scheduler"
	"github.com/JakeFAU/inn-enricher/internal/storage/gcs"
	"github.com/JakeFAU/inn-enricher/internal/storage/local"
	memstore "github.com/JakeFAU/inn-enricher/internal/storage/memory"
	"github.com/JakeFAU/inn-enricher/internal/storage/postgres"
	"github.com/JakeFAU/inn-enricher/internal/storage/sqlite"
	"github.com/JakeFAU/inn-enricher/internal/supplier"
	"github.com/JakeFAU/inn-enricher/internal/worker"
)

// App holds the shared services. It is built once at startup; Close releases
// everything New opened, in reverse order.
type App struct {
	Config      config.Config
	Logger      *zap.Logger
	Store       enrich.JobStore
	Learning    *learning.FileStore
	Registry    *supplier.Registry
	Engine      *engine.Engine
	Worker      *worker.Worker
	Coordinator *scheduler.Coordinator
	Server      *api.Server
	Progress    *progress.Hub

	ping    func(ctx context.Context) error
	closers []func(ctx context.Context) error
}

// Option adjusts how New builds the App.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	clock      enrich.Clock
	browser    enrich.Browser
}

// WithRegisterer registers progress metrics against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the wall clock.
func WithClock(c enrich.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithBrowser replaces the chromedp browser.
func WithBrowser(b enrich.Browser) Option {
	return func(o *options) { o.browser = b }
}

// New initializes every service described by cfg. It fails fast; whatever
// was opened before the failure is closed again.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer, clock: enrich.SystemClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	logger.Info("initializing application services")

	if err := a.openStore(ctx, cfg.Store); err != nil {
		return nil, err
	}
	registry, err := a.openRegistry(ctx, cfg, o.clock)
	if err != nil {
		return nil, err
	}
	a.Registry = registry
	blobs, err := a.openBlobs(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	a.Learning, err = learning.Open(cfg.Learning.Path, o.clock, logger.Named("learning"))
	if err != nil {
		return nil, fmt.Errorf("open learning store: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	a.Progress = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.Progress.MaxBatchWait,
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("progress")), promSink)
	a.closers = append(a.closers, a.Progress.Close)

	browser := o.browser
	if browser == nil && cfg.Headless.Enabled {
		b, err := headless.NewChromedp(headless.Config{
			UserAgent:         cfg.HTTP.UserAgent,
			ShowBrowser:       cfg.Headless.ShowBrowser,
			NavigationTimeout: cfg.Headless.PageTimeout,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { b.Close(); return nil })
		browser = b
	}

	deps := engine.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.HTTP.UserAgent,
			ConnectTimeout: cfg.HTTP.ConnectTimeout,
			ReadTimeout:    cfg.HTTP.ReadTimeout,
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			Limiter: ratelimit.New(ratelimit.Config{
				DefaultRPS:   cfg.HTTP.RateLimitRPS,
				DefaultBurst: cfg.HTTP.RateLimitBurst,
			}),
		}),
		Learning: a.Learning,
		PDF:      pdftext.NewDefault(cfg.PDF.PdfToTextPath, cfg.PDF.MaxBytes, logger.Named("pdf")),
		Detector: detector.NewHeuristic(cfg.Headless.MinBodyBytes),
		Progress: a.Progress,
		Clock:    o.clock,
		Logger:   logger.Named("engine"),
	}
	// A nil *Browser inside the interface would look like an enabled tier.
	if browser != nil {
		deps.Browser = browser
	}
	a.Engine = engine.New(engine.Config{
		MaxHTTPPages:    cfg.HTTP.MaxPages,
		PageTimeout:     cfg.Headless.PageTimeout,
		CaptchaWait:     cfg.Headless.CaptchaWait,
		CaptchaPoll:     cfg.Headless.CaptchaPoll,
		MaxContactPages: cfg.Headless.MaxContactPages,
		MaxPDFs:         cfg.Headless.MaxPDFs,
		PDFTimeout:      cfg.PDF.Timeout,
	}, deps)

	cache := scheduler.NewJobCache(a.Store)
	a.Worker = worker.New(cache, registry, blobs,
		func(jobID string) worker.Extractor { return a.Engine.NewRun(jobID) },
		a.Progress, o.clock,
		worker.Config{
			ArtifactPrefix: cfg.Artifacts.Prefix,
			Policy:         blocklist.New(cfg.Policy.Blocklist),
		},
		logger.Named("worker"),
	)
	a.Coordinator = scheduler.New(cache, a.Worker, o.clock, scheduler.Config{
		Tick:              cfg.Scheduler.Tick,
		BatchSize:         cfg.Scheduler.BatchSize,
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		StaleGrace:        cfg.Scheduler.StaleGrace,
		ReconcileInterval: cfg.Scheduler.ReconcileInterval,
		MaxAttempts:       cfg.Scheduler.MaxAttempts,
		BackoffInitial:    cfg.Scheduler.BackoffInitial,
		BackoffMax:        cfg.Scheduler.BackoffMax,
	}, logger.Named("scheduler"))

	a.Server = api.NewServer(api.Deps{
		Jobs:     a.Coordinator,
		Learning: a.Learning,
		IDs:      uuid.New(),
		Ready:    a.Ready,
	}, cfg, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("artifacts", cfg.Artifacts.Driver),
		zap.Bool("browser", deps.Browser != nil),
		zap.Int("max_concurrent_jobs", a.Coordinator.Capacity()),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) error {
	switch cfg.Driver {
	case "memory":
		a.Logger.Warn("using in-memory job store; jobs will not survive a restart")
		a.Store = memstore.NewJobStore()
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite job store: %w", err)
		}
		a.Store, a.ping = s, s.Ping
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
		if err != nil {
			return fmt.Errorf("connect postgres job store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		s, err := postgres.NewJobStore(pool, cfg.Table)
		if err != nil {
			return err
		}
		if err := s.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate job store: %w", err)
		}
		a.Store, a.ping = s, s.Ping
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	return nil
}

func (a *App) openRegistry(ctx context.Context, full config.Config, clock enrich.Clock) (*supplier.Registry, error) {
	cfg := full.Supplier
	var lookup supplier.Lookup
	switch cfg.Lookup {
	case "memory":
		lookup = supplier.NewMemoryLookup()
	case "postgres":
		dsn := cfg.LookupDSN
		if dsn == "" {
			dsn = full.Store.DSN
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect supplier lookup: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		l, err := postgres.NewSupplierLookup(pool, cfg.LookupTable)
		if err != nil {
			return nil, err
		}
		lookup = l
	default:
		return nil, fmt.Errorf("unknown supplier lookup %q", cfg.Lookup)
	}

	var pub supplier.Publisher
	switch cfg.Publisher {
	case "memory":
		pub = memory.New()
	case "pubsub":
		p, err := pubsub.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		pub = p
	default:
		return nil, fmt.Errorf("unknown supplier publisher %q", cfg.Publisher)
	}
	return supplier.New(lookup, pub, cfg.Topic, clock, a.Logger.Named("supplier")), nil
}

func (a *App) openBlobs(ctx context.Context, cfg config.ArtifactsConfig) (enrich.BlobStore, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "memory":
		return memstore.NewBlobStore(), nil
	case "local":
		b, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open artifact dir: %w", err)
		}
		return b, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		b, err := gcs.New(client, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown artifacts driver %q", cfg.Driver)
	}
}

// Ready reports whether the job store answers.
func (a *App) Ready(ctx context.Context) error {
	if a.ping == nil {
		return nil
	}
	return a.ping(ctx)
}

// Close releases services in reverse order of creation and flushes the
// logger. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	// Sync fails on stderr/stdout ttys; nothing to do about it here.
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}

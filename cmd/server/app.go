package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/admitly/advisor-api/internal/bridge"
	"github.com/admitly/advisor-api/internal/cache"
	"github.com/admitly/advisor-api/internal/config"
	"github.com/admitly/advisor-api/internal/events"
	"github.com/admitly/advisor-api/internal/metrics"
	"github.com/admitly/advisor-api/internal/platform/badgerdb"
	"github.com/admitly/advisor-api/internal/platform/postgres"
	"github.com/admitly/advisor-api/internal/queue"
)

// progressLogHandler is an event handler that logs job progress stage
// transitions.
type progressLogHandler struct {
	logger *slog.Logger
}

// HandleEvent logs the progress event at debug level.
func (h *progressLogHandler) HandleEvent(_ context.Context, event *events.JobProgressEvent) error {
	h.logger.Debug("job progress",
		"job_id", event.JobID,
		"stage", event.Stage,
		"event_id", event.ID)
	return nil
}

// application holds all the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	collector *metrics.Collector
	cache     *cache.Cache
	bridge    *bridge.Bridge
	queue     *queue.Queue
	emitter   events.EventEmitter
}

// newApplication creates an application instance with all dependencies
// initialized and background components started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:    cfg,
		logger:    logger,
		collector: metrics.NewCollector(),
	}

	if err := app.setupCache(ctx); err != nil {
		return nil, fmt.Errorf("failed to set up response cache: %w", err)
	}

	app.setupBridge()

	app.emitter = events.NewInMemoryEventEmitter(logger)
	if emitter, ok := app.emitter.(*events.InMemoryEventEmitter); ok {
		emitter.RegisterHandler(&progressLogHandler{
			logger: logger.With("component", "job_progress"),
		})
		emitter.RegisterHandler(app.collector)
	}

	app.setupQueue()

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupCache builds the response cache from the configured backend plus the
// always-present in-process fallback store.
func (app *application) setupCache(ctx context.Context) error {
	cfg := app.config.Cache

	var primary cache.Store
	switch cfg.Backend {
	case "memory":
		// The fallback store serves all lookups.
	case "postgres":
		db, err := setupAppDatabase(app.config, app.logger)
		if err != nil {
			return err
		}
		if err := runMigrations(db, app.logger); err != nil {
			closeErr := db.Close()
			if closeErr != nil {
				app.logger.Error("Error closing database connection", "error", closeErr)
			}
			return err
		}
		app.db = db
		primary = postgres.NewCacheStore(db)
	case "badger":
		store, err := badgerdb.Open(badgerdb.Config{
			Path:   cfg.BadgerPath,
			Logger: app.logger,
		})
		if err != nil {
			return err
		}
		primary = store
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	fallback := cache.NewMemoryStore(cfg.FallbackCapacity)
	app.cache = cache.New(primary, fallback, cache.Config{
		Enabled: cfg.Enabled,
		TTL:     time.Duration(cfg.TTLMinutes) * time.Minute,
	}, app.logger.With("component", "response_cache"))

	app.logger.Info("Response cache initialized",
		"enabled", cfg.Enabled,
		"backend", cfg.Backend,
		"ttl_minutes", cfg.TTLMinutes)
	return nil
}

// setupBridge builds and starts the worker bridge.
func (app *application) setupBridge() {
	cfg := app.config.Worker

	factory := bridge.NewExecProcessFactory(cfg.Command, cfg.Args,
		app.logger.With("component", "worker_process"))

	app.bridge = bridge.New(factory, bridge.Config{
		StartupTimeout: time.Duration(cfg.StartupTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		RetryMaxDelay:  bridge.DefaultConfig().RetryMaxDelay,
		RestartDelay:   time.Duration(cfg.RestartDelayMs) * time.Millisecond,
		MaxQueryLength: cfg.MaxQueryLength,
	}, app.logger.With("component", "worker_bridge"))

	app.bridge.SetRestartHook(app.collector.WorkerRestarted)
	app.bridge.SetTimeoutHook(app.collector.WorkerTimeout)
	app.bridge.Start()

	app.logger.Info("Worker bridge started",
		"command", cfg.Command,
		"request_timeout_seconds", cfg.RequestTimeoutSeconds,
		"max_attempts", cfg.MaxAttempts)
}

// setupQueue builds and starts the job queue.
func (app *application) setupQueue() {
	cfg := app.config.Queue

	app.queue = queue.New(
		app.bridge,
		app.cache,
		queue.NewMemoryJobStore(),
		app.emitter,
		queue.Config{
			WorkerCount:         cfg.WorkerCount,
			QueueSize:           cfg.QueueSize,
			JobRetention:        time.Duration(cfg.JobRetentionMinutes) * time.Minute,
			DefaultAwaitTimeout: time.Duration(cfg.DefaultAwaitTimeoutMs) * time.Millisecond,
		},
		app.logger.With("component", "job_queue"),
	)
	app.queue.SetObserver(app.collector)
	app.queue.Start()

	app.logger.Info("Job queue started",
		"processors", cfg.WorkerCount,
		"queue_size", cfg.QueueSize)
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Order
// matters: the queue stops accepting and draining first, then the bridge
// tears down the worker process, then stores close.
func (app *application) cleanup() {
	if app.queue != nil {
		app.queue.Stop()
	}
	if app.bridge != nil {
		app.bridge.Stop()
	}
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Error("Error closing response cache", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

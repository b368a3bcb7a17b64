package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/events"
	"github.com/zcanic/zcanic-server/internal/generation"
	"github.com/zcanic/zcanic-server/internal/platform/cache"
	"github.com/zcanic/zcanic-server/internal/platform/natsbus"
	"github.com/zcanic/zcanic-server/internal/service"
	"github.com/zcanic/zcanic-server/internal/service/auth"
	"github.com/zcanic/zcanic-server/internal/store"
	"github.com/zcanic/zcanic-server/internal/task"
	"golang.org/x/sync/errgroup"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	tx       store.Transactor
	registry *prometheus.Registry

	jwtService  auth.JWTService
	submissions *service.SubmissionService
	status      *service.StatusService
	statusCache *cache.StatusCache

	emitter *events.InMemoryEventEmitter
	bus     *natsbus.Bus

	// Nil unless the executor is embedded.
	executor   *task.Executor
	reaper     *task.Reaper
	reconciler *task.Reconciler
}

// newApplication wires the services around tx and generator. The caller owns
// the database behind tx.
func newApplication(
	cfg *config.Config,
	logger *slog.Logger,
	tx store.Transactor,
	generator generation.Generator,
) (*application, error) {
	app := &application{
		config:   cfg,
		logger:   logger,
		tx:       tx,
		registry: prometheus.NewRegistry(),
		emitter:  events.NewInMemoryEventEmitter(logger),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}

	if cfg.NATS.URL != "" {
		app.bus, err = natsbus.Connect(cfg.NATS.URL, cfg.NATS.Subject, "zcanic-server", logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		app.emitter.RegisterHandler(app.bus)
		logger.Info("task events published to NATS", slog.String("subject", cfg.NATS.Subject))
	}

	loc, err := cfg.Fortune.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid fortune time zone: %w", err)
	}
	app.submissions, err = service.NewSubmissionService(tx, app.emitter, service.SubmissionConfig{
		Location:     loc,
		DefaultModel: cfg.LLM.ModelName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission service: %w", err)
	}

	var statusCache service.StatusCache
	if cfg.Status.CacheCapacity > 0 {
		app.statusCache, err = cache.NewStatusCache(cfg.Status.CacheCapacity, cache.DefaultTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create status cache: %w", err)
		}
		statusCache = app.statusCache
	}
	app.status, err = service.NewStatusService(tx.Stores().Tasks, statusCache, cfg.Status.MaxBatchSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create status service: %w", err)
	}

	if cfg.Executor.Embedded {
		if err := app.setupExecutor(generator); err != nil {
			return nil, err
		}
	}

	logger.Info("application initialized successfully")
	return app, nil
}

// setupExecutor creates the embedded executor and its maintenance loops.
func (app *application) setupExecutor(generator generation.Generator) error {
	cfg := app.config.Executor
	metrics := task.NewMetrics(app.registry)
	registry := task.DefaultRegistry()

	var err error
	app.executor, err = task.NewExecutor(app.tx, generator, registry, cfg, app.logger,
		task.WithMetrics(metrics),
		task.WithName("server"))
	if err != nil {
		return fmt.Errorf("failed to create task executor: %w", err)
	}
	app.emitter.RegisterHandler(app.executor)

	app.reaper = task.NewReaper(app.tx, registry, cfg.ReaperInterval, cfg.MaxAttempts, metrics, app.logger)
	app.reconciler = task.NewReconciler(app.tx, registry, cfg.ReconcileInterval, cfg.ReconcileBatch, metrics, app.logger)
	return nil
}

// Run serves HTTP and runs the embedded executor until ctx is done, then
// shuts everything down within the configured timeout.
func (app *application) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", slog.Int("port", app.config.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if app.executor != nil {
		g.Go(func() error { return app.executor.Run(gctx) })
		g.Go(func() error { return app.reaper.Run(gctx) })
		g.Go(func() error { return app.reconciler.Run(gctx) })
	}

	err := g.Wait()
	app.logger.Info("server shutdown completed")
	return err
}

// cleanup releases resources not owned by Run.
func (app *application) cleanup() {
	if app.bus != nil {
		if err := app.bus.Close(); err != nil {
			app.logger.Error("error closing NATS connection", slog.String("error", err.Error()))
		}
	}
	if app.statusCache != nil {
		app.statusCache.Close()
	}
	app.logger.Info("application shutdown completed")
}

// Package main implements the standalone zcanic task executor. It claims
// pending tasks from the database, calls the completion service and
// finalizes the results. When NATS is configured, submissions wake idle
// workers immediately instead of waiting for the next poll.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/platform/gemini"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/platform/natsbus"
	"github.com/zcanic/zcanic-server/internal/platform/postgres"
	"github.com/zcanic/zcanic-server/internal/task"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("zcanic worker: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}()

	generator, err := gemini.NewGenerator(ctx, l, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM generator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := task.NewMetrics(reg)
	registry := task.DefaultRegistry()
	tx := postgres.NewTransactor(db, l)

	hostname, _ := os.Hostname()
	executor, err := task.NewExecutor(tx, generator, registry, cfg.Executor, l,
		task.WithMetrics(metrics),
		task.WithName("worker-"+hostname))
	if err != nil {
		return fmt.Errorf("failed to create task executor: %w", err)
	}

	if cfg.NATS.URL != "" {
		bus, err := natsbus.Connect(cfg.NATS.URL, cfg.NATS.Subject, "zcanic-worker-"+hostname, l)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer func() {
			if err := bus.Close(); err != nil {
				l.Error("error closing NATS connection", slog.String("error", err.Error()))
			}
		}()
		if err := bus.Subscribe(ctx, executor); err != nil {
			return err
		}
		l.Info("waking on task events", slog.String("subject", cfg.NATS.Subject))
	}

	reaper := task.NewReaper(tx, registry, cfg.Executor.ReaperInterval, cfg.Executor.MaxAttempts, metrics, l)
	reconciler := task.NewReconciler(tx, registry, cfg.Executor.ReconcileInterval, cfg.Executor.ReconcileBatch, metrics, l)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return executor.Run(gctx) })
	g.Go(func() error { return reaper.Run(gctx) })
	g.Go(func() error { return reconciler.Run(gctx) })
	g.Go(func() error {
		l.Info("serving worker metrics", slog.Int("port", cfg.Server.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	l.Info("worker shutdown completed")
	return err
}

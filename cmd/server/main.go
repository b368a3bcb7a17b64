// Package main implements the zcanic API server. It accepts chat and daily
// fortune requests, records them as asynchronous tasks and answers task
// status polls. By default it also runs an embedded task executor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zcanic/zcanic-server/internal/config"
	"github.com/zcanic/zcanic-server/internal/platform/gemini"
	"github.com/zcanic/zcanic-server/internal/platform/logger"
	"github.com/zcanic/zcanic-server/internal/platform/postgres"
)

func main() {
	migrateCmd := flag.String("migrate", "", "run a database migration command (up, down, status, version, reset) and exit")
	flag.Parse()

	if err := run(*migrateCmd); err != nil {
		log.Fatalf("zcanic server: %v", err)
	}
}

func run(migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.Bool("embedded_executor", cfg.Executor.Embedded),
		slog.Bool("nats_enabled", cfg.NATS.URL != ""))

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

	if migrateCmd != "" {
		l.Info("executing migrations", slog.String("command", migrateCmd))
		return postgres.Migrate(ctx, db, migrateCmd)
	}

	generator, err := gemini.NewGenerator(ctx, l, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM generator: %w", err)
	}

	app, err := newApplication(cfg, l, postgres.NewTransactor(db, l), generator)
	if err != nil {
		return err
	}
	defer app.cleanup()

	return app.Run(ctx)
}

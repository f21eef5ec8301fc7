// Copyright 2026 The StepFlow Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/stepflow/stepflow/internal/engine"
	"github.com/stepflow/stepflow/internal/logging"
	"github.com/stepflow/stepflow/internal/server"
	"github.com/stepflow/stepflow/internal/stepflow-api/config"
	"github.com/stepflow/stepflow/internal/stepflow-api/handlers"
	"github.com/stepflow/stepflow/internal/stepflow-api/services"
	"github.com/stepflow/stepflow/internal/storage"
)

func main() {
	flags := pflag.NewFlagSet("stepflow-api", pflag.ExitOnError)
	configPath := flags.String("config", os.Getenv("STEPFLOW_CONFIG_PATH"), "path to the YAML config file")
	flags.Int("port", 0, "HTTP server port (overrides config)")
	flags.String("database", "", "SQLite database path (overrides config)")
	flags.String("log-level", "", "minimum log level (overrides config)")
	_ = flags.Parse(os.Args[1:])

	// Bootstrap logger for everything before the config is loaded.
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	baseLogger := logging.New(cfg.Logging.ToLoggingConfig())
	slog.SetDefault(baseLogger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(cfg.Database.Path, baseLogger)
	if err != nil {
		baseLogger.Error("Failed to open database", slog.String("path", cfg.Database.Path), slog.Any("error", err))
		os.Exit(1)
	}

	revisions := storage.NewRevisionStore(db, baseLogger)
	executions := storage.NewExecutionStore(db, baseLogger)
	eng := engine.New(executions, baseLogger)
	svcs := services.New(revisions, executions, eng, baseLogger)
	handler := handlers.New(svcs, baseLogger.With("component", "handlers"))

	srv := server.New(cfg.Server.ToServerConfig(), handler.Routes(), baseLogger)

	if err := srv.Run(ctx); err != nil {
		baseLogger.Error("Server error", slog.Any("error", err))
		os.Exit(1)
	}

	// The HTTP side is drained; wait for running executions before exit.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		baseLogger.Error("Engine shutdown error", slog.Any("error", err))
	}

	baseLogger.Info("Server stopped gracefully")
}

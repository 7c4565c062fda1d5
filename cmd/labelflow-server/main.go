// Package main provides the HTTP server for labelflow.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/labelflow/internal/app"
	"github.com/raphaelgruber/labelflow/internal/config"
	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/server"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// version is set at build time.
var version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	logger.Info("starting labelflow-server",
		"addr", cfg.Addr,
		"store", cfg.StoreBackend,
		"blob", cfg.BlobBackend,
		"printer", cfg.PrinterBackend)

	m := metrics.New()

	initCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.New(initCtx, cfg, m, logger)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	srv := server.New(server.Deps{
		Labels:  a.Labels,
		Jobs:    service.NewJobManager(m, logger),
		Metrics: m,
		Health:  a.Ping,
		Version: version,
		Logger:  logger,

		Defaults: a.PrintOptions(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, cfg.Addr)
}

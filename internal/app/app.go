// Package app assembles the label pipeline from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/labelflow/internal/allocator"
	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/blob"
	"github.com/raphaelgruber/labelflow/internal/config"
	"github.com/raphaelgruber/labelflow/internal/db"
	"github.com/raphaelgruber/labelflow/internal/dispatch"
	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/merge"
	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/pgstore"
	"github.com/raphaelgruber/labelflow/internal/printer"
	"github.com/raphaelgruber/labelflow/internal/render"
	"github.com/raphaelgruber/labelflow/internal/service"
	"github.com/raphaelgruber/labelflow/internal/store"
)

// postgresConnectAttempts bounds the startup connection loop.
const postgresConnectAttempts = 5

// App holds the wired pipeline.
type App struct {
	Config    config.Config
	Store     store.Store
	Allocator *allocator.Allocator
	Renderer  *render.Renderer
	Merger    *merge.Merger
	Labels    *service.LabelService
	Metrics   *metrics.Metrics

	ping    func(ctx context.Context) error
	closers []func(ctx context.Context) error
	logger  *slog.Logger
}

// New connects the configured backends and builds the pipeline. m may be nil.
func New(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Metrics: m, logger: logger}

	if err := a.openStore(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	prn, err := a.openPrinter()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.Allocator = allocator.New(a.Store,
		allocator.WithLocation(cfg.Location),
		allocator.WithRetry(cfg.Retry),
		allocator.WithLogger(logger))
	a.Renderer = render.New(render.WithTemplates(cfg.Templates), render.WithLogger(logger))
	a.Merger = merge.New(logger)

	a.Labels = service.NewLabelService(service.Deps{
		Allocator: a.Allocator,
		Pallets:   a.Store,
		Preparer:  labels.NewPreparer(cfg.Location, nil),
		Batch: batch.New(a.Renderer,
			batch.WithConcurrency(cfg.Concurrency),
			batch.WithLogger(logger)),
		Merger: a.Merger,
		Dispatcher: dispatch.New(blobs, prn,
			dispatch.WithRetry(cfg.Retry),
			dispatch.WithLogger(logger)),
		Metrics: m,
		Logger:  logger,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendMemory, "":
		a.logger.Warn("using in-memory record store; identifiers are not persisted")
		a.Store = store.NewMemory()
		a.ping = func(context.Context) error { return nil }
	case config.BackendSurrealDB:
		client, err := db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("connect to surrealdb: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		if err := client.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		a.Store = client
		a.ping = client.Ping
	case config.BackendPostgres:
		pg, err := pgstore.Open(ctx, cfg.PostgresDSN, postgresConnectAttempts, a.logger)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pg.Close() })
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		a.Store = pg
		a.ping = pg.Ping
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	return nil
}

func (a *App) openBlobs(ctx context.Context) (dispatch.BlobStore, error) {
	cfg := a.Config
	switch cfg.BlobBackend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return blob.NewMemory(""), nil
	case config.BackendGCS:
		g, err := blob.NewGCS(ctx, cfg.Bucket, cfg.BlobPrefix)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return g.Close() })
		return g, nil
	case config.BackendS3:
		return blob.NewS3(ctx, blob.S3Options{
			Bucket:     cfg.Bucket,
			Prefix:     cfg.BlobPrefix,
			Region:     cfg.S3Region,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func (a *App) openPrinter() (dispatch.Printer, error) {
	cfg := a.Config
	switch cfg.PrinterBackend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendMemory:
		return printer.NewMemory(), nil
	case config.BackendHTTP:
		return printer.NewHTTP(cfg.PrinterEndpoint, cfg.PrinterToken, cfg.DispatchTimeout), nil
	case config.BackendKafka:
		k := printer.NewKafka(printer.KafkaOptions{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		a.closers = append(a.closers, func(context.Context) error { return k.Close() })
		return k, nil
	default:
		return nil, fmt.Errorf("unknown printer backend %q", cfg.PrinterBackend)
	}
}

// PrintOptions returns the configured print defaults.
func (a *App) PrintOptions() service.PrintOptions {
	return service.PrintOptions{
		Copies:            a.Config.Copies,
		Priority:          a.Config.Priority,
		PrinterPreference: a.Config.PrinterPreference,
		SkipUpload:        !a.Config.Upload,
		Timeout:           a.Config.DispatchTimeout,
	}
}

// Ping checks the record store.
func (a *App) Ping(ctx context.Context) error {
	if a.ping == nil {
		return errors.New("no record store")
	}
	return a.ping(ctx)
}

// Close releases backends in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("failed to close backend", "error", err)
		}
	}
	a.closers = nil
}

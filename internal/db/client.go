// Package db is the SurrealDB record store: pallet provenance rows, per-scope
// sequence counters and the series registry, over an auto-reconnecting
// WebSocket connection.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrades need HTTP/1.1; stop WSS dials from negotiating h2.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Reconnect defaults.
const (
	defaultReconnectRetries = 10
	defaultReconnectDelay   = 30 * time.Second
	dialTimeout             = 5 * time.Second
)

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"

	// Zero values use defaultReconnectRetries and defaultReconnectDelay.
	ReconnectMaxRetries int
	ReconnectMaxDelay   time.Duration
}

func (c Config) auth() surrealdb.Auth {
	if c.AuthLevel == "database" {
		return surrealdb.Auth{
			Namespace: c.Namespace,
			Database:  c.Database,
			Username:  c.Username,
			Password:  c.Password,
		}
	}
	return surrealdb.Auth{Username: c.Username, Password: c.Password}
}

// Client is a store.Store backed by SurrealDB.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger *slog.Logger
}

// NewClient connects, signs in and selects the namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("store", "surrealdb")

	conn := dial(cfg, logger.New(log.Handler()))
	log.Info("connecting to record store", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("from connection: %w", err)
	}
	if _, err := db.SignIn(ctx, cfg.auth()); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("signin as %s (%s): %w", cfg.Username, cfg.AuthLevel, err)
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
	}

	log.Info("record store connected", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, logger: log}, nil
}

// dial builds a WebSocket connection that reconnects with exponential backoff.
func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	// gorillaws appends /rpc itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		dialTimeout,
		codec,
		sdkLogger,
	)

	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = defaultReconnectRetries
	retryer.MaxDelay = defaultReconnectDelay
	if cfg.ReconnectMaxRetries > 0 {
		retryer.MaxRetries = cfg.ReconnectMaxRetries
	}
	if cfg.ReconnectMaxDelay > 0 {
		retryer.MaxDelay = cfg.ReconnectMaxDelay
	}
	conn.Retryer = retryer
	return conn
}

// Close closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing record store connection")
	return c.conn.Close(ctx)
}

// InitSchema defines the tables and indexes; it is idempotent.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	c.logger.Debug("record store schema ready")
	return nil
}

// Ping checks the connection with a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, "RETURN 1", nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Reset deletes all pallet, counter and series rows, keeping the schema.
// Integration tests call it between cases.
func (c *Client) Reset(ctx context.Context) error {
	for _, table := range []string{tablePallet, tableCounter, tableSeries} {
		if _, err := surrealdb.Query[any](ctx, c.db, "DELETE type::table($tb)", map[string]any{"tb": table}); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	c.logger.Warn("record store reset")
	return nil
}

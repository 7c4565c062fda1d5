// Package server exposes the label pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// Server serves the labelflow API.
type Server struct {
	engine   *gin.Engine
	labels   *service.LabelService
	jobs     *service.JobManager
	metrics  *metrics.Metrics
	health   func(ctx context.Context) error
	defaults service.PrintOptions
	upgrader websocket.Upgrader
	version  string
	logger   *slog.Logger
}

// Deps are the server collaborators. Metrics and Health may be nil.
type Deps struct {
	Labels  *service.LabelService
	Jobs    *service.JobManager
	Metrics *metrics.Metrics
	Health  func(ctx context.Context) error
	Version string
	Logger  *slog.Logger

	// Defaults fill the print options a request leaves unset.
	Defaults service.PrintOptions
}

// New creates a Server and registers its routes.
func New(d Deps) *Server {
	s := &Server{
		engine:   gin.New(),
		labels:   d.Labels,
		jobs:     d.Jobs,
		metrics:  d.Metrics,
		health:   d.Health,
		defaults: d.Defaults,
		version:  d.Version,
		logger:   d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.jobs == nil {
		s.jobs = service.NewJobManager(s.metrics, s.logger)
	}

	s.engine.Use(Recovery(s.logger), RequestID(), Logging(s.logger))
	if s.metrics != nil {
		s.engine.Use(Metrics(s.metrics))
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.engine.Group("/api/v1")
	api.POST("/labels/qc", s.handlePrintQC)
	api.POST("/labels/grn", s.handlePrintGRN)
	api.POST("/labels/reprint", s.handleReprint)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.DELETE("/jobs/:id", s.handleCancelJob)
	api.GET("/jobs/:id/events", s.handleJobEvents)
	api.GET("/sequences/:date", s.handleSequence)
	api.GET("/stats", s.handleStats)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // synchronous batches render and print inline
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("labelflow API listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

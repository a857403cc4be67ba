// Package server wires the gateway's HTTP surface: routing, middleware, and
// lifecycle.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpcbridge/hpcbridge/internal/config"
	"github.com/hpcbridge/hpcbridge/internal/server/handlers"
	"github.com/hpcbridge/hpcbridge/internal/server/httpjson"
	"github.com/hpcbridge/hpcbridge/internal/server/middleware"
	"github.com/hpcbridge/hpcbridge/pkg/health"
	"github.com/hpcbridge/hpcbridge/pkg/settings"
	"github.com/hpcbridge/hpcbridge/pkg/sshpool"
)

// Deps are the long-lived components the HTTP layer serves.
type Deps struct {
	Settings *settings.Settings
	Verifier middleware.TokenVerifier
	Table    *health.Table
	Registry *sshpool.Registry
	Logger   *zap.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	http            *http.Server
	router          chi.Router
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

// New assembles the router and server. Every route except the liveness probe
// sits behind bearer authentication.
func New(cfg config.ServerConfig, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpjson.WriteJSON(w, http.StatusNotFound, httpjson.ErrorResponse{
			Error: httpjson.ErrorBody{Code: "NOT_FOUND", Message: "no such route"},
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		httpjson.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	status := handlers.NewStatusHandler(deps.Settings, deps.Table)
	transfer := handlers.NewTransferHandler(deps.Settings, deps.Registry, deps.Table, logger)
	jobs := handlers.NewJobsHandler(deps.Settings, deps.Registry, deps.Table, logger)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(deps.Verifier))

		r.Get("/status/systems", status.ListSystems)
		r.Get("/status/systems/{system}", status.GetSystem)

		r.Post("/filesystem/{system}/transfer/upload", transfer.Upload)
		r.Post("/filesystem/{system}/transfer/download", transfer.Download)

		r.Get("/compute/{system}/jobs/{jobID}", jobs.GetJob)
	})

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		router:          r,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains connections within the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Package core provides the API chassis for the brokerdesk platform. It
// creates a chi router and enforces cross-cutting concerns (request IDs,
// logging, recovery, security headers, validation) before requests reach
// domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/config"
)

// RouteRegistrar mounts a domain handler's routes onto the router. The
// application entry point populates these; the indirection avoids import
// cycles between core and handler packages.
type RouteRegistrar func(r chi.Router)

// Server encapsulates the HTTP chassis dependencies, allowing injection
// during testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked concurrently by GET /health.
	HealthProbes []HealthProbe

	// V1RouteRegistrars are mounted under /v1 by MountRoutes.
	V1RouteRegistrars []RouteRegistrar

	// closers run during Shutdown in registration order.
	closers []func() error

	router *chi.Mux
}

// NewServer initializes the chassis and prepares the router for route
// mounting. The caller mounts routes via MountRoutes after construction.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function (pool close, client drain) to run
// during Shutdown.
func (s *Server) OnShutdown(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Shutdown performs a graceful termination of server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil {
			s.Logger.Error("error during shutdown", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	s.Logger.Info("server shutdown complete")
	return firstErr
}

package core

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// defaultRequestTimeout is the soft deadline applied to request contexts.
// Export streaming stays under it because ExportAll writes as it scans.
const defaultRequestTimeout = 60 * time.Second

// defaultRedactedHeaders lists header names whose values are masked in
// request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
	"Stripe-Signature",
}

// MountRoutes defines the top-level routing hierarchy: the global middleware
// chain, the /v1 API group, and the health check.
func (s *Server) MountRoutes() {
	s.registerGlobalMiddleware()

	s.router.Route("/v1", s.mountV1)

	s.router.Get("/health", s.HandleHealth)
}

// registerGlobalMiddleware applies middleware in strict order.
//
// Ordering rationale:
//  1. Recoverer        - outermost so all panics are caught.
//  2. ContextTimeout   - soft deadline before server write timeout.
//  3. RequestID        - correlation ID for logs and vendor calls.
//  4. SecurityHeaders  - present on every response, including errors.
//  5. RequestLogger    - structured logging with redacted headers.
func (s *Server) registerGlobalMiddleware() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(s.requestTimeout()))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))
}

// mountV1 registers all v1 endpoints. Domain handler routes are registered
// via V1RouteRegistrars, populated by the application entry point.
func (s *Server) mountV1(r chi.Router) {
	for _, registrar := range s.V1RouteRegistrars {
		registrar(r)
	}
}

// requestTimeout returns the request deadline, derived from the server write
// timeout when configured.
func (s *Server) requestTimeout() time.Duration {
	if s.Config != nil && s.Config.Server.WriteTimeout > 0 {
		return s.Config.Server.WriteTimeout
	}
	return defaultRequestTimeout
}

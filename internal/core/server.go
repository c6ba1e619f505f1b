// Package core provides the API chassis for the storefront service.
// It creates a chi router that serves both standard HTTP (local and
// container deployments) and API Gateway events (via lambdahttp). It
// enforces cross-cutting concerns (security headers, logging, metrics,
// authentication, error envelopes) before requests reach domain handlers.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/config"
)

// RouteRegistrar mounts a handler's routes on a router.
type RouteRegistrar func(r chi.Router)

// Server encapsulates all dependencies for the storefront API, allowing for
// easy injection during testing and distinct configuration for different
// environments.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	RateLimits    RateLimitStore
	HealthProbes  []HealthProbe

	// V1RouteRegistrars are mounted under /v1 behind compression, rate
	// limiting and authentication.
	V1RouteRegistrars []RouteRegistrar

	// WebhookRouteRegistrars are mounted under /webhooks with no body
	// transforming middleware so signatures can be checked over raw bytes.
	WebhookRouteRegistrars []RouteRegistrar

	// OnShutdown hooks run in order during Shutdown (e.g. pool.Close).
	OnShutdown []func(ctx context.Context) error

	router *chi.Mux
}

// NewServer initializes dependencies and prepares the server for route
// mounting. It performs a "fail-fast" check on critical configuration.
//
// The caller is responsible for filling the registrars and calling
// MountRoutes after construction.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		Metrics:   NoopMetrics{},
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler interface for the router.
// Used by http.Server (local) and lambdahttp.Adapter (Lambda).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown runs the OnShutdown hooks and reports every failure.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for _, hook := range s.OnShutdown {
		if err := hook(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %w", errors.Join(errs...))
	}

	s.Logger.Info("server shutdown complete")
	return nil
}

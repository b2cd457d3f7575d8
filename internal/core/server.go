// Package core provides the API chassis for the trigger engine. It builds the
// chi router, applies the cross-cutting middleware (recovery, request ids,
// logging, CORS, compression, metrics) and writes the JSON and error
// envelopes shared by every handler.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"hyperlocal/internal/config"
)

// MetricsCollector records API telemetry. route is the chi route pattern,
// not the raw path, so label cardinality stays bounded.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// RouteRegistrar mounts a handler group under the API base path.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies middleware and handlers
// share. Fields may be set between NewServer and MountRoutes.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// MetricsHandler, when set, is served at /metrics.
	MetricsHandler http.Handler
	HealthProbes   []HealthProbe
	// APIRouteRegistrars are mounted under Config.Server.BasePath.
	APIRouteRegistrars []RouteRegistrar

	router  *chi.Mux
	closers []func(context.Context) error
}

// NewServer creates a Server. Routes are mounted separately by MountRoutes so
// tests can customize registration.
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
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup function run by Shutdown in reverse order.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Shutdown runs the registered cleanup functions, newest first, and returns
// every failure joined.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			errs = append(errs, err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return errors.Join(errs...)
}

// Package server is the HTTP surface over the request-handling core.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultRequestTimeout bounds request handling outside of upstream calls.
const DefaultRequestTimeout = 90 * time.Second

type Server struct {
	Router *chi.Mux
	http   *http.Server
	logger *slog.Logger
}

// New builds the router with the standard middleware chain and mounts the
// gateway routes.
func New(port int, requestTimeout time.Duration, handler *Handler, logger *slog.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "autopilot-gateway")
	})

	r.Post("/v1/chat/completions", handler.handleCompletions)
	r.Get("/v1/usage/{orgID}", handler.handleUsage)
	r.Delete("/v1/cache/{orgID}", handler.handleCachePurge)
	r.Get("/healthz", handler.handleHealth)

	return &Server{
		Router: r,
		http: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		},
		logger: logger,
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

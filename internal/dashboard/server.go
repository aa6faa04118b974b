// Package dashboard exposes the aggregated campaign reports over HTTP.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/anirudiment/rudiment-dashbaord/internal/platform/observability"
	"github.com/anirudiment/rudiment-dashbaord/internal/report"
)

// Server serves the dashboard JSON API.
type Server struct {
	service *report.Service
	logger  *observability.Logger
	metrics *observability.Metrics
	srv     *http.Server
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port    int
	Service *report.Service
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewServer creates the dashboard HTTP server with its routes mounted.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("report service is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 8080
	}

	s := &Server{
		service: cfg.Service,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Routes builds the router. Exposed so tests can mount it on httptest.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))

		r.Get("/report", s.handleReport)
		r.Get("/replies", s.handleReplies)
		r.Get("/health", s.handleHealth)
	})

	return r
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("dashboard server listening", "addr", s.srv.Addr)
	}
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

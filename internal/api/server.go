// Package api exposes the HTTP surface of the service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/perimetra/kestrel/internal/behavior"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/metrics"
	"github.com/perimetra/kestrel/internal/patterns"
	"github.com/perimetra/kestrel/internal/pipeline"
	"github.com/perimetra/kestrel/internal/zerotrust"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, store domain.Store, cache domain.Cache,
	bus domain.EventBus, worker *pipeline.Worker, scheduler *pipeline.Scheduler,
	profiler *behavior.Profiler, verifier *zerotrust.Verifier,
	rules *patterns.RuleEngine, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(store, cache, bus, worker, scheduler, profiler, verifier, rules, m, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and observability endpoints
	router.Get("/healthz", handler.Health)
	router.Get("/readyz", handler.Ready)
	if m != nil {
		router.Method(http.MethodGet, "/metrics", m.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		// Scoring
		r.Post("/analyze", handler.Analyze)
		r.Post("/activity", handler.Activity)
		r.Post("/verify", handler.Verify)

		// Behavioral state
		r.Get("/profiles/{identity}", handler.GetProfile)
		r.Get("/analytics", handler.Analytics)
		r.Get("/statistics", handler.Statistics)
		r.Get("/clusters", handler.Clusters)
		r.Get("/forecast/{identity}", handler.Forecast)

		// Device management
		r.Post("/devices", handler.RegisterDevice)
		r.Get("/devices", handler.ListDevices)
		r.Delete("/devices/{id}", handler.RevokeDevice)

		// Custom pattern rules
		r.Get("/patterns", handler.ListPatterns)
		r.Post("/patterns", handler.CreatePattern)
		r.Post("/patterns/reload", handler.ReloadPatterns)

		// Anomaly alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Post("/alerts/{id}/resolve", handler.ResolveAlert)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}

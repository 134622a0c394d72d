package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telco-sentinel/harrier/internal/activity"
	"github.com/telco-sentinel/harrier/internal/domain"
	"github.com/telco-sentinel/harrier/internal/outlier"
	"github.com/telco-sentinel/harrier/internal/pipeline"
	"github.com/telco-sentinel/harrier/internal/policy"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, pl *pipeline.Pipeline, detector *outlier.Detector, activitySvc *activity.Service, customRules *policy.CustomRules, version string) *Server {
	handler := NewHandler(repo, cache, bus, pl, detector, activitySvc, customRules, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.Handler())

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Event scoring
		r.Post("/events", handler.ProcessEvent)

		// Activity ingestion and outlier scan
		r.Post("/activity", handler.IngestActivity)
		r.Post("/outliers/scan", handler.ScanOutliers)

		// Threat retrieval and lifecycle
		r.Get("/threats", handler.ListThreats)
		r.Get("/threats/{id}", handler.GetThreat)
		r.Post("/threats/{id}/status", handler.UpdateThreatStatus)
		r.Get("/threats/{id}/actions", handler.ListThreatActions)

		// Manual response actions
		r.Post("/actions", handler.CreateAction)

		// Response configuration
		r.Get("/config", handler.GetConfig)
		r.Put("/config", handler.UpdateConfig)

		// Custom policy rule management
		r.Get("/policies", handler.ListPolicies)
		r.Post("/policies", handler.CreatePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
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

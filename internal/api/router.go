package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cinderlog/cinder/internal/api/alerts"
	"github.com/cinderlog/cinder/internal/api/logs"
	"github.com/cinderlog/cinder/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Ingest endpoints share one per-client limiter; query endpoints
	// are not limited.
	s.limiter = middleware.NewClientLimiter(s.config.RatePerSecond, s.config.RateBurst)

	// Global middleware
	r.Use(middleware.RequestLogger(s.config.Verbose))
	r.Use(middleware.Recoverer)
	r.Use(middleware.PrometheusMiddleware)

	// Unmatched routes and methods answer with the same envelope the
	// handlers use.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		JSONError(w, ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		JSONError(w, ErrMethodNotAllowed)
	})

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/logs", func(r chi.Router) {
			logsHandler := logs.NewHandler(s.coordinator, s.store, s.cache)

			// Write paths, rate limited per client
			r.Group(func(r chi.Router) {
				r.Use(middleware.RateLimitByClient(s.limiter))
				r.Post("/", logsHandler.Create)
				r.Post("/raw", logsHandler.CreateRaw)
				r.Post("/batch", logsHandler.CreateBatch)
				r.Post("/upload", logsHandler.Upload)
			})

			// Read paths
			r.Get("/", logsHandler.Query)
			r.Get("/recent", logsHandler.Recent)
			r.Get("/stats", logsHandler.Stats)
			r.Get("/{id}", logsHandler.GetByID)

			// Administrative paths
			r.Delete("/", logsHandler.DeleteAll)
			r.Delete("/cache", logsHandler.ClearCache)
		})

		r.Route("/alerts", func(r chi.Router) {
			alertsHandler := alerts.NewHandler(s.alerts, s.evaluator)

			r.Get("/", alertsHandler.List)
			r.Post("/sweep", alertsHandler.Sweep)
			r.Get("/{id}", alertsHandler.GetByID)
			r.Post("/{id}/ack", alertsHandler.Acknowledge)
			r.Post("/{id}/resolve", alertsHandler.Resolve)
		})
	})

	// Health and metrics (public, no rate limit)
	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

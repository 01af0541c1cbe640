// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cinderlog/cinder/internal/alerting"
	"github.com/cinderlog/cinder/internal/api/health"
	"github.com/cinderlog/cinder/internal/api/middleware"
	"github.com/cinderlog/cinder/internal/cache"
	"github.com/cinderlog/cinder/internal/ingest"
	"github.com/cinderlog/cinder/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string `yaml:"address"`

	// RatePerSecond and RateBurst tune the per-client token bucket on
	// the ingest endpoints.
	RatePerSecond float64 `yaml:"rate_per_second"`
	RateBurst     int     `yaml:"rate_burst"`

	// Verbose logs every request instead of only failures.
	Verbose bool `yaml:"verbose"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RatePerSecond == 0 {
		c.RatePerSecond = 50
	}
	if c.RateBurst == 0 {
		c.RateBurst = 100
	}
}

// Deps carries the server's collaborators. Coordinator, Store, and
// Alerts are required; Cache and Evaluator may be nil when disabled.
type Deps struct {
	Coordinator *ingest.Coordinator
	Store       storage.LogStore
	Cache       cache.Cache
	Alerts      *alerting.Store
	Evaluator   *alerting.Evaluator
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	coordinator   *ingest.Coordinator
	store         storage.LogStore
	cache         cache.Cache
	alerts        *alerting.Store
	evaluator     *alerting.Evaluator
	server        *http.Server
	limiter       *middleware.ClientLimiter
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Coordinator == nil {
		return nil, fmt.Errorf("ingest coordinator is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if deps.Alerts == nil {
		return nil, fmt.Errorf("alert store is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		coordinator:   deps.Coordinator,
		store:         deps.Store,
		cache:         deps.Cache,
		alerts:        deps.Alerts,
		evaluator:     deps.Evaluator,
		healthHandler: health.NewHandler(),
	}

	router := s.setupRouter()

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		s.limiter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}

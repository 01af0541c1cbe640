package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cinderlog/cinder/pkg/config"
)

// Server exposes the Prometheus registry on a dedicated ops port, kept
// off the API listener so scrapes never compete with ingest traffic.
type Server struct {
	server *http.Server
	addr   string
}

// NewServer creates the ops server. Besides /metrics it answers a small
// JSON discovery document on / so a scrape misconfiguration is obvious
// from a browser.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"service": "cinder",
			"version": config.ShortVersionString(),
			"endpoints": map[string]string{
				"metrics": "/metrics",
			},
		})
	})

	return &Server{
		addr: addr,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start blocks serving scrapes until Shutdown.
func (s *Server) Start() error {
	log.Printf("metrics server listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the ops server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the ops mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

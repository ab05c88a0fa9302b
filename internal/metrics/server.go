package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/anchor/internal/version"
)

// Server is the operator-facing listener for /metrics and /health. It is
// kept off the gateway port so the public route table stays fixed.
type Server struct {
	collector *Collector
	addr      string
	router    chi.Router
	server    *http.Server
}

// NewServer creates a metrics Server for the given collector and address.
func NewServer(collector *Collector, addr string) *Server {
	s := &Server{
		collector: collector,
		addr:      addr,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Method(http.MethodGet, "/metrics", collector.Handler())
	r.Get("/health", s.handleHealth)

	s.router = r
	s.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router returns the chi router, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening. It blocks until the server is shut down or fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("metrics server starting")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": version.Version,
		"uptime":  s.collector.Uptime().Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("metrics: failed to encode JSON response")
	}
}

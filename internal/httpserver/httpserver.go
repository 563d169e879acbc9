// Package httpserver exposes the minimal operational HTTP surface this
// process needs: liveness, readiness, and Prometheus scraping. The full
// REST API, auth, and RBAC the teacher builds around chi are explicitly
// out of scope (spec.md §1 Out of scope) — this keeps chi and the
// request-id/recover/log middleware ordering the teacher uses without
// reintroducing any of its route surface.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is satisfied by *store.Postgres and *lockservice.RedisLock, which
// can cheaply verify their backing connection is alive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the process's operational HTTP endpoint.
type Server struct {
	httpServer *http.Server
	log        *slog.Logger
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds a chi-routed Server. readiness is consulted by /readyz to
// report whether dependencies (Store, LockService) are reachable.
func New(addr string, log *slog.Logger, reg *prometheus.Registry, readiness func(ctx context.Context) error) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeHealth(w, "ok")
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := readiness(req.Context()); err != nil {
			log.Warn("httpserver: readiness check failed", "err", err)
			writeHealth(w, "not_ready")
			return
		}
		writeHealth(w, "ok")
	})

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: r},
		log:        log,
	}
}

func writeHealth(w http.ResponseWriter, status string) {
	if status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{Status: status, Timestamp: time.Now().UTC()})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// Handler returns the underlying router, for tests that want to drive
// requests with httptest without binding a real socket.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks serving HTTP until the server errors or Shutdown
// is called from another goroutine.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

package httpserver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solarinvest/fleetmonitor/internal/httpserver"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_HealthzAlwaysOK(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := httpserver.New(":0", discardLogger(), reg, func(ctx context.Context) error { return nil })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
}

func TestServer_ReadyzReflectsReadinessFunc(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := httpserver.New(":0", discardLogger(), reg, func(ctx context.Context) error {
		return errors.New("store unreachable")
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 when readiness fails, got %d", rr.Code)
	}
}

func TestServer_MetricsServesPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httpserver.New(":0", discardLogger(), reg, func(ctx context.Context) error { return nil })

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "test_counter 1") {
		t.Fatalf("want exported counter in body, got %q", rr.Body.String())
	}
}

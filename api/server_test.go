package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/attribution-engine/metrics"
)

func TestRouter_HealthAndMetrics(t *testing.T) {
	h, _ := setupTestHandler(t)

	reg := prometheus.NewRegistry()
	col, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}
	h.Runner.Engine.Observer = col
	router := NewRouter(h, RouterOptions{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})})

	if rec := doJSON(t, router, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 from /healthz, got %d", rec.Code)
	}

	doJSON(t, router, http.MethodPost, "/api/reconciliation/run", nil)

	rec := doJSON(t, router, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `recon_runs_total{result="skipped"} 1`) {
		t.Errorf("Expected a skipped run in metrics, got:\n%s", rec.Body.String())
	}
}

func TestRouter_MetricsNotMountedByDefault(t *testing.T) {
	_, router := setupTestHandler(t)

	if rec := doJSON(t, router, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without a metrics handler, got %d", rec.Code)
	}
}

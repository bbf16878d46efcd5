package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics_RegistersWithoutPanic(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	if m == nil {
		t.Fatal("Expected metrics to be non-nil")
	}

	// Exercise a few families so gather sees them.
	m.CacheHitsTotal.WithLabelValues("permissions").Inc()
	m.SessionOperationsTotal.WithLabelValues("create", "ok").Inc()
	m.UsageSyncFailuresTotal.Inc()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("Expected registered metric families")
	}
}

func TestHTTPMetricsMiddleware_CountsRequests(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orgs/1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("Expected status passthrough, got %d", rec.Code)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "colabrix_http_requests_total" {
			found = true
			if len(f.GetMetric()) != 1 {
				t.Errorf("Expected 1 labeled series, got %d", len(f.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("colabrix_http_requests_total not collected")
	}
}

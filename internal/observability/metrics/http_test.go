package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{ServiceName: "ecopoints", Environment: "test"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/internal/users/:id", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for _, path := range []string{"/internal/users/1", "/internal/users/2", "/missing"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	got := counterValue(t, registry, "ecopoints_http_requests_total", map[string]string{
		"method": "GET",
		"route":  "/internal/users/:id",
		"status": "204",
		"env":    "test",
	})
	if got != 2 {
		t.Fatalf("expected 2 requests on route template, got %v", got)
	}

	got = counterValue(t, registry, "ecopoints_http_requests_total", map[string]string{
		"route":  "unknown",
		"status": "404",
	})
	if got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
}

func TestNilHTTPMetricsIsSafe(t *testing.T) {
	var m *HTTPMetrics
	m.Observe(http.MethodGet, "/health", http.StatusOK, 0)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		if mf.GetType() != dto.MetricType_COUNTER {
			t.Fatalf("metric %s is not a counter", name)
		}
		for _, metric := range mf.GetMetric() {
			if labelsContain(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsContain(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, label := range metric.GetLabel() {
		want, ok := labels[label.GetName()]
		if !ok {
			continue
		}
		if want != label.GetValue() {
			return false
		}
		matched++
	}
	return matched == len(labels)
}

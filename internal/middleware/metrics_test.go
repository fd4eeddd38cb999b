package middleware

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// counterValue reads one labelled series of vec.
func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v) error = %v", labels, err)
	}
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if got := len(m.Collectors()); got != 8 {
		t.Errorf("Collectors() returned %d collectors, want 8", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("second Register() should fail with duplicate collectors")
	}

	m.IncRateLimitRequests("/api/search/cafes", "ip")
	m.IncRateLimitBlocked("/api/search/cafes", "ip")
	m.IncAuthFailures("expired")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{MetricRateLimitRequests, MetricRateLimitBlocked, MetricAuthFailures} {
		if !found[name] {
			t.Errorf("metric %s not found in registry", name)
		}
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 3; i++ {
		m.IncRateLimitRequests("/api/search/cafes", "ip")
	}
	m.IncRateLimitBlocked("/api/search/cafes", "ip")
	m.IncAuthFailures("missing")
	m.IncAuthFailures("missing")

	if got := counterValue(t, m.rateLimitRequests, "/api/search/cafes", "ip"); got != 3 {
		t.Errorf("rate limit requests = %v, want 3", got)
	}
	if got := counterValue(t, m.rateLimitBlocked, "/api/search/cafes", "ip"); got != 1 {
		t.Errorf("rate limit blocked = %v, want 1", got)
	}
	if got := counterValue(t, m.authFailures, "missing"); got != 2 {
		t.Errorf("auth failures = %v, want 2", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncRateLimitRequests("/api/search/cafes", "ip")
	m.IncRateLimitBlocked("/api/search/cafes", "ip")
	m.IncRateLimitRedisErrors()
	m.IncAuthFailures("invalid")
	m.ObserveHTTPRequest("GET", "/api/weights", "200", 0.01, 0, 10)
}

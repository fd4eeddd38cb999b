package jobs

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if len(m.Collectors()) != 4 {
		t.Errorf("expected 4 collectors, got %d", len(m.Collectors()))
	}
}

func TestMetrics_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() returned error: %v", err)
		}

		m.ObserveRun(JobTypeCrowdRefresh, nil, 0.2)
		m.IncJobErrors(JobTypeCrowdRefresh, "source_error")
		m.AddItems(JobTypeCrowdRefresh, "updated", 3)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}
		found := make(map[string]bool)
		for _, family := range families {
			found[family.GetName()] = true
		}
		for _, name := range []string{MetricJobsTotal, MetricJobsDuration, MetricJobErrorsTotal, MetricJobItemsTotal} {
			if !found[name] {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should have returned an error")
		}
	})
}

func TestMetrics_ObserveRun(t *testing.T) {
	m := NewMetrics()

	m.ObserveRun(JobTypeCrowdRefresh, nil, 0.1)
	m.ObserveRun(JobTypeCrowdRefresh, nil, 0.3)
	m.ObserveRun(JobTypeCrowdRefresh, errors.New("redis down"), 0.05)
	m.ObserveRun(JobTypeIndexLoad, nil, 1.5)

	tests := []struct {
		jobType, status string
		want            float64
	}{
		{JobTypeCrowdRefresh, StatusSuccess, 2},
		{JobTypeCrowdRefresh, StatusFailure, 1},
		{JobTypeIndexLoad, StatusSuccess, 1},
		{JobTypeIngest, StatusSuccess, 0},
	}
	for _, tt := range tests {
		if got := getCounterVecValue(m.jobsTotal, tt.jobType, tt.status); got != tt.want {
			t.Errorf("jobs_total{%s,%s} = %v, want %v", tt.jobType, tt.status, got, tt.want)
		}
	}
	if got := getHistogramVecSampleCount(m.jobsDuration, JobTypeCrowdRefresh); got != 3 {
		t.Errorf("crowd refresh duration samples = %d, want 3", got)
	}
}

func TestMetrics_AddItems(t *testing.T) {
	m := NewMetrics()
	m.AddItems(JobTypeCrowdRefresh, "updated", 4)
	m.AddItems(JobTypeCrowdRefresh, "updated", 0)
	m.AddItems(JobTypeCrowdRefresh, "unknown", 2)

	if got := getCounterVecValue(m.jobItems, JobTypeCrowdRefresh, "updated"); got != 4 {
		t.Errorf("updated = %v, want 4", got)
	}
	if got := getCounterVecValue(m.jobItems, JobTypeCrowdRefresh, "unknown"); got != 2 {
		t.Errorf("unknown = %v, want 2", got)
	}
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveRun(JobTypeIngest, nil, 1)
	m.IncJobErrors(JobTypeIngest, "parse_error")
	m.AddItems(JobTypeIngest, "upserted", 1)
}

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return -1
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func getHistogramVecSampleCount(vec *prometheus.HistogramVec, labels ...string) uint64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	// Observer does not expose Write; the concrete histogram does.
	metricInterface, ok := metric.(prometheus.Metric)
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := metricInterface.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

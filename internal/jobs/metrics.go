// Package jobs records Prometheus metrics for the service's background
// work: the periodic crowd refresh, the startup index load and CSV ingest.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricJobsTotal      = "cafeindex_jobs_total"
	MetricJobsDuration   = "cafeindex_jobs_duration_seconds"
	MetricJobErrorsTotal = "cafeindex_job_errors_total"
	MetricJobItemsTotal  = "cafeindex_job_items_total"
)

// Job type constants for labeling.
const (
	JobTypeCrowdRefresh = "crowd_refresh"
	JobTypeIndexLoad    = "index_load"
	JobTypeIngest       = "csv_ingest"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for background jobs.
// All operations are thread-safe and no-ops on a nil receiver.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec
	jobItems     *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobsTotal,
				Help: "Total number of background job runs by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobErrorsTotal,
				Help: "Total number of background job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		jobItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricJobItemsTotal,
				Help: "Total number of venues touched by background jobs, by outcome",
			},
			[]string{"job_type", "outcome"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records one finished run: its status and duration.
func (m *Metrics) ObserveRun(jobType string, err error, seconds float64) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors increments the job errors counter.
// errorType is a short category such as "source_error" or "timeout".
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// AddItems counts venues a job processed, e.g. outcome "updated" or
// "unknown".
func (m *Metrics) AddItems(jobType, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.jobItems.WithLabelValues(jobType, outcome).Add(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.jobItems,
	}
}

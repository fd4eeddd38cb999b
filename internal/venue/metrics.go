package venue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricMutationsTotal      = "venue_index_mutations_total"
	MetricSearchesTotal       = "venue_index_searches_total"
	MetricSearchDuration      = "venue_index_search_duration_seconds"
	MetricLabelDuration       = "venue_index_label_duration_seconds"
	MetricFirstResultDuration = "venue_index_first_result_seconds"
	MetricPrunedSubtreesTotal = "venue_index_pruned_subtrees_total"
	MetricIndexSize           = "venue_index_records"
	MetricIndexHeight         = "venue_index_height"
)

// Mutation kinds for labeling.
const (
	MutationInsert  = "insert"
	MutationRemove  = "remove"
	MutationMove    = "move"
	MutationRefresh = "refresh"
)

// Search kinds for labeling.
const (
	SearchRanked = "ranked"
	SearchStream = "stream"
)

// Metrics contains Prometheus metrics for the venue index.
// All operations are thread-safe.
type Metrics struct {
	mutations      *prometheus.CounterVec
	searches       *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec
	labelDuration  prometheus.Histogram
	firstResult    prometheus.Histogram
	pruned         prometheus.Counter
	size           prometheus.Gauge
	height         prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	latency := []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	return &Metrics{
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricMutationsTotal,
				Help: "Total number of index mutations by kind",
			},
			[]string{"kind"},
		),
		searches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSearchesTotal,
				Help: "Total number of ranked searches by kind",
			},
			[]string{"kind"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricSearchDuration,
				Help:    "Histogram of ranked search duration in seconds, labeling included",
				Buckets: latency,
			},
			[]string{"kind"},
		),
		labelDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricLabelDuration,
				Help:    "Histogram of the per-query scoring and node labeling pass in seconds",
				Buckets: latency,
			},
		),
		firstResult: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricFirstResultDuration,
				Help:    "Histogram of time until a streaming search produced its first result",
				Buckets: latency,
			},
		),
		pruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricPrunedSubtreesTotal,
				Help: "Total number of subtrees skipped because their score bound was below the threshold",
			},
		),
		size: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricIndexSize,
				Help: "Number of records in the index",
			},
		),
		height: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricIndexHeight,
				Help: "Height of the index tree",
			},
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.mutations,
		m.searches,
		m.searchDuration,
		m.labelDuration,
		m.firstResult,
		m.pruned,
		m.size,
		m.height,
	}
}

// The methods below are no-ops on a nil receiver so an Index can run
// without metrics.

func (m *Metrics) incMutation(kind string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(kind).Inc()
}

func (m *Metrics) setShape(size, height int) {
	if m == nil {
		return
	}
	m.size.Set(float64(size))
	m.height.Set(float64(height))
}

func (m *Metrics) observeSearch(kind string, seconds float64, pruned int) {
	if m == nil {
		return
	}
	m.searches.WithLabelValues(kind).Inc()
	m.searchDuration.WithLabelValues(kind).Observe(seconds)
	m.pruned.Add(float64(pruned))
}

func (m *Metrics) observeLabel(seconds float64) {
	if m == nil {
		return
	}
	m.labelDuration.Observe(seconds)
}

func (m *Metrics) observeFirstResult(seconds float64) {
	if m == nil {
		return
	}
	m.firstResult.Observe(seconds)
}

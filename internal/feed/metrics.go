package feed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/feedmixer/internal/pool"
)

// Metrics names as constants for consistency.
const (
	MetricCompositionsTotal          = "feed_compositions_total"
	MetricCompositionDuration        = "feed_composition_duration_seconds"
	MetricCacheHitsTotal             = "feed_cache_hits_total"
	MetricCacheMissesTotal           = "feed_cache_misses_total"
	MetricPoolFailuresTotal          = "feed_pool_failures_total"
	MetricItemsReturned              = "feed_items_returned"
	MetricExperimentAssignmentsTotal = "feed_experiment_assignments_total"
)

// Composition status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for feed composition.
// All operations are thread-safe.
type Metrics struct {
	compositionsTotal     *prometheus.CounterVec
	compositionDuration   prometheus.Histogram
	cacheHits             prometheus.Counter
	cacheMisses           prometheus.Counter
	poolFailures          *prometheus.CounterVec
	itemsReturned         prometheus.Histogram
	experimentAssignments *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		compositionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricCompositionsTotal,
			Help: "Total number of feed composition requests by outcome",
		}, []string{"status"}),
		compositionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricCompositionDuration,
			Help:    "Histogram of feed composition duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheHitsTotal,
			Help: "Total number of feed cache hits",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheMissesTotal,
			Help: "Total number of feed cache misses",
		}),
		poolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricPoolFailuresTotal,
			Help: "Total number of candidate pool fetch failures by pool and failure kind",
		}, []string{"pool", "kind"}),
		itemsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricItemsReturned,
			Help:    "Histogram of item counts in composed feeds",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		experimentAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricExperimentAssignmentsTotal,
			Help: "Total number of experiment group assignments applied to compositions",
		}, []string{"group"}),
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

// IncCompositions increments the composition counter for the given status.
func (m *Metrics) IncCompositions(status string) {
	m.compositionsTotal.WithLabelValues(status).Inc()
}

// ObserveCompositionDuration records a composition duration sample.
func (m *Metrics) ObserveCompositionDuration(seconds float64) {
	m.compositionDuration.Observe(seconds)
}

// IncCacheHits increments the cache hit counter.
func (m *Metrics) IncCacheHits() {
	m.cacheHits.Inc()
}

// IncCacheMisses increments the cache miss counter.
func (m *Metrics) IncCacheMisses() {
	m.cacheMisses.Inc()
}

// IncPoolFailures increments the pool failure counter for a pool and kind.
func (m *Metrics) IncPoolFailures(p pool.Kind, kind pool.SourceErrorKind) {
	m.poolFailures.WithLabelValues(string(p), string(kind)).Inc()
}

// ObserveItemsReturned records the size of a composed feed.
func (m *Metrics) ObserveItemsReturned(count float64) {
	m.itemsReturned.Observe(count)
}

// IncExperimentAssignments increments the assignment counter for a group.
func (m *Metrics) IncExperimentAssignments(group string) {
	m.experimentAssignments.WithLabelValues(group).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.compositionsTotal,
		m.compositionDuration,
		m.cacheHits,
		m.cacheMisses,
		m.poolFailures,
		m.itemsReturned,
		m.experimentAssignments,
	}
}

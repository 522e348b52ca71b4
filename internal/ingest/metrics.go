package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricMessagesProcessed = "ingest_messages_processed_total"
	MetricMessagesError     = "ingest_messages_error_total"
	MetricEventsApplied     = "ingest_events_applied_total"
	MetricDuplicatesSkipped = "ingest_duplicates_skipped_total"
	MetricApplyLatency      = "ingest_apply_latency_seconds"
)

// Metrics contains Prometheus metrics for the ingest worker.
// All operations are thread-safe.
type Metrics struct {
	messagesProcessed prometheus.Counter
	messagesError     prometheus.Counter
	eventsApplied     *prometheus.CounterVec
	duplicatesSkipped prometheus.Counter
	applyLatency      prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all
// collectors initialized. The metrics are not registered; call Register
// to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		messagesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMessagesProcessed,
			Help: "Total number of firehose frames received by the ingest worker",
		}),
		messagesError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricMessagesError,
			Help: "Total number of frames that were malformed or failed to apply",
		}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricEventsApplied,
			Help: "Total number of events applied to the backing stores, by kind",
		}, []string{"kind"}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDuplicatesSkipped,
			Help: "Total number of replayed events skipped by duplicate suppression",
		}),
		applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricApplyLatency,
			Help:    "Histogram of frame decode-and-apply latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
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

// IncMessagesProcessed increments the frames received counter.
func (m *Metrics) IncMessagesProcessed() {
	m.messagesProcessed.Inc()
}

// IncMessagesError increments the frame error counter.
func (m *Metrics) IncMessagesError() {
	m.messagesError.Inc()
}

// IncEventsApplied increments the applied counter for an event kind.
func (m *Metrics) IncEventsApplied(kind string) {
	m.eventsApplied.WithLabelValues(kind).Inc()
}

// IncDuplicatesSkipped increments the duplicate suppression counter.
func (m *Metrics) IncDuplicatesSkipped() {
	m.duplicatesSkipped.Inc()
}

// ObserveApplyLatency records a decode-and-apply latency sample.
func (m *Metrics) ObserveApplyLatency(seconds float64) {
	m.applyLatency.Observe(seconds)
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.messagesProcessed,
		m.messagesError,
		m.eventsApplied,
		m.duplicatesSkipped,
		m.applyLatency,
	}
}

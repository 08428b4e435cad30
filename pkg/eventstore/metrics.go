package eventstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// Metrics records event store activity in Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	appendDuration       *prometheus.HistogramVec
	loadDuration         *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		appendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventstore_append_duration_seconds",
			Help:    "Event store append latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eventstore_load_duration_seconds",
			Help:    "Event store stream load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"operation"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type", "event_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventstore_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.appendDuration,
		m.loadDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
	)
	return m
}

func (m *Metrics) appendTimer(aggregateType string) *prometheus.Timer {
	if m == nil {
		return nil
	}
	return prometheus.NewTimer(m.appendDuration.WithLabelValues(aggregateType))
}

func (m *Metrics) loadTimer(operation string) *prometheus.Timer {
	if m == nil {
		return nil
	}
	return prometheus.NewTimer(m.loadDuration.WithLabelValues(operation))
}

func (m *Metrics) appended(aggregateType string, records []Record) {
	if m == nil {
		return
	}
	for _, r := range records {
		m.eventsAppended.WithLabelValues(aggregateType, r.EventType).Inc()
	}
}

func (m *Metrics) conflict(aggregateType string) {
	if m == nil {
		return
	}
	m.concurrencyConflicts.WithLabelValues(aggregateType).Inc()
}

func observe(t *prometheus.Timer) {
	if t != nil {
		t.ObserveDuration()
	}
}

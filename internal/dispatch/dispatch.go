// Package dispatch forwards appended events to in-process handlers such
// as read model projectors.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"coursecatalog/pkg/eventstore"
)

// Handler reacts to one event.
type Handler func(ctx context.Context, e eventstore.Event) error

// Metrics counts handler outcomes. A nil *Metrics records nothing.
type Metrics struct {
	handled  *prometheus.CounterVec
	failures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_events_handled_total",
			Help: "Events delivered to handlers",
		}, []string{"bus", "event_type"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_handler_failures_total",
			Help: "Handler invocations that returned an error",
		}, []string{"bus", "event_type"}),
	}
	reg.MustRegister(m.handled, m.failures)
	return m
}

func (m *Metrics) observe(bus, eventType string, err error) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(bus, eventType).Inc()
	if err != nil {
		m.failures.WithLabelValues(bus, eventType).Inc()
	}
}

type options struct {
	metrics *Metrics
	log     *slog.Logger
}

type Option func(*options)

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

func newOptions(opts []Option) options {
	o := options{log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "coursecatalog/eventstore"
	defaultReadAllLimit = 500
)

// EventStore provides typed, traced access to a Backend.
type EventStore struct {
	backend    Backend
	serializer *Serializer
	tracer     trace.Tracer
	metrics    *Metrics
	log        *slog.Logger
}

type Option func(*EventStore)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(es *EventStore) { es.tracer = tp.Tracer(tracerName) }
}

func WithMetrics(m *Metrics) Option {
	return func(es *EventStore) { es.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(es *EventStore) { es.log = log }
}

func New(backend Backend, serializer *Serializer, opts ...Option) *EventStore {
	es := &EventStore{
		backend:    backend,
		serializer: serializer,
		tracer:     otel.Tracer(tracerName),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(es)
	}
	return es
}

func (es *EventStore) Serializer() *Serializer { return es.serializer }

// Append atomically appends events with optimistic concurrency control.
// Events must belong to aggregateID and carry the versions following
// expectedVersion, in order.
func (es *EventStore) Append(ctx context.Context, aggregateType, aggregateID string, events []Event, expectedVersion int) (err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer func() { endSpan(span, err) }()

	if len(events) == 0 {
		return nil
	}
	if expectedVersion < 0 {
		return fmt.Errorf("%w: expected version %d", ErrInvalidVersion, expectedVersion)
	}

	records := make([]Record, 0, len(events))
	for i, e := range events {
		if e.AggregateID() != aggregateID {
			return fmt.Errorf("event %s belongs to aggregate %s, not %s", e.EventType(), e.AggregateID(), aggregateID)
		}
		if want := expectedVersion + i + 1; e.AggregateVersion() != want {
			return fmt.Errorf("%w: event %s has version %d, want %d", ErrInvalidVersion, e.EventType(), e.AggregateVersion(), want)
		}
		r, err := es.serializer.Serialize(aggregateType, e)
		if err != nil {
			return err
		}
		records = append(records, r)
	}

	timer := es.metrics.appendTimer(aggregateType)
	err = es.backend.Append(ctx, aggregateID, expectedVersion, records)
	observe(timer)

	if err != nil {
		var conflict *ConcurrencyError
		if errors.As(err, &conflict) {
			span.SetAttributes(
				attribute.Int("actual.version", conflict.Actual),
				attribute.Bool("conflict.detected", true),
			)
			es.metrics.conflict(aggregateType)
			es.log.DebugContext(ctx, "append rejected",
				slog.Group("agg", slog.String("id", aggregateID), slog.Int("expected", expectedVersion), slog.Int("actual", conflict.Actual)),
			)
			return err
		}
		return fmt.Errorf("append events: %w", err)
	}

	es.metrics.appended(aggregateType, records)
	for _, r := range records {
		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", r.Version),
			attribute.String("event.type", r.EventType),
		))
	}
	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// Load returns the full ordered stream of an aggregate; empty when absent.
func (es *EventStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	return es.LoadFromVersion(ctx, aggregateID, 1)
}

// LoadFromVersion returns the events with version >= fromVersion.
func (es *EventStore) LoadFromVersion(ctx context.Context, aggregateID string, fromVersion int) (events []Event, err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
			attribute.Int("from.version", fromVersion),
		),
	)
	defer func() { endSpan(span, err) }()

	timer := es.metrics.loadTimer("load")
	records, err := es.backend.Load(ctx, aggregateID, fromVersion)
	observe(timer)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	events, err = es.serializer.DeserializeAll(records)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

func (es *EventStore) LoadStream(ctx context.Context, aggregateID string) (Stream, error) {
	events, err := es.Load(ctx, aggregateID)
	if err != nil {
		return Stream{}, err
	}
	s := Stream{AggregateID: aggregateID, Events: events}
	if n := len(events); n > 0 {
		s.Version = events[n-1].AggregateVersion()
	}
	return s, nil
}

// Version returns the latest version of an aggregate, 0 when absent.
func (es *EventStore) Version(ctx context.Context, aggregateID string) (version int, err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.get_version",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID),
		),
	)
	defer func() { endSpan(span, err) }()

	version, err = es.backend.Version(ctx, aggregateID)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	span.SetAttributes(attribute.Int("current.version", version))
	return version, nil
}

func (es *EventStore) Exists(ctx context.Context, aggregateID string) (bool, error) {
	v, err := es.Version(ctx, aggregateID)
	return v > 0, err
}

// LoadByEventType returns every event of one type across aggregates,
// ordered by recorded time.
func (es *EventStore) LoadByEventType(ctx context.Context, eventType string) (events []Event, err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load_by_type",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
		),
	)
	defer func() { endSpan(span, err) }()

	timer := es.metrics.loadTimer("load_by_type")
	records, err := es.backend.LoadByEventType(ctx, eventType)
	observe(timer)
	if err != nil {
		return nil, fmt.Errorf("load events by type: %w", err)
	}
	return es.serializer.DeserializeAll(records)
}

// ReadAll provides a cursor over the global log for projections. It
// returns the decoded events and the position to resume from.
func (es *EventStore) ReadAll(ctx context.Context, afterPosition int64, limit int) (events []Event, next int64, err error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.position", afterPosition),
			attribute.Int("batch.size", limit),
		),
	)
	defer func() { endSpan(span, err) }()

	records, err := es.backend.ReadAll(ctx, afterPosition, limit)
	if err != nil {
		return nil, afterPosition, fmt.Errorf("read all: %w", err)
	}
	events, err = es.serializer.DeserializeAll(records)
	if err != nil {
		return nil, afterPosition, err
	}

	next = afterPosition
	if n := len(records); n > 0 {
		next = records[n-1].Position
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, next, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

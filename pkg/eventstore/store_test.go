package eventstore

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestEventStore_AppendIsTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	store := newTestStore(t, NewMemoryBackend(), WithTracerProvider(tp))
	ctx := context.Background()
	id := newAggregateID()

	require.NoError(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 2), 0))
	require.ErrorIs(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 1), 0), ErrConcurrencyConflict)

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "eventstore.append", ok.Name())
	v, found := spanAttr(ok, "append.success")
	require.True(t, found)
	assert.True(t, v.AsBool())
	assert.Len(t, ok.Events(), 2)

	conflict := spans[1]
	v, found = spanAttr(conflict, "conflict.detected")
	require.True(t, found)
	assert.True(t, v.AsBool())
	v, found = spanAttr(conflict, "actual.version")
	require.True(t, found)
	assert.Equal(t, int64(2), v.AsInt64())
	assert.Equal(t, codes.Error, conflict.Status().Code)
}

func TestEventStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newTestStore(t, NewMemoryBackend(), WithMetrics(metrics))
	ctx := context.Background()
	id := newAggregateID()

	require.NoError(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 3), 0))
	require.Error(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 1), 0))
	_, err := store.Load(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.eventsAppended.WithLabelValues(testAggregateType, "ItemAdded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.eventsAppended.WithLabelValues(testAggregateType, "ItemRemoved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.concurrencyConflicts.WithLabelValues(testAggregateType)))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.loadDuration))
}

func TestEventStore_AppendNothingIsNoop(t *testing.T) {
	backend := NewMemoryBackend()
	store := newTestStore(t, backend)
	id := newAggregateID()

	require.NoError(t, store.Append(context.Background(), testAggregateType, id, nil, 7))

	v, err := store.Version(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestEventStore_AppendUnregisteredEvent(t *testing.T) {
	store := New(NewMemoryBackend(), NewSerializer())
	id := newAggregateID()

	err := store.Append(context.Background(), testAggregateType, id, itemsFrom(id, 0, 1), 0)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestEventStore_NegativeExpectedVersion(t *testing.T) {
	store := newTestStore(t, NewMemoryBackend())
	id := newAggregateID()

	err := store.Append(context.Background(), testAggregateType, id, itemsFrom(id, -1, 1), -1)
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

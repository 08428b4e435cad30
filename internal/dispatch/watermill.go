package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"coursecatalog/pkg/eventstore"
)

// Topic carries every appended course event.
const Topic = "catalog.events"

// WatermillBus publishes events as serialized records on an in-process
// watermill channel and feeds them to handlers from a consumer goroutine.
// Publish waits until the consumer acked each message, which keeps
// per-aggregate order.
type WatermillBus struct {
	pubsub        *gochannel.GoChannel
	serializer    *eventstore.Serializer
	aggregateType string
	opts          options

	mu       sync.RWMutex
	handlers []Handler
	started  bool
	done     chan struct{}
}

func NewWatermillBus(serializer *eventstore.Serializer, aggregateType string, opts ...Option) *WatermillBus {
	o := newOptions(opts)
	return &WatermillBus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NewSlogLogger(o.log)),
		serializer:    serializer,
		aggregateType: aggregateType,
		opts:          o,
		done:          make(chan struct{}),
	}
}

func (b *WatermillBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Start subscribes to Topic and consumes until ctx is done or the bus is
// closed. Messages published before Start are dropped.
func (b *WatermillBus) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("dispatch: bus already started")
	}
	b.started = true
	b.mu.Unlock()

	messages, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	go func() {
		defer close(b.done)
		for msg := range messages {
			b.consume(msg)
		}
	}()
	return nil
}

// consume always acks: a handler failure is logged and counted, and the
// read model can be rebuilt from the store.
func (b *WatermillBus) consume(msg *message.Message) {
	defer msg.Ack()
	ctx := msg.Context()

	var rec eventstore.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		b.opts.log.ErrorContext(ctx, "decode event message", slog.String("message_id", msg.UUID), slog.Any("error", err))
		b.opts.metrics.observe("watermill", msg.Metadata.Get("event_type"), err)
		return
	}
	e, err := b.serializer.Deserialize(rec)
	if err != nil {
		b.opts.log.ErrorContext(ctx, "deserialize event message", slog.String("message_id", msg.UUID), slog.Any("error", err))
		b.opts.metrics.observe("watermill", rec.EventType, err)
		return
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		err := h(ctx, e)
		b.opts.metrics.observe("watermill", e.EventType(), err)
		if err != nil {
			b.opts.log.WarnContext(ctx, "event handler failed",
				slog.Group("agg", slog.String("id", e.AggregateID()), slog.Int("version", e.AggregateVersion())),
				slog.String("event_type", e.EventType()),
				slog.Any("error", err),
			)
		}
	}
}

func (b *WatermillBus) Publish(ctx context.Context, events []eventstore.Event) error {
	msgs := make([]*message.Message, 0, len(events))
	for _, e := range events {
		rec, err := b.serializer.Serialize(b.aggregateType, e)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", e.EventType(), err)
		}

		msg := message.NewMessage(e.EventID().String(), payload)
		msg.Metadata.Set("event_type", e.EventType())
		msg.Metadata.Set("aggregate_id", e.AggregateID())
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}

	if err := b.pubsub.Publish(Topic, msgs...); err != nil {
		return fmt.Errorf("publish to %s: %w", Topic, err)
	}
	return nil
}

// Close stops the channel and waits for the consumer to drain.
func (b *WatermillBus) Close() error {
	err := b.pubsub.Close()

	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()
	if started {
		<-b.done
	}
	return err
}

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"coursecatalog/pkg/eventstore"
)

// SyncBus runs every handler on the publishing goroutine, in
// subscription order, before Publish returns.
type SyncBus struct {
	mu       sync.RWMutex
	handlers []Handler
	opts     options
}

func NewSyncBus(opts ...Option) *SyncBus {
	return &SyncBus{opts: newOptions(opts)}
}

func (b *SyncBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers events in order. A failing handler does not stop the
// others; all failures are returned joined.
func (b *SyncBus) Publish(ctx context.Context, events []eventstore.Event) error {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	var errs []error
	for _, e := range events {
		for _, h := range handlers {
			err := h(ctx, e)
			b.opts.metrics.observe("sync", e.EventType(), err)
			if err != nil {
				b.opts.log.WarnContext(ctx, "event handler failed",
					slog.Group("agg", slog.String("id", e.AggregateID()), slog.Int("version", e.AggregateVersion())),
					slog.String("event_type", e.EventType()),
					slog.Any("error", err),
				)
				errs = append(errs, fmt.Errorf("handle %s v%d: %w", e.EventType(), e.AggregateVersion(), err))
			}
		}
	}
	return errors.Join(errs...)
}

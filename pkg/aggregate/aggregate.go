// Package aggregate provides the event-sourced aggregate root that domain
// aggregates embed.
package aggregate

import (
	"errors"
	"fmt"

	"coursecatalog/pkg/eventstore"
)

var ErrStreamGap = errors.New("event stream is not contiguous")

// Applier mutates aggregate state from one event. Apply must not fail:
// events are facts that already happened.
type Applier interface {
	Apply(e eventstore.Event)
}

// Aggregate is implemented by any Applier embedding Root.
type Aggregate interface {
	Applier
	root() *Root
}

// Root tracks the version and the events recorded since the aggregate was
// loaded. Concrete aggregates embed it.
type Root struct {
	id       string
	version  int
	recorded []eventstore.Event
}

func NewRoot(id string) Root { return Root{id: id} }

func (r *Root) root() *Root { return r }

func (r *Root) AggregateID() string { return r.id }

// Version is the version of the last applied event.
func (r *Root) Version() int { return r.version }

// NextMeta stamps metadata for the next event this aggregate records.
func (r *Root) NextMeta() eventstore.Meta {
	return eventstore.NewMeta(r.id, r.version+1)
}

// RecordedEvents returns a copy of the events pending persistence.
func (r *Root) RecordedEvents() []eventstore.Event {
	return append([]eventstore.Event(nil), r.recorded...)
}

func (r *Root) HasRecordedEvents() bool { return len(r.recorded) > 0 }

// PullRecordedEvents returns the pending events and clears the buffer.
func (r *Root) PullRecordedEvents() []eventstore.Event {
	events := r.recorded
	r.recorded = nil
	return events
}

// RecordThat applies a new event and keeps it for persistence. The event
// must carry the next version of the aggregate.
func RecordThat(a Aggregate, e eventstore.Event) {
	r := a.root()
	if e.AggregateVersion() != r.version+1 || e.AggregateID() != r.id {
		panic(fmt.Sprintf("aggregate: recorded %s for %s@%d on %s@%d",
			e.EventType(), e.AggregateID(), e.AggregateVersion(), r.id, r.version))
	}
	a.Apply(e)
	r.version++
	r.recorded = append(r.recorded, e)
}

// Reconstitute rebuilds a from its full history.
func Reconstitute(a Aggregate, id string, events []eventstore.Event) error {
	return ReconstituteFrom(a, id, 0, events)
}

// ReconstituteFrom replays events on top of state already at version, as
// restored from a snapshot. The events must continue the stream without
// gaps.
func ReconstituteFrom(a Aggregate, id string, version int, events []eventstore.Event) error {
	r := a.root()
	r.id = id
	r.version = version
	r.recorded = nil

	for _, e := range events {
		if e.AggregateID() != id {
			return fmt.Errorf("replay %s: event belongs to aggregate %s", id, e.AggregateID())
		}
		if e.AggregateVersion() != r.version+1 {
			return fmt.Errorf("%w: aggregate %s expected version %d, got %d", ErrStreamGap, id, r.version+1, e.AggregateVersion())
		}
		a.Apply(e)
		r.version++
	}
	return nil
}

// UnknownEventError is raised (as a panic) by Apply implementations that
// receive an event type they do not handle.
type UnknownEventError struct {
	Aggregate string
	EventType string
}

func (e UnknownEventError) Error() string {
	return fmt.Sprintf("aggregate %s cannot apply event %s", e.Aggregate, e.EventType)
}

// Unhandled panics with an UnknownEventError.
func Unhandled(aggregate string, e eventstore.Event) {
	panic(UnknownEventError{Aggregate: aggregate, EventType: e.EventType()})
}

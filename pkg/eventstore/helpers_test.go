package eventstore

import (
	"testing"

	"github.com/google/uuid"
)

type itemAdded struct {
	Meta `json:"-"`

	Name string `json:"name"`
	Qty  int    `json:"qty"`
}

func (itemAdded) EventType() string { return "ItemAdded" }

type itemRemoved struct {
	Meta `json:"-"`

	Name   string `json:"name"`
	Reason string `json:"reason,omitempty"`
}

func (itemRemoved) EventType() string { return "ItemRemoved" }

const testAggregateType = "basket"

func newTestSerializer() *Serializer {
	s := NewSerializer()
	s.Register("ItemAdded", JSONDecoder[itemAdded]())
	s.Register("ItemRemoved", JSONDecoder[itemRemoved]())
	return s
}

func newTestStore(t testing.TB, backend Backend, opts ...Option) *EventStore {
	t.Helper()
	return New(backend, newTestSerializer(), opts...)
}

func newAggregateID() string { return uuid.NewString() }

// itemsFrom builds n contiguous events starting after version from.
func itemsFrom(aggregateID string, from, n int) []Event {
	events := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		if i%2 == 0 {
			events = append(events, itemRemoved{Meta: NewMeta(aggregateID, from+i), Name: "apple"})
			continue
		}
		events = append(events, itemAdded{Meta: NewMeta(aggregateID, from+i), Name: "apple", Qty: i})
	}
	return events
}

package eventstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable fact recorded by an aggregate.
type Event interface {
	EventID() uuid.UUID
	AggregateID() string
	AggregateVersion() int
	EventType() string
	OccurredAt() time.Time
}

// Meta carries the identity part of an event. Concrete events embed it
// (tagged `json:"-"`) and add their own payload fields plus EventType.
type Meta struct {
	ID        uuid.UUID
	Aggregate string
	Version   int
	Occurred  time.Time
}

// NewMeta stamps a fresh event id and occurrence time for the given
// aggregate version.
func NewMeta(aggregateID string, version int) Meta {
	return Meta{
		ID:        uuid.New(),
		Aggregate: aggregateID,
		Version:   version,
		Occurred:  Now(),
	}
}

// Now returns the current time in UTC at the precision the stores keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (m Meta) EventID() uuid.UUID { return m.ID }
func (m Meta) AggregateID() string { return m.Aggregate }
func (m Meta) AggregateVersion() int { return m.Version }
func (m Meta) OccurredAt() time.Time { return m.Occurred }

func (m *Meta) setMeta(meta Meta) { *m = meta }

// Record is the stored form of an event.
type Record struct {
	Position      int64           `json:"position"`
	EventID       uuid.UUID       `json:"event_id"`
	AggregateID   string          `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int             `json:"version"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
}

func (r Record) meta() Meta {
	return Meta{
		ID:        r.EventID,
		Aggregate: r.AggregateID,
		Version:   r.Version,
		Occurred:  r.OccurredAt.UTC(),
	}
}

// Stream is the ordered history of one aggregate.
type Stream struct {
	AggregateID string
	Events      []Event
	Version     int
}

func (s Stream) IsEmpty() bool { return len(s.Events) == 0 }

func (s Stream) Len() int { return len(s.Events) }

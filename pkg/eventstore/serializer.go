package eventstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Decoder rebuilds a typed event from its stored metadata and payload.
type Decoder func(meta Meta, payload []byte) (Event, error)

// Serializer maps event type names to decoders. The event type name is
// the wire tag and must stay stable once events have been stored.
type Serializer struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

func NewSerializer() *Serializer {
	return &Serializer{decoders: make(map[string]Decoder)}
}

// Register binds a decoder to an event type. Registering the same type
// twice is a programming error.
func (s *Serializer) Register(eventType string, dec Decoder) {
	if eventType == "" || dec == nil {
		panic("eventstore: register requires an event type and a decoder")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.decoders[eventType]; ok {
		panic(fmt.Sprintf("eventstore: event type %q registered twice", eventType))
	}
	s.decoders[eventType] = dec
}

func (s *Serializer) Registered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.decoders[eventType]
	return ok
}

func (s *Serializer) decoder(eventType string) (Decoder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dec, ok := s.decoders[eventType]
	return dec, ok
}

// Serialize turns an event into a Record ready for a backend. Position and
// RecordedAt are assigned by the backend.
func (s *Serializer) Serialize(aggregateType string, e Event) (Record, error) {
	fail := func(err error) (Record, error) {
		return Record{}, &SerializationError{
			EventType:   e.EventType(),
			AggregateID: e.AggregateID(),
			Version:     e.AggregateVersion(),
			Err:         err,
		}
	}

	if !s.Registered(e.EventType()) {
		return fail(fmt.Errorf("event type %q is not registered", e.EventType()))
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fail(err)
	}

	return Record{
		EventID:       e.EventID(),
		AggregateID:   e.AggregateID(),
		AggregateType: aggregateType,
		Version:       e.AggregateVersion(),
		EventType:     e.EventType(),
		Payload:       payload,
		OccurredAt:    e.OccurredAt().UTC(),
	}, nil
}

// Deserialize rebuilds the typed event stored in r.
func (s *Serializer) Deserialize(r Record) (Event, error) {
	fail := func(err error) (Event, error) {
		return nil, &SerializationError{
			EventType:   r.EventType,
			AggregateID: r.AggregateID,
			Version:     r.Version,
			Err:         err,
		}
	}

	dec, ok := s.decoder(r.EventType)
	if !ok {
		return fail(fmt.Errorf("event type %q is not registered", r.EventType))
	}

	e, err := dec(r.meta(), r.Payload)
	if err != nil {
		return fail(err)
	}
	if e.EventType() != r.EventType {
		return fail(fmt.Errorf("decoder for %q produced %q", r.EventType, e.EventType()))
	}
	return e, nil
}

// DeserializeAll decodes records in order, stopping at the first failure.
func (s *Serializer) DeserializeAll(records []Record) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, r := range records {
		e, err := s.Deserialize(r)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// JSONDecoder returns a strict decoder for event type E: unknown fields
// and trailing data are rejected.
func JSONDecoder[E Event, PE interface {
	*E
	setMeta(Meta)
}]() Decoder {
	return func(meta Meta, payload []byte) (Event, error) {
		var e E

		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, errors.New("decode payload: trailing data after event")
		}

		PE(&e).setMeta(meta)
		return e, nil
	}
}

package eventstore

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")
	ErrInvalidVersion      = errors.New("invalid version number")
	ErrSerialization       = errors.New("event serialization failed")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
)

// ConcurrencyError reports an append whose expected version no longer
// matches the stream. Actual is -1 when the conflict was detected by the
// storage constraint rather than by the version read.
type ConcurrencyError struct {
	AggregateID string
	Expected    int
	Actual      int
}

func (e *ConcurrencyError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("concurrency conflict on aggregate %s: version %d was written concurrently", e.AggregateID, e.Expected+1)
	}
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d", e.AggregateID, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Unwrap() error { return ErrConcurrencyConflict }

// SerializationError wraps every failure to turn an event into a payload
// or a payload back into an event.
type SerializationError struct {
	EventType   string
	AggregateID string
	Version     int
	Err         error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize event %s (aggregate %s, version %d): %v", e.EventType, e.AggregateID, e.Version, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

package eventstore

import "context"

// Backend persists raw records. Implementations must perform the version
// check and the insert of an Append atomically.
type Backend interface {
	// Append writes records at versions expectedVersion+1.. or fails with a
	// *ConcurrencyError without writing anything.
	Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error
	// Load returns the records of one aggregate with version >= fromVersion.
	Load(ctx context.Context, aggregateID string, fromVersion int) ([]Record, error)
	Version(ctx context.Context, aggregateID string) (int, error)
	// LoadByEventType orders by recorded time, ties by position.
	LoadByEventType(ctx context.Context, eventType string) ([]Record, error)
	// ReadAll returns up to limit records with position > afterPosition.
	ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error)
}

// Snapshot stores aggregate state for faster reconstitution.
type Snapshot struct {
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	Version       int    `json:"version"`
	State         []byte `json:"state"`
}

// SnapshotStore keeps at most one snapshot per aggregate; older versions
// never replace newer ones.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot Snapshot) error
	LoadSnapshot(ctx context.Context, aggregateID string) (Snapshot, error)
}

package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgRecordColumns        = `position, event_id, aggregate_id, aggregate_type, aggregate_version, event_type, payload, occurred_at, recorded_at`
)

// PostgresBackend stores the log in the events table with ACID appends.
type PostgresBackend struct {
	db *sql.DB
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db}
}

// Migrate creates the events and snapshots tables when missing.
func (p *PostgresBackend) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply event store schema: %w", err)
	}
	return nil
}

func (p *PostgresBackend) Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error {
	// Begin transaction with serializable isolation
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&currentVersion)
	if err != nil {
		return p.mapError(aggregateID, expectedVersion, fmt.Errorf("query current version: %w", err))
	}

	// Optimistic concurrency check
	if currentVersion != expectedVersion {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: currentVersion}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, aggregate_id, aggregate_type, aggregate_version, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.EventID,
			aggregateID,
			r.AggregateType,
			r.Version,
			r.EventType,
			[]byte(r.Payload),
			r.OccurredAt.UTC(),
		)
		if err != nil {
			return p.mapError(aggregateID, expectedVersion, fmt.Errorf("insert event %d: %w", r.Version, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return p.mapError(aggregateID, expectedVersion, fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// mapError turns a lost race into a ConcurrencyError. Under serializable
// isolation the loser sees either the unique constraint or a
// serialization failure.
func (p *PostgresBackend) mapError(aggregateID string, expectedVersion int, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation, pgSerializationFailure:
			return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: -1}
		}
	}
	return err
}

func (p *PostgresBackend) Load(ctx context.Context, aggregateID string, fromVersion int) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgRecordColumns+`
		FROM events
		WHERE aggregate_id = $1
		AND aggregate_version >= $2
		ORDER BY aggregate_version ASC
	`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanPostgresRecords(rows)
}

func (p *PostgresBackend) Version(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

func (p *PostgresBackend) LoadByEventType(ctx context.Context, eventType string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgRecordColumns+`
		FROM events
		WHERE event_type = $1
		ORDER BY recorded_at ASC, position ASC
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query events by type: %w", err)
	}
	return scanPostgresRecords(rows)
}

func (p *PostgresBackend) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultReadAllLimit
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+pgRecordColumns+`
		FROM events
		WHERE position > $1
		ORDER BY position ASC
		LIMIT $2
	`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	return scanPostgresRecords(rows)
}

func scanPostgresRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			eventID uuid.UUID
			payload []byte
		)
		err := rows.Scan(
			&r.Position,
			&eventID,
			&r.AggregateID,
			&r.AggregateType,
			&r.Version,
			&r.EventType,
			&payload,
			&r.OccurredAt,
			&r.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.EventID = eventID
		r.Payload = payload
		r.OccurredAt = r.OccurredAt.UTC()
		r.RecordedAt = r.RecordedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

// SaveSnapshot upserts the snapshot unless a newer one is already stored.
func (p *PostgresBackend) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (aggregate_id) DO UPDATE
		SET version = EXCLUDED.version,
		    state = EXCLUDED.state,
		    created_at = EXCLUDED.created_at
		WHERE snapshots.version < EXCLUDED.version
	`, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, snapshot.State)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresBackend) LoadSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	var s Snapshot
	err := p.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state
		FROM snapshots
		WHERE aggregate_id = $1
	`, aggregateID).Scan(&s.AggregateID, &s.AggregateType, &s.Version, &s.State)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return s, nil
}

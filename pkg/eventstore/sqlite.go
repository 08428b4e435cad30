package eventstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const sqliteRecordColumns = `position, event_id, aggregate_id, aggregate_type, aggregate_version, event_type, payload, occurred_at, recorded_at`

// SQLiteBackend stores the log in a SQLite database. The handle should be
// opened with OpenSQLite so writers are serialized.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db, now: Now}
}

// OpenSQLite opens a database file (or ":memory:") with a single
// connection, WAL journaling and immediate write transactions.
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

func (s *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply event store schema: %w", err)
	}
	return nil
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (s *SQLiteBackend) Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0)
		FROM events
		WHERE aggregate_id = ?
	`, aggregateID).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("query current version: %w", err)
	}
	if currentVersion != expectedVersion {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: currentVersion}
	}

	// recorded_at must not run backwards along the log
	var lastRecorded int64
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(recorded_at), 0) FROM events`).Scan(&lastRecorded)
	if err != nil {
		return fmt.Errorf("query last recorded time: %w", err)
	}
	recordedAt := max(toMicros(s.now()), lastRecorded)

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (event_id, aggregate_id, aggregate_type, aggregate_version, event_type, payload, occurred_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx,
			r.EventID.String(),
			aggregateID,
			r.AggregateType,
			r.Version,
			r.EventType,
			[]byte(r.Payload),
			toMicros(r.OccurredAt),
			recordedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: -1}
			}
			return fmt.Errorf("insert event %d: %w", r.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

func (s *SQLiteBackend) Load(ctx context.Context, aggregateID string, fromVersion int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRecordColumns+`
		FROM events
		WHERE aggregate_id = ? AND aggregate_version >= ?
		ORDER BY aggregate_version ASC
	`, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteBackend) Version(ctx context.Context, aggregateID string) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(aggregate_version), 0)
		FROM events
		WHERE aggregate_id = ?
	`, aggregateID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query version: %w", err)
	}
	return version, nil
}

func (s *SQLiteBackend) LoadByEventType(ctx context.Context, eventType string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRecordColumns+`
		FROM events
		WHERE event_type = ?
		ORDER BY recorded_at ASC, position ASC
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("query events by type: %w", err)
	}
	return scanSQLiteRecords(rows)
}

func (s *SQLiteBackend) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultReadAllLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteRecordColumns+`
		FROM events
		WHERE position > ?
		ORDER BY position ASC
		LIMIT ?
	`, afterPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	return scanSQLiteRecords(rows)
}

func scanSQLiteRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r                    Record
			eventID              string
			payload              []byte
			occurred, recordedAt int64
		)
		err := rows.Scan(
			&r.Position,
			&eventID,
			&r.AggregateID,
			&r.AggregateType,
			&r.Version,
			&r.EventType,
			&payload,
			&occurred,
			&recordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		id, err := uuid.Parse(eventID)
		if err != nil {
			return nil, fmt.Errorf("parse event id %q: %w", eventID, err)
		}
		r.EventID = id
		r.Payload = payload
		r.OccurredAt = fromMicros(occurred)
		r.RecordedAt = fromMicros(recordedAt)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return records, nil
}

func (s *SQLiteBackend) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (aggregate_id) DO UPDATE
		SET version = excluded.version,
		    state = excluded.state,
		    created_at = excluded.created_at
		WHERE snapshots.version < excluded.version
	`, snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, snapshot.State, toMicros(s.now()))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) LoadSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_id, aggregate_type, version, state
		FROM snapshots
		WHERE aggregate_id = ?
	`, aggregateID).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &snap.State)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

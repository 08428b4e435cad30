package eventstore

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryBackend keeps the log in process. It is used by tests and by the
// "memory" database driver.
type MemoryBackend struct {
	mu        sync.RWMutex
	log       []Record
	streams   map[string][]int
	snapshots map[string]Snapshot
	now       func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		streams:   make(map[string][]int),
		snapshots: make(map[string]Snapshot),
		now:       Now,
	}
}

func (m *MemoryBackend) Append(ctx context.Context, aggregateID string, expectedVersion int, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := len(m.streams[aggregateID])
	if current != expectedVersion {
		return &ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: current}
	}

	recordedAt := m.now()
	if n := len(m.log); n > 0 && recordedAt.Before(m.log[n-1].RecordedAt) {
		recordedAt = m.log[n-1].RecordedAt
	}
	for _, r := range records {
		r.Position = int64(len(m.log) + 1)
		r.RecordedAt = recordedAt
		r.Payload = slices.Clone(r.Payload)
		m.streams[aggregateID] = append(m.streams[aggregateID], len(m.log))
		m.log = append(m.log, r)
	}
	return nil
}

func (m *MemoryBackend) Load(ctx context.Context, aggregateID string, fromVersion int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, idx := range m.streams[aggregateID] {
		if m.log[idx].Version >= fromVersion {
			out = append(out, m.log[idx])
		}
	}
	return out, nil
}

func (m *MemoryBackend) Version(ctx context.Context, aggregateID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[aggregateID]), nil
}

func (m *MemoryBackend) LoadByEventType(ctx context.Context, eventType string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	// recorded times never decrease along the log
	var out []Record
	for _, r := range m.log {
		if r.EventType == eventType {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryBackend) ReadAll(ctx context.Context, afterPosition int64, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := int(max(afterPosition, 0))
	if start >= len(m.log) {
		return nil, nil
	}
	end := len(m.log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return slices.Clone(m.log[start:end]), nil
}

func (m *MemoryBackend) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.snapshots[snapshot.AggregateID]; ok && existing.Version >= snapshot.Version {
		return nil
	}
	snapshot.State = slices.Clone(snapshot.State)
	m.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (m *MemoryBackend) LoadSnapshot(ctx context.Context, aggregateID string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.snapshots[aggregateID]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return s, nil
}

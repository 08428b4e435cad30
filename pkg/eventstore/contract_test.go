package eventstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("append then load returns the stream in order", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()
		events := itemsFrom(id, 0, 3)

		require.NoError(t, store.Append(ctx, testAggregateType, id, events, 0))

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, events, loaded)

		stream, err := store.LoadStream(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, stream.Version)
		assert.Equal(t, 3, stream.Len())
	})

	t.Run("missing stream is empty", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()

		loaded, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, loaded)

		version, err := store.Version(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, version)

		exists, err := store.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("version and exists follow appends", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()

		require.NoError(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 2), 0))
		require.NoError(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 2, 1), 2))

		version, err := store.Version(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 3, version)

		exists, err := store.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("stale expected version conflicts without writing", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()
		require.NoError(t, store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 2), 0))

		err := store.Append(ctx, testAggregateType, id, itemsFrom(id, 1, 2), 1)
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		var conflict *ConcurrencyError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, id, conflict.AggregateID)
		assert.Equal(t, 1, conflict.Expected)
		assert.Equal(t, 2, conflict.Actual)

		version, err := store.Version(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})

	t.Run("append to a new stream with non zero expectation conflicts", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()

		err := store.Append(ctx, testAggregateType, id, itemsFrom(id, 4, 1), 4)
		require.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("non contiguous versions are rejected before storage", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()
		events := []Event{
			itemAdded{Meta: NewMeta(id, 1), Name: "a", Qty: 1},
			itemAdded{Meta: NewMeta(id, 3), Name: "b", Qty: 1},
		}

		err := store.Append(ctx, testAggregateType, id, events, 0)
		require.ErrorIs(t, err, ErrInvalidVersion)

		version, err := store.Version(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, version)
	})

	t.Run("foreign events are rejected", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()

		err := store.Append(ctx, testAggregateType, id, itemsFrom(newAggregateID(), 0, 1), 0)
		require.Error(t, err)
	})

	t.Run("load from version returns the suffix", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()
		events := itemsFrom(id, 0, 5)
		require.NoError(t, store.Append(ctx, testAggregateType, id, events, 0))

		suffix, err := store.LoadFromVersion(ctx, id, 4)
		require.NoError(t, err)
		assert.Equal(t, events[3:], suffix)
	})

	t.Run("load by event type spans aggregates", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		first, second := newAggregateID(), newAggregateID()
		require.NoError(t, store.Append(ctx, testAggregateType, first, itemsFrom(first, 0, 3), 0))
		require.NoError(t, store.Append(ctx, testAggregateType, second, itemsFrom(second, 0, 1), 0))

		added, err := store.LoadByEventType(ctx, "ItemAdded")
		require.NoError(t, err)
		require.Len(t, added, 3)
		assert.Equal(t, first, added[0].AggregateID())
		assert.Equal(t, 1, added[0].AggregateVersion())
		assert.Equal(t, first, added[1].AggregateID())
		assert.Equal(t, 3, added[1].AggregateVersion())
		assert.Equal(t, second, added[2].AggregateID())
	})

	t.Run("read all pages through the global log", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		first, second := newAggregateID(), newAggregateID()
		require.NoError(t, store.Append(ctx, testAggregateType, first, itemsFrom(first, 0, 3), 0))
		require.NoError(t, store.Append(ctx, testAggregateType, second, itemsFrom(second, 0, 2), 0))

		var (
			all    []Event
			cursor int64
		)
		for {
			page, next, err := store.ReadAll(ctx, cursor, 2)
			require.NoError(t, err)
			if len(page) == 0 {
				assert.Equal(t, cursor, next)
				break
			}
			assert.Greater(t, next, cursor)
			all = append(all, page...)
			cursor = next
		}
		require.Len(t, all, 5)
		assert.Equal(t, first, all[0].AggregateID())
		assert.Equal(t, second, all[4].AggregateID())
	})

	t.Run("concurrent appends have exactly one winner", func(t *testing.T) {
		store := newTestStore(t, newBackend(t))
		id := newAggregateID()

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
			others    []error
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.Append(ctx, testAggregateType, id, itemsFrom(id, 0, 2), 0)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConcurrencyConflict):
					conflicts++
				default:
					others = append(others, err)
				}
			}()
		}
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, wins)
		assert.Equal(t, writers-1, conflicts)

		version, err := store.Version(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, version)
	})

	t.Run("snapshots keep the newest version", func(t *testing.T) {
		backend := newBackend(t)
		snapshots, ok := backend.(SnapshotStore)
		if !ok {
			t.Skip("backend does not store snapshots")
		}
		id := newAggregateID()

		_, err := snapshots.LoadSnapshot(ctx, id)
		require.ErrorIs(t, err, ErrSnapshotNotFound)

		require.NoError(t, snapshots.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: testAggregateType, Version: 5, State: []byte(`{"n":5}`)}))
		require.NoError(t, snapshots.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: testAggregateType, Version: 3, State: []byte(`{"n":3}`)}))

		snap, err := snapshots.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 5, snap.Version)
		assert.JSONEq(t, `{"n":5}`, string(snap.State))

		require.NoError(t, snapshots.SaveSnapshot(ctx, Snapshot{AggregateID: id, AggregateType: testAggregateType, Version: 9, State: []byte(`{"n":9}`)}))
		snap, err = snapshots.LoadSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 9, snap.Version)
	})
}

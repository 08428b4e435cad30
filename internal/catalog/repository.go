// internal/catalog/repository.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"coursecatalog/pkg/eventstore"
)

// DeletedReason is recorded when a course is removed through Delete.
const DeletedReason = "Deleted by user"

// EventSink receives events after they have been durably appended.
type EventSink interface {
	Publish(ctx context.Context, events []eventstore.Event) error
}

// Repository loads and saves courses through the event store.
type Repository struct {
	store         *eventstore.EventStore
	index         Index
	sink          EventSink
	snapshots     eventstore.SnapshotStore
	snapshotEvery int
	concurrency   int
	locks         streamLocks
	log           *slog.Logger
}

// streamLocks serializes append and publish per course, so that a sink
// sees each stream in version order.
type streamLocks [64]sync.Mutex

func (l *streamLocks) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}

type RepositoryOption func(*Repository)

// WithSnapshots stores a snapshot every `every` versions and loads from
// the latest one.
func WithSnapshots(store eventstore.SnapshotStore, every int) RepositoryOption {
	return func(r *Repository) {
		r.snapshots = store
		r.snapshotEvery = every
	}
}

// WithLoadConcurrency bounds the number of streams replayed at once by
// the list queries.
func WithLoadConcurrency(n int) RepositoryOption {
	return func(r *Repository) { r.concurrency = n }
}

func WithRepositoryLogger(log *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.log = log }
}

func NewRepository(store *eventstore.EventStore, index Index, sink EventSink, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:       store,
		index:       index,
		sink:        sink,
		concurrency: 8,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Save appends the pending events of c. The pending buffer is drained even
// when the append fails, so a course that lost a race must be reloaded.
func (r *Repository) Save(ctx context.Context, c *Course) error {
	events := c.PullRecordedEvents()
	if len(events) == 0 {
		return nil
	}
	expected := c.Version() - len(events)

	unlock := r.locks.lock(c.ID().String())
	defer unlock()

	if err := r.store.Append(ctx, AggregateType, c.ID().String(), events, expected); err != nil {
		return err
	}

	r.log.DebugContext(ctx, "course saved",
		slog.Group("agg", slog.String("id", c.ID().String()), slog.Int("version", c.Version())),
		slog.Int("events", len(events)),
	)

	r.maybeSnapshot(ctx, c, expected)

	if r.sink != nil {
		if err := r.sink.Publish(ctx, events); err != nil {
			r.log.ErrorContext(ctx, "forward course events",
				slog.Group("agg", slog.String("id", c.ID().String()), slog.Int("version", c.Version())),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// maybeSnapshot writes a snapshot when the save crossed a multiple of
// snapshotEvery.
func (r *Repository) maybeSnapshot(ctx context.Context, c *Course, before int) {
	if r.snapshots == nil || r.snapshotEvery <= 0 {
		return
	}
	if c.Version()/r.snapshotEvery == before/r.snapshotEvery {
		return
	}

	snap, err := c.Snapshot()
	if err == nil {
		err = r.snapshots.SaveSnapshot(ctx, snap)
	}
	if err != nil {
		r.log.WarnContext(ctx, "save course snapshot",
			slog.Group("agg", slog.String("id", c.ID().String()), slog.Int("version", c.Version())),
			slog.Any("error", err),
		)
	}
}

// FindByID returns nil (and no error) when the course has no stream.
func (r *Repository) FindByID(ctx context.Context, id CourseID) (*Course, error) {
	if r.snapshots != nil {
		c, err := r.fromSnapshot(ctx, id)
		if err == nil || !errors.Is(err, eventstore.ErrSnapshotNotFound) {
			return c, err
		}
	}

	events, err := r.store.Load(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("load course %s: %w", id, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	return Reconstitute(id, events)
}

func (r *Repository) fromSnapshot(ctx context.Context, id CourseID) (*Course, error) {
	snap, err := r.snapshots.LoadSnapshot(ctx, id.String())
	if err != nil {
		return nil, err
	}
	events, err := r.store.LoadFromVersion(ctx, id.String(), snap.Version+1)
	if err != nil {
		return nil, fmt.Errorf("load course %s after snapshot: %w", id, err)
	}
	return RestoreFromSnapshot(snap, events)
}

func (r *Repository) FindByIDOrFail(ctx context.Context, id CourseID) (*Course, error) {
	c, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, courseNotFound(id)
	}
	return c, nil
}

func (r *Repository) FindByInstructor(ctx context.Context, instructor InstructorID) ([]*Course, error) {
	ids, err := r.index.IDsByInstructor(ctx, instructor)
	if err != nil {
		return nil, fmt.Errorf("find courses by instructor: %w", err)
	}
	return r.loadAll(ctx, ids)
}

func (r *Repository) FindByStatus(ctx context.Context, status Status) ([]*Course, error) {
	ids, err := r.index.IDsByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("find courses by status: %w", err)
	}
	return r.loadAll(ctx, ids)
}

func (r *Repository) FindPublished(ctx context.Context) ([]*Course, error) {
	return r.FindByStatus(ctx, StatusPublished)
}

// loadAll replays the streams of ids, keeping their order. Ids whose
// stream is missing are skipped.
func (r *Repository) loadAll(ctx context.Context, ids []CourseID) ([]*Course, error) {
	courses := make([]*Course, len(ids))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.concurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			c, err := r.FindByID(ctx, id)
			if err != nil {
				return err
			}
			courses[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := courses[:0]
	for _, c := range courses {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *Repository) Exists(ctx context.Context, id CourseID) (bool, error) {
	return r.store.Exists(ctx, id.String())
}

func (r *Repository) CountByInstructor(ctx context.Context, instructor InstructorID) (int, error) {
	return r.index.CountByInstructor(ctx, instructor)
}

// Delete archives the course; streams are never removed.
func (r *Repository) Delete(ctx context.Context, id CourseID) error {
	c, err := r.FindByIDOrFail(ctx, id)
	if err != nil {
		return err
	}
	if err := c.Archive(DeletedReason); err != nil {
		return err
	}
	return r.Save(ctx, c)
}

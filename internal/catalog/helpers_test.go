package catalog

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"coursecatalog/pkg/eventstore"
)

const testDescription = "Write fast, reliable tests for every layer of a web application."

// tHelper is satisfied by both *testing.T and *rapid.T.
type tHelper interface {
	require.TestingT
	Helper()
}

func newTestSerializer() *eventstore.Serializer {
	s := eventstore.NewSerializer()
	RegisterEvents(s)
	return s
}

func mustTitle(t tHelper, raw string) Title {
	t.Helper()
	v, err := NewTitle(raw)
	require.NoError(t, err)
	return v
}

func mustPrice(t tHelper, cents int64, currency string) Price {
	t.Helper()
	p, err := NewPrice(cents, currency)
	require.NoError(t, err)
	return p
}

func newInstructorID() InstructorID { return InstructorID(uuid.NewString()) }

// newDraft creates a fresh draft course owned by instructor.
func newDraft(t tHelper, title string, instructor InstructorID) *Course {
	t.Helper()
	desc, err := NewDescription(testDescription)
	require.NoError(t, err)
	return Create(NewCourseID(), mustTitle(t, title), desc, mustPrice(t, 7999, "USD"), LevelAdvanced, instructor)
}

// withContent adds one module with three 10 minute lessons.
func withContent(t tHelper, c *Course) ModuleID {
	t.Helper()
	moduleID := NewModuleID()
	require.NoError(t, c.AddModule(moduleID, "Introduction"))
	for _, title := range []string{"Setup", "First test", "Mocks"} {
		require.NoError(t, c.AddLessonToModule(moduleID, NewLessonID(), title, 10))
	}
	return moduleID
}

// projectingSink feeds saved events straight into a read model.
type projectingSink struct {
	projector *ReadModelProjector
}

func (s projectingSink) Publish(ctx context.Context, events []eventstore.Event) error {
	for _, e := range events {
		if err := s.projector.Handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	backend *eventstore.MemoryBackend
	store   *eventstore.EventStore
	views   *MemoryReadModel
	repo    *Repository
}

func newTestEnv(t testing.TB, opts ...RepositoryOption) *testEnv {
	t.Helper()
	backend := eventstore.NewMemoryBackend()
	store := eventstore.New(backend, newTestSerializer())
	views := NewMemoryReadModel()
	sink := projectingSink{projector: NewReadModelProjector(views)}
	return &testEnv{
		backend: backend,
		store:   store,
		views:   views,
		repo:    NewRepository(store, views, sink, opts...),
	}
}

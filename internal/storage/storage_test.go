package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecatalog/internal/catalog"
	"coursecatalog/internal/config"
	"coursecatalog/pkg/eventstore"
)

func saveCourse(t *testing.T, s *Storage) {
	t.Helper()
	ctx := context.Background()

	serializer := eventstore.NewSerializer()
	catalog.RegisterEvents(serializer)
	store := eventstore.New(s.Backend, serializer)
	projector := catalog.NewReadModelProjector(s.Views)
	repo := catalog.NewRepository(store, s.Views, sinkFunc(projector.Handle))

	svc := catalog.NewService(repo)
	c, err := svc.CreateCourse(ctx, catalog.CreateCourseInput{
		Title:        "Storage smoke test",
		Description:  "Checks that every driver wires the same pieces.",
		PriceCents:   0,
		Currency:     "USD",
		Level:        "beginner",
		InstructorID: "8d1f5f4e-7a4c-4c55-9a43-6f0f9a1b2c3d",
	})
	require.NoError(t, err)

	view, err := s.Views.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, "Storage smoke test", view.Title)

	version, err := store.Version(ctx, c.ID().String())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

type sinkFunc func(ctx context.Context, e eventstore.Event) error

func (f sinkFunc) Publish(ctx context.Context, events []eventstore.Event) error {
	for _, e := range events {
		if err := f(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), config.DriverMemory, "", slog.Default())
	require.NoError(t, err)
	assert.Nil(t, s.DB())
	saveCourse(t, s)
	require.NoError(t, s.Close())
}

func TestOpen_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(context.Background(), config.DriverSQLite, path, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, s.DB())
	saveCourse(t, s)
	require.NoError(t, s.Close())

	// reopening applies the schemas again without error
	s, err = Open(context.Background(), config.DriverSQLite, path, slog.Default())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "", slog.Default())
	require.Error(t, err)
}

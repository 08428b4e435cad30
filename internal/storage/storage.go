// Package storage opens the event log and read model for a configured
// database driver.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"coursecatalog/internal/catalog"
	"coursecatalog/internal/config"
	"coursecatalog/pkg/eventstore"
)

// Storage bundles the persistence pieces sharing one database handle.
type Storage struct {
	Backend   eventstore.Backend
	Snapshots eventstore.SnapshotStore
	Views     catalog.ReadModel

	db *sql.DB
}

// Open connects to driver at url and applies the schemas. For the memory
// driver url is ignored.
func Open(ctx context.Context, driver, url string, log *slog.Logger) (*Storage, error) {
	switch driver {
	case config.DriverMemory:
		backend := eventstore.NewMemoryBackend()
		return &Storage{Backend: backend, Snapshots: backend, Views: catalog.NewMemoryReadModel()}, nil

	case config.DriverSQLite:
		db, err := eventstore.OpenSQLite(url)
		if err != nil {
			return nil, err
		}
		backend := eventstore.NewSQLiteBackend(db)
		views := catalog.NewSQLiteReadModel(db)
		s := &Storage{Backend: backend, Snapshots: backend, Views: views, db: db}
		if err := s.migrate(ctx, backend.Migrate, views.Migrate); err != nil {
			return nil, err
		}
		return s, nil

	case config.DriverPostgres:
		db, err := openPostgres(ctx, url, log)
		if err != nil {
			return nil, err
		}
		backend := eventstore.NewPostgresBackend(db)
		views := catalog.NewPostgresReadModel(db)
		s := &Storage{Backend: backend, Snapshots: backend, Views: views, db: db}
		if err := s.migrate(ctx, backend.Migrate, views.Migrate); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("storage: unsupported driver %q", driver)
}

func (s *Storage) migrate(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			_ = s.Close()
			return err
		}
	}
	return nil
}

// openPostgres waits for the database to accept connections.
func openPostgres(ctx context.Context, url string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := db.PingContext(ctx)
		if err != nil {
			log.WarnContext(ctx, "postgres not ready", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(30*time.Second))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}

// DB is nil for the memory driver.
func (s *Storage) DB() *sql.DB { return s.db }

func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"coursecatalog/pkg/eventstore"
)

// service implements the Service interface.
type service struct {
	repo     *Repository
	attempts uint
	backoff  func() backoff.BackOff
	log      *slog.Logger
}

type ServiceOption func(*service)

// WithRetryAttempts bounds how many times a command is re-run after a
// concurrency conflict. One attempt disables retries.
func WithRetryAttempts(n uint) ServiceOption {
	return func(s *service) { s.attempts = max(n, 1) }
}

func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *service) { s.log = log }
}

// NewService creates a new catalog service instance.
func NewService(repo *Repository, opts ...ServiceOption) Service {
	s := &service{
		repo:     repo,
		attempts: 3,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 10 * time.Millisecond
			b.MaxInterval = 200 * time.Millisecond
			return b
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// mutate loads the course, runs cmd and saves. A concurrency conflict
// reloads and re-runs cmd on the fresh state; every other error is final.
func (s *service) mutate(ctx context.Context, id CourseID, cmd func(c *Course) error) (*Course, error) {
	attempt := 0
	op := func() (*Course, error) {
		attempt++
		c, err := s.repo.FindByIDOrFail(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := cmd(c); err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := s.repo.Save(ctx, c); err != nil {
			if errors.Is(err, eventstore.ErrConcurrencyConflict) {
				s.log.InfoContext(ctx, "retrying course command after conflict",
					slog.Group("agg", slog.String("id", id.String())),
					slog.Int("attempt", attempt),
				)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return c, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(s.backoff()),
		backoff.WithMaxTries(s.attempts),
	)
}

func (s *service) CreateCourse(ctx context.Context, in CreateCourseInput) (*Course, error) {
	title, err := NewTitle(in.Title)
	if err != nil {
		return nil, err
	}
	description, err := NewDescription(in.Description)
	if err != nil {
		return nil, err
	}
	price, err := NewPrice(in.PriceCents, in.Currency)
	if err != nil {
		return nil, err
	}
	level, err := ParseLevel(in.Level)
	if err != nil {
		return nil, err
	}
	instructor, err := ParseInstructorID(in.InstructorID)
	if err != nil {
		return nil, err
	}

	c := Create(NewCourseID(), title, description, price, level, instructor)
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "course created",
		slog.Group("agg", slog.String("id", c.ID().String())),
		slog.String("instructor", instructor.String()),
	)
	return c, nil
}

func (s *service) UpdateCourse(ctx context.Context, id CourseID, in UpdateCourseInput) (*Course, error) {
	var f UpdateFields
	if in.Title != nil {
		t, err := NewTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		f.Title = &t
	}
	if in.Description != nil {
		d, err := NewDescription(*in.Description)
		if err != nil {
			return nil, err
		}
		f.Description = &d
	}
	if in.Level != nil {
		l, err := ParseLevel(*in.Level)
		if err != nil {
			return nil, err
		}
		f.Level = &l
	}

	return s.mutate(ctx, id, func(c *Course) error {
		fields := f
		if in.PriceCents != nil || in.Currency != nil {
			cents, currency := c.Price().Cents(), c.Price().Currency()
			if in.PriceCents != nil {
				cents = *in.PriceCents
			}
			if in.Currency != nil {
				currency = *in.Currency
			}
			p, err := NewPrice(cents, currency)
			if err != nil {
				return err
			}
			fields.Price = &p
		}
		return c.Update(fields)
	})
}

func (s *service) PublishCourse(ctx context.Context, id CourseID) (*Course, error) {
	return s.mutate(ctx, id, func(c *Course) error { return c.Publish() })
}

func (s *service) ArchiveCourse(ctx context.Context, id CourseID, reason string) (*Course, error) {
	return s.mutate(ctx, id, func(c *Course) error { return c.Archive(reason) })
}

func (s *service) SuspendCourse(ctx context.Context, id CourseID, reason string) (*Course, error) {
	return s.mutate(ctx, id, func(c *Course) error { return c.Suspend(reason) })
}

func (s *service) AddModule(ctx context.Context, id CourseID, title string) (*Course, ModuleID, error) {
	moduleID := NewModuleID()
	c, err := s.mutate(ctx, id, func(c *Course) error { return c.AddModule(moduleID, title) })
	if err != nil {
		return nil, "", err
	}
	return c, moduleID, nil
}

func (s *service) AddLesson(ctx context.Context, id CourseID, moduleID ModuleID, title string, minutes int) (*Course, LessonID, error) {
	lessonID := NewLessonID()
	c, err := s.mutate(ctx, id, func(c *Course) error {
		return c.AddLessonToModule(moduleID, lessonID, title, minutes)
	})
	if err != nil {
		return nil, "", err
	}
	return c, lessonID, nil
}

func (s *service) GetCourse(ctx context.Context, id CourseID) (*Course, error) {
	return s.repo.FindByIDOrFail(ctx, id)
}

func (s *service) ListPublished(ctx context.Context) ([]*Course, error) {
	return s.repo.FindPublished(ctx)
}

func (s *service) ListByInstructor(ctx context.Context, instructor InstructorID) ([]*Course, error) {
	return s.repo.FindByInstructor(ctx, instructor)
}

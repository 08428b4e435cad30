// internal/catalog/projector.go
package catalog

import (
	"context"
	"errors"
	"fmt"

	"coursecatalog/pkg/eventstore"
)

var ErrUnhandledEvent = errors.New("projector: unhandled event type")

// Projector reacts to each course event type. Implementations assume
// per-course events arrive in version order.
type Projector interface {
	OnCourseCreated(ctx context.Context, e CourseCreated) error
	OnCourseUpdated(ctx context.Context, e CourseUpdated) error
	OnCoursePublished(ctx context.Context, e CoursePublished) error
	OnCourseArchived(ctx context.Context, e CourseArchived) error
	OnCourseSuspended(ctx context.Context, e CourseSuspended) error
	OnModuleAddedToCourse(ctx context.Context, e ModuleAddedToCourse) error
	OnLessonAddedToModule(ctx context.Context, e LessonAddedToModule) error
}

// Project dispatches e to the matching Projector method.
func Project(ctx context.Context, p Projector, e eventstore.Event) error {
	switch e := e.(type) {
	case CourseCreated:
		return p.OnCourseCreated(ctx, e)
	case CourseUpdated:
		return p.OnCourseUpdated(ctx, e)
	case CoursePublished:
		return p.OnCoursePublished(ctx, e)
	case CourseArchived:
		return p.OnCourseArchived(ctx, e)
	case CourseSuspended:
		return p.OnCourseSuspended(ctx, e)
	case ModuleAddedToCourse:
		return p.OnModuleAddedToCourse(ctx, e)
	case LessonAddedToModule:
		return p.OnLessonAddedToModule(ctx, e)
	}
	return fmt.Errorf("%w: %s", ErrUnhandledEvent, e.EventType())
}

// ReadModelProjector keeps course views up to date.
type ReadModelProjector struct {
	views ReadModel
}

func NewReadModelProjector(views ReadModel) *ReadModelProjector {
	return &ReadModelProjector{views: views}
}

// Handle projects one event; it matches the dispatch handler signature.
func (p *ReadModelProjector) Handle(ctx context.Context, e eventstore.Event) error {
	return Project(ctx, p, e)
}

func (p *ReadModelProjector) OnCourseCreated(ctx context.Context, e CourseCreated) error {
	return p.views.Insert(ctx, CourseView{
		ID:           CourseID(e.AggregateID()),
		Title:        e.Title,
		Description:  e.Description,
		PriceCents:   e.PriceCents,
		Currency:     e.Currency,
		Level:        e.Level,
		Status:       StatusDraft,
		InstructorID: InstructorID(e.InstructorID),
		Version:      e.AggregateVersion(),
		CreatedAt:    e.OccurredAt(),
		UpdatedAt:    e.OccurredAt(),
	})
}

func (p *ReadModelProjector) OnCourseUpdated(ctx context.Context, e CourseUpdated) error {
	return p.views.ApplyChanges(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.OccurredAt(), e.Changes)
}

func (p *ReadModelProjector) OnCoursePublished(ctx context.Context, e CoursePublished) error {
	return p.views.SetStatus(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.PublishedAt, StatusPublished)
}

func (p *ReadModelProjector) OnCourseArchived(ctx context.Context, e CourseArchived) error {
	return p.views.SetStatus(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.ArchivedAt, StatusArchived)
}

func (p *ReadModelProjector) OnCourseSuspended(ctx context.Context, e CourseSuspended) error {
	return p.views.SetStatus(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.SuspendedAt, StatusSuspended)
}

func (p *ReadModelProjector) OnModuleAddedToCourse(ctx context.Context, e ModuleAddedToCourse) error {
	return p.views.IncrementModules(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.OccurredAt())
}

func (p *ReadModelProjector) OnLessonAddedToModule(ctx context.Context, e LessonAddedToModule) error {
	return p.views.AddLesson(ctx, CourseID(e.AggregateID()), e.AggregateVersion(), e.OccurredAt(), e.DurationMinutes)
}

// Rebuild clears views and replays the whole event log into them, batch
// events at a time. It returns the number of events projected.
//
// Log positions are allocated at insert time, so a page can pass over an
// event whose transaction commits later. When the next event of that course
// shows up the gap is filled from the course's own stream. A course whose
// only events commit behind the cursor is still missed, and live projection
// can race the replay, so writers must be stopped for an exact rebuild.
func Rebuild(ctx context.Context, store *eventstore.EventStore, views ReadModel, batch int) (int, error) {
	if batch <= 0 {
		batch = 500
	}
	if err := views.Reset(ctx); err != nil {
		return 0, err
	}

	p := NewReadModelProjector(views)
	projected := make(map[string]int)
	total := 0
	project := func(e eventstore.Event) error {
		if err := p.Handle(ctx, e); err != nil {
			return fmt.Errorf("project %s v%d of %s: %w", e.EventType(), e.AggregateVersion(), e.AggregateID(), err)
		}
		projected[e.AggregateID()] = e.AggregateVersion()
		total++
		return nil
	}

	var after int64
	for {
		events, next, err := store.ReadAll(ctx, after, batch)
		if err != nil {
			return total, err
		}
		for _, e := range events {
			last := projected[e.AggregateID()]
			switch v := e.AggregateVersion(); {
			case v <= last:
				// already replayed from the stream
			case v == last+1:
				if err := project(e); err != nil {
					return total, err
				}
			default:
				missing, err := store.LoadFromVersion(ctx, e.AggregateID(), last+1)
				if err != nil {
					return total, err
				}
				for _, m := range missing {
					if m.AggregateVersion() > v {
						break
					}
					if err := project(m); err != nil {
						return total, err
					}
				}
			}
		}
		if len(events) < batch {
			return total, nil
		}
		after = next
	}
}

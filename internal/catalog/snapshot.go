// internal/catalog/snapshot.go
package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	"coursecatalog/pkg/aggregate"
	"coursecatalog/pkg/eventstore"
)

type courseState struct {
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	PriceCents   int64         `json:"price_cents"`
	Currency     string        `json:"currency"`
	Level        Level         `json:"level"`
	Status       Status        `json:"status"`
	InstructorID InstructorID  `json:"instructor_id"`
	Modules      []moduleState `json:"modules"`
	CreatedAt    time.Time     `json:"created_at"`
	PublishedAt  time.Time     `json:"published_at"`
	ArchivedAt   time.Time     `json:"archived_at"`
}

type moduleState struct {
	ID      ModuleID      `json:"id"`
	Title   string        `json:"title"`
	Order   int           `json:"order"`
	Lessons []lessonState `json:"lessons"`
}

type lessonState struct {
	ID              LessonID `json:"id"`
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Order           int      `json:"order"`
}

// Snapshot captures the current state at the current version.
func (c *Course) Snapshot() (eventstore.Snapshot, error) {
	state := courseState{
		Title:        c.title.String(),
		Description:  c.description.String(),
		PriceCents:   c.price.Cents(),
		Currency:     c.price.Currency(),
		Level:        c.level,
		Status:       c.status,
		InstructorID: c.instructor,
		CreatedAt:    c.createdAt,
		PublishedAt:  c.publishedAt,
		ArchivedAt:   c.archivedAt,
	}
	for _, m := range c.modules {
		ms := moduleState{ID: m.ID, Title: m.Title, Order: m.Order}
		for _, l := range m.Lessons {
			ms.Lessons = append(ms.Lessons, lessonState{ID: l.ID, Title: l.Title, DurationMinutes: l.Duration.Minutes(), Order: l.Order})
		}
		state.Modules = append(state.Modules, ms)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return eventstore.Snapshot{}, fmt.Errorf("marshal course %s snapshot: %w", c.ID(), err)
	}
	return eventstore.Snapshot{
		AggregateID:   c.ID().String(),
		AggregateType: AggregateType,
		Version:       c.Version(),
		State:         data,
	}, nil
}

// RestoreFromSnapshot rebuilds a course from a snapshot and the events
// recorded after it.
func RestoreFromSnapshot(snap eventstore.Snapshot, events []eventstore.Event) (*Course, error) {
	var state courseState
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return nil, fmt.Errorf("unmarshal course %s snapshot: %w", snap.AggregateID, err)
	}

	c := &Course{
		title:       Title{value: state.Title},
		description: Description{value: state.Description},
		price:       Price{cents: state.PriceCents, currency: state.Currency},
		level:       state.Level,
		status:      state.Status,
		instructor:  state.InstructorID,
		createdAt:   state.CreatedAt,
		publishedAt: state.PublishedAt,
		archivedAt:  state.ArchivedAt,
	}
	for _, ms := range state.Modules {
		m := Module{ID: ms.ID, Title: ms.Title, Order: ms.Order}
		for _, ls := range ms.Lessons {
			m.Lessons = append(m.Lessons, Lesson{ID: ls.ID, Title: ls.Title, Duration: Duration{minutes: ls.DurationMinutes}, Order: ls.Order})
		}
		c.modules = append(c.modules, m)
	}
	c.recalculateDuration()

	if err := aggregate.ReconstituteFrom(c, snap.AggregateID, snap.Version, events); err != nil {
		return nil, err
	}
	return c, nil
}

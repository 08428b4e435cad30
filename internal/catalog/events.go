// internal/catalog/events.go
package catalog

import (
	"time"

	"coursecatalog/pkg/eventstore"
)

// AggregateType tags course streams in the event store.
const AggregateType = "course"

const (
	EventCourseCreated       = "CourseCreated"
	EventCourseUpdated       = "CourseUpdated"
	EventCoursePublished     = "CoursePublished"
	EventCourseArchived      = "CourseArchived"
	EventCourseSuspended     = "CourseSuspended"
	EventModuleAddedToCourse = "ModuleAddedToCourse"
	EventLessonAddedToModule = "LessonAddedToModule"
)

// RegisterEvents binds every course event type to its decoder.
func RegisterEvents(s *eventstore.Serializer) {
	s.Register(EventCourseCreated, eventstore.JSONDecoder[CourseCreated]())
	s.Register(EventCourseUpdated, eventstore.JSONDecoder[CourseUpdated]())
	s.Register(EventCoursePublished, eventstore.JSONDecoder[CoursePublished]())
	s.Register(EventCourseArchived, eventstore.JSONDecoder[CourseArchived]())
	s.Register(EventCourseSuspended, eventstore.JSONDecoder[CourseSuspended]())
	s.Register(EventModuleAddedToCourse, eventstore.JSONDecoder[ModuleAddedToCourse]())
	s.Register(EventLessonAddedToModule, eventstore.JSONDecoder[LessonAddedToModule]())
}

// CourseCreated is published when a new draft course is created.
type CourseCreated struct {
	eventstore.Meta `json:"-"`

	Title        string `json:"title"`
	Description  string `json:"description"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	Level        Level  `json:"level"`
	InstructorID string `json:"instructor_id"`
}

func (CourseCreated) EventType() string { return EventCourseCreated }

// CourseUpdated carries the old and new value of every changed field.
type CourseUpdated struct {
	eventstore.Meta `json:"-"`

	Changes Changes `json:"changes"`
}

func (CourseUpdated) EventType() string { return EventCourseUpdated }

// HasChanged reports whether field ("title", "description", "price" or
// "level") is part of the update.
func (e CourseUpdated) HasChanged(field string) bool {
	for _, f := range e.Changes.Fields() {
		if f == field {
			return true
		}
	}
	return false
}

type Changes struct {
	Title       *StringChange `json:"title,omitempty"`
	Description *StringChange `json:"description,omitempty"`
	Price       *PriceChange  `json:"price,omitempty"`
	Level       *LevelChange  `json:"level,omitempty"`
}

type StringChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

type PriceValue struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

type PriceChange struct {
	Old PriceValue `json:"old"`
	New PriceValue `json:"new"`
}

type LevelChange struct {
	Old Level `json:"old"`
	New Level `json:"new"`
}

func (c Changes) Empty() bool { return len(c.Fields()) == 0 }

func (c Changes) Fields() []string {
	var fields []string
	if c.Title != nil {
		fields = append(fields, "title")
	}
	if c.Description != nil {
		fields = append(fields, "description")
	}
	if c.Price != nil {
		fields = append(fields, "price")
	}
	if c.Level != nil {
		fields = append(fields, "level")
	}
	return fields
}

// CoursePublished is published when a draft course goes live.
type CoursePublished struct {
	eventstore.Meta `json:"-"`

	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
}

func (CoursePublished) EventType() string { return EventCoursePublished }

type CourseArchived struct {
	eventstore.Meta `json:"-"`

	Reason     string    `json:"reason"`
	ArchivedAt time.Time `json:"archived_at"`
}

func (CourseArchived) EventType() string { return EventCourseArchived }

type CourseSuspended struct {
	eventstore.Meta `json:"-"`

	Reason      string    `json:"reason"`
	SuspendedAt time.Time `json:"suspended_at"`
}

func (CourseSuspended) EventType() string { return EventCourseSuspended }

type ModuleAddedToCourse struct {
	eventstore.Meta `json:"-"`

	ModuleID ModuleID `json:"module_id"`
	Title    string   `json:"title"`
	Order    int      `json:"order"`
}

func (ModuleAddedToCourse) EventType() string { return EventModuleAddedToCourse }

type LessonAddedToModule struct {
	eventstore.Meta `json:"-"`

	ModuleID        ModuleID `json:"module_id"`
	LessonID        LessonID `json:"lesson_id"`
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Order           int      `json:"order"`
}

func (LessonAddedToModule) EventType() string { return EventLessonAddedToModule }

// internal/catalog/course.go
package catalog

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"coursecatalog/pkg/aggregate"
	"coursecatalog/pkg/eventstore"
)

const (
	MaxModules          = 50
	MaxLessonsPerModule = 100
	minModulesToPublish = 1
	minLessonsToPublish = 3
)

type Lesson struct {
	ID       LessonID
	Title    string
	Duration Duration
	Order    int
}

type Module struct {
	ID      ModuleID
	Title   string
	Order   int
	Lessons []Lesson
}

func (m Module) Duration() Duration {
	total := 0
	for _, l := range m.Lessons {
		total += l.Duration.Minutes()
	}
	return Duration{minutes: total}
}

// Course is the event-sourced course aggregate. State only changes by
// applying events, either freshly recorded or replayed from the store.
type Course struct {
	aggregate.Root

	title       Title
	description Description
	price       Price
	level       Level
	status      Status
	instructor  InstructorID
	duration    Duration
	modules     []Module
	createdAt   time.Time
	publishedAt time.Time
	archivedAt  time.Time
}

// Create starts a new draft course.
func Create(id CourseID, title Title, description Description, price Price, level Level, instructor InstructorID) *Course {
	c := &Course{Root: aggregate.NewRoot(id.String())}
	aggregate.RecordThat(c, CourseCreated{
		Meta:         c.NextMeta(),
		Title:        title.String(),
		Description:  description.String(),
		PriceCents:   price.Cents(),
		Currency:     price.Currency(),
		Level:        level,
		InstructorID: instructor.String(),
	})
	return c
}

// Reconstitute rebuilds a course from its event stream.
func Reconstitute(id CourseID, events []eventstore.Event) (*Course, error) {
	c := &Course{}
	if err := aggregate.Reconstitute(c, id.String(), events); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Course) ID() CourseID { return CourseID(c.AggregateID()) }
func (c *Course) Title() Title { return c.title }
func (c *Course) Description() Description { return c.description }
func (c *Course) Price() Price { return c.price }
func (c *Course) Level() Level { return c.level }
func (c *Course) Status() Status { return c.status }
func (c *Course) InstructorID() InstructorID { return c.instructor }
func (c *Course) Duration() Duration { return c.duration }
func (c *Course) CreatedAt() time.Time { return c.createdAt }
func (c *Course) IsPublished() bool { return c.status == StatusPublished }

// PublishedAt is zero until the course is published.
func (c *Course) PublishedAt() time.Time { return c.publishedAt }

func (c *Course) ArchivedAt() time.Time { return c.archivedAt }

// Modules returns a copy of the modules in order.
func (c *Course) Modules() []Module {
	out := make([]Module, len(c.modules))
	for i, m := range c.modules {
		m.Lessons = append([]Lesson(nil), m.Lessons...)
		out[i] = m
	}
	return out
}

func (c *Course) ModuleCount() int { return len(c.modules) }

func (c *Course) LessonCount() int {
	n := 0
	for _, m := range c.modules {
		n += len(m.Lessons)
	}
	return n
}

func (c *Course) Module(id ModuleID) (Module, error) {
	i := c.moduleIndex(id)
	if i < 0 {
		return Module{}, moduleNotFound(c.ID(), id)
	}
	return c.Modules()[i], nil
}

func (c *Course) Lesson(moduleID ModuleID, lessonID LessonID) (Lesson, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return Lesson{}, err
	}
	for _, l := range m.Lessons {
		if l.ID == lessonID {
			return l, nil
		}
	}
	return Lesson{}, lessonNotFound(c.ID(), lessonID)
}

func (c *Course) moduleIndex(id ModuleID) int {
	for i, m := range c.modules {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// UpdateFields holds the fields to change; nil means unchanged.
type UpdateFields struct {
	Title       *Title
	Description *Description
	Price       *Price
	Level       *Level
}

// Update records a CourseUpdated with the fields that actually differ.
// Nothing is recorded when every field already has the requested value.
func (c *Course) Update(f UpdateFields) error {
	if !c.status.CanBeEdited() {
		return statusError(CodeCannotBeEdited, c.ID(), c.status, "edited")
	}

	var changes Changes
	if f.Title != nil && *f.Title != c.title {
		changes.Title = &StringChange{Old: c.title.String(), New: f.Title.String()}
	}
	if f.Description != nil && *f.Description != c.description {
		changes.Description = &StringChange{Old: c.description.String(), New: f.Description.String()}
	}
	if f.Price != nil && !f.Price.Equal(c.price) {
		changes.Price = &PriceChange{
			Old: PriceValue{Cents: c.price.Cents(), Currency: c.price.Currency()},
			New: PriceValue{Cents: f.Price.Cents(), Currency: f.Price.Currency()},
		}
	}
	if f.Level != nil && *f.Level != c.level {
		changes.Level = &LevelChange{Old: c.level, New: *f.Level}
	}
	if changes.Empty() {
		return nil
	}

	aggregate.RecordThat(c, CourseUpdated{Meta: c.NextMeta(), Changes: changes})
	return nil
}

// Publish makes a draft course with enough content available.
func (c *Course) Publish() error {
	switch {
	case c.status == StatusPublished:
		return alreadyPublished(c.ID())
	case !c.status.CanBePublished():
		return statusError(CodeCannotBePublished, c.ID(), c.status, "published")
	case len(c.modules) < minModulesToPublish || c.LessonCount() < minLessonsToPublish:
		return insufficientContent(c.ID(), c.status, len(c.modules), c.LessonCount())
	}

	meta := c.NextMeta()
	aggregate.RecordThat(c, CoursePublished{Meta: meta, Title: c.title.String(), PublishedAt: meta.Occurred})
	return nil
}

func (c *Course) Archive(reason string) error {
	if !c.status.CanBeArchived() {
		return statusError(CodeCannotBeArchived, c.ID(), c.status, "archived")
	}

	meta := c.NextMeta()
	aggregate.RecordThat(c, CourseArchived{Meta: meta, Reason: strings.TrimSpace(reason), ArchivedAt: meta.Occurred})
	return nil
}

// Suspend takes a published course offline without archiving it.
func (c *Course) Suspend(reason string) error {
	if !c.status.CanBeSuspended() {
		return statusError(CodeInvalidTransition, c.ID(), c.status, "suspended")
	}

	meta := c.NextMeta()
	aggregate.RecordThat(c, CourseSuspended{Meta: meta, Reason: strings.TrimSpace(reason), SuspendedAt: meta.Occurred})
	return nil
}

func (c *Course) AddModule(id ModuleID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxModuleTitleLength {
		return invalidValue("module_title", title, fmt.Sprintf("must be between 1 and %d characters", MaxModuleTitleLength))
	}
	if len(c.modules) >= MaxModules {
		return limitExceeded(CodeMaximumModulesExceeded, c.ID(), "modules", MaxModules)
	}
	for _, m := range c.modules {
		if m.Title == title {
			return duplicateModule(c.ID(), title)
		}
		if m.ID == id {
			return &Error{
				Code:     CodeDuplicateModule,
				Message:  fmt.Sprintf("course %s already has module %s", c.ID(), id),
				CourseID: c.ID(),
				Field:    "module_id",
				Value:    id.String(),
			}
		}
	}

	aggregate.RecordThat(c, ModuleAddedToCourse{
		Meta:     c.NextMeta(),
		ModuleID: id,
		Title:    title,
		Order:    len(c.modules) + 1,
	})
	return nil
}

func (c *Course) AddLessonToModule(moduleID ModuleID, lessonID LessonID, title string, minutes int) error {
	i := c.moduleIndex(moduleID)
	if i < 0 {
		return moduleNotFound(c.ID(), moduleID)
	}

	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return invalidValue("lesson_title", title, fmt.Sprintf("must be between 1 and %d characters", MaxTitleLength))
	}
	if minutes <= 0 || minutes > MaxLessonMinutes {
		return invalidValue("duration_minutes", fmt.Sprint(minutes), fmt.Sprintf("must be between 1 and %d", MaxLessonMinutes))
	}

	module := c.modules[i]
	if len(module.Lessons) >= MaxLessonsPerModule {
		return limitExceeded(CodeMaximumLessonsExceeded, c.ID(), "lessons per module", MaxLessonsPerModule)
	}
	for _, l := range module.Lessons {
		if l.Title == title {
			return duplicateLesson(c.ID(), "lesson_title", title)
		}
	}
	for _, m := range c.modules {
		for _, l := range m.Lessons {
			if l.ID == lessonID {
				return duplicateLesson(c.ID(), "lesson_id", lessonID.String())
			}
		}
	}

	aggregate.RecordThat(c, LessonAddedToModule{
		Meta:            c.NextMeta(),
		ModuleID:        moduleID,
		LessonID:        lessonID,
		Title:           title,
		DurationMinutes: minutes,
		Order:           len(module.Lessons) + 1,
	})
	return nil
}

// Apply mutates state from one event. It is the only place state changes.
func (c *Course) Apply(e eventstore.Event) {
	switch e := e.(type) {
	case CourseCreated:
		c.title = Title{value: e.Title}
		c.description = Description{value: e.Description}
		c.price = Price{cents: e.PriceCents, currency: e.Currency}
		c.level = e.Level
		c.instructor = InstructorID(e.InstructorID)
		c.status = StatusDraft
		c.createdAt = e.OccurredAt()

	case CourseUpdated:
		if ch := e.Changes.Title; ch != nil {
			c.title = Title{value: ch.New}
		}
		if ch := e.Changes.Description; ch != nil {
			c.description = Description{value: ch.New}
		}
		if ch := e.Changes.Price; ch != nil {
			c.price = Price{cents: ch.New.Cents, currency: ch.New.Currency}
		}
		if ch := e.Changes.Level; ch != nil {
			c.level = ch.New
		}

	case CoursePublished:
		c.status = StatusPublished
		c.publishedAt = e.PublishedAt

	case CourseArchived:
		c.status = StatusArchived
		c.archivedAt = e.ArchivedAt

	case CourseSuspended:
		c.status = StatusSuspended

	case ModuleAddedToCourse:
		c.modules = append(c.modules, Module{ID: e.ModuleID, Title: e.Title, Order: e.Order})

	case LessonAddedToModule:
		if i := c.moduleIndex(e.ModuleID); i >= 0 {
			c.modules[i].Lessons = append(c.modules[i].Lessons, Lesson{
				ID:       e.LessonID,
				Title:    e.Title,
				Duration: Duration{minutes: e.DurationMinutes},
				Order:    e.Order,
			})
		}
		c.recalculateDuration()

	default:
		aggregate.Unhandled("Course", e)
	}
}

func (c *Course) recalculateDuration() {
	total := 0
	for _, m := range c.modules {
		total += m.Duration().Minutes()
	}
	c.duration = Duration{minutes: total}
}

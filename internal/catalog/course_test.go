package catalog

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecatalog/pkg/aggregate"
	"coursecatalog/pkg/eventstore"
)

func eventTypes(events []eventstore.Event) []string {
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType()
	}
	return types
}

func TestCourse_PublishLifecycle(t *testing.T) {
	instructor := newInstructorID()
	price, err := PriceFromAmount(79.99, "USD")
	require.NoError(t, err)
	desc, err := NewDescription(testDescription)
	require.NoError(t, err)

	c := Create(NewCourseID(), mustTitle(t, "Advanced Laravel Testing"), desc, price, LevelAdvanced, instructor)
	require.Equal(t, []string{EventCourseCreated}, eventTypes(c.RecordedEvents()))
	assert.Equal(t, 1, c.Version())
	assert.Equal(t, StatusDraft, c.Status())
	assert.Equal(t, instructor, c.InstructorID())
	c.PullRecordedEvents()

	moduleID := NewModuleID()
	require.NoError(t, c.AddModule(moduleID, "Introduction"))
	require.Equal(t, 1, c.ModuleCount())
	m, err := c.Module(moduleID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Order)

	for _, minutes := range []int{10, 15, 20} {
		require.NoError(t, c.AddLessonToModule(moduleID, NewLessonID(), fmt.Sprintf("Lesson %d", minutes), minutes))
	}
	assert.Equal(t, 45, c.Duration().Minutes())
	m, err = c.Module(moduleID)
	require.NoError(t, err)
	for i, l := range m.Lessons {
		assert.Equal(t, i+1, l.Order)
	}
	c.PullRecordedEvents()

	require.NoError(t, c.Publish())
	assert.Equal(t, StatusPublished, c.Status())
	assert.False(t, c.PublishedAt().IsZero())
	require.Equal(t, []string{EventCoursePublished}, eventTypes(c.RecordedEvents()))

	err = c.Publish()
	require.ErrorIs(t, err, ErrAlreadyPublished)
	assert.Len(t, c.RecordedEvents(), 1)
}

func TestCourse_PublishRequiresContent(t *testing.T) {
	t.Run("no modules", func(t *testing.T) {
		c := newDraft(t, "Empty course", newInstructorID())
		err := c.Publish()
		require.ErrorIs(t, err, ErrCannotBePublished)
		assert.Equal(t, StatusDraft, c.Status())
	})

	t.Run("two lessons", func(t *testing.T) {
		c := newDraft(t, "Short course", newInstructorID())
		moduleID := NewModuleID()
		require.NoError(t, c.AddModule(moduleID, "Only module"))
		require.NoError(t, c.AddLessonToModule(moduleID, NewLessonID(), "One", 5))
		require.NoError(t, c.AddLessonToModule(moduleID, NewLessonID(), "Two", 5))
		version := c.Version()

		err := c.Publish()
		var domainErr *Error
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, CodeCannotBePublished, domainErr.Code)
		assert.Equal(t, "content", domainErr.Field)
		assert.Equal(t, version, c.Version())
	})

	t.Run("three lessons", func(t *testing.T) {
		c := newDraft(t, "Complete course", newInstructorID())
		withContent(t, c)
		require.NoError(t, c.Publish())
		assert.Equal(t, StatusPublished, c.Status())
	})
}

func TestCourse_UpdatePublishedFails(t *testing.T) {
	c := newDraft(t, "Published course", newInstructorID())
	withContent(t, c)
	require.NoError(t, c.Publish())
	version := c.Version()
	pending := len(c.RecordedEvents())

	title := mustTitle(t, "Another title")
	err := c.Update(UpdateFields{Title: &title})
	require.ErrorIs(t, err, ErrCannotBeEdited)

	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, StatusPublished, domainErr.Status)
	assert.Equal(t, c.ID(), domainErr.CourseID)

	assert.Equal(t, version, c.Version())
	assert.Len(t, c.RecordedEvents(), pending)
	assert.Equal(t, "Published course", c.Title().String())
}

func TestCourse_UpdateRecordsOnlyChangedFields(t *testing.T) {
	c := newDraft(t, "Original title", newInstructorID())
	c.PullRecordedEvents()

	title := mustTitle(t, "Original title")
	price := mustPrice(t, 4999, "USD")
	level := LevelExpert
	require.NoError(t, c.Update(UpdateFields{Title: &title, Price: &price, Level: &level}))

	events := c.PullRecordedEvents()
	require.Len(t, events, 1)
	updated, ok := events[0].(CourseUpdated)
	require.True(t, ok)
	assert.Equal(t, []string{"price", "level"}, updated.Changes.Fields())
	assert.True(t, updated.HasChanged("price"))
	assert.False(t, updated.HasChanged("title"))
	assert.Equal(t, PriceValue{Cents: 7999, Currency: "USD"}, updated.Changes.Price.Old)
	assert.Equal(t, PriceValue{Cents: 4999, Currency: "USD"}, updated.Changes.Price.New)
	assert.Equal(t, LevelExpert, c.Level())
	assert.Equal(t, int64(4999), c.Price().Cents())
}

func TestCourse_UpdateWithSameValuesIsNoop(t *testing.T) {
	c := newDraft(t, "Stable course", newInstructorID())
	c.PullRecordedEvents()

	title, desc, price, level := c.Title(), c.Description(), c.Price(), c.Level()
	require.NoError(t, c.Update(UpdateFields{Title: &title, Description: &desc, Price: &price, Level: &level}))
	require.NoError(t, c.Update(UpdateFields{}))

	assert.Equal(t, 1, c.Version())
	assert.False(t, c.HasRecordedEvents())
}

func TestCourse_ArchiveAndSuspend(t *testing.T) {
	c := newDraft(t, "Lifecycle course", newInstructorID())
	require.ErrorIs(t, c.Archive("too early"), ErrCannotBeArchived)
	require.ErrorIs(t, c.Suspend("too early"), ErrInvalidTransition)

	withContent(t, c)
	require.NoError(t, c.Publish())
	require.NoError(t, c.Suspend("  policy review  "))
	assert.Equal(t, StatusSuspended, c.Status())

	firstPublished := c.PublishedAt()
	require.NoError(t, c.Publish())
	assert.Equal(t, StatusPublished, c.Status())
	assert.False(t, c.PublishedAt().Before(firstPublished))
	require.NoError(t, c.Suspend("second review"))

	require.NoError(t, c.Archive("retired"))
	assert.Equal(t, StatusArchived, c.Status())
	assert.False(t, c.ArchivedAt().IsZero())
	require.ErrorIs(t, c.Archive("again"), ErrCannotBeArchived)

	events := c.RecordedEvents()
	suspended, ok := events[len(events)-4].(CourseSuspended)
	require.True(t, ok)
	assert.Equal(t, "policy review", suspended.Reason)
	_, ok = events[len(events)-3].(CoursePublished)
	assert.True(t, ok)
}

func TestCourse_RepublishFromSuspendedNeedsContent(t *testing.T) {
	c := newDraft(t, "Hollow course", newInstructorID())
	history := c.PullRecordedEvents()
	id := c.ID().String()
	history = append(history,
		CoursePublished{Meta: eventstore.NewMeta(id, 2), Title: c.Title().String(), PublishedAt: time.Now().UTC()},
		CourseSuspended{Meta: eventstore.NewMeta(id, 3), Reason: "review", SuspendedAt: time.Now().UTC()},
	)
	suspended, err := Reconstitute(c.ID(), history)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, suspended.Status())

	err = suspended.Publish()
	require.ErrorIs(t, err, ErrCannotBePublished)
	var domainErr *Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "content", domainErr.Field)
	assert.Equal(t, StatusSuspended, domainErr.Status)
	assert.Equal(t, StatusSuspended, suspended.Status())
	assert.Equal(t, 3, suspended.Version())
	assert.False(t, suspended.HasRecordedEvents())
}

func TestCourse_AddModuleRules(t *testing.T) {
	c := newDraft(t, "Module rules", newInstructorID())
	moduleID := NewModuleID()
	require.NoError(t, c.AddModule(moduleID, "Basics"))

	require.ErrorIs(t, c.AddModule(NewModuleID(), " Basics "), ErrDuplicateModule)
	require.ErrorIs(t, c.AddModule(moduleID, "Other title"), ErrDuplicateModule)
	require.ErrorIs(t, c.AddModule(NewModuleID(), "   "), ErrInvalidValue)

	for i := c.ModuleCount(); i < MaxModules; i++ {
		require.NoError(t, c.AddModule(NewModuleID(), fmt.Sprintf("Module %d", i)))
	}
	version := c.Version()
	require.ErrorIs(t, c.AddModule(NewModuleID(), "One too many"), ErrMaximumModulesExceeded)
	assert.Equal(t, version, c.Version())
	assert.Equal(t, MaxModules, c.ModuleCount())
}

func TestCourse_AddLessonRules(t *testing.T) {
	c := newDraft(t, "Lesson rules", newInstructorID())
	first, second := NewModuleID(), NewModuleID()
	require.NoError(t, c.AddModule(first, "First"))
	require.NoError(t, c.AddModule(second, "Second"))

	lessonID := NewLessonID()
	require.NoError(t, c.AddLessonToModule(first, lessonID, "Welcome", 5))

	require.ErrorIs(t, c.AddLessonToModule(NewModuleID(), NewLessonID(), "Lost", 5), ErrModuleNotFound)
	require.ErrorIs(t, c.AddLessonToModule(first, NewLessonID(), "Welcome", 5), ErrDuplicateLesson)
	require.ErrorIs(t, c.AddLessonToModule(second, lessonID, "Fresh title", 5), ErrDuplicateLesson)
	require.ErrorIs(t, c.AddLessonToModule(first, NewLessonID(), "Zero", 0), ErrInvalidValue)
	require.ErrorIs(t, c.AddLessonToModule(first, NewLessonID(), "Too long", MaxLessonMinutes+1), ErrInvalidValue)

	// the same title is fine in another module
	require.NoError(t, c.AddLessonToModule(second, NewLessonID(), "Welcome", 7))
	assert.Equal(t, 12, c.Duration().Minutes())

	l, err := c.Lesson(first, lessonID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", l.Title)
	_, err = c.Lesson(second, lessonID)
	require.ErrorIs(t, err, ErrLessonNotFound)

	for i := 1; i < MaxLessonsPerModule; i++ {
		require.NoError(t, c.AddLessonToModule(first, NewLessonID(), fmt.Sprintf("Lesson %d", i), 1))
	}
	require.ErrorIs(t, c.AddLessonToModule(first, NewLessonID(), "Overflow", 1), ErrMaximumLessonsExceeded)
}

func TestCourse_ModulesReturnsCopy(t *testing.T) {
	c := newDraft(t, "Copy semantics", newInstructorID())
	moduleID := withContent(t, c)

	modules := c.Modules()
	modules[0].Title = "changed"
	modules[0].Lessons[0].Title = "changed"

	m, err := c.Module(moduleID)
	require.NoError(t, err)
	assert.Equal(t, "Introduction", m.Title)
	assert.Equal(t, "Setup", m.Lessons[0].Title)
}

func TestCourse_ReconstituteMatchesLiveState(t *testing.T) {
	c := newDraft(t, "Replay course", newInstructorID())
	withContent(t, c)
	require.NoError(t, c.Publish())
	events := c.PullRecordedEvents()

	replayed, err := Reconstitute(c.ID(), events)
	require.NoError(t, err)
	assert.Equal(t, c.Version(), replayed.Version())
	assert.False(t, replayed.HasRecordedEvents())
	assert.Equal(t, c.Status(), replayed.Status())
	assert.Equal(t, c.Duration(), replayed.Duration())
	assert.Equal(t, c.Modules(), replayed.Modules())
	assert.Equal(t, c.PublishedAt(), replayed.PublishedAt())
}

func TestCourse_ReconstituteRejectsGap(t *testing.T) {
	c := newDraft(t, "Gappy course", newInstructorID())
	withContent(t, c)
	events := c.PullRecordedEvents()

	_, err := Reconstitute(c.ID(), append(events[:1:1], events[2:]...))
	require.ErrorIs(t, err, aggregate.ErrStreamGap)
}

type unknownEvent struct {
	eventstore.Meta
}

func (unknownEvent) EventType() string { return "Unknown" }

func TestCourse_ApplyPanicsOnUnknownEvent(t *testing.T) {
	c := newDraft(t, "Strict course", newInstructorID())
	assert.PanicsWithValue(t, aggregate.UnknownEventError{Aggregate: "Course", EventType: "Unknown"}, func() {
		c.Apply(unknownEvent{Meta: eventstore.NewMeta(c.ID().String(), 2)})
	})
}

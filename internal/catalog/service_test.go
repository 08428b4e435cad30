package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursecatalog/pkg/eventstore"
)

func validInput(instructor InstructorID) CreateCourseInput {
	return CreateCourseInput{
		Title:        "Advanced Laravel Testing",
		Description:  testDescription,
		PriceCents:   7999,
		Currency:     "usd",
		Level:        "advanced",
		InstructorID: instructor.String(),
	}
}

func TestService_CreateCourseValidates(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)
	ctx := context.Background()

	in := validInput(newInstructorID())
	in.Title = "Go"
	_, err := svc.CreateCourse(ctx, in)
	require.ErrorIs(t, err, ErrInvalidValue)

	in = validInput(newInstructorID())
	in.InstructorID = "someone"
	_, err = svc.CreateCourse(ctx, in)
	require.ErrorIs(t, err, ErrInvalidValue)

	in = validInput(newInstructorID())
	in.Level = "wizard"
	_, err = svc.CreateCourse(ctx, in)
	require.ErrorIs(t, err, ErrInvalidValue)

	all, err := env.views.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestService_CourseFlow(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)
	ctx := context.Background()
	instructor := newInstructorID()

	c, err := svc.CreateCourse(ctx, validInput(instructor))
	require.NoError(t, err)
	assert.Equal(t, "USD", c.Price().Currency())
	assert.Equal(t, 1, c.Version())

	c, moduleID, err := svc.AddModule(ctx, c.ID(), "Introduction")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ModuleCount())

	for _, minutes := range []int{10, 15, 20} {
		var lessonID LessonID
		c, lessonID, err = svc.AddLesson(ctx, c.ID(), moduleID, "Lesson "+lessonLength(minutes), minutes)
		require.NoError(t, err)
		_, err = c.Lesson(moduleID, lessonID)
		require.NoError(t, err)
	}
	assert.Equal(t, 45, c.Duration().Minutes())

	published, err := svc.PublishCourse(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, published.Status())

	_, err = svc.PublishCourse(ctx, c.ID())
	require.ErrorIs(t, err, ErrAlreadyPublished)

	title := "New title"
	_, err = svc.UpdateCourse(ctx, c.ID(), UpdateCourseInput{Title: &title})
	require.ErrorIs(t, err, ErrCannotBeEdited)

	got, err := svc.GetCourse(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, 6, got.Version())

	live, err := svc.ListPublished(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, c.ID(), live[0].ID())

	mine, err := svc.ListByInstructor(ctx, instructor)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	suspended, err := svc.SuspendCourse(ctx, c.ID(), "review")
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, suspended.Status())

	archived, err := svc.ArchiveCourse(ctx, c.ID(), "retired")
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, archived.Status())

	view, err := env.views.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusArchived, view.Status)
	assert.Equal(t, 8, view.Version)
}

func lessonLength(minutes int) string {
	return Duration{minutes: minutes}.String()
}

func TestService_UpdateMergesPrice(t *testing.T) {
	env := newTestEnv(t)
	svc := NewService(env.repo)
	ctx := context.Background()

	c, err := svc.CreateCourse(ctx, validInput(newInstructorID()))
	require.NoError(t, err)

	currency := "eur"
	updated, err := svc.UpdateCourse(ctx, c.ID(), UpdateCourseInput{Currency: &currency})
	require.NoError(t, err)
	assert.Equal(t, mustPrice(t, 7999, "EUR"), updated.Price())

	cents := int64(1000)
	level := "expert"
	updated, err = svc.UpdateCourse(ctx, c.ID(), UpdateCourseInput{PriceCents: &cents, Level: &level})
	require.NoError(t, err)
	assert.Equal(t, mustPrice(t, 1000, "EUR"), updated.Price())
	assert.Equal(t, LevelExpert, updated.Level())
	assert.Equal(t, 3, updated.Version())

	// unchanged values record nothing
	updated, err = svc.UpdateCourse(ctx, c.ID(), UpdateCourseInput{PriceCents: &cents, Level: &level})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version())

	bad := int64(-5)
	_, err = svc.UpdateCourse(ctx, c.ID(), UpdateCourseInput{PriceCents: &bad})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = svc.UpdateCourse(ctx, NewCourseID(), UpdateCourseInput{Level: &level})
	require.ErrorIs(t, err, ErrCourseNotFound)
}

// racingBackend lets another writer append right before the first append
// it sees.
type racingBackend struct {
	eventstore.Backend
	raced   bool
	race    func()
	appends int
}

func (b *racingBackend) Append(ctx context.Context, aggregateID string, expectedVersion int, records []eventstore.Record) error {
	b.appends++
	if !b.raced && b.race != nil {
		b.raced = true
		b.race()
	}
	return b.Backend.Append(ctx, aggregateID, expectedVersion, records)
}

// conflictingBackend rejects every append.
type conflictingBackend struct {
	eventstore.Backend
	appends int
}

func (b *conflictingBackend) Append(ctx context.Context, aggregateID string, expectedVersion int, records []eventstore.Record) error {
	b.appends++
	return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: expectedVersion + 1}
}

func TestService_RetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	memory := eventstore.NewMemoryBackend()
	backend := &racingBackend{Backend: memory}
	store := eventstore.New(backend, newTestSerializer())
	views := NewMemoryReadModel()
	repo := NewRepository(store, views, projectingSink{projector: NewReadModelProjector(views)})
	svc := NewService(repo)

	c := newDraft(t, "Contested course", newInstructorID())
	backend.raced = true
	require.NoError(t, repo.Save(ctx, c))

	// The rival writes through its own repository, as another instance would.
	other := NewRepository(store, views, projectingSink{projector: NewReadModelProjector(views)})
	backend.raced = false
	backend.race = func() {
		rival, err := other.FindByIDOrFail(ctx, c.ID())
		require.NoError(t, err)
		require.NoError(t, rival.AddModule(NewModuleID(), "Rival module"))
		require.NoError(t, other.Save(ctx, rival))
	}

	updated, moduleID, err := svc.AddModule(ctx, c.ID(), "My module")
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Version())
	assert.Equal(t, 2, updated.ModuleCount())
	m, err := updated.Module(moduleID)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Order)

	view, err := views.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, 2, view.TotalModules)
}

func TestService_GivesUpAfterAttempts(t *testing.T) {
	ctx := context.Background()
	memory := eventstore.NewMemoryBackend()
	store := eventstore.New(memory, newTestSerializer())
	repo := NewRepository(store, NewMemoryReadModel(), nil)

	c := newDraft(t, "Hot course", newInstructorID())
	require.NoError(t, repo.Save(ctx, c))

	backend := &conflictingBackend{Backend: memory}
	svc := NewService(NewRepository(eventstore.New(backend, newTestSerializer()), NewMemoryReadModel(), nil), WithRetryAttempts(2))

	_, _, err := svc.AddModule(ctx, c.ID(), "Never lands")
	require.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
	assert.Equal(t, 2, backend.appends)

	backend.appends = 0
	_, err = svc.PublishCourse(ctx, c.ID())
	require.ErrorIs(t, err, ErrCannotBePublished)
	assert.Zero(t, backend.appends, "domain errors are not retried")
}

func TestService_ConcurrentCommandsKeepViewInStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := NewService(env.repo, WithRetryAttempts(100))

	c, err := svc.CreateCourse(ctx, validInput(newInstructorID()))
	require.NoError(t, err)

	const writers = 12
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = svc.AddModule(ctx, c.ID(), fmt.Sprintf("Module %02d", i))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := svc.GetCourse(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, writers, got.ModuleCount())

	view, err := env.views.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, writers, view.TotalModules)
	assert.Equal(t, got.Version(), view.Version)
}

// internal/catalog/readmodel.go
package catalog

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// CourseView is the denormalized read-side row of a course.
type CourseView struct {
	ID              CourseID     `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	PriceCents      int64        `json:"price_cents"`
	Currency        string       `json:"currency"`
	Level           Level        `json:"level"`
	Status          Status       `json:"status"`
	InstructorID    InstructorID `json:"instructor_id"`
	TotalModules    int          `json:"total_modules"`
	TotalLessons    int          `json:"total_lessons"`
	DurationMinutes int          `json:"duration_minutes"`
	PublishedAt     *time.Time   `json:"published_at,omitempty"`
	ArchivedAt      *time.Time   `json:"archived_at,omitempty"`
	Version         int          `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// ListFilter narrows ReadModel.List. Zero fields do not filter.
type ListFilter struct {
	Status       Status
	InstructorID InstructorID
	Query        string
	Limit        int
	Offset       int
}

const defaultListLimit = 50

// Index answers the lookups the repository runs before replaying streams.
type Index interface {
	IDsByInstructor(ctx context.Context, instructor InstructorID) ([]CourseID, error)
	IDsByStatus(ctx context.Context, status Status) ([]CourseID, error)
	CountByInstructor(ctx context.Context, instructor InstructorID) (int, error)
}

// ReadModel stores course views. Every update carries the version of the
// event that caused it and is skipped when the row is already at or past
// that version, which makes redelivered events harmless.
type ReadModel interface {
	Index
	Insert(ctx context.Context, view CourseView) error
	ApplyChanges(ctx context.Context, id CourseID, version int, at time.Time, changes Changes) error
	SetStatus(ctx context.Context, id CourseID, version int, at time.Time, status Status) error
	IncrementModules(ctx context.Context, id CourseID, version int, at time.Time) error
	AddLesson(ctx context.Context, id CourseID, version int, at time.Time, minutes int) error
	Get(ctx context.Context, id CourseID) (CourseView, error)
	List(ctx context.Context, filter ListFilter) ([]CourseView, error)
	// Reset removes every view ahead of a full rebuild.
	Reset(ctx context.Context) error
}

// MemoryReadModel keeps views in process.
type MemoryReadModel struct {
	mu    sync.RWMutex
	views map[CourseID]*CourseView
}

func NewMemoryReadModel() *MemoryReadModel {
	return &MemoryReadModel{views: make(map[CourseID]*CourseView)}
}

func (m *MemoryReadModel) Insert(ctx context.Context, view CourseView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.views[view.ID]; ok {
		return nil
	}
	m.views[view.ID] = &view
	return nil
}

// update runs fn on the view when it is behind version.
func (m *MemoryReadModel) update(id CourseID, version int, at time.Time, fn func(v *CourseView)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[id]
	if !ok || v.Version >= version {
		return nil
	}
	fn(v)
	v.Version = version
	v.UpdatedAt = at
	return nil
}

func (m *MemoryReadModel) ApplyChanges(ctx context.Context, id CourseID, version int, at time.Time, changes Changes) error {
	return m.update(id, version, at, func(v *CourseView) {
		if changes.Title != nil {
			v.Title = changes.Title.New
		}
		if changes.Description != nil {
			v.Description = changes.Description.New
		}
		if changes.Price != nil {
			v.PriceCents = changes.Price.New.Cents
			v.Currency = changes.Price.New.Currency
		}
		if changes.Level != nil {
			v.Level = changes.Level.New
		}
	})
}

func (m *MemoryReadModel) SetStatus(ctx context.Context, id CourseID, version int, at time.Time, status Status) error {
	return m.update(id, version, at, func(v *CourseView) {
		v.Status = status
		switch status {
		case StatusPublished:
			v.PublishedAt = &at
		case StatusArchived:
			v.ArchivedAt = &at
		}
	})
}

func (m *MemoryReadModel) IncrementModules(ctx context.Context, id CourseID, version int, at time.Time) error {
	return m.update(id, version, at, func(v *CourseView) {
		v.TotalModules++
	})
}

func (m *MemoryReadModel) AddLesson(ctx context.Context, id CourseID, version int, at time.Time, minutes int) error {
	return m.update(id, version, at, func(v *CourseView) {
		v.TotalLessons++
		v.DurationMinutes += minutes
	})
}

func (m *MemoryReadModel) Get(ctx context.Context, id CourseID) (CourseView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.views[id]
	if !ok {
		return CourseView{}, courseNotFound(id)
	}
	return *v, nil
}

func (m *MemoryReadModel) List(ctx context.Context, filter ListFilter) ([]CourseView, error) {
	m.mu.RLock()
	var out []CourseView
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	for _, v := range m.views {
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if filter.InstructorID != "" && v.InstructorID != filter.InstructorID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(v.Title), query) {
			continue
		}
		out = append(out, *v)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b CourseView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[max(filter.Offset, 0):]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryReadModel) ids(filter func(*CourseView) bool) []CourseID {
	m.mu.RLock()
	var views []*CourseView
	for _, v := range m.views {
		if filter(v) {
			views = append(views, v)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(views, func(a, b *CourseView) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	ids := make([]CourseID, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	return ids
}

func (m *MemoryReadModel) IDsByInstructor(ctx context.Context, instructor InstructorID) ([]CourseID, error) {
	return m.ids(func(v *CourseView) bool { return v.InstructorID == instructor }), nil
}

func (m *MemoryReadModel) IDsByStatus(ctx context.Context, status Status) ([]CourseID, error) {
	return m.ids(func(v *CourseView) bool { return v.Status == status }), nil
}

func (m *MemoryReadModel) CountByInstructor(ctx context.Context, instructor InstructorID) (int, error) {
	ids, err := m.IDsByInstructor(ctx, instructor)
	return len(ids), err
}

func (m *MemoryReadModel) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.views = make(map[CourseID]*CourseView)
	return nil
}

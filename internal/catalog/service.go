// internal/catalog/service.go
package catalog

import (
	"context"
)

// CreateCourseInput carries unvalidated fields for a new course.
type CreateCourseInput struct {
	Title        string
	Description  string
	PriceCents   int64
	Currency     string
	Level        string
	InstructorID string
}

// UpdateCourseInput carries optional fields; nil means unchanged.
type UpdateCourseInput struct {
	Title       *string
	Description *string
	PriceCents  *int64
	Currency    *string
	Level       *string
}

// Service defines the interface for the catalog service.
type Service interface {
	CreateCourse(ctx context.Context, in CreateCourseInput) (*Course, error)
	UpdateCourse(ctx context.Context, id CourseID, in UpdateCourseInput) (*Course, error)
	PublishCourse(ctx context.Context, id CourseID) (*Course, error)
	ArchiveCourse(ctx context.Context, id CourseID, reason string) (*Course, error)
	SuspendCourse(ctx context.Context, id CourseID, reason string) (*Course, error)
	AddModule(ctx context.Context, id CourseID, title string) (*Course, ModuleID, error)
	AddLesson(ctx context.Context, id CourseID, moduleID ModuleID, title string, minutes int) (*Course, LessonID, error)
	GetCourse(ctx context.Context, id CourseID) (*Course, error)
	ListPublished(ctx context.Context) ([]*Course, error)
	ListByInstructor(ctx context.Context, instructor InstructorID) ([]*Course, error)
}

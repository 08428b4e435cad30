// internal/catalog/errors.go
package catalog

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure.
type Code string

const (
	CodeInvalidValue           Code = "invalid_value"
	CodeCourseNotFound         Code = "course_not_found"
	CodeModuleNotFound         Code = "module_not_found"
	CodeLessonNotFound         Code = "lesson_not_found"
	CodeAlreadyPublished       Code = "already_published"
	CodeCannotBePublished      Code = "cannot_be_published"
	CodeCannotBeArchived       Code = "cannot_be_archived"
	CodeCannotBeEdited         Code = "cannot_be_edited"
	CodeInvalidTransition      Code = "invalid_transition"
	CodeDuplicateModule        Code = "duplicate_module"
	CodeDuplicateLesson        Code = "duplicate_lesson"
	CodeMaximumModulesExceeded Code = "maximum_modules_exceeded"
	CodeMaximumLessonsExceeded Code = "maximum_lessons_exceeded"
)

// Error is a domain rule violation. Two errors match under errors.Is when
// their codes are equal, so the sentinels below can be used as targets.
type Error struct {
	Code     Code
	Message  string
	CourseID CourseID
	Status   Status
	Field    string
	Value    string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidValue           = &Error{Code: CodeInvalidValue, Message: "invalid value"}
	ErrCourseNotFound         = &Error{Code: CodeCourseNotFound, Message: "course not found"}
	ErrModuleNotFound         = &Error{Code: CodeModuleNotFound, Message: "module not found"}
	ErrLessonNotFound         = &Error{Code: CodeLessonNotFound, Message: "lesson not found"}
	ErrAlreadyPublished       = &Error{Code: CodeAlreadyPublished, Message: "course is already published"}
	ErrCannotBePublished      = &Error{Code: CodeCannotBePublished, Message: "course cannot be published"}
	ErrCannotBeArchived       = &Error{Code: CodeCannotBeArchived, Message: "course cannot be archived"}
	ErrCannotBeEdited         = &Error{Code: CodeCannotBeEdited, Message: "course cannot be edited"}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	ErrDuplicateModule        = &Error{Code: CodeDuplicateModule, Message: "duplicate module"}
	ErrDuplicateLesson        = &Error{Code: CodeDuplicateLesson, Message: "duplicate lesson"}
	ErrMaximumModulesExceeded = &Error{Code: CodeMaximumModulesExceeded, Message: "maximum modules exceeded"}
	ErrMaximumLessonsExceeded = &Error{Code: CodeMaximumLessonsExceeded, Message: "maximum lessons exceeded"}
)

func invalidValue(field, value, rule string) *Error {
	return &Error{
		Code:    CodeInvalidValue,
		Message: fmt.Sprintf("invalid %s %q: %s", field, value, rule),
		Field:   field,
		Value:   value,
	}
}

func courseNotFound(id CourseID) *Error {
	return &Error{
		Code:     CodeCourseNotFound,
		Message:  fmt.Sprintf("course %s not found", id),
		CourseID: id,
	}
}

func moduleNotFound(id CourseID, module ModuleID) *Error {
	return &Error{
		Code:     CodeModuleNotFound,
		Message:  fmt.Sprintf("module %s not found in course %s", module, id),
		CourseID: id,
		Value:    module.String(),
	}
}

func lessonNotFound(id CourseID, lesson LessonID) *Error {
	return &Error{
		Code:     CodeLessonNotFound,
		Message:  fmt.Sprintf("lesson %s not found in course %s", lesson, id),
		CourseID: id,
		Value:    lesson.String(),
	}
}

func statusError(code Code, id CourseID, status Status, action string) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf("course %s cannot be %s while %s", id, action, status),
		CourseID: id,
		Status:   status,
	}
}

func alreadyPublished(id CourseID) *Error {
	return &Error{
		Code:     CodeAlreadyPublished,
		Message:  fmt.Sprintf("course %s is already published", id),
		CourseID: id,
		Status:   StatusPublished,
	}
}

func insufficientContent(id CourseID, status Status, modules, lessons int) *Error {
	msg := fmt.Sprintf("course %s cannot be published: needs at least %d module and %d lessons, has %d and %d",
		id, minModulesToPublish, minLessonsToPublish, modules, lessons)
	return &Error{
		Code:     CodeCannotBePublished,
		Message:  msg,
		CourseID: id,
		Status:   status,
		Field:    "content",
	}
}

func duplicateModule(id CourseID, title string) *Error {
	return &Error{
		Code:     CodeDuplicateModule,
		Message:  fmt.Sprintf("course %s already has a module titled %q", id, title),
		CourseID: id,
		Field:    "module_title",
		Value:    title,
	}
}

func duplicateLesson(id CourseID, field, value string) *Error {
	return &Error{
		Code:     CodeDuplicateLesson,
		Message:  fmt.Sprintf("course %s already has a lesson with %s %q", id, field, value),
		CourseID: id,
		Field:    field,
		Value:    value,
	}
}

func limitExceeded(code Code, id CourseID, what string, limit int) *Error {
	return &Error{
		Code:     code,
		Message:  fmt.Sprintf("course %s cannot have more than %d %s", id, limit, what),
		CourseID: id,
		Value:    fmt.Sprint(limit),
	}
}

// internal/catalog/domain.go
package catalog

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinTitleLength       = 5
	MaxTitleLength       = 200
	MinDescriptionLength = 20
	MaxDescriptionLength = 5000
	MaxPriceCents        = 999_999
	MaxModuleTitleLength = 200
	MaxLessonMinutes     = 24 * 60
)

type (
	CourseID     string
	InstructorID string
	ModuleID     string
	LessonID     string
)

func parseUUID(field, raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", invalidValue(field, raw, "must be a UUID")
	}
	return id.String(), nil
}

func ParseCourseID(raw string) (CourseID, error) {
	id, err := parseUUID("course_id", raw)
	return CourseID(id), err
}

func ParseInstructorID(raw string) (InstructorID, error) {
	id, err := parseUUID("instructor_id", raw)
	return InstructorID(id), err
}

func ParseModuleID(raw string) (ModuleID, error) {
	id, err := parseUUID("module_id", raw)
	return ModuleID(id), err
}

func ParseLessonID(raw string) (LessonID, error) {
	id, err := parseUUID("lesson_id", raw)
	return LessonID(id), err
}

func NewCourseID() CourseID { return CourseID(uuid.NewString()) }
func NewModuleID() ModuleID { return ModuleID(uuid.NewString()) }
func NewLessonID() LessonID { return LessonID(uuid.NewString()) }

func (id CourseID) String() string { return string(id) }
func (id InstructorID) String() string { return string(id) }
func (id ModuleID) String() string { return string(id) }
func (id LessonID) String() string { return string(id) }

// Title is a trimmed course title of 5 to 200 characters.
type Title struct{ value string }

func NewTitle(raw string) (Title, error) {
	v := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(v); n < MinTitleLength || n > MaxTitleLength {
		return Title{}, invalidValue("title", raw, fmt.Sprintf("must be between %d and %d characters", MinTitleLength, MaxTitleLength))
	}
	return Title{value: v}, nil
}

func (t Title) String() string { return t.value }

// Description is a trimmed course description of 20 to 5000 characters.
type Description struct{ value string }

func NewDescription(raw string) (Description, error) {
	v := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(v); n < MinDescriptionLength || n > MaxDescriptionLength {
		return Description{}, invalidValue("description", excerpt(raw, 50), fmt.Sprintf("must be between %d and %d characters", MinDescriptionLength, MaxDescriptionLength))
	}
	return Description{value: v}, nil
}

func (d Description) String() string { return d.value }

// Excerpt shortens the description to n characters, marking the cut.
func (d Description) Excerpt(n int) string { return excerpt(d.value, n) }

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// Price is an amount in cents with an ISO 4217 currency code.
type Price struct {
	cents    int64
	currency string
}

func NewPrice(cents int64, currency string) (Price, error) {
	if cents < 0 || cents > MaxPriceCents {
		return Price{}, invalidValue("price", fmt.Sprint(cents), fmt.Sprintf("must be between 0 and %d cents", MaxPriceCents))
	}
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 || strings.IndexFunc(cur, func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return Price{}, invalidValue("currency", currency, "must be a 3-letter currency code")
	}
	return Price{cents: cents, currency: cur}, nil
}

// PriceFromAmount converts a decimal amount, rounding to the nearest cent.
func PriceFromAmount(amount float64, currency string) (Price, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Price{}, invalidValue("price", fmt.Sprint(amount), "must be a finite amount")
	}
	return NewPrice(int64(math.Round(amount*100)), currency)
}

func Free(currency string) (Price, error) { return NewPrice(0, currency) }

func (p Price) Cents() int64 { return p.cents }
func (p Price) Currency() string { return p.currency }
func (p Price) Amount() float64 { return float64(p.cents) / 100 }
func (p Price) IsFree() bool { return p.cents == 0 }
func (p Price) Equal(o Price) bool { return p == o }

func (p Price) String() string {
	return fmt.Sprintf("%d.%02d %s", p.cents/100, p.cents%100, p.currency)
}

type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelAdvanced     Level = "advanced"
	LevelExpert       Level = "expert"
)

func ParseLevel(raw string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(raw))); l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced, LevelExpert:
		return l, nil
	}
	return "", invalidValue("level", raw, "must be one of beginner, intermediate, advanced, expert")
}

func (l Level) Label() string {
	switch l {
	case LevelBeginner:
		return "Beginner"
	case LevelIntermediate:
		return "Intermediate"
	case LevelAdvanced:
		return "Advanced"
	case LevelExpert:
		return "Expert"
	}
	return string(l)
}

// Rank orders levels from 1 (beginner) to 4 (expert).
func (l Level) Rank() int {
	switch l {
	case LevelBeginner:
		return 1
	case LevelIntermediate:
		return 2
	case LevelAdvanced:
		return 3
	case LevelExpert:
		return 4
	}
	return 0
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusSuspended Status = "suspended"
)

func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusPublished, StatusArchived, StatusSuspended:
		return s, nil
	}
	return "", invalidValue("status", raw, "must be one of draft, published, archived, suspended")
}

func (s Status) CanBePublished() bool { return s == StatusDraft || s == StatusSuspended }
func (s Status) CanBeArchived() bool { return s == StatusPublished || s == StatusSuspended }
func (s Status) CanBeEdited() bool { return s == StatusDraft }
func (s Status) CanBeSuspended() bool { return s == StatusPublished }

// Duration is a non-negative number of minutes.
type Duration struct{ minutes int }

func NewDuration(minutes int) (Duration, error) {
	if minutes < 0 {
		return Duration{}, invalidValue("duration", fmt.Sprint(minutes), "must not be negative")
	}
	return Duration{minutes: minutes}, nil
}

func (d Duration) Minutes() int { return d.minutes }

// Hours is rounded to two decimals.
func (d Duration) Hours() float64 {
	return math.Round(float64(d.minutes)/60*100) / 100
}

func (d Duration) String() string {
	h, m := d.minutes/60, d.minutes%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d minutes", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

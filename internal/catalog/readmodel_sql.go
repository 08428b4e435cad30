// internal/catalog/readmodel_sql.go
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/courses.sql
var coursesSchema string

// Dialect selects placeholder syntax for SQLReadModel.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

const viewColumns = `course_id, title, description, price_cents, currency, level, status, instructor_id,
	total_modules, total_lessons, duration_minutes, published_at, archived_at, version, created_at, updated_at`

// SQLReadModel stores course views in the courses table of a Postgres or
// SQLite database. Timestamps are kept as Unix microseconds.
type SQLReadModel struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLReadModel(db *sql.DB, dialect Dialect) *SQLReadModel {
	return &SQLReadModel{db: db, dialect: dialect}
}

func NewPostgresReadModel(db *sql.DB) *SQLReadModel { return NewSQLReadModel(db, DialectPostgres) }

func NewSQLiteReadModel(db *sql.DB) *SQLReadModel { return NewSQLReadModel(db, DialectSQLite) }

func (r *SQLReadModel) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, coursesSchema); err != nil {
		return fmt.Errorf("apply read model schema: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (r *SQLReadModel) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLReadModel) exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	return err
}

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func (r *SQLReadModel) Insert(ctx context.Context, v CourseView) error {
	err := r.exec(ctx, `
		INSERT INTO courses (course_id, title, description, price_cents, currency, level, status, instructor_id,
			total_modules, total_lessons, duration_minutes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (course_id) DO NOTHING
	`, string(v.ID), v.Title, v.Description, v.PriceCents, v.Currency, string(v.Level), string(v.Status), string(v.InstructorID),
		v.TotalModules, v.TotalLessons, v.DurationMinutes, v.Version, micros(v.CreatedAt), micros(v.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert course view %s: %w", v.ID, err)
	}
	return nil
}

func (r *SQLReadModel) ApplyChanges(ctx context.Context, id CourseID, version int, at time.Time, changes Changes) error {
	var (
		sets []string
		args []any
	)
	if changes.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, changes.Title.New)
	}
	if changes.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, changes.Description.New)
	}
	if changes.Price != nil {
		sets = append(sets, "price_cents = ?", "currency = ?")
		args = append(args, changes.Price.New.Cents, changes.Price.New.Currency)
	}
	if changes.Level != nil {
		sets = append(sets, "level = ?")
		args = append(args, string(changes.Level.New))
	}
	return r.update(ctx, id, version, at, strings.Join(sets, ", "), args...)
}

func (r *SQLReadModel) SetStatus(ctx context.Context, id CourseID, version int, at time.Time, status Status) error {
	switch status {
	case StatusPublished:
		return r.update(ctx, id, version, at, "status = ?, published_at = ?", string(status), micros(at))
	case StatusArchived:
		return r.update(ctx, id, version, at, "status = ?, archived_at = ?", string(status), micros(at))
	}
	return r.update(ctx, id, version, at, "status = ?", string(status))
}

func (r *SQLReadModel) IncrementModules(ctx context.Context, id CourseID, version int, at time.Time) error {
	return r.update(ctx, id, version, at, "total_modules = total_modules + 1")
}

func (r *SQLReadModel) AddLesson(ctx context.Context, id CourseID, version int, at time.Time, minutes int) error {
	return r.update(ctx, id, version, at, "total_lessons = total_lessons + 1, duration_minutes = duration_minutes + ?", minutes)
}

// update applies set to the row when it is behind version.
func (r *SQLReadModel) update(ctx context.Context, id CourseID, version int, at time.Time, set string, args ...any) error {
	query := "UPDATE courses SET "
	if set != "" {
		query += set + ", "
	}
	query += "version = ?, updated_at = ? WHERE course_id = ? AND version < ?"
	args = append(args, version, micros(at), string(id), version)

	if err := r.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update course view %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanView(row rowScanner) (CourseView, error) {
	var (
		v                       CourseView
		id, level, status, inst string
		published, archived     sql.NullInt64
		created, updated        int64
	)
	err := row.Scan(&id, &v.Title, &v.Description, &v.PriceCents, &v.Currency, &level, &status, &inst,
		&v.TotalModules, &v.TotalLessons, &v.DurationMinutes, &published, &archived, &v.Version, &created, &updated)
	if err != nil {
		return CourseView{}, err
	}
	v.ID = CourseID(id)
	v.Level = Level(level)
	v.Status = Status(status)
	v.InstructorID = InstructorID(inst)
	v.CreatedAt = fromMicros(created)
	v.UpdatedAt = fromMicros(updated)
	if published.Valid {
		t := fromMicros(published.Int64)
		v.PublishedAt = &t
	}
	if archived.Valid {
		t := fromMicros(archived.Int64)
		v.ArchivedAt = &t
	}
	return v, nil
}

func (r *SQLReadModel) Get(ctx context.Context, id CourseID) (CourseView, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+viewColumns+` FROM courses WHERE course_id = ?`), string(id))
	v, err := scanView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CourseView{}, courseNotFound(id)
	}
	if err != nil {
		return CourseView{}, fmt.Errorf("get course view %s: %w", id, err)
	}
	return v, nil
}

func (r *SQLReadModel) List(ctx context.Context, filter ListFilter) ([]CourseView, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.InstructorID != "" {
		where = append(where, "instructor_id = ?")
		args = append(args, string(filter.InstructorID))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + viewColumns + ` FROM courses`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, course_id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list course views: %w", err)
	}
	defer rows.Close()

	var views []CourseView
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course view: %w", err)
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course views: %w", err)
	}
	return views, nil
}

func (r *SQLReadModel) ids(ctx context.Context, column, value string) ([]CourseID, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT course_id FROM courses
		WHERE `+column+` = ?
		ORDER BY created_at ASC, course_id ASC
	`), value)
	if err != nil {
		return nil, fmt.Errorf("query course ids by %s: %w", column, err)
	}
	defer rows.Close()

	var ids []CourseID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan course id: %w", err)
		}
		ids = append(ids, CourseID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate course ids: %w", err)
	}
	return ids, nil
}

func (r *SQLReadModel) IDsByInstructor(ctx context.Context, instructor InstructorID) ([]CourseID, error) {
	return r.ids(ctx, "instructor_id", string(instructor))
}

func (r *SQLReadModel) IDsByStatus(ctx context.Context, status Status) ([]CourseID, error) {
	return r.ids(ctx, "status", string(status))
}

func (r *SQLReadModel) CountByInstructor(ctx context.Context, instructor InstructorID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM courses WHERE instructor_id = ?`), string(instructor)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count courses: %w", err)
	}
	return n, nil
}

func (r *SQLReadModel) Reset(ctx context.Context) error {
	if err := r.exec(ctx, `DELETE FROM courses`); err != nil {
		return fmt.Errorf("reset course views: %w", err)
	}
	return nil
}

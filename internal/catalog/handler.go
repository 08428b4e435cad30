// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"coursecatalog/pkg/eventstore"
)

type Handler struct {
	service Service
	views   ReadModel
	writes  *rate.Limiter
	log     *slog.Logger
}

type HandlerOption func(*Handler)

// WithWriteLimit caps write requests to perMinute with an equal burst.
// Zero or less disables the limit.
func WithWriteLimit(perMinute int) HandlerOption {
	return func(h *Handler) {
		if perMinute <= 0 {
			h.writes = nil
			return
		}
		h.writes = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
}

func WithHandlerLogger(log *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = log }
}

func NewHandler(service Service, views ReadModel, opts ...HandlerOption) *Handler {
	h := &Handler{
		service: service,
		views:   views,
		writes:  rate.NewLimiter(rate.Every(time.Minute/60), 60),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the course endpoints on a new router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/courses", func(r chi.Router) {
		r.Get("/", h.handleListCourses)
		r.With(h.limitWrites).Post("/", h.handleCreateCourse)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetCourse)

			r.Group(func(r chi.Router) {
				r.Use(h.limitWrites)
				r.Put("/", h.handleUpdateCourse)
				r.Post("/publish", h.handlePublishCourse)
				r.Post("/archive", h.handleArchiveCourse)
				r.Post("/suspend", h.handleSuspendCourse)
				r.Post("/modules", h.handleAddModule)
				r.Post("/modules/{moduleID}/lessons", h.handleAddLesson)
			})
		})
	})
	r.Get("/instructors/{id}/courses", h.handleInstructorCourses)
	return r
}

func (h *Handler) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.writes != nil && !h.writes.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type LessonResponse struct {
	ID              LessonID `json:"id"`
	Title           string   `json:"title"`
	DurationMinutes int      `json:"duration_minutes"`
	Order           int      `json:"order"`
}

type ModuleResponse struct {
	ID      ModuleID         `json:"id"`
	Title   string           `json:"title"`
	Order   int              `json:"order"`
	Lessons []LessonResponse `json:"lessons"`
}

// CourseResponse is the JSON shape of a course aggregate.
type CourseResponse struct {
	ID              CourseID         `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	PriceCents      int64            `json:"price_cents"`
	Currency        string           `json:"currency"`
	Level           Level            `json:"level"`
	Status          Status           `json:"status"`
	InstructorID    InstructorID     `json:"instructor_id"`
	DurationMinutes int              `json:"duration_minutes"`
	Modules         []ModuleResponse `json:"modules"`
	Version         int              `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	PublishedAt     *time.Time       `json:"published_at,omitempty"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty"`
}

func NewCourseResponse(c *Course) CourseResponse {
	resp := CourseResponse{
		ID:              c.ID(),
		Title:           c.Title().String(),
		Description:     c.Description().String(),
		PriceCents:      c.Price().Cents(),
		Currency:        c.Price().Currency(),
		Level:           c.Level(),
		Status:          c.Status(),
		InstructorID:    c.InstructorID(),
		DurationMinutes: c.Duration().Minutes(),
		Modules:         []ModuleResponse{},
		Version:         c.Version(),
		CreatedAt:       c.CreatedAt(),
	}
	if t := c.PublishedAt(); !t.IsZero() {
		resp.PublishedAt = &t
	}
	if t := c.ArchivedAt(); !t.IsZero() {
		resp.ArchivedAt = &t
	}
	for _, m := range c.Modules() {
		mr := ModuleResponse{ID: m.ID, Title: m.Title, Order: m.Order, Lessons: []LessonResponse{}}
		for _, l := range m.Lessons {
			mr.Lessons = append(mr.Lessons, LessonResponse{
				ID:              l.ID,
				Title:           l.Title,
				DurationMinutes: l.Duration.Minutes(),
				Order:           l.Order,
			})
		}
		resp.Modules = append(resp.Modules, mr)
	}
	return resp
}

func (h *Handler) handleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title        string `json:"title"`
		Description  string `json:"description"`
		PriceCents   int64  `json:"price_cents"`
		Currency     string `json:"currency"`
		Level        string `json:"level"`
		InstructorID string `json:"instructor_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	course, err := h.service.CreateCourse(r.Context(), CreateCourseInput{
		Title:        req.Title,
		Description:  req.Description,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		Level:        req.Level,
		InstructorID: req.InstructorID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewCourseResponse(course))
}

func (h *Handler) handleListCourses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Query: q.Get("q")}

	if raw := q.Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Status = status
	}
	if raw := q.Get("instructor"); raw != "" {
		id, err := ParseInstructorID(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.InstructorID = id
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid offset")
		return
	}

	views, err := h.views.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if views == nil {
		views = []CourseView{}
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	course, err := h.service.GetCourse(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourseResponse(course))
}

func (h *Handler) handleUpdateCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		PriceCents  *int64  `json:"price_cents"`
		Currency    *string `json:"currency"`
		Level       *string `json:"level"`
	}
	if !decode(w, r, &req) {
		return
	}

	course, err := h.service.UpdateCourse(r.Context(), id, UpdateCourseInput{
		Title:       req.Title,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
		Level:       req.Level,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourseResponse(course))
}

func (h *Handler) handlePublishCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	course, err := h.service.PublishCourse(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourseResponse(course))
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleArchiveCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	course, err := h.service.ArchiveCourse(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourseResponse(course))
}

func (h *Handler) handleSuspendCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	var req reasonRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	course, err := h.service.SuspendCourse(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NewCourseResponse(course))
}

func (h *Handler) handleAddModule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}

	course, moduleID, err := h.service.AddModule(r.Context(), id, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/courses/"+id.String()+"/modules/"+moduleID.String())
	writeJSON(w, http.StatusCreated, NewCourseResponse(course))
}

func (h *Handler) handleAddLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := h.courseID(w, r)
	if !ok {
		return
	}
	moduleID, err := ParseModuleID(chi.URLParam(r, "moduleID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req struct {
		Title           string `json:"title"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if !decode(w, r, &req) {
		return
	}

	course, lessonID, err := h.service.AddLesson(r.Context(), id, moduleID, req.Title, req.DurationMinutes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/courses/"+id.String()+"/modules/"+moduleID.String()+"/lessons/"+lessonID.String())
	writeJSON(w, http.StatusCreated, NewCourseResponse(course))
}

func (h *Handler) handleInstructorCourses(w http.ResponseWriter, r *http.Request) {
	instructor, err := ParseInstructorID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	courses, err := h.service.ListByInstructor(r.Context(), instructor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]CourseResponse, 0, len(courses))
	for _, c := range courses {
		resp = append(resp, NewCourseResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) courseID(w http.ResponseWriter, r *http.Request) (CourseID, bool) {
	id, err := ParseCourseID(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return "", false
	}
	return id, true
}

// fail writes err with the status its domain code maps to.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *Error
	switch {
	case errors.As(err, &domainErr):
		writeError(w, statusFor(domainErr.Code), string(domainErr.Code), domainErr.Message)
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", "course was modified concurrently, retry the request")
	default:
		h.log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func statusFor(code Code) int {
	switch code {
	case CodeCourseNotFound, CodeModuleNotFound, CodeLessonNotFound:
		return http.StatusNotFound
	case CodeInvalidValue:
		return http.StatusBadRequest
	case CodeAlreadyPublished, CodeDuplicateModule, CodeDuplicateLesson:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

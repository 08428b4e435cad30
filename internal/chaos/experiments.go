// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coursecatalog/internal/catalog"
	"coursecatalog/pkg/eventstore"
)

// Target is the catalog stack the experiments act on. Store must sit on
// top of Faults for injected faults to reach the service.
type Target struct {
	Faults  *Faults
	Service catalog.Service
	Store   *eventstore.EventStore
	Views   catalog.ReadModel
}

// RegisterCatalogExperiments adds the standard experiments, each running
// for d.
func (e *Engine) RegisterCatalogExperiments(t Target, d time.Duration) {
	e.Register(ConflictStormExperiment(t, 0.3, d))
	e.Register(AppendLatencyExperiment(t, 25*time.Millisecond, 25*time.Millisecond, d))
	e.Register(ViewLossExperiment(t, d))
}

// workload builds courses module by module and counts command outcomes.
// Consecutive steps work on different lanes, each with its own course.
type workload struct {
	svc        catalog.Service
	instructor string
	seq        atomic.Int64
	ok         atomic.Int64
	failed     atomic.Int64

	mu      sync.Mutex
	courses []catalog.CourseID
	lanes   [laneCount]lane
}

type lane struct {
	course  catalog.CourseID
	modules int
}

const (
	laneCount        = 4
	modulesPerCourse = 10 // below catalog.MaxModules
)

func newWorkload(svc catalog.Service) *workload {
	return &workload{svc: svc, instructor: uuid.NewString()}
}

func (w *workload) step(ctx context.Context) error {
	n := w.seq.Add(1)
	err := w.command(ctx, n)
	switch {
	case err == nil:
		w.ok.Add(1)
	case ctx.Err() != nil:
		// Cut short by the end of the run.
	default:
		w.failed.Add(1)
	}
	return err
}

func (w *workload) command(ctx context.Context, n int64) error {
	w.mu.Lock()
	l := &w.lanes[n%laneCount]
	current := l.course
	if current != "" && l.modules < modulesPerCourse {
		l.modules++
	} else {
		current = ""
	}
	w.mu.Unlock()

	if current == "" {
		c, err := w.svc.CreateCourse(ctx, catalog.CreateCourseInput{
			Title:        fmt.Sprintf("Resilience drill %d", n),
			Description:  "A course created while faults are injected into the event store.",
			PriceCents:   1999,
			Currency:     "USD",
			Level:        "intermediate",
			InstructorID: w.instructor,
		})
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.courses = append(w.courses, c.ID())
		w.lanes[n%laneCount] = lane{course: c.ID()}
		w.mu.Unlock()
		return nil
	}

	_, _, err := w.svc.AddModule(ctx, current, fmt.Sprintf("Module %d", n))
	return err
}

func (w *workload) ids() []catalog.CourseID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]catalog.CourseID(nil), w.courses...)
}

// successRate is the share of completed commands, in percent.
func (w *workload) successRate(context.Context) (float64, error) {
	ok, failed := w.ok.Load(), w.failed.Load()
	if ok+failed == 0 {
		return 100, nil
	}
	return float64(ok) / float64(ok+failed) * 100, nil
}

// drift counts courses whose view is missing or behind its stream.
func drift(t Target, w *workload) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		var n float64
		for _, id := range w.ids() {
			view, err := t.Views.Get(ctx, id)
			if err != nil && !errors.Is(err, catalog.ErrCourseNotFound) {
				return 0, err
			}
			version, err := t.Store.Version(ctx, id.String())
			if err != nil {
				return 0, err
			}
			if view.Version != version {
				n++
			}
		}
		return n, nil
	}
}

func probes(t Target, w *workload, minSuccess float64) []Probe {
	return []Probe{
		{Name: "command_success_rate", Query: w.successRate, Threshold: Threshold{Operator: ">=", Value: minSuccess}},
		{Name: "projection_drift", Query: drift(t, w), Threshold: Threshold{Operator: "<=", Value: 0}},
	}
}

var viewsConverge = Assertion{
	Probe:     "projection_drift",
	Condition: func(v float64) bool { return v == 0 },
	Message:   "every course view should match its stream once load drains",
}

// ConflictStormExperiment rejects a share of appends as concurrency
// conflicts. Commands should ride them out through retries.
func ConflictStormExperiment(t Target, rate float64, d time.Duration) Experiment {
	w := newWorkload(t.Service)
	return Experiment{
		Name:        "append-conflict-storm",
		Hypothesis:  "Course commands succeed while appends intermittently conflict",
		SteadyState: probes(t, w, 99),
		Method: []Action{{
			Type:   "inject-conflicts",
			Target: "event-store",
			Execute: func(context.Context) error {
				t.Faults.InjectConflicts(rate)
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "remove-conflicts",
			Target: "event-store",
			Execute: func(context.Context) error {
				t.Faults.Reset()
				return nil
			},
		}},
		Validation: []Assertion{
			{
				Probe:     "command_success_rate",
				Condition: func(v float64) bool { return v >= 95 },
				Message:   "at least 95% of commands should succeed",
			},
			viewsConverge,
		},
		Load:     w.step,
		Workers:  4,
		Duration: d,
	}
}

// AppendLatencyExperiment slows every append and load.
func AppendLatencyExperiment(t Target, latency, jitter, d time.Duration) Experiment {
	w := newWorkload(t.Service)
	return Experiment{
		Name:        "event-store-latency",
		Hypothesis:  "Slow storage widens the race window but loses no command",
		SteadyState: probes(t, w, 99),
		Method: []Action{{
			Type:   "inject-latency",
			Target: "event-store",
			Execute: func(context.Context) error {
				t.Faults.InjectLatency(latency, jitter)
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "remove-latency",
			Target: "event-store",
			Execute: func(context.Context) error {
				t.Faults.Reset()
				return nil
			},
		}},
		Validation: []Assertion{
			{
				Probe:     "command_success_rate",
				Condition: func(v float64) bool { return v >= 99 },
				Message:   "at least 99% of commands should succeed",
			},
			viewsConverge,
		},
		Load:     w.step,
		Workers:  4,
		Duration: d,
	}
}

// ViewLossExperiment wipes the read model mid-run and rebuilds it from
// the event log on rollback.
func ViewLossExperiment(t Target, d time.Duration) Experiment {
	w := newWorkload(t.Service)
	return Experiment{
		Name:        "read-model-loss",
		Hypothesis:  "A lost read model is fully restored by replaying the event log",
		SteadyState: probes(t, w, 99),
		Method: []Action{{
			Type:   "drop-views",
			Target: "read-model",
			Execute: func(ctx context.Context) error {
				return t.Views.Reset(ctx)
			},
		}},
		Rollback: []Action{{
			Type:   "rebuild-views",
			Target: "read-model",
			Execute: func(ctx context.Context) error {
				_, err := catalog.Rebuild(ctx, t.Store, t.Views, 0)
				return err
			},
		}},
		Validation: []Assertion{
			{
				Probe:     "command_success_rate",
				Condition: func(v float64) bool { return v >= 99 },
				Message:   "losing views should not fail commands",
			},
			viewsConverge,
		},
		Load:     w.step,
		Workers:  2,
		Duration: d,
	}
}

// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSteadyStateInvalid = errors.New("steady state invalid")
	ErrHypothesisViolated = errors.New("hypothesis violated")
)

// Experiment describes one chaos run: verify the steady state, inject
// faults, drive load while sampling probes, roll back and validate.
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	// Load is called repeatedly by Workers goroutines for Duration.
	Load     func(ctx context.Context) error
	Workers  int
	Duration time.Duration
}

// Probe is a measurable system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	}
	return false
}

// Action injects or removes a fault.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observation of a probe after rollback.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	Errors           []ErrorEvent           `json:"errors"`
	Failed           []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer   trace.Tracer
	log      *slog.Logger
	interval time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type Option func(*Engine)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer("coursecatalog/internal/chaos") }
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithSampleInterval sets how often probes are sampled while faults are active.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		tracer:   otel.Tracer("coursecatalog/internal/chaos"),
		log:      slog.Default(),
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes exp. It returns ErrSteadyStateInvalid without injecting
// anything when the system is unhealthy to begin with.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		result.EndTime = time.Now()
		span.SetStatus(codes.Error, "steady state invalid")
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_faults")
	e.execute(ctx, span, exp.Method, result)

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	e.execute(ctx, span, exp.Rollback, result)

	// A final sample after the load has drained is what assertions see.
	e.sample(ctx, exp.SteadyState, result, nil)

	span.AddEvent("validating_assertions")
	result.Failed = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.Failed) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	if !result.HypothesisHeld {
		span.SetStatus(codes.Error, "hypothesis violated")
	}
	return result, nil
}

func (e *Engine) execute(ctx context.Context, span trace.Span, actions []Action, result *Result) {
	for _, a := range actions {
		if err := a.Execute(ctx); err != nil {
			span.RecordError(err)
			result.Errors = append(result.Errors, ErrorEvent{Timestamp: time.Now(), Error: err.Error(), Component: a.Target})
		}
	}
}

// observe drives the load for exp.Duration and samples probes on every tick.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	ctx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	g, loadCtx := errgroup.WithContext(ctx)
	if exp.Load != nil {
		for range max(exp.Workers, 1) {
			g.Go(func() error {
				for loadCtx.Err() == nil {
					_ = exp.Load(loadCtx)
				}
				return nil
			})
		}
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var recovery time.Time
	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return
		case <-ticker.C:
			e.sample(ctx, exp.SteadyState, result, &recovery)
		}
	}
}

// sample records one observation per probe. With recovery set it also
// tracks violations and the time to recover from the first one.
func (e *Engine) sample(ctx context.Context, probes []Probe, result *Result, recovery *time.Time) {
	for _, p := range probes {
		v, err := p.Query(ctx)
		now := time.Now()
		if err != nil {
			if ctx.Err() == nil {
				result.Errors = append(result.Errors, ErrorEvent{Timestamp: now, Error: err.Error(), Component: p.Name})
			}
			continue
		}
		result.Observations[p.Name] = append(result.Observations[p.Name], DataPoint{Timestamp: now, Value: v})

		if recovery == nil {
			continue
		}
		switch {
		case !p.Threshold.holds(v):
			if recovery.IsZero() {
				*recovery = now
			}
			result.Violations = append(result.Violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: v, Timestamp: now})
		case !recovery.IsZero() && result.MTTR == nil:
			mttr := now.Sub(*recovery)
			result.MTTR = &mttr
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, p := range probes {
		v, err := p.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !p.Threshold.holds(v) {
			violations = append(violations, Violation{Probe: p.Name, Expected: p.Threshold.Value, Actual: v, Timestamp: time.Now()})
		}
	}
	return violations
}

// validate returns the messages of failed assertions.
func validate(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		points := result.Observations[a.Probe]
		if len(points) == 0 || !a.Condition(points[len(points)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a series of experiments run back to back.
type GameDay struct {
	Name      string
	Scenarios []Experiment
	Pause     time.Duration
}

// ExecuteGameDay runs every scenario and reports the ones whose hypothesis
// did not hold.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) ([]Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	e.log.InfoContext(ctx, "starting game day", slog.String("name", day.Name), slog.Int("experiments", len(day.Scenarios)))

	var (
		results []Result
		errs    []error
	)
	for i, exp := range day.Scenarios {
		if i > 0 && day.Pause > 0 {
			select {
			case <-time.After(day.Pause):
			case <-ctx.Done():
				return results, ctx.Err()
			}
		}

		e.log.InfoContext(ctx, "running experiment",
			slog.String("name", exp.Name),
			slog.String("hypothesis", exp.Hypothesis),
			slog.Int("index", i+1),
		)
		result, err := e.Run(ctx, exp)
		results = append(results, *result)
		if err != nil {
			e.log.ErrorContext(ctx, "experiment aborted", slog.String("name", exp.Name), slog.Any("error", err))
			errs = append(errs, err)
			continue
		}
		e.report(ctx, result)
		if !result.HypothesisHeld {
			errs = append(errs, fmt.Errorf("%s: %w", exp.Name, ErrHypothesisViolated))
		}
	}
	return results, errors.Join(errs...)
}

func (e *Engine) report(ctx context.Context, r *Result) {
	attrs := []any{
		slog.String("name", r.Experiment),
		slog.Bool("hypothesis_held", r.HypothesisHeld),
		slog.Int("violations", len(r.Violations)),
		slog.Int("errors", len(r.Errors)),
		slog.Duration("duration", r.Duration),
	}
	if r.MTTR != nil {
		attrs = append(attrs, slog.Duration("mttr", *r.MTTR))
	}
	if len(r.Failed) > 0 {
		attrs = append(attrs, slog.Any("failed", r.Failed))
	}
	e.log.InfoContext(ctx, "experiment finished", attrs...)
}

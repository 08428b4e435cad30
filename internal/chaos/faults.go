// internal/chaos/faults.go
package chaos

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"coursecatalog/pkg/eventstore"
)

// Faults wraps an event store backend and injects failures while an
// experiment is running. With nothing injected it is a pass-through.
type Faults struct {
	eventstore.Backend

	mu           sync.Mutex
	rng          *rand.Rand
	conflictRate float64
	latency      time.Duration
	jitter       time.Duration

	conflicts atomic.Int64
	delayed   atomic.Int64
}

func NewFaults(backend eventstore.Backend, seed uint64) *Faults {
	return &Faults{
		Backend: backend,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// InjectConflicts makes the given share of appends (0 to 1) fail with a
// concurrency conflict before reaching the backend.
func (f *Faults) InjectConflicts(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflictRate = min(max(rate, 0), 1)
}

// InjectLatency delays every append and load by latency plus up to jitter.
func (f *Faults) InjectLatency(latency, jitter time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = max(latency, 0)
	f.jitter = max(jitter, 0)
}

// Reset removes every injected fault.
func (f *Faults) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conflictRate = 0
	f.latency = 0
	f.jitter = 0
}

// InjectedConflicts counts appends rejected by InjectConflicts.
func (f *Faults) InjectedConflicts() int64 { return f.conflicts.Load() }

// DelayedCalls counts calls slowed down by InjectLatency.
func (f *Faults) DelayedCalls() int64 { return f.delayed.Load() }

func (f *Faults) draw() (delay time.Duration, conflict bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latency > 0 || f.jitter > 0 {
		delay = f.latency
		if f.jitter > 0 {
			delay += time.Duration(f.rng.Int64N(int64(f.jitter)))
		}
	}
	if f.conflictRate > 0 {
		conflict = f.rng.Float64() < f.conflictRate
	}
	return delay, conflict
}

func (f *Faults) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	f.delayed.Add(1)
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Faults) Append(ctx context.Context, aggregateID string, expectedVersion int, records []eventstore.Record) error {
	delay, conflict := f.draw()
	if err := f.wait(ctx, delay); err != nil {
		return err
	}
	if conflict {
		f.conflicts.Add(1)
		return &eventstore.ConcurrencyError{AggregateID: aggregateID, Expected: expectedVersion, Actual: -1}
	}
	return f.Backend.Append(ctx, aggregateID, expectedVersion, records)
}

func (f *Faults) Load(ctx context.Context, aggregateID string, fromVersion int) ([]eventstore.Record, error) {
	delay, _ := f.draw()
	if err := f.wait(ctx, delay); err != nil {
		return nil, err
	}
	return f.Backend.Load(ctx, aggregateID, fromVersion)
}

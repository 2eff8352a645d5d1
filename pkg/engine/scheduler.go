package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notes used for skipped steps. The reporter and tests rely on these exact
// strings.
const (
	NotePrerequisiteMissing = "prerequisite missing"
	NoteAlreadyDone         = "already done"
	NoteAborted             = "aborted: critical step failed"
	NoteCancelled           = "cancelled"
)

// Observer receives step and run completions. Implementations must be safe
// for concurrent use; the metrics collector is the usual implementation.
type Observer interface {
	StepCompleted(res Result)
	RunCompleted(summary *RunSummary)
}

// Scheduler walks the registry's ordered batches and drives every step
// through the applicability gate, the idempotency probe, the lock guard and
// the retry policy. Batches execute strictly in order; within a batch,
// parallel-safe steps share a bounded worker pool while the remaining steps
// run serially. Individual step failures never propagate past the scheduler:
// they are recorded and only the final summary surfaces them.
type Scheduler struct {
	registry    *Registry
	guard       *LockGuard
	cleanup     *CleanupManager
	retry       RetryPolicy
	maxParallel int
	gracePeriod time.Duration
	observer    Observer
	log         zerolog.Logger
}

// SchedulerOption customizes a scheduler.
type SchedulerOption func(*Scheduler)

// WithMaxParallel bounds the worker pool for parallel-safe steps.
func WithMaxParallel(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxParallel = n
		}
	}
}

// WithRetryPolicy overrides the retry policy applied to step execution.
func WithRetryPolicy(p RetryPolicy) SchedulerOption {
	return func(s *Scheduler) { s.retry = p }
}

// WithGracePeriod bounds how long in-flight steps may keep running after the
// run is cancelled.
func WithGracePeriod(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithObserver attaches a step/run completion observer.
func WithObserver(o Observer) SchedulerOption {
	return func(s *Scheduler) { s.observer = o }
}

// WithCleanup attaches the cleanup manager swept on cancellation or abort.
func WithCleanup(c *CleanupManager) SchedulerOption {
	return func(s *Scheduler) { s.cleanup = c }
}

// NewScheduler creates a scheduler over the given registry and lock guard.
func NewScheduler(reg *Registry, guard *LockGuard, log zerolog.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:    reg,
		guard:       guard,
		cleanup:     NewCleanupManager(),
		retry:       DefaultRetryPolicy(),
		maxParallel: 4,
		gracePeriod: 10 * time.Second,
		log:         log.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Cleanup returns the cleanup manager steps register temporary paths with.
func (s *Scheduler) Cleanup() *CleanupManager {
	return s.cleanup
}

// Run executes the pipeline against the given context data and returns the
// run summary. It always returns a summary, even when cancelled mid-run: the
// summary then reflects whatever completed, with the rest marked skipped.
func (s *Scheduler) Run(ctx context.Context, rc *RunContext) *RunSummary {
	runID := uuid.New().String()
	log := s.log.With().Str("run_id", runID).Logger()
	startedAt := time.Now()
	batches := s.registry.OrderedBatches()

	log.Info().Int("steps", s.registry.Len()).Int("batches", len(batches)).Msg("run started")

	var (
		mu        sync.Mutex
		results   = make(map[string]*Result, s.registry.Len())
		finalized bool
		aborted   atomic.Bool
	)
	// record is also reached by workers that outlive the grace period. Once
	// the summary is finalized their results are dropped: the map is no
	// longer written and the observer hears nothing after RunCompleted.
	record := func(res *Result) {
		mu.Lock()
		if finalized {
			mu.Unlock()
			return
		}
		results[res.Key] = res
		mu.Unlock()
		if s.observer != nil {
			s.observer.StepCompleted(*res)
		}
	}

	cancelled := false
	for _, batch := range batches {
		if ctx.Err() != nil {
			cancelled = true
		}
		if cancelled || aborted.Load() {
			note := NoteAborted
			if cancelled {
				note = NoteCancelled
			}
			for _, d := range batch.Steps {
				record(&Result{Key: d.Key, Name: d.Name, Status: StatusSkipped, Note: note})
			}
			continue
		}

		s.runBatch(ctx, log, rc, batch, record, &aborted)

		if ctx.Err() != nil {
			cancelled = true
		}
	}

	// Canonical report order: batch order, then registration order. This
	// keeps the report deterministic even when execution interleaved.
	// Assembled under the lock: a worker still in flight past the grace
	// period must not write the map while it is being read here.
	mu.Lock()
	finalized = true
	ordered := make([]Result, 0, s.registry.Len())
	for _, batch := range batches {
		for _, d := range batch.Steps {
			if res, ok := results[d.Key]; ok {
				ordered = append(ordered, *res)
			} else {
				ordered = append(ordered, Result{
					Key: d.Key, Name: d.Name, Status: StatusSkipped, Note: NoteCancelled,
				})
			}
		}
	}
	mu.Unlock()

	if (cancelled || aborted.Load()) && s.cleanup != nil {
		s.cleanup.Sweep(log)
	}

	summary := summarize(runID, startedAt, ordered, aborted.Load(), cancelled)
	log.Info().
		Str("status", string(summary.Status)).
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("run finished")

	if s.observer != nil {
		s.observer.RunCompleted(summary)
	}
	return summary
}

// runBatch executes one batch: serial steps first in registration order,
// then the parallel-safe steps on the worker pool. The next batch never
// starts until every step here reached a terminal state.
func (s *Scheduler) runBatch(
	ctx context.Context,
	log zerolog.Logger,
	rc *RunContext,
	batch Batch,
	record func(*Result),
	aborted *atomic.Bool,
) {
	var serial, parallel []Descriptor
	for _, d := range batch.Steps {
		if d.ParallelSafe {
			parallel = append(parallel, d)
		} else {
			serial = append(serial, d)
		}
	}

	for _, d := range serial {
		record(s.runStep(ctx, log, rc, d, aborted))
	}

	if len(parallel) == 0 {
		return
	}

	workers := s.maxParallel
	if len(parallel) < workers {
		workers = len(parallel)
	}

	queue := make(chan Descriptor, len(parallel))
	for _, d := range parallel {
		queue <- d
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range queue {
				record(s.runStep(ctx, log, rc, d, aborted))
			}
		}()
	}
	s.waitWithGrace(ctx, &wg, log)
}

// waitWithGrace waits for in-flight steps; once the run context is
// cancelled, the wait is bounded by the grace period.
func (s *Scheduler) waitWithGrace(ctx context.Context, wg *sync.WaitGroup, log zerolog.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-time.After(s.gracePeriod):
			log.Warn().Dur("grace", s.gracePeriod).
				Msg("grace period expired with steps still in flight")
		}
	}
}

// runStep drives one step to a terminal result.
func (s *Scheduler) runStep(
	ctx context.Context,
	log zerolog.Logger,
	rc *RunContext,
	d Descriptor,
	aborted *atomic.Bool,
) *Result {
	res := &Result{Key: d.Key, Name: d.Name}
	slog := log.With().Str("step", d.Key).Logger()

	if aborted.Load() {
		res.Status = StatusSkipped
		res.Note = NoteAborted
		return res
	}
	if ctx.Err() != nil {
		res.Status = StatusSkipped
		res.Note = NoteCancelled
		return res
	}

	// Applicability gate. Never executes, never fails the run.
	if (d.NeedsUser && !rc.HasUser()) || (d.Applicable != nil && !d.Applicable(rc)) {
		slog.Info().Msg("step not applicable, skipping")
		res.Status = StatusSkipped
		res.Note = NotePrerequisiteMissing
		return res
	}

	start := time.Now()

	// Idempotency gate. A probe error is not a step failure: the step
	// simply executes, and executing is idempotent by contract.
	if d.Satisfied != nil {
		ok, note, err := d.Satisfied(ctx, rc)
		if err != nil {
			slog.Warn().Err(err).Msg("idempotency probe failed, executing anyway")
		} else if ok {
			if note == "" {
				note = NoteAlreadyDone
			}
			slog.Info().Str("note", note).Msg("step already satisfied, skipping")
			res.Status = StatusSkipped
			res.Note = note
			res.Duration = time.Since(start)
			return res
		}
	}

	slog.Info().Str("name", d.Name).Msg("step started")
	outcome, attempts, err := s.execute(ctx, rc, d)
	res.Attempts = attempts
	res.Duration = time.Since(start)

	if err != nil {
		se := asStepError(err, d.Key)
		res.Status = StatusFailed
		res.Err = se
		res.Note = failureNote(se, attempts, ctx)
		slog.Error().Err(se).Int("attempts", attempts).Dur("duration", res.Duration).
			Msg("step failed")
		if d.Critical {
			aborted.Store(true)
			slog.Error().Msg("critical step failed, aborting remaining steps")
		}
		return res
	}

	res.Status = StatusSuccess
	res.Note = successNote(outcome, attempts)
	if outcome != nil {
		res.Derived = outcome.Derived
	}
	slog.Info().Int("attempts", attempts).Dur("duration", res.Duration).Msg("step succeeded")
	return res
}

// execute runs the step's execute operation through the lock guard (for
// package-database mutators) and the retry policy. The recorded duration
// spans the whole retry loop, backoff included.
func (s *Scheduler) execute(ctx context.Context, rc *RunContext, d Descriptor) (*Outcome, int, error) {
	if d.MutatesPkgDB {
		if err := s.guard.Acquire(ctx); err != nil {
			return nil, 0, err
		}
		defer s.guard.Release()
	}

	var outcome *Outcome
	attempts, err := s.retry.Run(ctx, func(ctx context.Context) error {
		o, execErr := d.Execute(ctx, rc)
		if execErr != nil {
			return execErr
		}
		outcome = o
		return nil
	})
	return outcome, attempts, err
}

// asStepError normalizes any error into a classified StepError. Unclassified
// errors are fatal.
func asStepError(err error, stepKey string) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		if se.Step == "" {
			se.Step = stepKey
		}
		return se
	}
	return NewFatalError(err.Error(), err).WithStep(stepKey)
}

// failureNote builds the report note for a failed step.
func failureNote(se *StepError, attempts int, ctx context.Context) string {
	if ctx.Err() != nil && errors.Is(se.Err, context.Canceled) {
		return NoteCancelled
	}
	if attempts > 1 {
		return fmt.Sprintf("failed after %d attempts: %s", attempts, se.Message)
	}
	return se.Message
}

// successNote builds the report note for a successful step, prefixing the
// attempt count when retries were needed.
func successNote(outcome *Outcome, attempts int) string {
	var notes []string
	if attempts > 1 {
		notes = append(notes, fmt.Sprintf("succeeded after %d attempts", attempts))
	}
	if outcome != nil {
		notes = append(notes, outcome.Notes...)
	}
	return strings.Join(notes, "; ")
}

package engine

import "time"

// Result is the recorded outcome of one step in a run. Immutable once
// recorded.
type Result struct {
	// Key is the step key.
	Key string `json:"key"`

	// Name is the step's human-readable name.
	Name string `json:"name"`

	// Status is the terminal status of the step.
	Status Status `json:"status"`

	// Duration is the wall time the step consumed. For retried steps this
	// spans the whole retry loop, backoff delays included.
	Duration time.Duration `json:"duration"`

	// Note is a short remark for the report: "already done", "prerequisite
	// missing", the failure reason, or informational notes from the step.
	Note string `json:"note,omitempty"`

	// Attempts is how many execution attempts were made (0 for skipped
	// steps, 1 for steps that succeeded or failed without retry).
	Attempts int `json:"attempts"`

	// Derived holds values the step computed for later consumers.
	Derived map[string]string `json:"derived,omitempty"`

	// Err is the classified failure for failed steps.
	Err *StepError `json:"error,omitempty"`
}

// RunSummary aggregates one run: the per-step results in canonical order
// (batch order, then registration order within a batch, regardless of the
// order concurrent steps actually completed in), counts and total wall
// duration. Computed once at run end, never mutated afterward.
type RunSummary struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the aggregate run outcome.
	Status RunStatus `json:"status"`

	// Results holds one entry per step in canonical report order.
	Results []Result `json:"results"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total wall-clock duration of the run.
	Duration time.Duration `json:"duration"`

	// Total, Succeeded, Skipped and Failed are the aggregate counts.
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// summarize builds the final summary from ordered results.
func summarize(runID string, startedAt time.Time, results []Result, aborted, cancelled bool) *RunSummary {
	s := &RunSummary{
		RunID:     runID,
		Results:   results,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Total:     len(results),
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}

	switch {
	case cancelled:
		s.Status = RunStatusCancelled
	case aborted:
		s.Status = RunStatusAborted
	case s.Failed > 0:
		s.Status = RunStatusPartial
	default:
		s.Status = RunStatusSucceeded
	}
	return s
}

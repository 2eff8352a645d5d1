package engine

import (
	"encoding/json"
	"fmt"
)

// Status represents the terminal state of a single step in a run.
type Status string

const (
	// StatusPending indicates the step has not yet been dispatched.
	StatusPending Status = "pending"

	// StatusRunning indicates the step is currently executing.
	StatusRunning Status = "running"

	// StatusSuccess indicates the step executed successfully.
	StatusSuccess Status = "success"

	// StatusSkipped indicates the step did not execute: prerequisite
	// missing, already satisfied, or aborted by a critical failure.
	StatusSkipped Status = "skipped"

	// StatusFailed indicates the step executed and failed.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusSkipped || s == StatusFailed
}

// Symbol returns the single-character marker used in the report table.
func (s Status) Symbol() string {
	switch s {
	case StatusSuccess:
		return "✓"
	case StatusSkipped:
		return "○"
	case StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

// Validate checks if the step status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusSkipped, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// RunStatus represents the aggregate outcome of a pipeline run.
type RunStatus string

const (
	// RunStatusSucceeded indicates every step reached Success or Skipped.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates at least one non-critical step failed but
	// the run completed all batches.
	RunStatusPartial RunStatus = "partial"

	// RunStatusAborted indicates a critical step failed and the remaining
	// steps were skipped.
	RunStatusAborted RunStatus = "aborted"

	// RunStatusCancelled indicates the run was interrupted externally; the
	// summary reflects whatever completed.
	RunStatusCancelled RunStatus = "cancelled"
)

// ExitCode maps the run status to the process exit code contract:
// 0 on full success, 1 when soft failures are present, 2 when the run
// aborted on a critical failure, 130 on external interrupt.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunStatusSucceeded:
		return 0
	case RunStatusPartial:
		return 1
	case RunStatusAborted:
		return 2
	case RunStatusCancelled:
		return 130
	default:
		return 1
	}
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusAborted, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}

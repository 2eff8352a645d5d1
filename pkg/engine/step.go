package engine

import (
	"context"
	"fmt"
)

// SatisfiedFunc is a step's idempotency probe: it reports whether the step's
// effect is already present on the system, with an optional note for the
// report ("already installed"). It must be side-effect free so the scheduler
// can call it during planning and again on retry.
type SatisfiedFunc func(ctx context.Context, rc *RunContext) (bool, string, error)

// ApplicableFunc is an optional extra applicability gate beyond the NeedsUser
// flag. It must be side-effect free.
type ApplicableFunc func(rc *RunContext) bool

// ExecuteFunc performs the step's actual work. All side effects on the live
// system happen here and nowhere else. Failures must be classified StepErrors
// (transient, fatal or resource_busy); unclassified errors are treated as
// fatal.
type ExecuteFunc func(ctx context.Context, rc *RunContext) (*Outcome, error)

// Outcome carries informational results out of a successful execution.
type Outcome struct {
	// Notes are short human-readable remarks surfaced in the run report.
	Notes []string

	// Derived holds values a step computed that later consumers may read
	// from its Result. Steps never write derived state back into the
	// RunContext.
	Derived map[string]string
}

// Note appends a remark to the outcome, allocating it on first use.
func (o *Outcome) Note(format string, args ...interface{}) *Outcome {
	o.Notes = append(o.Notes, fmt.Sprintf(format, args...))
	return o
}

// Descriptor declares one provisioning step: identity, scheduling metadata
// and the operations the scheduler drives it through. Descriptors are built
// once by explicit registration calls at startup; there is no hidden global
// registration state.
type Descriptor struct {
	// Key uniquely identifies the step within a registry.
	Key string

	// Name is the human-readable name used in logs and the report table.
	Name string

	// Order determines the execution batch; lower runs first. Steps sharing
	// an order value form one batch.
	Order int

	// NeedsUser marks steps that require the RunContext user fields to be
	// populated. When they are not, the step is skipped as inapplicable.
	NeedsUser bool

	// ParallelSafe marks steps that may run concurrently with same-batch
	// siblings.
	ParallelSafe bool

	// MutatesPkgDB marks steps that mutate the shared package database.
	// They are serialized through the lock guard regardless of batch
	// position or the ParallelSafe flag.
	MutatesPkgDB bool

	// Critical marks steps whose failure aborts all remaining steps.
	Critical bool

	// Applicable is an optional extra applicability gate. Nil means always
	// applicable (subject to NeedsUser).
	Applicable ApplicableFunc

	// Satisfied is the optional idempotency probe. Nil means the step always
	// executes.
	Satisfied SatisfiedFunc

	// Execute performs the step. Required.
	Execute ExecuteFunc
}

// Validate checks the descriptor for construction faults. Called at registry
// build time so malformed steps abort before anything executes.
func (d *Descriptor) Validate() error {
	if d.Key == "" {
		return NewConfigError("step descriptor has empty key", nil)
	}
	if d.Name == "" {
		return NewConfigError(fmt.Sprintf("step %q has empty name", d.Key), nil)
	}
	if d.Execute == nil {
		return NewConfigError(fmt.Sprintf("step %q has no execute operation", d.Key), nil)
	}
	return nil
}

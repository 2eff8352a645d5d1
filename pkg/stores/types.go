package stores

import (
	"context"
	"time"
)

// RunRecord is a persisted run.
type RunRecord struct {
	ID        string
	Status    string
	StartedAt time.Time
	Duration  time.Duration
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	CreatedAt time.Time
}

// StepRecord is a persisted per-step result.
type StepRecord struct {
	RunID    string
	Key      string
	Name     string
	Status   string
	Duration time.Duration
	Note     string
	Attempts int
	Position int
}

// Store persists run history. The CLI's history command reads it back.
type Store interface {
	// Init opens the underlying database.
	Init(ctx context.Context) error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error

	// SaveRun persists a run and its step results atomically.
	SaveRun(ctx context.Context, run *RunRecord, steps []StepRecord) error

	// GetRun returns one run with its step results in report order.
	GetRun(ctx context.Context, id string) (*RunRecord, []StepRecord, error)

	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Close releases the database.
	Close() error
}

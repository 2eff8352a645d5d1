package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/archstrap/archstrap/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound reports a missing run.
var ErrNotFound = errors.New("run not found")

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a store for the given database path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: path}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded schema files.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveRun persists a run and its step results in one transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord, steps []StepRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, started_at, duration_ms, total, succeeded, skipped, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, run.StartedAt.UTC(), run.Duration.Milliseconds(),
		run.Total, run.Succeeded, run.Skipped, run.Failed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_results (run_id, position, key, name, status, duration_ms, note, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, step := range steps {
		_, err := stmt.ExecContext(ctx,
			step.RunID, step.Position, step.Key, step.Name, step.Status,
			step.Duration.Milliseconds(), step.Note, step.Attempts,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result %s: %w", step.Key, err)
		}
	}

	return tx.Commit()
}

// GetRun returns one run and its step results in report order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, []StepRecord, error) {
	run := &RunRecord{}
	var durationMS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, started_at, duration_ms, total, succeeded, skipped, failed, created_at
		FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Status, &run.StartedAt, &durationMS,
			&run.Total, &run.Succeeded, &run.Skipped, &run.Failed, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query run: %w", err)
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, key, name, status, duration_ms, note, attempts
		FROM step_results WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		var stepMS int64
		if err := rows.Scan(&step.RunID, &step.Position, &step.Key, &step.Name,
			&step.Status, &stepMS, &step.Note, &step.Attempts); err != nil {
			return nil, nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		step.Duration = time.Duration(stepMS) * time.Millisecond
		steps = append(steps, step)
	}
	return run, steps, rows.Err()
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, started_at, duration_ms, total, succeeded, skipped, failed, created_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var durationMS int64
		if err := rows.Scan(&run.ID, &run.Status, &run.StartedAt, &durationMS,
			&run.Total, &run.Succeeded, &run.Skipped, &run.Failed, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordSummary converts an engine run summary into store records and saves
// them.
func RecordSummary(ctx context.Context, store Store, summary *engine.RunSummary) error {
	run := &RunRecord{
		ID:        summary.RunID,
		Status:    string(summary.Status),
		StartedAt: summary.StartedAt,
		Duration:  summary.Duration,
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	}

	steps := make([]StepRecord, 0, len(summary.Results))
	for i, res := range summary.Results {
		note := res.Note
		if res.Err != nil && note == "" {
			note = res.Err.Message
		}
		steps = append(steps, StepRecord{
			RunID:    summary.RunID,
			Key:      res.Key,
			Name:     res.Name,
			Status:   string(res.Status),
			Duration: res.Duration,
			Note:     note,
			Attempts: res.Attempts,
			Position: i,
		})
	}
	return store.SaveRun(ctx, run, steps)
}

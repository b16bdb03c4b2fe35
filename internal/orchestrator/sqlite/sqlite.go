package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/loreweave/loreweave-engine/internal/orchestrator"
)

// Archive implements orchestrator.Archive backed by SQLite. One row is
// written per terminal transition, so a retried job leaves a trail of
// every attempt.
type Archive struct {
	db *sql.DB
}

// New opens (or creates) a SQLite archive at the given path.
func New(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	a := &Archive{db: db}
	if err := a.initSchema(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS job_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id TEXT NOT NULL,
	parent_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	module_key TEXT NOT NULL,
	model TEXT,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	enqueued_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	finished_at TIMESTAMP,
	last_error TEXT,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_job_transitions_parent ON job_transitions(parent_id, recorded_at DESC);
`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (a *Archive) Close() error {
	return a.db.Close()
}

// RecordTransition appends one terminal transition row.
func (a *Archive) RecordTransition(ctx context.Context, job orchestrator.Job) error {
	if job.ID == "" {
		return errors.New("job id required")
	}
	_, err := a.db.ExecContext(ctx, `
INSERT INTO job_transitions(job_id, parent_id, account_id, module_key, model, status, attempts, enqueued_at, started_at, finished_at, last_error, recorded_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ParentID,
		job.AccountID,
		job.ModuleKey,
		job.Model,
		string(job.Status),
		job.Attempts,
		job.EnqueuedAt,
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
		job.LastError,
		time.Now().UTC(),
	)
	return err
}

// ListParent returns the latest transitions for a parent, newest-first.
func (a *Archive) ListParent(ctx context.Context, parentID string, limit int) ([]orchestrator.Job, error) {
	if parentID == "" {
		return nil, errors.New("parent id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT job_id, parent_id, account_id, module_key, model, status, attempts, enqueued_at, started_at, finished_at, last_error
FROM job_transitions
WHERE parent_id = ?
ORDER BY recorded_at DESC, id DESC
LIMIT ?`, parentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []orchestrator.Job
	for rows.Next() {
		var job orchestrator.Job
		var status string
		var started, finished sql.NullTime
		var lastError sql.NullString
		if err := rows.Scan(&job.ID, &job.ParentID, &job.AccountID, &job.ModuleKey, &job.Model, &status, &job.Attempts, &job.EnqueuedAt, &started, &finished, &lastError); err != nil {
			return nil, err
		}
		job.Status = orchestrator.Status(status)
		if started.Valid {
			t := started.Time
			job.StartedAt = &t
		}
		if finished.Valid {
			t := finished.Time
			job.FinishedAt = &t
		}
		job.LastError = lastError.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

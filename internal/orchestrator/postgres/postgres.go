package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// register postgres driver
	_ "github.com/lib/pq"

	"github.com/loreweave/loreweave-engine/internal/orchestrator"
)

// Archive implements orchestrator.Archive backed by PostgreSQL.
type Archive struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed archive using the provided DSN.
func New(dsn string, maxOpen, maxIdle int) (*Archive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
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
	id BIGSERIAL PRIMARY KEY,
	job_id TEXT NOT NULL,
	parent_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	module_key TEXT NOT NULL,
	model TEXT,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	last_error TEXT,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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
WHERE parent_id = $1
ORDER BY recorded_at DESC, id DESC
LIMIT $2`, parentID, limit)
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

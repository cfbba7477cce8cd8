// Package store persists bulk validation jobs and their per-email results
// to Postgres via pgx, so a job's results can be queried after the request
// that created it has finished.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailvetter/internal/engine"
)

// Store wraps a pgx connection pool. The zero value is not usable — build
// one with Open.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and runs migrations.
func Open(ctx context.Context, connString string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	const queryJobs = `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		total_count INT DEFAULT 0,
		processed_count INT DEFAULT 0,
		created_at TIMESTAMP DEFAULT NOW(),
		completed_at TIMESTAMP
	);`

	const queryResults = `
	CREATE TABLE IF NOT EXISTS results (
		id SERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES jobs(id),
		email TEXT NOT NULL,
		valid BOOLEAN NOT NULL,
		reason TEXT NOT NULL,
		data JSONB NOT NULL
	);`

	if _, err := s.pool.Exec(ctx, queryJobs); err != nil {
		return fmt.Errorf("migration failed (jobs): %w", err)
	}
	if _, err := s.pool.Exec(ctx, queryResults); err != nil {
		return fmt.Errorf("migration failed (results): %w", err)
	}
	return nil
}

// CreateJob records a new bulk job with the given total item count and
// "running" status.
func (s *Store) CreateJob(ctx context.Context, jobID string, total int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, status, total_count) VALUES ($1, 'running', $2)`,
		jobID, total)
	if err != nil {
		return fmt.Errorf("create job %s: %w", jobID, err)
	}
	return nil
}

// AppendResults stores one batch's worth of results against jobID and
// advances its processed_count.
func (s *Store) AppendResults(ctx context.Context, jobID string, results []engine.ValidationResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for job %s: %w", jobID, err)
	}
	defer tx.Rollback(ctx)

	for _, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal result for %s: %w", r.Email, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO results (job_id, email, valid, reason, data) VALUES ($1, $2, $3, $4, $5)`,
			jobID, r.Email, r.Valid, r.Reason, data); err != nil {
			return fmt.Errorf("insert result for %s: %w", r.Email, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET processed_count = processed_count + $1 WHERE id = $2`,
		len(results), jobID); err != nil {
		return fmt.Errorf("update job %s progress: %w", jobID, err)
	}

	return tx.Commit(ctx)
}

// CompleteJob marks a job finished.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'complete', completed_at = NOW() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// JobStatus is a snapshot of a job's progress.
type JobStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	TotalCount     int    `json:"total_count"`
	ProcessedCount int    `json:"processed_count"`
}

// Status fetches the current progress of a job.
func (s *Store) Status(ctx context.Context, jobID string) (JobStatus, error) {
	var js JobStatus
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, total_count, processed_count FROM jobs WHERE id = $1`, jobID).
		Scan(&js.ID, &js.Status, &js.TotalCount, &js.ProcessedCount)
	if err != nil {
		return JobStatus{}, fmt.Errorf("status for job %s: %w", jobID, err)
	}
	return js, nil
}

// Results returns every stored result for a job, ordered by insertion.
func (s *Store) Results(ctx context.Context, jobID string) ([]engine.ValidationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM results WHERE job_id = $1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("results for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []engine.ValidationResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		var r engine.ValidationResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("unmarshal result row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

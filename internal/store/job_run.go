package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/pursue/internal/model"
)

type JobRunStore struct {
	db *sql.DB
}

func NewJobRunStore(db *sql.DB) *JobRunStore {
	return &JobRunStore{db: db}
}

const jobRunCols = `id, job, run_id, started_at, finished_at, processed, skipped, errored, result`

func scanJobRun(scanner interface{ Scan(...any) error }) (*model.JobRun, error) {
	var r model.JobRun
	var finished sql.NullTime
	err := scanner.Scan(&r.ID, &r.Job, &r.RunID, &r.StartedAt, &finished, &r.Processed, &r.Skipped, &r.Errored, &r.Result)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// Start records the beginning of a run and returns its row ID.
func (s *JobRunStore) Start(ctx context.Context, job, runID string, startedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs (job, run_id, started_at) VALUES (?, ?, ?)`,
		job, runID, startedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job run: %w", err)
	}
	return result.LastInsertId()
}

// Finish stores the outcome of a run.
func (s *JobRunStore) Finish(ctx context.Context, id int64, finishedAt time.Time, processed, skipped, errored int, result string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_runs SET finished_at = ?, processed = ?, skipped = ?, errored = ?, result = ? WHERE id = ?`,
		finishedAt.UTC(), processed, skipped, errored, result, id,
	)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return nil
}

// LastSuccess returns the most recent run of job that finished ok, or nil.
func (s *JobRunStore) LastSuccess(ctx context.Context, job string) (*model.JobRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobRunCols+` FROM job_runs
		 WHERE job = ? AND result = ?
		 ORDER BY started_at DESC, id DESC LIMIT 1`,
		job, model.JobResultOK,
	)
	r, err := scanJobRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get last successful job run: %w", err)
	}
	return r, nil
}

func (s *JobRunStore) ListRecent(ctx context.Context, job string, limit int) ([]model.JobRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobRunCols+` FROM job_runs WHERE job = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		job, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		r, err := scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskweave/taskweave/internal/types"
)

// CreateJob inserts a new job row. The job must be in the pending state.
func (s *SQLiteStorage) CreateJob(ctx context.Context, job *types.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if job.Status != types.JobPending {
		return fmt.Errorf("new jobs must be pending (got %s)", job.Status)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	var input any
	if job.Input != nil {
		input = string(job.Input)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, progress_percent, progress_message, input, project_id, interview_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.Status, job.ProgressPercent, job.ProgressMessage,
		input, job.ProjectID, job.InterviewID, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns the current snapshot of a job
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*types.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, status, progress_percent, progress_message, input, result, error,
		       project_id, interview_id, cancel_requested, created_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)

	var job types.Job
	var input, result sql.NullString
	var startedAt, finishedAt sql.NullTime
	var cancel int
	err := row.Scan(&job.ID, &job.Type, &job.Status, &job.ProgressPercent, &job.ProgressMessage,
		&input, &result, &job.Error, &job.ProjectID, &job.InterviewID, &cancel,
		&job.CreatedAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	if input.Valid {
		job.Input = json.RawMessage(input.String)
	}
	if result.Valid {
		job.Result = json.RawMessage(result.String)
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		job.FinishedAt = &t
	}
	job.CancelRequested = cancel != 0
	return &job, nil
}

// MarkJobRunning transitions a job from pending to running.
// Returns ErrConflict if the job is not pending anymore.
func (s *SQLiteStorage) MarkJobRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		types.JobRunning, time.Now().UTC(), id, types.JobPending)
	if err != nil {
		return fmt.Errorf("failed to mark job %s running: %w", id, err)
	}
	return s.requireJobRow(ctx, res, id)
}

// UpdateJobProgress records progress on a running job. No-op if the job is
// already terminal; the percent never decreases.
func (s *SQLiteStorage) UpdateJobProgress(ctx context.Context, id string, percent int, message string) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("progress percent out of range: %d", percent)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress_percent = MAX(progress_percent, ?), progress_message = ?
		WHERE id = ? AND status = ?`,
		percent, message, id, types.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to update progress for job %s: %w", id, err)
	}
	return nil
}

// CompleteJob marks a job completed with its result payload.
// Idempotent: completing an already-terminal job is a no-op.
func (s *SQLiteStorage) CompleteJob(ctx context.Context, id string, result json.RawMessage) error {
	var res any
	if result != nil {
		res = string(result)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress_percent = 100, result = ?, finished_at = ?
		WHERE id = ? AND status = ?`,
		types.JobCompleted, res, time.Now().UTC(), id, types.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// FailJob marks a job failed with a captured error.
// Idempotent: failing an already-terminal job is a no-op.
func (s *SQLiteStorage) FailJob(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, finished_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		types.JobFailed, errMsg, time.Now().UTC(), id, types.JobPending, types.JobRunning)
	if err != nil {
		return fmt.Errorf("failed to fail job %s: %w", id, err)
	}
	return nil
}

// RequestJobCancel sets the best-effort cancel flag. The running task
// checks it at its next progress checkpoint.
func (s *SQLiteStorage) RequestJobCancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET cancel_requested = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to request cancel for job %s: %w", id, err)
	}
	return s.requireJobRow(ctx, res, id)
}

// ListRunningJobsStartedBefore returns running jobs whose started_at is
// older than the cutoff. Used by the janitor to enforce wall-clock budgets.
func (s *SQLiteStorage) ListRunningJobsStartedBefore(ctx context.Context, cutoffUnix int64) ([]*types.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		types.JobRunning, time.Unix(cutoffUnix, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list stale running jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	jobs := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// requireJobRow converts a zero-rows-affected result into ErrNotFound or
// ErrConflict depending on whether the row exists at all.
func (s *SQLiteStorage) requireJobRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

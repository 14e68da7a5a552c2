package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskweave/taskweave/internal/types"
)

// CreateInterview inserts a new interview row
func (s *SQLiteStorage) CreateInterview(ctx context.Context, iv *types.Interview) error {
	if err := iv.Validate(); err != nil {
		return fmt.Errorf("invalid interview: %w", err)
	}
	now := time.Now().UTC()
	if iv.CreatedAt.IsZero() {
		iv.CreatedAt = now
	}
	iv.UpdatedAt = now

	turns, err := json.Marshal(iv.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}
	topics, err := json.Marshal(iv.FocusTopics)
	if err != nil {
		return fmt.Errorf("failed to marshal focus topics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interviews (id, project_id, mode, status, turns, focus_topics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		iv.ID, iv.ProjectID, iv.Mode, iv.Status, string(turns), string(topics), iv.CreatedAt, iv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create interview %s: %w", iv.ID, err)
	}
	return nil
}

// GetInterview returns an interview with its full, untruncated turn history
func (s *SQLiteStorage) GetInterview(ctx context.Context, id string) (*types.Interview, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, mode, status, turns, focus_topics, tokens_in, tokens_out, cost_usd, created_at, updated_at
		FROM interviews WHERE id = ?`, id)

	var iv types.Interview
	var turns, topics string
	err := row.Scan(&iv.ID, &iv.ProjectID, &iv.Mode, &iv.Status, &turns, &topics,
		&iv.TokensIn, &iv.TokensOut, &iv.CostUSD, &iv.CreatedAt, &iv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interview %s: %w", id, err)
	}

	if err := json.Unmarshal([]byte(turns), &iv.Turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal turns for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(topics), &iv.FocusTopics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal focus topics for %s: %w", id, err)
	}
	return &iv, nil
}

// AppendTurns appends turns to the interview history. The history is
// modeled as an immutable value: the current array is read, a new array
// with the appended turns is produced, and the whole value is written
// back in one transaction. The interview must still be active.
func (s *SQLiteStorage) AppendTurns(ctx context.Context, id string, turns []types.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer tx.Rollback()

	var status types.InterviewStatus
	var current string
	err = tx.QueryRowContext(ctx, "SELECT status, turns FROM interviews WHERE id = ?", id).Scan(&status, &current)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read turns for %s: %w", id, err)
	}
	if status.IsTerminal() {
		return ErrConflict
	}

	var history []types.Turn
	if err := json.Unmarshal([]byte(current), &history); err != nil {
		return fmt.Errorf("failed to unmarshal turns for %s: %w", id, err)
	}
	history = append(history, turns...)

	updated, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal turns: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE interviews SET turns = ?, updated_at = ? WHERE id = ?",
		string(updated), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to append turns to %s: %w", id, err)
	}
	return tx.Commit()
}

// SetInterviewStatus updates the interview status. Transitions out of a
// terminal status are rejected with ErrConflict.
func (s *SQLiteStorage) SetInterviewStatus(ctx context.Context, id string, status types.InterviewStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid interview status: %s", status)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE interviews SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), id, types.InterviewActive)
	if err != nil {
		return fmt.Errorf("failed to set status for interview %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM interviews WHERE id = ?", id).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// AddInterviewUsage accumulates token and cost totals on the interview
func (s *SQLiteStorage) AddInterviewUsage(ctx context.Context, id string, tokensIn, tokensOut int64, costUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE interviews
		SET tokens_in = tokens_in + ?, tokens_out = tokens_out + ?, cost_usd = cost_usd + ?, updated_at = ?
		WHERE id = ?`,
		tokensIn, tokensOut, costUSD, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record usage for interview %s: %w", id, err)
	}
	return nil
}

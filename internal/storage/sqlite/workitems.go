package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskweave/taskweave/internal/types"
)

const workItemColumns = `id, project_id, title, description, kind, status, story_points,
	blocked_reason, pending_modification, token_budget, depends_on, superseded_by, created_at, updated_at`

// CreateWorkItem inserts a new work item row
func (s *SQLiteStorage) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid work item: %w", err)
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	dependsOn, err := json.Marshal(item.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO work_items (id, project_id, title, description, kind, status, story_points, token_budget, depends_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProjectID, item.Title, item.Description, item.Kind, item.Status,
		item.StoryPoints, item.TokenBudget, string(dependsOn), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create work item %s: %w", item.ID, err)
	}
	return nil
}

func scanWorkItem(scan func(...any) error) (*types.WorkItem, error) {
	var item types.WorkItem
	var pending sql.NullString
	var dependsOn string
	err := scan(&item.ID, &item.ProjectID, &item.Title, &item.Description, &item.Kind,
		&item.Status, &item.StoryPoints, &item.BlockedReason, &pending, &item.TokenBudget,
		&dependsOn, &item.SupersededBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if pending.Valid && pending.String != "" {
		var pm types.PendingModification
		if err := json.Unmarshal([]byte(pending.String), &pm); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending modification for %s: %w", item.ID, err)
		}
		item.Pending = &pm
	}
	if err := json.Unmarshal([]byte(dependsOn), &item.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal depends_on for %s: %w", item.ID, err)
	}
	return &item, nil
}

// GetWorkItem returns a work item by ID
func (s *SQLiteStorage) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+workItemColumns+" FROM work_items WHERE id = ?", id)
	item, err := scanWorkItem(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item %s: %w", id, err)
	}
	return item, nil
}

func (s *SQLiteStorage) listWorkItems(ctx context.Context, query string, args ...any) ([]*types.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer rows.Close()

	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListWorkItems returns all work items for a project
func (s *SQLiteStorage) ListWorkItems(ctx context.Context, projectID string) ([]*types.WorkItem, error) {
	return s.listWorkItems(ctx,
		"SELECT "+workItemColumns+" FROM work_items WHERE project_id = ? ORDER BY created_at ASC", projectID)
}

// ListBlockedWorkItems returns blocked items with their pending modification
// payloads. An empty projectID lists blocked items across all projects.
func (s *SQLiteStorage) ListBlockedWorkItems(ctx context.Context, projectID string) ([]*types.WorkItem, error) {
	if projectID == "" {
		return s.listWorkItems(ctx,
			"SELECT "+workItemColumns+" FROM work_items WHERE status = ? ORDER BY updated_at DESC", types.ItemBlocked)
	}
	return s.listWorkItems(ctx,
		"SELECT "+workItemColumns+" FROM work_items WHERE status = ? AND project_id = ? ORDER BY updated_at DESC",
		types.ItemBlocked, projectID)
}

// BlockWorkItem transitions an active item to blocked and stages the
// pending modification. Returns ErrConflict if the item is not active,
// which covers the case of a second proposal racing an existing block.
func (s *SQLiteStorage) BlockWorkItem(ctx context.Context, id, reason string, pending *types.PendingModification) error {
	if pending == nil {
		return fmt.Errorf("pending modification is required")
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending modification: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, blocked_reason = ?, pending_modification = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		types.ItemBlocked, reason, string(payload), time.Now().UTC(), id, types.ItemActive)
	if err != nil {
		return fmt.Errorf("failed to block work item %s: %w", id, err)
	}
	return s.requireItemRow(ctx, res, id)
}

// UnblockWorkItem discards the pending modification and returns the item
// to active with its original fields untouched (the reject path).
func (s *SQLiteStorage) UnblockWorkItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, blocked_reason = '', pending_modification = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		types.ItemActive, time.Now().UTC(), id, types.ItemBlocked)
	if err != nil {
		return fmt.Errorf("failed to unblock work item %s: %w", id, err)
	}
	return s.requireItemRow(ctx, res, id)
}

// ReplaceWorkItem archives the original blocked item and inserts its
// replacement in one transaction (the approve path). Exactly one new
// active item results; the original does not remain active.
func (s *SQLiteStorage) ReplaceWorkItem(ctx context.Context, originalID string, replacement *types.WorkItem) error {
	if err := replacement.Validate(); err != nil {
		return fmt.Errorf("invalid replacement item: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE work_items SET status = ?, blocked_reason = '', pending_modification = NULL, superseded_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		types.ItemArchived, replacement.ID, now, originalID, types.ItemBlocked)
	if err != nil {
		return fmt.Errorf("failed to archive work item %s: %w", originalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}

	dependsOn, err := json.Marshal(replacement.DependsOn)
	if err != nil {
		return fmt.Errorf("failed to marshal depends_on: %w", err)
	}
	replacement.CreatedAt = now
	replacement.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_items (id, project_id, title, description, kind, status, story_points, token_budget, depends_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		replacement.ID, replacement.ProjectID, replacement.Title, replacement.Description,
		replacement.Kind, replacement.Status, replacement.StoryPoints, replacement.TokenBudget,
		string(dependsOn), replacement.CreatedAt, replacement.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert replacement item %s: %w", replacement.ID, err)
	}
	return tx.Commit()
}

// SetWorkItemStatus updates a work item's workflow status. Blocked items
// are locked: ordinary transitions are rejected with ErrConflict until
// the pending modification is approved or rejected.
func (s *SQLiteStorage) SetWorkItemStatus(ctx context.Context, id string, status types.WorkItemStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid work item status: %s", status)
	}
	if status == types.ItemBlocked {
		return fmt.Errorf("use BlockWorkItem to block an item")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE work_items SET status = ?, updated_at = ?
		WHERE id = ? AND status != ?`,
		status, time.Now().UTC(), id, types.ItemBlocked)
	if err != nil {
		return fmt.Errorf("failed to set status for work item %s: %w", id, err)
	}
	return s.requireItemRow(ctx, res, id)
}

// SetWorkItemBudget caches the computed token budget on the item so
// repeated look-ups are stable
func (s *SQLiteStorage) SetWorkItemBudget(ctx context.Context, id string, budget int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE work_items SET token_budget = ?, updated_at = ? WHERE id = ?",
		budget, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set budget for work item %s: %w", id, err)
	}
	return s.requireItemRow(ctx, res, id)
}

// requireItemRow converts zero rows affected into ErrNotFound or ErrConflict
func (s *SQLiteStorage) requireItemRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM work_items WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

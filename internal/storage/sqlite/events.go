package sqlite

import (
	"context"
	"fmt"

	"github.com/taskweave/taskweave/internal/types"
)

// AddEvent appends a row to the audit trail
func (s *SQLiteStorage) AddEvent(ctx context.Context, scopeKind, scopeID, actor, eventType, detail string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (scope_kind, scope_id, actor, event_type, detail)
		VALUES (?, ?, ?, ?, ?)`,
		scopeKind, scopeID, actor, eventType, detail)
	if err != nil {
		return fmt.Errorf("failed to add event for %s/%s: %w", scopeKind, scopeID, err)
	}
	return nil
}

// GetEvents returns the most recent audit events for a scope, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, scopeKind, scopeID string, limit int) ([]*types.AuditEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, scope_kind, scope_id, actor, event_type, detail, created_at
		FROM events WHERE scope_kind = ? AND scope_id = ?
		ORDER BY id DESC LIMIT ?`,
		scopeKind, scopeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events for %s/%s: %w", scopeKind, scopeID, err)
	}
	defer rows.Close()

	var events []*types.AuditEvent
	for rows.Next() {
		var e types.AuditEvent
		if err := rows.Scan(&e.ID, &e.ScopeKind, &e.ScopeID, &e.Actor, &e.EventType, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

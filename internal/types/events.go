package types

import "time"

// Audit scope kinds
const (
	ScopeJob       = "job"
	ScopeInterview = "interview"
	ScopeWorkItem  = "work_item"
)

// AuditEvent is one row in the audit trail. Every terminal job transition,
// block, approve, and reject writes one; nothing fails silently without
// leaving a record here.
type AuditEvent struct {
	ID        int64     `json:"id"`
	ScopeKind string    `json:"scope_kind"`
	ScopeID   string    `json:"scope_id"`
	Actor     string    `json:"actor"`
	EventType string    `json:"event_type"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

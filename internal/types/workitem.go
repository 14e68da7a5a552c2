package types

import (
	"fmt"
	"time"
)

// WorkItemStatus represents the workflow state of a work item
type WorkItemStatus string

const (
	ItemActive   WorkItemStatus = "active"
	ItemBlocked  WorkItemStatus = "blocked"
	ItemDone     WorkItemStatus = "done"
	ItemArchived WorkItemStatus = "archived"
	ItemSkipped  WorkItemStatus = "skipped"
)

// IsValid checks if the status is a known value
func (s WorkItemStatus) IsValid() bool {
	switch s {
	case ItemActive, ItemBlocked, ItemDone, ItemArchived, ItemSkipped:
		return true
	}
	return false
}

// WorkItemKind enumerates item kinds used for budget lookup
type WorkItemKind string

const (
	KindTask    WorkItemKind = "task"
	KindStory   WorkItemKind = "story"
	KindEpic    WorkItemKind = "epic"
	KindSpike   WorkItemKind = "spike"
	KindDefault WorkItemKind = "default"
)

// ProposedFields holds the AI-proposed replacement fields for a work item
type ProposedFields struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	StoryPoints int    `json:"story_points,omitempty"`
}

// PendingModification is the staged change awaiting human approval.
// Present iff the owning item is blocked; at most one per item.
type PendingModification struct {
	Proposed        ProposedFields `json:"proposed"`
	SimilarityScore float64        `json:"similarity_score"`
	SimilarToID     string         `json:"similar_to_id,omitempty"`
	ProposedAt      time.Time      `json:"proposed_at"`
}

// WorkItem is a unit of project work subject to duplicate blocking
type WorkItem struct {
	ID            string               `json:"id"`
	ProjectID     string               `json:"project_id"`
	Title         string               `json:"title"`
	Description   string               `json:"description"`
	Kind          WorkItemKind         `json:"kind"`
	Status        WorkItemStatus       `json:"status"`
	StoryPoints   int                  `json:"story_points,omitempty"`
	BlockedReason string               `json:"blocked_reason,omitempty"`
	Pending       *PendingModification `json:"pending_modification,omitempty"`
	TokenBudget   int64                `json:"token_budget,omitempty"` // cached by the budget manager
	DependsOn     []string             `json:"depends_on,omitempty"`
	SupersededBy  string               `json:"superseded_by,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Validate checks if the work item has valid field values
func (w *WorkItem) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("id is required")
	}
	if w.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("invalid work item status: %s", w.Status)
	}
	if w.Status == ItemBlocked && w.Pending == nil {
		return fmt.Errorf("blocked item must carry a pending modification")
	}
	if w.Status != ItemBlocked && w.Pending != nil {
		return fmt.Errorf("pending modification only allowed while blocked")
	}
	return nil
}

// IsLocked reports whether ordinary workflow operations (reorder, status
// transitions) must skip this item. Consulted by the surrounding CRUD layer.
func (w *WorkItem) IsLocked() bool {
	return w.Status == ItemBlocked
}

package storage

import (
	"context"
	"encoding/json"

	"github.com/taskweave/taskweave/internal/storage/sqlite"
	"github.com/taskweave/taskweave/internal/types"
)

// Storage defines the interface for the persistent store backing jobs,
// interviews, and work items. All mutating methods follow read-check-write:
// the relevant invariant is re-verified inside the statement itself
// (conditional UPDATE), so a stale caller gets ErrConflict or a no-op
// rather than clobbering newer state.
type Storage interface {
	// Jobs
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	UpdateJobProgress(ctx context.Context, id string, percent int, message string) error
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, errMsg string) error
	RequestJobCancel(ctx context.Context, id string) error
	ListRunningJobsStartedBefore(ctx context.Context, cutoffUnix int64) ([]*types.Job, error)

	// Interviews
	CreateInterview(ctx context.Context, iv *types.Interview) error
	GetInterview(ctx context.Context, id string) (*types.Interview, error)
	AppendTurns(ctx context.Context, id string, turns []types.Turn) error
	SetInterviewStatus(ctx context.Context, id string, status types.InterviewStatus) error
	AddInterviewUsage(ctx context.Context, id string, tokensIn, tokensOut int64, costUSD float64) error

	// Work items
	CreateWorkItem(ctx context.Context, item *types.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error)
	ListWorkItems(ctx context.Context, projectID string) ([]*types.WorkItem, error)
	ListBlockedWorkItems(ctx context.Context, projectID string) ([]*types.WorkItem, error)
	BlockWorkItem(ctx context.Context, id, reason string, pending *types.PendingModification) error
	UnblockWorkItem(ctx context.Context, id string) error
	ReplaceWorkItem(ctx context.Context, originalID string, replacement *types.WorkItem) error
	SetWorkItemStatus(ctx context.Context, id string, status types.WorkItemStatus) error
	SetWorkItemBudget(ctx context.Context, id string, budget int64) error

	// Audit trail
	AddEvent(ctx context.Context, scopeKind, scopeID, actor, eventType, detail string) error
	GetEvents(ctx context.Context, scopeKind, scopeID string, limit int) ([]*types.AuditEvent, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests).
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{Path: ".taskweave/taskweave.db"}
}

// Opener produces a fresh storage handle. Background jobs each open their
// own handle rather than sharing one across concurrently running tasks.
type Opener func(ctx context.Context) (Storage, error)

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	return sqlite.New(cfg.Path)
}

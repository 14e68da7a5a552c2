// Package job owns the lifecycle of asynchronous units of work: creation,
// progress, completion, failure, and the pollable status record clients
// read. The executing task is solely responsible for reaching a terminal
// state; the runner converts panics and timeouts into failures so a job
// never stays running forever.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/telemetry"
	"github.com/taskweave/taskweave/internal/types"
)

// ErrCanceled is returned by a progress checkpoint once a cancel request
// has been observed
var ErrCanceled = errors.New("job canceled")

// DefaultTimeout is the wall-clock budget for a single background task
const DefaultTimeout = 10 * time.Minute

// Task is the unit of background work. It reports progress through the
// runtime and returns either a result payload or an error.
type Task func(ctx context.Context, rt *Runtime) (json.RawMessage, error)

// Config holds job manager configuration
type Config struct {
	Store   storage.Storage // request-path handle (create/get/cancel)
	Open    storage.Opener  // opens a fresh handle per background task
	Timeout time.Duration   // wall-clock budget per task (default: 10m)
	Logger  *zap.SugaredLogger
}

// Manager owns job records and executes their background tasks
type Manager struct {
	store   storage.Storage
	open    storage.Opener
	timeout time.Duration
	logger  *zap.SugaredLogger
	wg      sync.WaitGroup
}

// NewManager creates a job manager
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	open := cfg.Open
	if open == nil {
		// Fall back to sharing the request-path handle. Fine for tests;
		// production wires a real opener so concurrent tasks don't share.
		open = func(ctx context.Context) (storage.Storage, error) { return cfg.Store, nil }
	}
	return &Manager{store: cfg.Store, open: open, timeout: timeout, logger: logger}, nil
}

// Create persists a new pending job. It always succeeds barring storage
// failure and never blocks on execution; the caller dispatches the task
// with Run only after this commit has been confirmed.
func (m *Manager) Create(ctx context.Context, jobType types.JobType, input json.RawMessage, projectID, interviewID string) (*types.Job, error) {
	if !jobType.IsValid() {
		return nil, fmt.Errorf("invalid job type: %s", jobType)
	}
	job := &types.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Status:      types.JobPending,
		Input:       input,
		ProjectID:   projectID,
		InterviewID: interviewID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns the current snapshot for polling
func (m *Manager) Get(ctx context.Context, id string) (*types.Job, error) {
	return m.store.GetJob(ctx, id)
}

// Cancel sets the best-effort cancel flag; the running task observes it
// at its next progress checkpoint
func (m *Manager) Cancel(ctx context.Context, id string) error {
	if err := m.store.RequestJobCancel(ctx, id); err != nil {
		return err
	}
	return m.store.AddEvent(ctx, types.ScopeJob, id, "api", "cancel_requested", "")
}

// Run executes the task for a previously created job in a background
// goroutine. The task gets its own storage handle and a context bounded
// by the wall-clock budget; panics and errors become a failed job.
func (m *Manager) Run(jobID string, task Task) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.execute(jobID, task)
	}()
}

// Wait blocks until all dispatched tasks have finished. Used during
// shutdown and in tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) execute(jobID string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	store, err := m.open(ctx)
	if err != nil {
		m.failJob(context.Background(), m.store, jobID, fmt.Sprintf("failed to open storage: %v", err))
		return
	}
	if store != m.store {
		defer store.Close()
	}

	// Re-read fresh state by reference; the in-memory object handed to
	// Create may predate the commit.
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		m.logger.Errorw("job vanished before execution", "job_id", jobID, "error", err)
		return
	}
	if job.Status.IsTerminal() {
		return
	}

	if err := store.MarkJobRunning(ctx, jobID); err != nil {
		m.logger.Warnw("job not runnable", "job_id", jobID, "error", err)
		return
	}

	started := time.Now()
	result, err := m.runTask(ctx, store, jobID, task)

	// Terminal writes use a background context: the task context may
	// already be past its deadline, and the terminal state must land.
	finishCtx, finishCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finishCancel()

	switch {
	case err == nil:
		if err := store.CompleteJob(finishCtx, jobID, result); err != nil {
			m.logger.Errorw("failed to complete job", "job_id", jobID, "error", err)
			return
		}
		_ = store.AddEvent(finishCtx, types.ScopeJob, jobID, "runner", "completed", "")
		telemetry.ObserveJob(string(job.Type), string(types.JobCompleted), time.Since(started))
	case errors.Is(err, ErrCanceled):
		m.failJob(finishCtx, store, jobID, "canceled by request")
		telemetry.ObserveJob(string(job.Type), string(types.JobFailed), time.Since(started))
	case errors.Is(err, context.DeadlineExceeded):
		m.failJob(finishCtx, store, jobID, fmt.Sprintf("timed out after %v", m.timeout))
		telemetry.ObserveJob(string(job.Type), string(types.JobFailed), time.Since(started))
	default:
		m.failJob(finishCtx, store, jobID, err.Error())
		telemetry.ObserveJob(string(job.Type), string(types.JobFailed), time.Since(started))
	}
}

// runTask invokes the task with panic recovery at the boundary
func (m *Manager) runTask(ctx context.Context, store storage.Storage, jobID string, task Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Errorw("job task panicked", "job_id", jobID, "panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	rt := &Runtime{jobID: jobID, store: store}
	return task(ctx, rt)
}

func (m *Manager) failJob(ctx context.Context, store storage.Storage, jobID, msg string) {
	if err := store.FailJob(ctx, jobID, msg); err != nil {
		m.logger.Errorw("failed to mark job failed", "job_id", jobID, "error", err)
		return
	}
	_ = store.AddEvent(ctx, types.ScopeJob, jobID, "runner", "failed", msg)
}

// Runtime is the handle the executing task uses to report progress.
// The storage handle is task-owned; no other goroutine touches it.
type Runtime struct {
	jobID string
	store storage.Storage
}

// JobID returns the executing job's ID
func (rt *Runtime) JobID() string {
	return rt.jobID
}

// Store returns the task-owned storage handle
func (rt *Runtime) Store() storage.Storage {
	return rt.store
}

// Progress records a progress checkpoint and observes the cancel flag.
// Returns ErrCanceled once cancellation has been requested; the task
// should unwind promptly but is not required to stop immediately.
func (rt *Runtime) Progress(ctx context.Context, percent int, message string) error {
	job, err := rt.store.GetJob(ctx, rt.jobID)
	if err != nil {
		return err
	}
	if job.CancelRequested {
		return ErrCanceled
	}
	return rt.store.UpdateJobProgress(ctx, rt.jobID, percent, message)
}

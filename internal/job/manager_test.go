package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/taskweave/taskweave/internal/storage/sqlite"
	"github.com/taskweave/taskweave/internal/types"
)

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *sqlite.SQLiteStorage) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	m, err := NewManager(&Config{Store: store, Timeout: timeout})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m, store
}

func TestJobLifecycle(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeGeneration, json.RawMessage(`{"project":"p1"}`), "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if job.Status != types.JobPending {
		t.Fatalf("new job should be pending, got %s", job.Status)
	}

	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		if err := rt.Progress(ctx, 50, "halfway"); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"items":3}`), nil
	})
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Error)
	}
	if got.ProgressPercent != 100 {
		t.Errorf("completed job should be at 100%%, got %d", got.ProgressPercent)
	}
	if string(got.Result) != `{"items":3}` {
		t.Errorf("unexpected result payload: %s", got.Result)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps should be set")
	}
}

func TestJobFailureCapturesError(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeExecution, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		return nil, fmt.Errorf("provider exploded")
	})
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if got.Error != "provider exploded" {
		t.Errorf("unexpected error payload: %q", got.Error)
	}
	if got.Result != nil {
		t.Errorf("failed job must not carry a result, got %s", got.Result)
	}
}

func TestJobPanicBecomesFailure(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeGeneration, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		panic("nil map write")
	})
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobFailed {
		t.Fatalf("panicking task should fail the job, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "nil map write") {
		t.Errorf("error should capture the panic value, got %q", got.Error)
	}
}

func TestJobTimeout(t *testing.T) {
	m, store := newTestManager(t, 50*time.Millisecond)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeBatch, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("error should mention the timeout, got %q", got.Error)
	}
}

func TestCancelObservedAtProgressCheckpoint(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeGeneration, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	started := make(chan struct{})
	canceled := make(chan struct{})
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		close(started)
		<-canceled
		// Next checkpoint sees the flag
		if err := rt.Progress(ctx, 60, "checking in"); err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	})

	<-started
	if err := m.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	close(canceled)
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobFailed {
		t.Fatalf("canceled job should end failed, got %s", got.Status)
	}
	if !strings.Contains(got.Error, "canceled") {
		t.Errorf("error should mention cancellation, got %q", got.Error)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeGeneration, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		if err := rt.Progress(ctx, 70, "far along"); err != nil {
			return nil, err
		}
		// A stale lower report must not move the needle backwards
		if err := rt.Progress(ctx, 30, "stale report"); err != nil {
			return nil, err
		}
		got, err := rt.Store().GetJob(ctx, rt.JobID())
		if err != nil {
			return nil, err
		}
		if got.ProgressPercent != 70 {
			return nil, fmt.Errorf("progress went backwards: %d", got.ProgressPercent)
		}
		return json.RawMessage(`{}`), nil
	})
	m.Wait()

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Error)
	}
}

func TestTerminalWritesAreIdempotent(t *testing.T) {
	m, store := newTestManager(t, 0)
	ctx := context.Background()

	job, err := m.Create(ctx, types.JobTypeGeneration, nil, "p1", "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.MarkJobRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkJobRunning failed: %v", err)
	}
	if err := store.CompleteJob(ctx, job.ID, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	// A retry in the execution path may hit a job that already reached a
	// terminal state; both writes are no-ops, not errors
	if err := store.CompleteJob(ctx, job.ID, json.RawMessage(`{"again":true}`)); err != nil {
		t.Fatalf("second complete should be a no-op, got %v", err)
	}
	if err := store.FailJob(ctx, job.ID, "too late"); err != nil {
		t.Fatalf("failing a completed job should be a no-op, got %v", err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != types.JobCompleted {
		t.Errorf("job must keep its first terminal state, got %s", got.Status)
	}
	if string(got.Result) != `{}` {
		t.Errorf("retried complete must not overwrite the result, got %s", got.Result)
	}
	if got.Error != "" {
		t.Errorf("no error should be recorded on a completed job, got %q", got.Error)
	}

	// The manager treats a terminal job as done, not as an error
	m.Run(job.ID, func(ctx context.Context, rt *Runtime) (json.RawMessage, error) {
		t.Error("task must not run for a terminal job")
		return nil, nil
	})
	m.Wait()
}

func TestCreateRejectsInvalidType(t *testing.T) {
	m, _ := newTestManager(t, 0)
	if _, err := m.Create(context.Background(), types.JobType("mystery"), nil, "p1", ""); err == nil {
		t.Fatal("expected an error for an unknown job type")
	}
}

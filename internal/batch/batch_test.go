package batch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/taskweave/taskweave/internal/storage/sqlite"
	"github.com/taskweave/taskweave/internal/types"
)

func newTestRunner(t *testing.T) (*Runner, *sqlite.SQLiteStorage) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRunner(store, 2, nil), store
}

func makeItems(t *testing.T, store *sqlite.SQLiteStorage, deps map[string][]string) []*types.WorkItem {
	t.Helper()
	var items []*types.WorkItem
	for id, dependsOn := range deps {
		item := &types.WorkItem{
			ID:        id,
			ProjectID: "proj-1",
			Title:     "item " + id,
			Kind:      types.KindTask,
			Status:    types.ItemActive,
			DependsOn: dependsOn,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateWorkItem(context.Background(), item); err != nil {
			t.Fatalf("failed to create work item %s: %v", id, err)
		}
		items = append(items, item)
	}
	return items
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	r, store := newTestRunner(t)
	items := makeItems(t, store, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})

	var mu sync.Mutex
	var order []string
	report, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		mu.Lock()
		order = append(order, item.ID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Completed != 4 || report.Failed != 0 || report.Skipped != 0 {
		t.Fatalf("expected 4 completed, got %+v", report)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	if pos["a"] > pos["b"] || pos["a"] > pos["c"] {
		t.Errorf("a must run before b and c, order: %v", order)
	}
	if pos["d"] < pos["b"] || pos["d"] < pos["c"] {
		t.Errorf("d must run after b and c, order: %v", order)
	}
}

func TestExecuteIsolatesFailureAndSkipsDependents(t *testing.T) {
	r, store := newTestRunner(t)
	items := makeItems(t, store, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
		"x": nil, // independent of the failing chain
	})

	report, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		if item.ID == "b" {
			return fmt.Errorf("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if report.Results["b"].Outcome != OutcomeFailed {
		t.Errorf("b should fail, got %s", report.Results["b"].Outcome)
	}
	if report.Results["c"].Outcome != OutcomeSkipped {
		t.Errorf("c depends on the failed b and should be skipped, got %s", report.Results["c"].Outcome)
	}
	if report.Results["a"].Outcome != OutcomeCompleted || report.Results["x"].Outcome != OutcomeCompleted {
		t.Error("items independent of the failure must complete")
	}
	if report.Completed != 2 || report.Failed != 1 || report.Skipped != 1 {
		t.Errorf("unexpected report counts: %+v", report)
	}

	// Skipped items are marked in storage, failed items are not re-statused
	c, err := store.GetWorkItem(context.Background(), "c")
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if c.Status != types.ItemSkipped {
		t.Errorf("c should be persisted as skipped, got %s", c.Status)
	}
}

func TestExecuteTransitiveSkip(t *testing.T) {
	r, store := newTestRunner(t)
	items := makeItems(t, store, map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"b"},
	})

	report, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		if item.ID == "a" {
			return fmt.Errorf("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Results["b"].Outcome != OutcomeSkipped || report.Results["c"].Outcome != OutcomeSkipped {
		t.Errorf("entire downstream chain should be skipped: %+v", report.Results)
	}
}

func TestExecuteConvertsPanicToFailure(t *testing.T) {
	r, store := newTestRunner(t)
	items := makeItems(t, store, map[string][]string{"a": nil, "b": nil})

	report, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		if item.ID == "a" {
			panic("unexpected state")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Results["a"].Outcome != OutcomeFailed {
		t.Errorf("panicking item should be reported failed, got %s", report.Results["a"].Outcome)
	}
	if report.Results["b"].Outcome != OutcomeCompleted {
		t.Errorf("sibling item should complete, got %s", report.Results["b"].Outcome)
	}
}

func TestExecuteDetectsCycle(t *testing.T) {
	r, store := newTestRunner(t)
	items := makeItems(t, store, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})

	_, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestExecuteBoundsParallelism(t *testing.T) {
	r, store := newTestRunner(t) // parallelism 2
	items := makeItems(t, store, map[string][]string{
		"a": nil, "b": nil, "c": nil, "d": nil, "e": nil,
	})

	var mu sync.Mutex
	inFlight, peak := 0, 0
	_, err := r.Execute(context.Background(), items, func(ctx context.Context, item *types.WorkItem) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if peak > 2 {
		t.Errorf("parallelism bound exceeded: peak %d", peak)
	}
}

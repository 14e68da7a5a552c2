// Package batch executes a set of work items in dependency order.
// Independent items run with bounded parallelism; a single item's failure
// never aborts the batch. Items downstream of a failure are skipped and
// reported as skipped, not failed.
package batch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/types"
)

// Outcome is the per-item result of a batch run
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// ItemResult records what happened to one item
type ItemResult struct {
	ItemID  string  `json:"item_id"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
	Reason  string  `json:"reason,omitempty"` // set for skips
}

// Report summarizes a batch run
type Report struct {
	Results   map[string]*ItemResult `json:"results"`
	Completed int                    `json:"completed"`
	Failed    int                    `json:"failed"`
	Skipped   int                    `json:"skipped"`
}

// ItemFunc executes one work item
type ItemFunc func(ctx context.Context, item *types.WorkItem) error

// DefaultParallelism bounds concurrent item execution
const DefaultParallelism = 4

// Runner executes batches
type Runner struct {
	store       storage.Storage
	parallelism int
	logger      *zap.SugaredLogger
}

// NewRunner creates a batch runner. Zero parallelism selects the default.
func NewRunner(store storage.Storage, parallelism int, logger *zap.SugaredLogger) *Runner {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Runner{store: store, parallelism: parallelism, logger: logger}
}

// Execute runs fn over the items in topological order of their DependsOn
// edges. Only dependencies pointing at items inside the batch are
// considered; external references are assumed satisfied. Returns an error
// only for structural problems (dependency cycle); per-item failures are
// reported in the Report.
func (r *Runner) Execute(ctx context.Context, items []*types.WorkItem, fn ItemFunc) (*Report, error) {
	report := &Report{Results: make(map[string]*ItemResult, len(items))}
	if len(items) == 0 {
		return report, nil
	}

	byID := make(map[string]*types.WorkItem, len(items))
	for _, item := range items {
		if _, dup := byID[item.ID]; dup {
			return nil, fmt.Errorf("duplicate item %s in batch", item.ID)
		}
		byID[item.ID] = item
	}

	// In-batch dependency edges only
	deps := make(map[string][]string, len(items))
	for _, item := range items {
		for _, dep := range item.DependsOn {
			if _, ok := byID[dep]; ok {
				deps[item.ID] = append(deps[item.ID], dep)
			}
		}
	}

	var mu sync.Mutex
	remaining := make(map[string]*types.WorkItem, len(items))
	for id, item := range byID {
		remaining[id] = item
	}

	for len(remaining) > 0 {
		// An item is ready once every in-batch dependency has a result
		var ready, skipped []*types.WorkItem
		mu.Lock()
		for id, item := range remaining {
			blockedBy, pending := r.upstreamState(deps[id], report.Results)
			switch {
			case blockedBy != "":
				skipped = append(skipped, item)
			case !pending:
				ready = append(ready, item)
			}
		}
		for _, item := range skipped {
			blockedBy, _ := r.upstreamState(deps[item.ID], report.Results)
			reason := fmt.Sprintf("dependency %s did not complete", blockedBy)
			report.Results[item.ID] = &ItemResult{ItemID: item.ID, Outcome: OutcomeSkipped, Reason: reason}
			report.Skipped++
			delete(remaining, item.ID)
			r.recordSkip(ctx, item.ID, reason)
		}
		mu.Unlock()

		if len(ready) == 0 {
			if len(remaining) > 0 && len(skipped) == 0 {
				return nil, fmt.Errorf("dependency cycle among %d remaining items", len(remaining))
			}
			continue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallelism)
		for _, item := range ready {
			item := item
			g.Go(func() error {
				err := r.runOne(gctx, item, fn)
				mu.Lock()
				defer mu.Unlock()
				res := &ItemResult{ItemID: item.ID, Outcome: OutcomeCompleted}
				if err != nil {
					res.Outcome = OutcomeFailed
					res.Error = err.Error()
					report.Failed++
				} else {
					report.Completed++
				}
				report.Results[item.ID] = res
				delete(remaining, item.ID)
				// Item failures stay inside the report
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		if ctx.Err() != nil {
			// Remaining items are skipped, not failed
			mu.Lock()
			for id, item := range remaining {
				report.Results[id] = &ItemResult{ItemID: id, Outcome: OutcomeSkipped, Reason: "batch canceled"}
				report.Skipped++
				delete(remaining, item.ID)
			}
			mu.Unlock()
			return report, nil
		}
	}
	return report, nil
}

// runOne isolates a single item's execution, converting panics to errors
func (r *Runner) runOne(ctx context.Context, item *types.WorkItem, fn ItemFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic executing item %s: %v", item.ID, p)
		}
	}()
	if err := fn(ctx, item); err != nil {
		r.logger.Warnw("batch item failed", "item_id", item.ID, "error", err)
		_ = r.store.AddEvent(ctx, types.ScopeWorkItem, item.ID, "batch", "failed", err.Error())
		return err
	}
	return nil
}

// upstreamState reports the first non-completed terminal dependency and
// whether any dependency has no result yet
func (r *Runner) upstreamState(depIDs []string, results map[string]*ItemResult) (blockedBy string, pending bool) {
	for _, dep := range depIDs {
		res, ok := results[dep]
		if !ok {
			pending = true
			continue
		}
		if res.Outcome != OutcomeCompleted {
			return dep, pending
		}
	}
	return "", pending
}

func (r *Runner) recordSkip(ctx context.Context, itemID, reason string) {
	if err := r.store.SetWorkItemStatus(ctx, itemID, types.ItemSkipped); err != nil {
		r.logger.Warnw("failed to mark item skipped", "item_id", itemID, "error", err)
	}
	_ = r.store.AddEvent(ctx, types.ScopeWorkItem, itemID, "batch", "skipped", reason)
}

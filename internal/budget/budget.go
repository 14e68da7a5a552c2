// Package budget computes per-item token budgets and records advisory
// overage notes after execution. Budgets never block or fail anything;
// they exist so cost drift shows up in the audit trail, not the bill.
package budget

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/types"
)

// Token budgets by estimated size. Points outside the table round down
// to the nearest listed size.
var sizeBudgets = map[int]int64{
	1:  1000,
	2:  1500,
	3:  2000,
	5:  3000,
	8:  5000,
	13: 8000,
}

// Token budgets by work item kind
var kindBudgets = map[types.WorkItemKind]int64{
	types.KindTask:    2500,
	types.KindStory:   4000,
	types.KindEpic:    8000,
	types.KindSpike:   2000,
	types.KindDefault: 2500,
}

// Manager computes and records token budgets
type Manager struct {
	store  storage.Storage
	logger *zap.SugaredLogger
}

// NewManager creates a budget manager
func NewManager(store storage.Storage, logger *zap.SugaredLogger) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{store: store, logger: logger}
}

// BudgetFor returns the item's token budget: the larger of the size-based
// and kind-based table values. The result is cached on the item so
// repeated look-ups stay stable even if the tables change.
func (m *Manager) BudgetFor(ctx context.Context, item *types.WorkItem) (int64, error) {
	if item.TokenBudget > 0 {
		return item.TokenBudget, nil
	}

	budget := max64(sizeBudget(item.StoryPoints), kindBudget(item.Kind))
	if err := m.store.SetWorkItemBudget(ctx, item.ID, budget); err != nil {
		return 0, fmt.Errorf("failed to cache budget for item %s: %w", item.ID, err)
	}
	item.TokenBudget = budget
	return budget, nil
}

// RecordUsage compares actual token use against the item's budget and,
// on overage, attaches an advisory note with a recommendation. Never
// fails the execution that produced the usage.
func (m *Manager) RecordUsage(ctx context.Context, item *types.WorkItem, actualTokens int64) error {
	budget, err := m.BudgetFor(ctx, item)
	if err != nil {
		return err
	}
	if actualTokens <= budget {
		return nil
	}

	overagePct := (actualTokens - budget) * 100 / budget
	note := fmt.Sprintf("used %d tokens against a budget of %d (%d%% over); %s",
		actualTokens, budget, overagePct, recommendation(overagePct))
	m.logger.Infow("work item exceeded its token budget",
		"item_id", item.ID, "actual", actualTokens, "budget", budget, "overage_pct", overagePct)
	return m.store.AddEvent(ctx, types.ScopeWorkItem, item.ID, "budget", "overage", note)
}

func sizeBudget(points int) int64 {
	if points <= 0 {
		return 0
	}
	best := int64(0)
	for size, budget := range sizeBudgets {
		if size <= points && budget > best {
			best = budget
		}
	}
	return best
}

func kindBudget(kind types.WorkItemKind) int64 {
	if b, ok := kindBudgets[kind]; ok {
		return b
	}
	return kindBudgets[types.KindDefault]
}

func recommendation(overagePct int64) string {
	switch {
	case overagePct >= 100:
		return "consider splitting the item into smaller pieces"
	case overagePct >= 50:
		return "consider simplifying the item's scope"
	default:
		return "consider raising the budget if this size is expected"
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

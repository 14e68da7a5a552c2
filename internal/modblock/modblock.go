// Package modblock freezes work items whose AI-proposed modifications
// look like near-duplicates of existing items, staging the proposal for
// human approval. State machine per item:
//
//	ACTIVE → (score ≥ threshold) → BLOCKED → approve: new ACTIVE item, original archived
//	                                       → reject:  original ACTIVE, fields untouched
package modblock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/embedding"
	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/types"
	"github.com/taskweave/taskweave/internal/vector"
)

// DefaultThreshold is the cosine similarity at or above which a proposed
// modification counts as a duplicate of an existing item
const DefaultThreshold = 0.9

// ErrAlreadyBlocked rejects a second proposal while one is pending.
// Proposals are rejected, not queued: the human decision on the staged
// change may invalidate any proposal computed before it.
var ErrAlreadyBlocked = errors.New("work item already has a pending modification")

// Match is a near-duplicate hit from the work-item index
type Match struct {
	ItemID string
	Text   string
	Score  float64
}

// Blocker detects near-duplicate work items and manages the
// block/approve/reject workflow
type Blocker struct {
	store     storage.Storage
	embedder  embedding.Embedder
	index     *vector.Index
	threshold float64
	logger    *zap.SugaredLogger
}

// New creates a Blocker. A zero threshold selects DefaultThreshold.
func New(store storage.Storage, embedder embedding.Embedder, index *vector.Index, threshold float64, logger *zap.SugaredLogger) (*Blocker, error) {
	if store == nil || embedder == nil || index == nil {
		return nil, fmt.Errorf("store, embedder, and index are required")
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Blocker{store: store, embedder: embedder, index: index, threshold: threshold, logger: logger}, nil
}

// IndexItem records an item's text in the duplicate-detection index.
// Call after creating or approving a work item.
func (b *Blocker) IndexItem(ctx context.Context, item *types.WorkItem) error {
	vec, err := b.embedder.Embed(ctx, itemText(item))
	if err != nil {
		return fmt.Errorf("failed to embed work item %s: %w", item.ID, err)
	}
	return b.index.Insert(ctx, vector.Record{
		ID:        item.ID,
		Scope:     item.ProjectID,
		Kind:      vector.KindWorkItem,
		Text:      itemText(item),
		Payload:   item.ID,
		Embedding: vec,
	})
}

// Detect returns the closest existing item to the proposed fields, or nil
// when nothing in the project scores at or above the duplicate threshold
func (b *Blocker) Detect(ctx context.Context, projectID, excludeItemID string, proposed types.ProposedFields) (*Match, error) {
	text := strings.TrimSpace(proposed.Title + "\n" + proposed.Description)
	vec, err := b.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed proposed fields: %w", err)
	}
	results, err := b.index.Search(ctx, projectID, vector.KindWorkItem, vec, 3)
	if err != nil {
		return nil, fmt.Errorf("duplicate search failed: %w", err)
	}
	for _, r := range results {
		if r.Payload == excludeItemID {
			continue
		}
		if float64(r.Score) >= b.threshold {
			return &Match{ItemID: r.Payload, Text: r.Text, Score: float64(r.Score)}, nil
		}
	}
	return nil, nil
}

// Propose stages a modification when the similarity score crosses the
// threshold. Below-threshold proposals leave the item untouched and
// return false. A proposal against an already-blocked item is rejected
// with ErrAlreadyBlocked and logged, never queued.
func (b *Blocker) Propose(ctx context.Context, itemID string, proposed types.ProposedFields, score float64, similarToID string) (bool, error) {
	if score < b.threshold {
		return false, nil
	}

	item, err := b.store.GetWorkItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	if item.Status == types.ItemBlocked {
		b.logger.Warnw("rejecting modification proposal, item already blocked",
			"item_id", itemID, "score", score)
		_ = b.store.AddEvent(ctx, types.ScopeWorkItem, itemID, "modblock", "proposal_rejected",
			fmt.Sprintf("second proposal while blocked (score %.2f)", score))
		return false, ErrAlreadyBlocked
	}

	pending := &types.PendingModification{
		Proposed:        proposed,
		SimilarityScore: score,
		SimilarToID:     similarToID,
		ProposedAt:      time.Now().UTC(),
	}
	reason := fmt.Sprintf("proposed modification is %.0f%% similar to item %s", score*100, similarToID)
	if err := b.store.BlockWorkItem(ctx, itemID, reason, pending); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race with another proposal
			b.logger.Warnw("rejecting modification proposal, item blocked concurrently", "item_id", itemID)
			return false, ErrAlreadyBlocked
		}
		return false, err
	}
	_ = b.store.AddEvent(ctx, types.ScopeWorkItem, itemID, "modblock", "blocked", reason)
	return true, nil
}

// Approve replaces the blocked item with a new active item built from the
// staged fields. Exactly one new item results; the original is archived.
func (b *Blocker) Approve(ctx context.Context, itemID string) (*types.WorkItem, error) {
	item, err := b.store.GetWorkItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != types.ItemBlocked || item.Pending == nil {
		return nil, fmt.Errorf("work item %s has no pending modification: %w", itemID, storage.ErrConflict)
	}

	p := item.Pending.Proposed
	replacement := &types.WorkItem{
		ID:          uuid.New().String(),
		ProjectID:   item.ProjectID,
		Title:       p.Title,
		Description: p.Description,
		Kind:        item.Kind,
		Status:      types.ItemActive,
		StoryPoints: p.StoryPoints,
		DependsOn:   item.DependsOn,
		CreatedAt:   time.Now().UTC(),
	}
	if replacement.StoryPoints == 0 {
		replacement.StoryPoints = item.StoryPoints
	}
	if err := b.store.ReplaceWorkItem(ctx, itemID, replacement); err != nil {
		return nil, err
	}

	if err := b.IndexItem(ctx, replacement); err != nil {
		b.logger.Warnw("failed to index replacement item", "item_id", replacement.ID, "error", err)
	}
	_ = b.store.AddEvent(ctx, types.ScopeWorkItem, itemID, "modblock", "approved",
		fmt.Sprintf("replaced by %s", replacement.ID))
	return replacement, nil
}

// Reject discards the staged modification. The item returns to active
// with its original fields untouched; the reason is kept for audit only.
func (b *Blocker) Reject(ctx context.Context, itemID, reason string) error {
	if err := b.store.UnblockWorkItem(ctx, itemID); err != nil {
		return err
	}
	if reason == "" {
		reason = "rejected without reason"
	}
	_ = b.store.AddEvent(ctx, types.ScopeWorkItem, itemID, "modblock", "rejected", reason)
	return nil
}

// IsLocked reports whether ordinary workflow operations on the item must
// be refused. The CRUD layer consults this before reorder and status moves.
func (b *Blocker) IsLocked(ctx context.Context, itemID string) (bool, error) {
	item, err := b.store.GetWorkItem(ctx, itemID)
	if err != nil {
		return false, err
	}
	return item.IsLocked(), nil
}

func itemText(item *types.WorkItem) string {
	return strings.TrimSpace(item.Title + "\n" + item.Description)
}

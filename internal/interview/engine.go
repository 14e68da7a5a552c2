// Package interview implements the conversation state machine that
// generates a strictly non-repeating sequence of AI-authored questions:
// INIT → QUESTIONING ⇄ (AWAITING_ANSWER → ANSWERED) → COMPLETED, with
// ABANDONED reachable from any non-terminal state.
//
// Non-repetition is enforced structurally: every prompt carries the full
// untruncated turn history plus retrieved prior questions with an explicit
// avoid-repeats instruction, and the response cache is disabled on this
// path unconditionally. A transient provider failure never terminates an
// interview; it degrades to a deterministic fallback question.
package interview

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/ai"
	"github.com/taskweave/taskweave/internal/embedding"
	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/telemetry"
	"github.com/taskweave/taskweave/internal/types"
	"github.com/taskweave/taskweave/internal/vector"
)

// Caller abstracts the AI orchestrator for testability
type Caller interface {
	Execute(ctx context.Context, req ai.Request) (*ai.Result, error)
}

// Config holds interview engine tuning
type Config struct {
	// RetrievalTopK prior questions are surfaced per prompt (default: 10)
	RetrievalTopK int
	// RetrievalThreshold is deliberately low so even loosely related
	// prior questions steer the prompt (default: 0.3)
	RetrievalThreshold float32
	// DuplicateThreshold is the hard cutoff above which a generated
	// question counts as a repeat (default: 0.9)
	DuplicateThreshold float32
	// MaxQuestions completes the interview once reached (default: 20)
	MaxQuestions int
	// QuestionMaxTokens bounds each generation call (default: 500)
	QuestionMaxTokens int
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		RetrievalTopK:      10,
		RetrievalThreshold: 0.3,
		DuplicateThreshold: 0.9,
		MaxQuestions:       20,
		QuestionMaxTokens:  500,
	}
}

// Engine drives interviews
type Engine struct {
	store    storage.Storage
	caller   Caller
	embedder embedding.Embedder
	index    *vector.Index
	cfg      Config
	logger   *zap.SugaredLogger
}

// NewEngine creates an interview engine
func NewEngine(store storage.Storage, caller Caller, embedder embedding.Embedder, index *vector.Index, cfg Config, logger *zap.SugaredLogger) (*Engine, error) {
	if store == nil || caller == nil || embedder == nil || index == nil {
		return nil, fmt.Errorf("store, caller, embedder, and index are required")
	}
	if cfg.RetrievalTopK == 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{store: store, caller: caller, embedder: embedder, index: index, cfg: cfg, logger: logger}, nil
}

// Reply is what a start or next call hands back to the HTTP layer
type Reply struct {
	Question *types.Turn `json:"question,omitempty"`
	Done     bool        `json:"done"`
}

// Start generates the first question for an interview. A failed provider
// call never aborts interview creation: transient failures degrade to the
// deterministic fallback; only auth failures surface.
func (e *Engine) Start(ctx context.Context, interviewID string, pc types.ProjectContext) (*Reply, error) {
	iv, err := e.store.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Status.IsTerminal() {
		return nil, storage.ErrConflict
	}
	if iv.QuestionCount() > 0 {
		return nil, fmt.Errorf("interview %s already started", interviewID)
	}

	prompt := strategyFor(iv.Mode).startPrompt(pc, iv.FocusTopics)
	turn, err := e.generateQuestion(ctx, iv, prompt, func() types.Turn {
		return fallbackStartQuestion(pc)
	})
	if err != nil {
		return nil, err
	}

	if err := e.storeQuestion(ctx, iv, *turn); err != nil {
		return nil, err
	}
	return &Reply{Question: turn}, nil
}

// Next appends the user's answer and generates the following question, or
// signals completion once the question cap is reached
func (e *Engine) Next(ctx context.Context, interviewID, answer string) (*Reply, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, fmt.Errorf("answer must not be empty")
	}

	iv, err := e.store.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Status.IsTerminal() {
		return nil, storage.ErrConflict
	}
	if iv.QuestionCount() == 0 {
		return nil, fmt.Errorf("interview %s has no opening question yet", interviewID)
	}

	answerTurn := types.Turn{Role: types.RoleAnswer, Text: answer, CreatedAt: time.Now().UTC()}
	if err := e.store.AppendTurns(ctx, interviewID, []types.Turn{answerTurn}); err != nil {
		return nil, err
	}
	iv.Turns = append(iv.Turns, answerTurn)

	if iv.QuestionCount() >= e.cfg.MaxQuestions {
		if err := e.store.SetInterviewStatus(ctx, interviewID, types.InterviewCompleted); err != nil {
			return nil, err
		}
		return &Reply{Done: true}, nil
	}

	related := e.relatedQuestions(ctx, iv, answer)
	pc := types.ProjectContext{ProjectID: iv.ProjectID}
	prompt := strategyFor(iv.Mode).nextPrompt(pc, iv.Turns, related)

	ordinal := iv.QuestionCount() + 1
	turn, err := e.generateQuestion(ctx, iv, prompt, func() types.Turn {
		return fallbackNextQuestion(answer, ordinal)
	})
	if err != nil {
		return nil, err
	}

	if err := e.storeQuestion(ctx, iv, *turn); err != nil {
		return nil, err
	}
	return &Reply{Question: turn}, nil
}

// Complete marks an interview completed
func (e *Engine) Complete(ctx context.Context, interviewID string) error {
	return e.store.SetInterviewStatus(ctx, interviewID, types.InterviewCompleted)
}

// Abandon marks an interview abandoned. Legal from any non-terminal state.
func (e *Engine) Abandon(ctx context.Context, interviewID string) error {
	return e.store.SetInterviewStatus(ctx, interviewID, types.InterviewAbandoned)
}

// generateQuestion calls the provider with caching disabled and falls
// back to the deterministic template on transient failure. The returned
// turn is not yet persisted.
func (e *Engine) generateQuestion(ctx context.Context, iv *types.Interview, prompt string, fallback func() types.Turn) (*types.Turn, error) {
	res, err := e.caller.Execute(ctx, ai.Request{
		Prompt:      prompt,
		UsageType:   "interview_question",
		Scope:       iv.ProjectID,
		Complexity:  types.ComplexityLow,
		MaxTokens:   e.cfg.QuestionMaxTokens,
		EnableCache: false, // a cached answer here is silently repeated output
	})
	if err != nil {
		if ai.IsAuth(err) {
			// Degrading here would hide a configuration problem
			return nil, err
		}
		e.logger.Warnw("question generation failed, serving fallback",
			"interview_id", iv.ID, "error", err)
		_ = e.store.AddEvent(ctx, types.ScopeInterview, iv.ID, "engine", "fallback_question", err.Error())
		telemetry.CountFallbackQuestion()
		turn := fallback()
		turn.CreatedAt = time.Now().UTC()
		return &turn, nil
	}

	text := strings.TrimSpace(res.Content)
	if dup := e.duplicateOf(ctx, iv, text); dup != "" {
		// Structural enforcement should make this rare; when the model
		// repeats itself anyway, the ordinal-bearing fallback is
		// guaranteed distinct.
		e.logger.Warnw("generated question repeats a prior question, serving fallback",
			"interview_id", iv.ID, "duplicate_of", dup)
		_ = e.store.AddEvent(ctx, types.ScopeInterview, iv.ID, "engine", "duplicate_question", dup)
		turn := fallback()
		turn.CreatedAt = time.Now().UTC()
		return &turn, nil
	}

	if err := e.store.AddInterviewUsage(ctx, iv.ID, res.TokensIn, res.TokensOut, res.CostUSD); err != nil {
		e.logger.Warnw("failed to record interview usage", "interview_id", iv.ID, "error", err)
	}
	return &types.Turn{Role: types.RoleQuestion, Text: text, CreatedAt: time.Now().UTC()}, nil
}

// storeQuestion persists the question record (embedding included) before
// appending the turn, so every question — fallbacks included — lands in
// the dedup index exactly once and before the caller sees it.
func (e *Engine) storeQuestion(ctx context.Context, iv *types.Interview, turn types.Turn) error {
	vec, err := e.embedder.Embed(ctx, turn.Text)
	if err != nil {
		// The question still ships; it just won't steer retrieval.
		e.logger.Warnw("failed to embed question", "interview_id", iv.ID, "error", err)
		vec = nil
	}
	rec := vector.Record{
		ID:        uuid.New().String(),
		Scope:     iv.ID,
		Kind:      vector.KindQuestion,
		Text:      turn.Text,
		Embedding: vec,
	}
	if err := e.index.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed to store question record: %w", err)
	}
	return e.store.AppendTurns(ctx, iv.ID, []types.Turn{turn})
}

// relatedQuestions retrieves prior questions for the avoid-repeats block
func (e *Engine) relatedQuestions(ctx context.Context, iv *types.Interview, answer string) []string {
	vec, err := e.embedder.Embed(ctx, answer)
	if err != nil {
		e.logger.Warnw("failed to embed answer for retrieval", "interview_id", iv.ID, "error", err)
		return e.allQuestionTexts(ctx, iv)
	}
	results, err := e.index.Search(ctx, iv.ID, vector.KindQuestion, vec, e.cfg.RetrievalTopK)
	if err != nil {
		e.logger.Warnw("prior question retrieval failed", "interview_id", iv.ID, "error", err)
		return e.allQuestionTexts(ctx, iv)
	}
	var related []string
	for _, r := range results {
		if r.Score >= e.cfg.RetrievalThreshold {
			related = append(related, r.Text)
		}
	}
	if len(related) == 0 {
		// Retrieval found nothing loosely related; fall back to every
		// stored question so the instruction block is never empty.
		return e.allQuestionTexts(ctx, iv)
	}
	return related
}

func (e *Engine) allQuestionTexts(ctx context.Context, iv *types.Interview) []string {
	var texts []string
	for _, t := range iv.Turns {
		if t.Role == types.RoleQuestion {
			texts = append(texts, t.Text)
		}
	}
	return texts
}

// duplicateOf returns the text of a stored question the candidate
// hard-duplicates, or "" if the candidate is acceptable
func (e *Engine) duplicateOf(ctx context.Context, iv *types.Interview, candidate string) string {
	vec, err := e.embedder.Embed(ctx, candidate)
	if err != nil {
		return ""
	}
	results, err := e.index.Search(ctx, iv.ID, vector.KindQuestion, vec, 1)
	if err != nil || len(results) == 0 {
		return ""
	}
	if results[0].Score >= e.cfg.DuplicateThreshold {
		return results[0].Text
	}
	return ""
}

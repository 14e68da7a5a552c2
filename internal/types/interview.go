package types

import (
	"fmt"
	"time"
)

// InterviewStatus represents the lifecycle state of an interview
type InterviewStatus string

const (
	InterviewActive    InterviewStatus = "active"
	InterviewCompleted InterviewStatus = "completed"
	InterviewAbandoned InterviewStatus = "abandoned"
)

// IsValid checks if the status is a known value
func (s InterviewStatus) IsValid() bool {
	switch s {
	case InterviewActive, InterviewCompleted, InterviewAbandoned:
		return true
	}
	return false
}

// IsTerminal reports whether the interview can no longer accept turns
func (s InterviewStatus) IsTerminal() bool {
	return s == InterviewCompleted || s == InterviewAbandoned
}

// TurnRole distinguishes who authored a turn
type TurnRole string

const (
	RoleQuestion TurnRole = "question"
	RoleAnswer   TurnRole = "answer"
)

// Turn is one entry in an interview's append-only history.
// Turns are values: producing the next history means appending a new
// turn to a copy, never mutating an existing slice element in place.
type Turn struct {
	Role      TurnRole  `json:"role"`
	Text      string    `json:"text"`
	Choices   []string  `json:"choices,omitempty"` // offered options for closed-ended questions
	Fallback  bool      `json:"fallback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InterviewMode tags the conversation style. The engine dispatches one
// prompt strategy per mode; the tag is otherwise opaque.
type InterviewMode string

const (
	ModeDiscovery  InterviewMode = "discovery"
	ModeRefinement InterviewMode = "refinement"
	ModeRetro      InterviewMode = "retro"
)

// IsValid checks if the mode is a known value
func (m InterviewMode) IsValid() bool {
	switch m {
	case ModeDiscovery, ModeRefinement, ModeRetro:
		return true
	}
	return false
}

// Interview is a turn-based AI-driven question/answer session tied to a project
type Interview struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Mode        InterviewMode   `json:"mode"`
	Status      InterviewStatus `json:"status"`
	Turns       []Turn          `json:"turns"`
	FocusTopics []string        `json:"focus_topics,omitempty"`
	TokensIn    int64           `json:"tokens_in"`
	TokensOut   int64           `json:"tokens_out"`
	CostUSD     float64         `json:"cost_usd"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate checks if the interview has valid field values
func (iv *Interview) Validate() error {
	if iv.ID == "" {
		return fmt.Errorf("id is required")
	}
	if iv.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if !iv.Mode.IsValid() {
		return fmt.Errorf("invalid interview mode: %s", iv.Mode)
	}
	if !iv.Status.IsValid() {
		return fmt.Errorf("invalid interview status: %s", iv.Status)
	}
	return nil
}

// LastAnswer returns the text of the most recent user answer, if any
func (iv *Interview) LastAnswer() (string, bool) {
	for i := len(iv.Turns) - 1; i >= 0; i-- {
		if iv.Turns[i].Role == RoleAnswer {
			return iv.Turns[i].Text, true
		}
	}
	return "", false
}

// QuestionCount returns the number of question turns stored so far
func (iv *Interview) QuestionCount() int {
	n := 0
	for _, t := range iv.Turns {
		if t.Role == RoleQuestion {
			n++
		}
	}
	return n
}

// QuestionRecord is the dedup record stored for every generated question,
// fallback questions included. Created exactly once per question, before
// the question is returned to the caller.
type QuestionRecord struct {
	ID          string    `json:"id"`
	InterviewID string    `json:"interview_id"`
	ProjectID   string    `json:"project_id"`
	Text        string    `json:"text"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProjectContext carries the descriptive context embedded in prompts
type ProjectContext struct {
	ProjectID   string `json:"project_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

package interview

import (
	"fmt"
	"strings"

	"github.com/taskweave/taskweave/internal/types"
)

// strategy builds prompts for one interview mode. Mode dispatch happens
// here once, instead of string comparisons scattered through the engine.
type strategy interface {
	// startPrompt builds the prompt for the first question
	startPrompt(pc types.ProjectContext, topics []string) string
	// nextPrompt builds the prompt for a follow-up question from the
	// full, untruncated turn history plus related prior questions
	nextPrompt(pc types.ProjectContext, turns []types.Turn, related []string) string
}

func strategyFor(mode types.InterviewMode) strategy {
	switch mode {
	case types.ModeRefinement:
		return refinementStrategy{}
	case types.ModeRetro:
		return retroStrategy{}
	default:
		return discoveryStrategy{}
	}
}

// renderHistory renders the full turn history. The engine never truncates
// or summarizes it: losing early turns is exactly what breaks the
// non-repetition guarantee in practice.
func renderHistory(turns []types.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		switch t.Role {
		case types.RoleQuestion:
			fmt.Fprintf(&b, "INTERVIEWER: %s\n", t.Text)
		case types.RoleAnswer:
			fmt.Fprintf(&b, "USER: %s\n", t.Text)
		}
	}
	return b.String()
}

// renderRelated lists previously asked questions the new question must
// not repeat, retrieved with a deliberately low similarity threshold so
// even loosely related questions surface.
func renderRelated(related []string) string {
	if len(related) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for i, q := range related {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return b.String()
}

const questionRules = `RULES:
1. Ask exactly ONE question.
2. The question must NOT semantically repeat any previously asked question listed above, even reworded.
3. Prefer concrete, closed-ended questions the user can answer in one sentence.
4. Respond with only the question text, no preamble and no markdown.`

type discoveryStrategy struct{}

func (discoveryStrategy) startPrompt(pc types.ProjectContext, topics []string) string {
	focus := ""
	if len(topics) > 0 {
		focus = fmt.Sprintf("\nBias your questioning toward these focus topics: %s.", strings.Join(topics, ", "))
	}
	return fmt.Sprintf(`You are interviewing a user to discover the requirements of a new project.

PROJECT: %s
DESCRIPTION: %s%s

Ask the single most valuable opening question to understand what the user needs to build first.

%s`, pc.Name, pc.Description, focus, questionRules)
}

func (discoveryStrategy) nextPrompt(pc types.ProjectContext, turns []types.Turn, related []string) string {
	return fmt.Sprintf(`You are continuing a requirements discovery interview.

QUESTIONS YOU HAVE ALREADY ASKED (do not repeat any of these, even reworded):
%s
FULL CONVERSATION SO FAR:
%s
Ask the next most valuable question, building on the user's latest answer and covering ground not yet explored.

%s`, renderRelated(related), renderHistory(turns), questionRules)
}

type refinementStrategy struct{}

func (refinementStrategy) startPrompt(pc types.ProjectContext, topics []string) string {
	focus := ""
	if len(topics) > 0 {
		focus = fmt.Sprintf("\nFocus topics: %s.", strings.Join(topics, ", "))
	}
	return fmt.Sprintf(`You are refining the backlog of an existing project with its owner.

PROJECT: %s
DESCRIPTION: %s%s

Ask one sharp question that surfaces the most important ambiguity or missing detail in the current plan.

%s`, pc.Name, pc.Description, focus, questionRules)
}

func (refinementStrategy) nextPrompt(pc types.ProjectContext, turns []types.Turn, related []string) string {
	return fmt.Sprintf(`You are continuing a backlog refinement interview.

QUESTIONS YOU HAVE ALREADY ASKED (do not repeat any of these, even reworded):
%s
FULL CONVERSATION SO FAR:
%s
Ask the next question that pins down scope, ordering, or acceptance detail. Go narrower than before, never repeat covered ground.

%s`, renderRelated(related), renderHistory(turns), questionRules)
}

type retroStrategy struct{}

func (retroStrategy) startPrompt(pc types.ProjectContext, topics []string) string {
	return fmt.Sprintf(`You are running a retrospective interview for a project.

PROJECT: %s
DESCRIPTION: %s

Ask one open question about what went well or badly in the most recent work.

%s`, pc.Name, pc.Description, questionRules)
}

func (retroStrategy) nextPrompt(pc types.ProjectContext, turns []types.Turn, related []string) string {
	return fmt.Sprintf(`You are continuing a retrospective interview.

QUESTIONS YOU HAVE ALREADY ASKED (do not repeat any of these, even reworded):
%s
FULL CONVERSATION SO FAR:
%s
Ask the next question, digging into causes or follow-up actions the user has not been asked about yet.

%s`, renderRelated(related), renderHistory(turns), questionRules)
}

package interview

import (
	"fmt"

	"github.com/taskweave/taskweave/internal/types"
)

// Deterministic fallback questions, served when the provider fails with a
// transient error. They interpolate the caller's own words verbatim so the
// interview stays anchored to real context, and each carries the question
// ordinal so consecutive fallbacks never collide with each other.

var fallbackStartChoices = []string{
	"Core features and functionality",
	"Target users and their workflows",
	"Integrations and external systems",
	"Timeline and priorities",
}

var fallbackNextChoices = []string{
	"Go deeper on this topic",
	"Move on to another area",
	"Review what we have so far",
}

// fallbackStartQuestion builds the first-question fallback. The project
// name and description appear verbatim.
func fallbackStartQuestion(pc types.ProjectContext) types.Turn {
	text := fmt.Sprintf(
		"Let's get started on %s (%s). Which of these areas should we dig into first?",
		pc.Name, pc.Description)
	return types.Turn{
		Role:     types.RoleQuestion,
		Text:     text,
		Choices:  append([]string(nil), fallbackStartChoices...),
		Fallback: true,
	}
}

// fallbackNextQuestion builds a follow-up fallback referencing the user's
// last answer verbatim. ordinal is the 1-based number of the question
// being generated.
func fallbackNextQuestion(lastAnswer string, ordinal int) types.Turn {
	text := fmt.Sprintf(
		"Thanks — noted on %q. For question %d, how would you like to proceed?",
		lastAnswer, ordinal)
	return types.Turn{
		Role:     types.RoleQuestion,
		Text:     text,
		Choices:  append([]string(nil), fallbackNextChoices...),
		Fallback: true,
	}
}

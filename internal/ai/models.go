package ai

import (
	"os"

	"github.com/taskweave/taskweave/internal/types"
)

// Tiered model strategy: the stronger model handles high-complexity
// requests (batch generation for large items, refinement), the cheaper
// model handles everything else. The caller supplies the complexity
// signal, typically derived from estimated item size.
//
// Environment variable overrides:
//   - TASKWEAVE_MODEL_DEFAULT: override the high-complexity model
//   - TASKWEAVE_MODEL_SIMPLE: override the low-complexity model
const (
	// ModelSonnet is the high-end model for complex reasoning tasks
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model for simple tasks
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// ProviderAnthropic is the provider tag used in pricing lookups and results
const ProviderAnthropic = "anthropic"

// GetDefaultModel returns the default model, checking TASKWEAVE_MODEL_DEFAULT first
func GetDefaultModel() string {
	if model := os.Getenv("TASKWEAVE_MODEL_DEFAULT"); model != "" {
		return model
	}
	return ModelSonnet
}

// GetSimpleTaskModel returns the model for simple tasks, checking TASKWEAVE_MODEL_SIMPLE first
func GetSimpleTaskModel() string {
	if model := os.Getenv("TASKWEAVE_MODEL_SIMPLE"); model != "" {
		return model
	}
	return ModelHaiku
}

// SelectModel picks a model for the given complexity signal
func SelectModel(c types.Complexity) string {
	if c == types.ComplexityHigh {
		return GetDefaultModel()
	}
	return GetSimpleTaskModel()
}

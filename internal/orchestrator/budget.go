package orchestrator

import (
	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/llm"
)

// AffordableModels returns the planner-facing model summaries affordable
// under t's remaining budget; models the ticket can no longer pay for are
// filtered out.
func AffordableModels(registry *llm.Registry, t *board.Ticket) []llm.Summary {
	return registry.GetAvailableLlmSummaries(t.RemainingBudget())
}

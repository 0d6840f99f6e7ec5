package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/driver"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// maxContextResets is how many times a subtask's conversation is finalized
// and restarted with a resume prompt before giving up, so a subtask gets at
// most maxContextResets+1 conversations.
const maxContextResets = 2

// RunDeveloper drives one subtask to completion. A
// pre-existing ConversationData at conversationID (a crash between
// start_developer and the Developer finishing) is reconstituted instead of
// starting over. On MaxIterationsReached/Completed without end_subtask, the
// conversation is finalized and a new one opened with a resume prompt, up to
// maxContextResets times.
func (o *Orchestrator) RunDeveloper(ctx context.Context, ticket *board.Ticket, taskID, subtaskID string, svc, subAgentSvc *llm.Service, conversationID string) (string, error) {
	task, ok := ticket.FindTask(taskID)
	if !ok {
		return "", fmt.Errorf("orchestrator: unknown task %q on ticket %q", taskID, ticket.ID)
	}
	subtask, ok := task.FindSubtask(subtaskID)
	if !ok {
		return "", fmt.Errorf("orchestrator: unknown subtask %q on task %q", subtaskID, taskID)
	}
	if subtask.Status == board.SubtaskIncomplete {
		if err := o.Board.SetSubtaskStatus(ticket.ID, taskID, subtaskID, board.SubtaskInProgress); err != nil {
			o.Log.Warn("orchestrator: mark subtask in-progress failed", "ticket", ticket.ID, "subtask", subtaskID, "error", err)
		}
	}

	userGoal := fmt.Sprintf("Task: %s\n%s\n\nSubtask: %s\n%s", task.Name, task.Description, subtask.Name, subtask.Description)
	userFocus := ""
	id := conversationID

	for attempt := 0; attempt <= maxContextResets; attempt++ {
		existing, err := o.Store.Get(ticket.ID, id)
		if err != nil {
			return "", fmt.Errorf("orchestrator: load developer conversation: %w", err)
		}

		memories := convo.NewMemoryStore()
		fresh := existing == nil
		var data *convo.Data
		if fresh {
			data = &convo.Data{
				ID:          id,
				TicketID:    ticket.ID,
				DisplayName: "Developer: " + subtask.Name,
				Role:        convo.RoleDeveloper,
				Strategy:    o.DefaultStrategy,
				StartedAt:   time.Now(),
			}
		} else {
			data = existing
			memories.Restore(data.Memories)
		}

		lc := o.buildConversation(ticket, data, memories, svc, fresh, userGoal, userFocus)
		lc.taskID, lc.subtaskID, lc.subAgentSvc = taskID, subtaskID, subAgentSvc
		o.track(data.ID, lc)
		o.persist(lc)

		result, err := o.driveRole(ctx, lc, ticket, svc, tool.RoleDeveloper, "")
		o.untrack(data.ID)
		if err != nil {
			return "", err
		}

		if result.Outcome == driver.OutcomeToolRequestedExit && result.FinalToolName == tool.ToolEndSubtask {
			o.finishConversation(lc)
			return lc.getExitResult(), nil
		}

		o.finishConversation(lc)
		if attempt == maxContextResets {
			break
		}
		id = fmt.Sprintf("%s-reset%d", conversationID, attempt+1)
		userFocus = "You were working on this subtask across a prior conversation that ran out of iterations without finishing. Decide whether to continue where you left off or take a fresh approach."
	}

	return "", fmt.Errorf("orchestrator: subtask %q exhausted %d context resets without end_subtask", subtaskID, maxContextResets)
}

package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// registerBoardTools registers the ticket-facing tools every role (save
// Compaction) can see in some form: logging, task/subtask creation, work
// selection, LLM notes, subtask completion, and the Planner's terminal
// complete_ticket call.
func (o *Orchestrator) registerBoardTools() {
	o.tools.Register(tool.Define(tool.ToolTicketLog, "Append a line to the ticket's activity log.", []tool.Param{
		{Name: "message", Type: tool.TypeString, Description: "Activity log entry.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in struct {
			Message string `json:"message"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		if aerr := o.Board.AppendActivity(lc.ticket.ID, "%s", in.Message); aerr != nil {
			return tool.ToolResult{Response: aerr.Error()}, nil
		}
		return tool.ToolResult{Response: "logged"}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolCreateTask, "Create or update a task on the ticket.", []tool.Param{
		{Name: "name", Type: tool.TypeString, Description: "Task name (idempotency key).", Required: true},
		{Name: "description", Type: tool.TypeString, Description: "Task description.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		task, terr := o.Board.AddTask(lc.ticket.ID, in.Name, in.Description)
		if terr != nil {
			return tool.ToolResult{Response: terr.Error()}, nil
		}
		payload, _ := json.Marshal(map[string]string{"task_id": task.ID})
		return tool.ToolResult{Response: string(payload)}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolCreateSubtask, "Create or update a subtask under an existing task.", []tool.Param{
		{Name: "task_id", Type: tool.TypeString, Description: "Owning task id.", Required: true},
		{Name: "name", Type: tool.TypeString, Description: "Subtask name (idempotency key).", Required: true},
		{Name: "description", Type: tool.TypeString, Description: "Subtask description.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in struct {
			TaskID      string `json:"task_id"`
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		sub, serr := o.Board.AddSubtask(lc.ticket.ID, in.TaskID, in.Name, in.Description)
		if serr != nil {
			return tool.ToolResult{Response: serr.Error()}, nil
		}
		payload, _ := json.Marshal(map[string]string{"subtask_id": sub.ID})
		return tool.ToolResult{Response: string(payload)}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolNextWorkItem, "Look up the next incomplete subtask across the ticket's tasks.", nil, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		for _, task := range lc.ticket.Tasks {
			for _, sub := range task.Subtasks {
				if sub.Status == board.SubtaskIncomplete {
					payload, _ := json.Marshal(map[string]string{
						"task_id": task.ID, "task_name": task.Name,
						"subtask_id": sub.ID, "subtask_name": sub.Name, "subtask_description": sub.Description,
					})
					return tool.ToolResult{Response: string(payload)}, nil
				}
			}
		}
		return tool.ToolResult{Response: `{"message":"no remaining work"}`}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolUpdateLLMNote, "Update an LLM config's strengths/weaknesses notes.", []tool.Param{
		{Name: "llm_config_id", Type: tool.TypeString, Description: "LLM config id to update.", Required: true},
		{Name: "strengths", Type: tool.TypeString, Description: "Free-form strengths note."},
		{Name: "weaknesses", Type: tool.TypeString, Description: "Free-form weaknesses note."},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		var in struct {
			LlmConfigID string `json:"llm_config_id"`
			Strengths   string `json:"strengths"`
			Weaknesses  string `json:"weaknesses"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		if !o.Registry.UpdateLlmNotes(in.LlmConfigID, in.Strengths, in.Weaknesses) {
			return tool.ToolResult{Response: "unknown llm_config_id"}, nil
		}
		return tool.ToolResult{Response: "updated"}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolEndSubtask, "Mark the Developer's assigned subtask complete.", []tool.Param{
		{Name: "result", Type: tool.TypeString, Description: "Summary of what was done.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in struct {
			Result string `json:"result"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		task, ok := lc.ticket.FindTask(lc.taskID)
		if !ok {
			return tool.ToolResult{Response: "unknown task for this conversation"}, nil
		}
		sub, ok := task.FindSubtask(lc.subtaskID)
		if !ok {
			return tool.ToolResult{Response: "unknown subtask for this conversation"}, nil
		}
		if serr := sub.SetStatus(board.SubtaskComplete); serr != nil {
			return tool.ToolResult{Response: serr.Error()}, nil
		}
		if aerr := o.Board.AppendActivity(lc.ticket.ID, "Subtask completed: %s", in.Result); aerr != nil {
			o.Log.Warn("orchestrator: log subtask completion failed", "ticket", lc.ticket.ID, "error", aerr)
		}
		lc.setExitResult(in.Result)
		return tool.ToolResult{Response: "subtask completed", ExitLoop: true}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolCompleteTicket, "Mark the ticket's planning work finished.", []tool.Param{
		{Name: "result", Type: tool.TypeString, Description: "Summary of the completed ticket.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in struct {
			Result string `json:"result"`
		}
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		if terr := o.Board.UpdateStatus(lc.ticket.ID, board.StatusDone); terr != nil {
			// Backlog-scoped triage may call complete_ticket too (it sits
			// outside the matrix table, see toolset.go); an illegal Backlog
			// -> Done transition just means there is no Active work to close
			// out, so the planner loop still ends without changing status.
			o.Log.Info("orchestrator: complete_ticket did not transition ticket status", "ticket", lc.ticket.ID, "error", terr)
		}
		if aerr := o.Board.AppendActivity(lc.ticket.ID, "Ticket complete: %s", in.Result); aerr != nil {
			o.Log.Warn("orchestrator: log ticket completion failed", "ticket", lc.ticket.ID, "error", aerr)
		}
		lc.setExitResult(in.Result)
		return tool.ToolResult{Response: "ticket complete", ExitLoop: true}, nil
	}))
}

package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/kanbeast/kanbeast/internal/tool"
)

type pushContextArgs struct {
	Task    string `json:"task"`
	Details string `json:"details"`
}

type popContextArgs struct {
	Result    string `json:"result"`
	NextSteps string `json:"next_steps"`
}

type taskCompleteArgs struct {
	Result string `json:"result"`
}

// registerFrameTools registers the SFCM push_context/pop_context tools and
// the two ExitLoop-triggering tools that close out a conversation:
// agent_task_complete (Sub-agent) and ticket_end_subtask (Developer, see
// board_tools.go). Descriptions registered here are placeholders — toolsFor
// overrides them per-conversation from the live frame depth before each
// driver iteration.
func (o *Orchestrator) registerFrameTools() {
	pushParams := []tool.Param{
		{Name: "task", Type: tool.TypeString, Description: "The sub-task to focus on.", Required: true},
		{Name: "details", Type: tool.TypeString, Description: "Context the sub-task needs.", Required: true},
	}
	o.tools.Register(tool.Define(tool.ToolPushContext, "Open a new nested sub-task.", pushParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		if lc.sfcm == nil {
			return tool.ToolResult{Response: "push_context is only available on SFCM conversations"}, nil
		}
		var in pushContextArgs
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		lc.mu.Lock()
		defer lc.mu.Unlock()
		if _, perr := lc.sfcm.PushContext(in.Task, in.Details); perr != nil {
			return tool.ToolResult{Response: perr.Error()}, nil
		}
		return tool.ToolResult{Response: "frame opened", MessageHandled: true}, nil
	}))

	popParams := []tool.Param{
		{Name: "result", Type: tool.TypeString, Description: "What this sub-task accomplished.", Required: true},
		{Name: "next_steps", Type: tool.TypeString, Description: "What to focus on next.", Required: true},
	}
	o.tools.Register(tool.Define(tool.ToolPopContext, "Close the current sub-task and return to its parent.", popParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		if lc.sfcm == nil {
			return tool.ToolResult{Response: "pop_context is only available on SFCM conversations"}, nil
		}
		var in popContextArgs
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		lc.mu.Lock()
		defer lc.mu.Unlock()
		if perr := lc.sfcm.PopContext(in.Result, in.NextSteps); perr != nil {
			return tool.ToolResult{Response: perr.Error()}, nil
		}
		return tool.ToolResult{Response: "frame closed", MessageHandled: true}, nil
	}))

	o.tools.Register(tool.Define(tool.ToolTaskComplete, "Signal that this sub-agent's assigned task is finished.", []tool.Param{
		{Name: "result", Type: tool.TypeString, Description: "Summary of what was accomplished.", Required: true},
	}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		var in taskCompleteArgs
		if jerr := json.Unmarshal(args, &in); jerr != nil {
			return tool.ToolResult{Response: "invalid arguments: " + jerr.Error()}, nil
		}
		lc.setExitResult(in.Result)
		return tool.ToolResult{Response: "acknowledged", ExitLoop: true}, nil
	}))
}

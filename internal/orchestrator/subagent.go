package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/driver"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// subAgentNudge is the message a Sub-agent receives when it exhausts its
// iteration budget but the ticket still has room to spend.
const subAgentNudge = "Continue working. Call agent_task_complete when done."

// RunSubAgent drives a Sub-agent conversation sharing parent's memory store
// by reference, so memory_add/memory_remove calls made by
// either side are visible to both. Unlike RunPlanner/RunDeveloper it does not
// use driveRole, since a max-iterations outcome here is not necessarily
// terminal: it is retried with subAgentNudge as long as the ticket's
// remaining budget isn't exhausted.
func (o *Orchestrator) RunSubAgent(ctx context.Context, ticket *board.Ticket, parent *liveConversation, task, details, conversationID string) (string, error) {
	svc := parent.subAgentSvc
	if svc == nil {
		svc = parent.svc
	}

	existing, err := o.Store.Get(ticket.ID, conversationID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load sub-agent conversation: %w", err)
	}

	fresh := existing == nil
	var data *convo.Data
	if fresh {
		data = &convo.Data{
			ID:          conversationID,
			TicketID:    ticket.ID,
			DisplayName: "Sub-agent: " + task,
			Role:        convo.RoleSubAgent,
			Strategy:    o.DefaultStrategy,
			StartedAt:   time.Now(),
		}
	} else {
		data = existing
	}

	lc := o.buildConversation(ticket, data, parent.memories, svc, fresh, task, details)
	o.track(data.ID, lc)
	defer o.untrack(data.ID)
	o.persist(lc)

	ticketActive := ticket.Status == board.StatusActive
	opts := driver.Options{
		ConversationID: data.ID,
		Hub:            o.Hub,
		MaxIterations:  o.MaxIterations,
		MaxCost:        ticket.RemainingBudget(),
		Req: llm.IterationRequest{
			Tools:               o.toolsFor(lc, tool.RoleSubAgent, ticketActive),
			Registry:            o.tools,
			ToolCtx:             &tool.ToolContext{Context: ctx, TicketID: ticket.ID, ConversationID: data.ID, AgentRole: tool.RoleSubAgent},
			DispatchConcurrency: o.DispatchConcurrency,
		},
		OnIteration:  o.recordIteration(lc, 0),
		OnCompletion: o.nudgeHook(lc),
	}

	for {
		result, err := driver.Run(ctx, svc, lc.conversation(), opts)
		if err != nil {
			return "", err
		}
		switch result.Outcome {
		case driver.OutcomeToolRequestedExit:
			if result.FinalToolName == tool.ToolTaskComplete {
				o.finishConversation(lc)
				return lc.getExitResult(), nil
			}
			o.finishConversation(lc)
			return "", fmt.Errorf("orchestrator: sub-agent exited via unexpected tool %q", result.FinalToolName)
		case driver.OutcomeModelChanged:
			next := o.Registry.GetService(result.NewConfigID)
			if next == nil {
				return "", fmt.Errorf("orchestrator: model switch requested unknown config %q", result.NewConfigID)
			}
			svc = next
			lc.conversation().Append(convo.Message{Role: convo.RoleSystem, Content: "Model switched to " + next.Config().Model, CreatedAt: time.Now()})
			opts.StartIteration = result.StartIteration
			opts.StartCost = result.StartCost
			continue
		case driver.OutcomeMaxIterationsReached:
			if ticket.MaxCost > 0 && ticket.RemainingBudget() <= 0 {
				o.finishConversation(lc)
				return "", fmt.Errorf("orchestrator: sub-agent exhausted iterations and remaining budget")
			}
			opts.StartIteration = result.StartIteration
			opts.StartCost = result.StartCost
			opts.ContinueMessage = subAgentNudge
			continue
		default:
			o.finishConversation(lc)
			return "", fmt.Errorf("orchestrator: sub-agent ended with outcome %s: %s", result.Outcome, result.FailMessage)
		}
	}
}

var startSubAgentParams = []tool.Param{
	{Name: "task", Type: tool.TypeString, Description: "The task to delegate to the sub-agent.", Required: true},
	{Name: "details", Type: tool.TypeString, Description: "Context the sub-agent needs to complete the task.", Required: true},
}

// registerSubAgentTools registers start_sub_agent, available to Developer
// and Sub-agent conversations per the role->toolset matrix.
func (o *Orchestrator) registerSubAgentTools() {
	o.tools.Register(tool.Define(tool.ToolStartSubAgent, "Delegate a focused piece of work to a sub-agent. Blocks until the sub-agent calls agent_task_complete.", startSubAgentParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		var in struct {
			Task    string `json:"task"`
			Details string `json:"details"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return tool.ToolResult{Response: "invalid arguments: " + err.Error()}, nil
		}
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		summary, err := o.RunSubAgent(ctx, lc.ticket, lc, in.Task, in.Details, tc.ToolCallID)
		if err != nil {
			return tool.ToolResult{Response: "sub-agent failed: " + err.Error()}, nil
		}
		return tool.ToolResult{Response: summary}, nil
	}))
}

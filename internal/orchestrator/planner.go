package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/driver"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// plannerService resolves the *llm.Service a ticket's Planner conversation
// runs against: the ticket's configured PlannerLlm if set and available,
// otherwise the cheapest model the remaining budget still affords.
func (o *Orchestrator) plannerService(ticket *board.Ticket) (*llm.Service, error) {
	if ticket.PlannerLlm != "" {
		if svc := o.Registry.GetService(ticket.PlannerLlm); svc != nil {
			return svc, nil
		}
	}
	summaries := AffordableModels(o.Registry, ticket)
	var cheapest *llm.Service
	cheapestCost := 0.0
	for _, sum := range summaries {
		if !sum.IsAvailable {
			continue
		}
		if svc := o.Registry.GetService(sum.ID); svc != nil && (cheapest == nil || sum.CostPer1M < cheapestCost) {
			cheapest, cheapestCost = svc, sum.CostPer1M
		}
	}
	if cheapest != nil {
		return cheapest, nil
	}
	return nil, fmt.Errorf("orchestrator: no affordable llm available for ticket %q", ticket.ID)
}

// RunPlanner drives ticket's Planning conversation until
// complete_ticket (ToolRequestedExit) or a fatal reason. A pre-existing
// non-finished Planning conversation is reconstituted (worker-restart
// recovery); otherwise a fresh one is created.
func (o *Orchestrator) RunPlanner(ctx context.Context, ticket *board.Ticket) (string, error) {
	svc, err := o.plannerService(ticket)
	if err != nil {
		return "", err
	}

	existing, err := o.Store.GetActivePlanning(ticket.ID)
	if err != nil {
		return "", fmt.Errorf("orchestrator: load planning conversation: %w", err)
	}

	memories := convo.NewMemoryStore()
	fresh := existing == nil
	var data *convo.Data
	if fresh {
		data = &convo.Data{
			ID:          uuid.NewString(),
			TicketID:    ticket.ID,
			DisplayName: "Planning",
			Role:        convo.RolePlanning,
			Strategy:    o.DefaultStrategy,
			StartedAt:   time.Now(),
		}
	} else {
		data = existing
		memories.Restore(data.Memories)
	}

	lc := o.buildConversation(ticket, data, memories, svc, fresh, ticket.Title+"\n\n"+ticket.Description, "")
	o.track(data.ID, lc)
	defer o.untrack(data.ID)
	o.persist(lc)

	result, err := o.driveRole(ctx, lc, ticket, svc, tool.RolePlanning, "")
	if err != nil {
		return "", err
	}
	return o.finalizePlanner(lc, result)
}

// finalizePlanner persists/finishes the Planning conversation on a clean
// exit and surfaces an error for every other terminal outcome, since a
// Planner loop that runs dry without calling complete_ticket has nothing
// useful to report back to the caller.
func (o *Orchestrator) finalizePlanner(lc *liveConversation, result driver.Result) (string, error) {
	if result.Outcome == driver.OutcomeToolRequestedExit && result.FinalToolName == tool.ToolCompleteTicket {
		o.finishConversation(lc)
		return lc.getExitResult(), nil
	}
	o.persist(lc)
	return "", fmt.Errorf("orchestrator: planning conversation ended without complete_ticket (outcome=%s, fail=%q)", result.Outcome, result.FailMessage)
}

var startDeveloperParams = []tool.Param{
	{Name: "task_id", Type: tool.TypeString, Description: "The task id to assign a Developer to.", Required: true},
	{Name: "subtask_id", Type: tool.TypeString, Description: "The subtask id within task_id to assign a Developer to.", Required: true},
	{Name: "llm_config_id", Type: tool.TypeString, Description: "The LLM config id the Developer conversation runs against.", Required: true},
	{Name: "sub_agent_llm_config_id", Type: tool.TypeString, Description: "The LLM config id any Sub-agents this Developer spawns run against. Defaults to llm_config_id."},
}

// registerPlannerTools registers start_developer, the Planner's only way to
// hand a subtask to a Developer conversation. The tool-call id becomes the
// new conversation's id, so a crash between the call and its completion is
// recovered by reconstituting from the same id.
func (o *Orchestrator) registerPlannerTools() {
	o.tools.Register(tool.Define(tool.ToolStartDev, "Start a Developer conversation to work on one subtask. Blocks until the subtask finishes, fails, or exhausts its context resets.", startDeveloperParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		var in struct {
			TaskID            string `json:"task_id"`
			SubtaskID         string `json:"subtask_id"`
			LlmConfigID       string `json:"llm_config_id"`
			SubAgentLlmConfig string `json:"sub_agent_llm_config_id"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return tool.ToolResult{Response: "invalid arguments: " + err.Error()}, nil
		}
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		svc := o.Registry.GetService(in.LlmConfigID)
		if svc == nil {
			return tool.ToolResult{Response: fmt.Sprintf("unknown llm_config_id %q", in.LlmConfigID)}, nil
		}
		subAgentConfigID := in.SubAgentLlmConfig
		if subAgentConfigID == "" {
			subAgentConfigID = in.LlmConfigID
		}
		subAgentSvc := o.Registry.GetService(subAgentConfigID)
		if subAgentSvc == nil {
			return tool.ToolResult{Response: fmt.Sprintf("unknown sub_agent_llm_config_id %q", subAgentConfigID)}, nil
		}
		summary, err := o.RunDeveloper(ctx, lc.ticket, in.TaskID, in.SubtaskID, svc, subAgentSvc, tc.ToolCallID)
		if err != nil {
			return tool.ToolResult{Response: "developer failed: " + err.Error()}, nil
		}
		return tool.ToolResult{Response: summary}, nil
	}))
}

// Package orchestrator implements the Orchestrator (C7): Planner -> Developer
// -> Sub-agent nesting, role-scoped tool wiring, and budget propagation. It
// is the component that turns the Agent Driver's single-conversation loop
// (internal/driver) into the multi-agent system: it decides which
// conversation runs next, with which tools, against which model.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/convostore"
	"github.com/kanbeast/kanbeast/internal/driver"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/sfcm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// DefaultMaxIterations bounds one driver invocation; the orchestrator
// resets the counter when it chooses to continue a conversation.
const DefaultMaxIterations = 25

// DefaultDispatchConcurrency matches tool.DefaultConcurrency.
const DefaultDispatchConcurrency = 4

// liveConversation is the orchestrator's bookkeeping for one in-flight
// conversation: the strategy wrapper a tool handler mutates (push_context,
// memory edits, end_subtask) plus enough ticket/task context to resolve
// board mutations. Exactly one of compacting/sfcm is non-nil.
type liveConversation struct {
	mu sync.Mutex

	compacting *convo.CompactingConversation
	sfcm       *sfcm.Conversation
	memories   *convo.MemoryStore

	ticket    *board.Ticket
	taskID    string
	subtaskID string
	svc       *llm.Service
	subAgentSvc *llm.Service

	// exitResult holds the free-text argument an exit-triggering tool call
	// (complete_ticket, end_subtask, agent_task_complete) was given, since
	// driver.Result only carries FinalToolName, not the call's arguments.
	exitResult string
}

func (lc *liveConversation) setExitResult(s string) {
	lc.mu.Lock()
	lc.exitResult = s
	lc.mu.Unlock()
}

func (lc *liveConversation) getExitResult() string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.exitResult
}

func (lc *liveConversation) conversation() llm.Conversation {
	if lc.sfcm != nil {
		return lc.sfcm
	}
	return lc.compacting
}

func (lc *liveConversation) data() *convo.Data {
	if lc.sfcm != nil {
		return lc.sfcm.Data()
	}
	return lc.compacting.Data()
}

// refreshMemoriesBlock regenerates the conversation's fixed memories message
// after a memory_add/memory_remove call, whichever strategy is in use.
func (lc *liveConversation) refreshMemoriesBlock() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.sfcm != nil {
		lc.sfcm.RefreshMemoriesBlock()
		return
	}
	lc.compacting.RefreshMemoriesBlock()
}

func (lc *liveConversation) scope(role string, ticketActive bool) tool.Scope {
	scope := tool.Scope{Role: role, TicketActive: ticketActive}
	if lc.sfcm != nil {
		scope.UseSFCM = true
		scope.SFCMMaxDepth = lc.sfcm.AtMaxDepth()
	}
	return scope
}

// Orchestrator owns every live conversation's tool-facing state and the one
// shared tool.Registry every role's toolset is a Subset of.
type Orchestrator struct {
	Board     *board.Service
	Store     *convostore.Store
	Registry  *llm.Registry
	Prompts   PromptLoader
	Hub       driver.HubClient
	Workspace string

	DefaultStrategy     convo.Strategy
	MaxIterations       int
	DispatchConcurrency int
	// CompactionThreshold seeds CompactingConversation.Threshold; 0 falls
	// back to convo.MinCompactionThreshold.
	CompactionThreshold int

	Log *slog.Logger

	tools *tool.Registry

	mu     sync.Mutex
	active map[string]*liveConversation
}

// New builds an Orchestrator and registers every tool the role->toolset
// matrix in internal/tool can name: board/ticket tools, memory tools, frame
// tools, and the execution tools from internal/tools/{files,exec,
// websearch}.
func New(boardSvc *board.Service, store *convostore.Store, registry *llm.Registry, prompts PromptLoader, hub driver.HubClient, workspace string, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	o := &Orchestrator{
		Board:               boardSvc,
		Store:               store,
		Registry:            registry,
		Prompts:             prompts,
		Hub:                 hub,
		Workspace:           workspace,
		DefaultStrategy:     convo.StrategySFCM,
		MaxIterations:       DefaultMaxIterations,
		DispatchConcurrency: DefaultDispatchConcurrency,
		Log:                 log,
		tools:               tool.NewRegistry(),
		active:              make(map[string]*liveConversation),
	}
	o.registerExecutionTools()
	o.registerBoardTools()
	o.registerMemoryTools()
	o.registerFrameTools()
	o.registerPlannerTools()
	o.registerSubAgentTools()
	return o
}

// Tools exposes the shared registry, mainly so tests can assert on it.
func (o *Orchestrator) Tools() *tool.Registry { return o.tools }

func (o *Orchestrator) track(id string, lc *liveConversation) {
	o.mu.Lock()
	o.active[id] = lc
	o.mu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
}

func (o *Orchestrator) lookup(tc *tool.ToolContext) (*liveConversation, error) {
	o.mu.Lock()
	lc, ok := o.active[tc.ConversationID]
	o.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("orchestrator: no active conversation %q", tc.ConversationID)
	}
	return lc, nil
}

// persist flushes lc's current snapshot to the conversation store after
// every driver iteration, so a crash at any point can reconstitute.
func (o *Orchestrator) persist(lc *liveConversation) {
	data := lc.data()
	data.Memories = lc.memories.Snapshot()
	if err := o.Store.Upsert(lc.ticket.ID, data); err != nil {
		o.Log.Warn("orchestrator: persist conversation snapshot failed", "ticket", lc.ticket.ID, "conversation", data.ID, "error", err)
	}
}

// finishConversation persists a final snapshot and marks the conversation
// finished in the store.
func (o *Orchestrator) finishConversation(lc *liveConversation) {
	o.persist(lc)
	if err := o.Store.Finish(lc.ticket.ID, lc.data().ID); err != nil {
		o.Log.Warn("orchestrator: finish conversation failed", "ticket", lc.ticket.ID, "conversation", lc.data().ID, "error", err)
	}
}

// compactionThreshold returns the configured threshold unchanged;
// CompactingConversation applies the convo.MinCompactionThreshold floor.
func (o *Orchestrator) compactionThreshold() int {
	return o.CompactionThreshold
}

// buildConversation wraps data in the strategy its Strategy field names.
// fresh distinguishes a brand-new conversation (whose fixed prefix still
// needs seeding with userGoal/userFocus) from a reconstituted one (whose
// persisted messages are left as-is beyond refreshing prompts/memories).
func (o *Orchestrator) buildConversation(ticket *board.Ticket, data *convo.Data, memories *convo.MemoryStore, svc *llm.Service, fresh bool, userGoal, userFocus string) *liveConversation {
	lc := &liveConversation{ticket: ticket, svc: svc, memories: memories}
	switch data.Strategy {
	case convo.StrategySFCM:
		if fresh {
			lc.sfcm = sfcm.New(data, memories, o.asConvoLoader()(data.Role), userGoal, userFocus)
		} else {
			lc.sfcm = sfcm.Reconstitute(data, memories)
		}
	default:
		if fresh {
			lc.compacting = convo.NewCompactingConversation(data, memories, o.asConvoLoader(), o.compactionThreshold(), nil)
			lc.compacting.SetInitialInstructions(userGoal)
		} else {
			lc.compacting = convo.Reconstitute(data, memories, o.asConvoLoader(), o.compactionThreshold(), nil)
		}
	}
	return lc
}

// driveRole runs lc to a terminal (non-model-changed) driver.Result,
// transparently resuming against a new Service when the hub requests a
// mid-loop model switch, carrying the accumulated iteration count and cost
// across the switch per driver.Options' StartIteration/StartCost fields.
func (o *Orchestrator) driveRole(ctx context.Context, lc *liveConversation, ticket *board.Ticket, svc *llm.Service, role, continueMessage string) (driver.Result, error) {
	ticketActive := ticket.Status == board.StatusActive
	opts := driver.Options{
		ConversationID:  lc.data().ID,
		Hub:             o.Hub,
		ContinueMessage: continueMessage,
		MaxIterations:   o.MaxIterations,
		MaxCost:         ticket.RemainingBudget(),
		Req: llm.IterationRequest{
			Tools:               o.toolsFor(lc, role, ticketActive),
			Registry:            o.tools,
			ToolCtx:             &tool.ToolContext{Context: ctx, TicketID: ticket.ID, ConversationID: lc.data().ID, AgentRole: role},
			DispatchConcurrency: o.DispatchConcurrency,
		},
		OnIteration:  o.recordIteration(lc, 0),
		OnCompletion: o.nudgeHook(lc),
	}
	for {
		result, err := driver.Run(ctx, svc, lc.conversation(), opts)
		if err != nil {
			return driver.Result{}, err
		}
		if result.Outcome != driver.OutcomeModelChanged {
			return result, nil
		}
		next := o.Registry.GetService(result.NewConfigID)
		if next == nil {
			return driver.Result{}, fmt.Errorf("orchestrator: model switch requested unknown config %q", result.NewConfigID)
		}
		svc = next
		lc.conversation().Append(convo.Message{Role: convo.RoleSystem, Content: "Model switched to " + next.Config().Model, CreatedAt: time.Now()})
		opts.StartIteration = result.StartIteration
		opts.StartCost = result.StartCost
		opts.ContinueMessage = ""
	}
}

// nudgeHook adapts SFCM's nudge policy into driver.Options.OnCompletion:
// text with no tool calls inside a frame gets a "keep going" user message
// instead of ending the loop. Compacting conversations (and SFCM at the
// root frame) return nil/false so a plain completion stays terminal.
func (o *Orchestrator) nudgeHook(lc *liveConversation) func(content string) bool {
	if lc.sfcm == nil {
		return nil
	}
	return func(content string) bool {
		last := convo.Message{Role: convo.RoleAssistant, Content: content}
		if !lc.sfcm.NeedsNudge(last) {
			return false
		}
		lc.sfcm.Nudge()
		return true
	}
}

// toolsFor resolves the tool.Tool slice for one driver iteration: the
// shared registry's Subset for role/ticketActive, with push_context/
// pop_context's descriptions overridden per-conversation from the live SFCM
// depth. Overriding locally (rather than through Registry.Replace) keeps
// two concurrently-running SFCM conversations at different depths from
// stepping on each other's tool descriptions.
func (o *Orchestrator) toolsFor(lc *liveConversation, role string, ticketActive bool) []tool.Tool {
	scope := lc.scope(role, ticketActive)
	base := o.tools.Subset(tool.NamesFor(scope))
	if !scope.UseSFCM {
		return base
	}
	out := make([]tool.Tool, len(base))
	for i, t := range base {
		switch t.Name() {
		case tool.ToolPushContext:
			out[i] = t.WithDescription(lc.sfcm.PushContextDescription())
		case tool.ToolPopContext:
			out[i] = t.WithDescription(lc.sfcm.PopContextDescription())
		default:
			out[i] = t
		}
	}
	return out
}

// recordIteration is the driver.Options.OnIteration hook shared by every
// role's driving loop: it records cost on the ticket and flushes the
// conversation snapshot after each completed RunIteration call. startAt
// seeds the iteration counter embedded in each CostEvent so a resumed loop
// (context reset, model switch) keeps numbering consistent with the ticket's
// cost ledger.
func (o *Orchestrator) recordIteration(lc *liveConversation, startAt int) func(res llm.IterationResult) {
	iteration := startAt
	return func(res llm.IterationResult) {
		iteration++
		if res.CostDelta > 0 {
			if err := o.Board.AddLlmCost(lc.ticket.ID, lc.data().ID, iteration, res.InputTokens, res.OutputTokens, res.CostDelta); err != nil {
				o.Log.Warn("orchestrator: record cost failed", "ticket", lc.ticket.ID, "error", err)
			}
		}
		o.persist(lc)
	}
}

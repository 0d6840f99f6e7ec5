package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/convostore"
	"github.com/kanbeast/kanbeast/internal/llm"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(b)
}

func toolCallResponse(id, name string, args map[string]any) map[string]any {
	argBytes, _ := json.Marshal(args)
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]any{
			"role": "assistant",
			"tool_calls": []map[string]any{
				{"id": id, "type": "function", "function": map[string]any{"name": name, "arguments": string(argBytes)}},
			},
		}}},
	}
}

func newTestOrchestrator(t *testing.T, handler http.HandlerFunc) (*Orchestrator, *board.Service, *llm.Service) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	boardSvc, err := board.NewService(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := convostore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	registry := llm.NewRegistry(nil)

	o := New(boardSvc, store, registry, nil, nil, t.TempDir(), nil)
	svc := llm.New(llm.Config{ID: "test-model", Model: "m", BaseURL: srv.URL}, srv.Client())
	return o, boardSvc, svc
}

func TestRunPlanner_ExitsOnCompleteTicket(t *testing.T) {
	calls := 0
	o, boardSvc, svc := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, toolCallResponse("c1", "complete_ticket", map[string]any{"result": "all done"}))
	})
	ticket := boardSvc.Create("Ship it", "Do the thing")
	ticket.PlannerLlm = svc.Config().ID
	o.Registry.UpdateConfigs([]llm.Config{svc.Config()})

	summary, err := o.RunPlanner(context.Background(), ticket)
	if err != nil {
		t.Fatalf("RunPlanner: %v", err)
	}
	if summary != "all done" {
		t.Fatalf("got summary %q", summary)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", calls)
	}

	list, err := o.Store.GetInfoList(ticket.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].Finished {
		t.Fatalf("expected one finished conversation, got %+v", list)
	}
}

func TestRunDeveloper_EndSubtaskFinishesSubtask(t *testing.T) {
	o, boardSvc, svc := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, toolCallResponse("c1", "ticket_end_subtask", map[string]any{"result": "shipped"}))
	})

	ticket := boardSvc.Create("T", "D")
	task, err := boardSvc.AddTask(ticket.ID, "Task A", "desc")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := boardSvc.AddSubtask(ticket.ID, task.ID, "Subtask A1", "desc")
	if err != nil {
		t.Fatal(err)
	}

	summary, err := o.RunDeveloper(context.Background(), ticket, task.ID, sub.ID, svc, svc, "conv-1")
	if err != nil {
		t.Fatalf("RunDeveloper: %v", err)
	}
	if summary != "shipped" {
		t.Fatalf("got summary %q", summary)
	}

	reloaded := boardSvc.Get(ticket.ID)
	reloadedTask, ok := reloaded.FindTask(task.ID)
	if !ok {
		t.Fatal("task missing after reload")
	}
	reloadedSub, ok := reloadedTask.FindSubtask(sub.ID)
	if !ok {
		t.Fatal("subtask missing after reload")
	}
	if reloadedSub.Status != board.SubtaskComplete {
		t.Fatalf("expected subtask Complete, got %s", reloadedSub.Status)
	}
}

func TestRunSubAgent_TaskCompleteReturnsResultAndSharesMemories(t *testing.T) {
	o, boardSvc, svc := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, toolCallResponse("c1", "agent_task_complete", map[string]any{"result": "sub-agent done"}))
	})
	ticket := boardSvc.Create("T", "D")

	memories := convo.NewMemoryStore()
	memories.Add(convo.MemoryDecision, "use approach X")
	parentData := &convo.Data{
		ID:          uuid.NewString(),
		TicketID:    ticket.ID,
		DisplayName: "Developer: parent",
		Role:        convo.RoleDeveloper,
		Strategy:    convo.StrategySFCM,
		StartedAt:   time.Now(),
	}
	parent := o.buildConversation(ticket, parentData, memories, svc, true, "parent goal", "")
	parent.subAgentSvc = svc

	summary, err := o.RunSubAgent(context.Background(), ticket, parent, "delegated task", "do it", "sub-conv-1")
	if err != nil {
		t.Fatalf("RunSubAgent: %v", err)
	}
	if summary != "sub-agent done" {
		t.Fatalf("got summary %q", summary)
	}

	if parent.memories != memories {
		t.Fatal("sub-agent must share the parent's memory store by reference")
	}
}

func TestNudgeHook_SFCMOnlyAndDepthAware(t *testing.T) {
	o, boardSvc, svc := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {})
	ticket := boardSvc.Create("T", "D")

	compactingData := &convo.Data{ID: "c-compacting", TicketID: ticket.ID, Role: convo.RoleDeveloper, Strategy: convo.StrategyCompacting}
	if hook := o.nudgeHook(o.buildConversation(ticket, compactingData, convo.NewMemoryStore(), svc, true, "goal", "")); hook != nil {
		t.Fatal("expected no nudge hook for a compacting conversation")
	}

	sfcmData := &convo.Data{ID: "c-sfcm", TicketID: ticket.ID, Role: convo.RoleDeveloper, Strategy: convo.StrategySFCM}
	lc := o.buildConversation(ticket, sfcmData, convo.NewMemoryStore(), svc, true, "goal", "focus")
	hook := o.nudgeHook(lc)
	if hook == nil {
		t.Fatal("expected a nudge hook for an SFCM conversation")
	}

	// At the root frame, text is a real completion.
	if hook("all finished") {
		t.Fatal("expected no nudge at depth 0")
	}

	lc.sfcm.Append(convo.Message{Role: convo.RoleAssistant, ToolCalls: []convo.ToolCall{{ID: "1", Name: "push_context"}}})
	if _, err := lc.sfcm.PushContext("sub-task", "details"); err != nil {
		t.Fatal(err)
	}
	countBefore := len(lc.sfcm.Messages())
	if !hook("thinking out loud") {
		t.Fatal("expected a nudge inside a frame")
	}
	msgs := lc.sfcm.Messages()
	if len(msgs) != countBefore+1 || msgs[len(msgs)-1].Role != convo.RoleUser {
		t.Fatalf("expected nudge appended as a user message, got %d messages", len(msgs))
	}
}

func TestDriveRole_ModelSwitchAppendsNote(t *testing.T) {
	calls := 0
	o, boardSvc, svc := newTestOrchestrator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(t, w, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "done"}}},
		})
	})
	ticket := boardSvc.Create("T", "D")

	second := llm.Config{ID: "second-model", Model: "m2", BaseURL: svc.Config().BaseURL}
	o.Registry.UpdateConfigs([]llm.Config{svc.Config(), second})
	o.Hub = &switchOnceHub{configID: "second-model"}

	data := &convo.Data{ID: "c-switch", TicketID: ticket.ID, Role: convo.RoleDeveloper, Strategy: convo.StrategyCompacting}
	lc := o.buildConversation(ticket, data, convo.NewMemoryStore(), svc, true, "goal", "")
	o.track(data.ID, lc)
	defer o.untrack(data.ID)

	result, err := o.driveRole(context.Background(), lc, ticket, svc, "Developer", "")
	if err != nil {
		t.Fatalf("driveRole: %v", err)
	}
	if result.Outcome != "completed" {
		t.Fatalf("got outcome %s", result.Outcome)
	}

	found := false
	for _, m := range lc.conversation().Messages() {
		if m.Role == convo.RoleSystem && m.Content == "Model switched to m2" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a 'Model switched to m2' note in the conversation")
	}
	if calls != 1 {
		t.Fatalf("expected the switch to happen before any HTTP call, got %d calls", calls)
	}
}

// switchOnceHub requests one model switch on the first poll, then stays
// quiet.
type switchOnceHub struct {
	configID string
	polled   bool
}

func (h *switchOnceHub) Heartbeat(ctx context.Context, conversationID string) error { return nil }

func (h *switchOnceHub) PollModelSwitch(conversationID string) (string, bool) {
	if h.polled {
		return "", false
	}
	h.polled = true
	return h.configID, true
}

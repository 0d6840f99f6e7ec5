package driver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

type memConversation struct {
	msgs []convo.Message
}

func (c *memConversation) Messages() []convo.Message { return c.msgs }
func (c *memConversation) Append(m convo.Message)     { c.msgs = append(c.msgs, m) }

func newConvo(initial ...convo.Message) *memConversation {
	return &memConversation{msgs: append([]convo.Message(nil), initial...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	b, _ := json.Marshal(v)
	w.Write(b)
}

func TestRun_StopsOnCompleted(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, 200, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "done"}}},
		})
	}))
	defer srv.Close()

	svc := llm.New(llm.Config{ID: "a", Model: "m", BaseURL: srv.URL}, srv.Client())
	conv := newConvo(convo.Message{Role: convo.RoleUser, Content: "go"})
	opts := Options{
		ContinueMessage: "keep going, {messagesRemaining} left",
		MaxIterations:   25,
		Req:             llm.IterationRequest{Registry: tool.NewRegistry(), ToolCtx: &tool.ToolContext{}},
	}
	res, err := Run(context.Background(), svc, conv, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted || res.Content != "done" {
		t.Fatalf("got %+v", res)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one HTTP call, got %d", calls)
	}
}

func TestRun_RepetitionDetectedAfterFiveIdenticalTurns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{
				"role": "assistant",
				"tool_calls": []map[string]any{
					{"id": "c", "type": "function", "function": map[string]any{"name": "noop", "arguments": `{}`}},
				},
			}}},
		})
	}))
	defer srv.Close()

	reg := tool.NewRegistry()
	reg.Register(tool.Define("noop", "", nil, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		return tool.ToolResult{Response: "ok"}, nil
	}))

	svc := llm.New(llm.Config{ID: "a", Model: "m", BaseURL: srv.URL}, srv.Client())
	conv := newConvo(convo.Message{Role: convo.RoleUser, Content: "go"})
	opts := Options{
		ContinueMessage: "keep going, {messagesRemaining} left",
		MaxIterations:   50,
		Req:             llm.IterationRequest{Registry: reg, ToolCtx: &tool.ToolContext{}, Tools: reg.Subset([]string{"noop"})},
	}
	res, err := Run(context.Background(), svc, conv, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeRepetitionDetected {
		t.Fatalf("expected repetition to be detected, got %+v", res)
	}
}

type stubHub struct {
	newConfigID string
	switchAfter int
	polls       int
}

func (h *stubHub) Heartbeat(ctx context.Context, conversationID string) error { return nil }

func (h *stubHub) PollModelSwitch(conversationID string) (string, bool) {
	h.polls++
	if h.polls > h.switchAfter {
		return h.newConfigID, true
	}
	return "", false
}

func TestRun_ModelChangedReturnsResumeState(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, 200, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "still thinking", "tool_calls": []map[string]any{
				{"id": "c", "type": "function", "function": map[string]any{"name": "noop", "arguments": `{}`}},
			}}}},
		})
	}))
	defer srv.Close()

	reg := tool.NewRegistry()
	reg.Register(tool.Define("noop", "", nil, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		return tool.ToolResult{Response: "ok"}, nil
	}))

	svc := llm.New(llm.Config{ID: "a", Model: "m", BaseURL: srv.URL}, srv.Client())
	conv := newConvo(convo.Message{Role: convo.RoleUser, Content: "go"})
	hub := &stubHub{newConfigID: "b", switchAfter: 1}
	opts := Options{
		ConversationID:  "conv-1",
		Hub:             hub,
		ContinueMessage: "keep going, {messagesRemaining} left",
		MaxIterations:   50,
		Req:             llm.IterationRequest{Registry: reg, ToolCtx: &tool.ToolContext{}, Tools: reg.Subset([]string{"noop"})},
	}
	res, err := Run(context.Background(), svc, conv, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeModelChanged || res.NewConfigID != "b" {
		t.Fatalf("got %+v", res)
	}
	if res.StartIteration != calls {
		t.Fatalf("expected StartIteration to carry the iteration count actually run (%d), got %d", calls, res.StartIteration)
	}
}

func TestRun_InterruptedBeforeFirstIteration(t *testing.T) {
	svc := llm.New(llm.Config{ID: "a", Model: "m"}, &http.Client{})
	conv := newConvo(convo.Message{Role: convo.RoleUser, Content: "go"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := Options{
		MaxIterations: 10,
		Req:           llm.IterationRequest{Registry: tool.NewRegistry(), ToolCtx: &tool.ToolContext{}},
	}
	res, err := Run(ctx, svc, conv, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeInterrupted {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_OnCompletionKeepsLoopAlive(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		content := "still thinking"
		if calls >= 2 {
			content = "actually done"
		}
		writeJSON(w, 200, map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	defer srv.Close()

	svc := llm.New(llm.Config{ID: "a", Model: "m", BaseURL: srv.URL}, srv.Client())
	conv := newConvo(convo.Message{Role: convo.RoleUser, Content: "go"})
	nudges := 0
	opts := Options{
		ContinueMessage: "keep going",
		MaxIterations:   25,
		Req:             llm.IterationRequest{Registry: tool.NewRegistry(), ToolCtx: &tool.ToolContext{}},
		OnCompletion: func(content string) bool {
			if content != "still thinking" {
				return false
			}
			nudges++
			conv.Append(convo.Message{Role: convo.RoleUser, Content: "continue"})
			return true
		},
	}
	res, err := Run(context.Background(), svc, conv, opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeCompleted || res.Content != "actually done" {
		t.Fatalf("got %+v", res)
	}
	if nudges != 1 || calls != 2 {
		t.Fatalf("expected one nudge and two HTTP calls, got nudges=%d calls=%d", nudges, calls)
	}
}

package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/driver"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/tool"
)

// plainConversation is a minimal llm.Conversation backed by a flat message
// slice. The Compaction role's sub-conversation never needs a persisted
// *convo.Data of its own — it lives only for the duration of one
// summarize_history call — so it skips convo.Data/convostore entirely.
type plainConversation struct {
	msgs []convo.Message
}

func (p *plainConversation) Messages() []convo.Message { return p.msgs }
func (p *plainConversation) Append(m convo.Message)     { p.msgs = append(p.msgs, m) }

// compactFunc builds a convo.CompactFunc bound to svc: a short Compaction-
// role conversation driven until summarize_history is called, whose
// "summary" argument becomes the chapter summary MaybeCompact folds in.
func (o *Orchestrator) compactFunc(svc *llm.Service) convo.CompactFunc {
	return func(ctx context.Context, memories *convo.MemoryStore, originalTask, historyBlock string) (string, error) {
		instructions := o.asConvoLoader()(convo.RoleCompaction)
		conv := &plainConversation{msgs: []convo.Message{
			{Role: convo.RoleSystem, Content: instructions, CreatedAt: time.Now()},
			// Current memories ride along so the compactor knows what is
			// already recorded before deciding what to hoist or drop.
			{Role: convo.RoleUser, Content: "Original task:\n" + originalTask + "\n\nCurrent memories:\n" + memories.RenderBlock() + "\n\nHistory to condense into one chapter summary:\n" + historyBlock, CreatedAt: time.Now()},
		}}

		var summary string
		registry := tool.NewRegistry()
		registry.Register(tool.Define(tool.ToolMemoryAdd, "Record a durable memory.", memoryAddParams, memoryAddHandler(memories)))
		registry.Register(tool.Define(tool.ToolMemoryRemove, "Remove a durable memory.", memoryRemoveParams, memoryRemoveHandler(memories)))
		registry.Register(tool.Define(tool.ToolSummarize, "Record the condensed chapter summary and finish.", []tool.Param{
			{Name: "summary", Type: tool.TypeString, Description: "The condensed chapter summary.", Required: true},
		}, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Summary string `json:"summary"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{Response: "invalid arguments: " + err.Error()}, nil
			}
			summary = in.Summary
			return tool.ToolResult{Response: "recorded", ExitLoop: true}, nil
		}))

		names := tool.NamesFor(tool.Scope{Role: tool.RoleCompaction})
		req := llm.IterationRequest{
			Tools:               registry.Subset(names),
			Registry:            registry,
			ToolCtx:             &tool.ToolContext{Context: ctx, AgentRole: tool.RoleCompaction},
			DispatchConcurrency: 1,
		}
		result, err := driver.Run(ctx, svc, conv, driver.Options{
			ContinueMessage: "Summarize the history above into one chapter, then call summarize_history.",
			MaxIterations:   5,
			Req:             req,
		})
		if err != nil {
			return "", err
		}
		if summary == "" {
			summary = result.Content
		}
		return summary, nil
	}
}

package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/tool"
)

var memoryAddParams = []tool.Param{
	{Name: "label", Type: tool.TypeString, Description: "One of INVARIANT, CONSTRAINT, DECISION, REFERENCE, OPEN_ITEM.", Required: true},
	{Name: "text", Type: tool.TypeString, Description: "The memory text to record.", Required: true},
}

var memoryRemoveParams = []tool.Param{
	{Name: "label", Type: tool.TypeString, Description: "One of INVARIANT, CONSTRAINT, DECISION, REFERENCE, OPEN_ITEM.", Required: true},
	{Name: "text", Type: tool.TypeString, Description: "Text (or its leading characters) identifying the memory to remove.", Required: true},
}

type memoryArgs struct {
	Label convo.MemoryLabel `json:"label"`
	Text  string            `json:"text"`
}

// memoryAddHandler and memoryRemoveHandler operate directly on a
// *convo.MemoryStore; they're reused both by the shared registry (looked up
// per-conversation via o.lookup) and by the standalone Compaction
// conversation in compaction.go, which binds them to the parent's store by
// reference rather than through the active-conversation table.
func memoryAddHandler(memories *convo.MemoryStore) tool.Handler {
	return func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		var in memoryArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return tool.ToolResult{Response: "invalid arguments: " + err.Error()}, nil
		}
		if !convo.ValidMemoryLabel(in.Label) {
			return tool.ToolResult{Response: "unknown memory label " + string(in.Label)}, nil
		}
		memories.Add(in.Label, in.Text)
		return tool.ToolResult{Response: "recorded"}, nil
	}
}

func memoryRemoveHandler(memories *convo.MemoryStore) tool.Handler {
	return func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		var in memoryArgs
		if err := json.Unmarshal(args, &in); err != nil {
			return tool.ToolResult{Response: "invalid arguments: " + err.Error()}, nil
		}
		if !memories.Remove(in.Label, in.Text) {
			return tool.ToolResult{Response: "no matching memory found"}, nil
		}
		return tool.ToolResult{Response: "removed"}, nil
	}
}

// registerMemoryTools registers memory_add/memory_remove against the
// active-conversation table: every non-Compaction role shares this single
// registration, resolving the right MemoryStore per call via tc.ConversationID.
func (o *Orchestrator) registerMemoryTools() {
	o.tools.Register(tool.Define(tool.ToolMemoryAdd, "Record a durable memory visible to this conversation and any sub-agents it spawns.", memoryAddParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		res, herr := memoryAddHandler(lc.memories)(ctx, args, tc)
		lc.refreshMemoriesBlock()
		return res, herr
	}))
	o.tools.Register(tool.Define(tool.ToolMemoryRemove, "Remove a previously recorded memory.", memoryRemoveParams, func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
		lc, err := o.lookup(tc)
		if err != nil {
			return tool.ToolResult{Response: err.Error()}, nil
		}
		res, herr := memoryRemoveHandler(lc.memories)(ctx, args, tc)
		lc.refreshMemoriesBlock()
		return res, herr
	}))
}

// Package tool implements the Tool Registry & Dispatch component: typed
// tool registration, JSON-schema generation, role-scoped toolset selection,
// response truncation, and concurrent dispatch.
package tool

import (
	"context"
	"encoding/json"
)

// ToolResult is what a tool handler returns. ExitLoop tells the Agent
// Driver this was a terminal tool call (e.g. agent_task_complete,
// summarize_history); MessageHandled tells it the handler already appended
// whatever conversation messages it needed and the driver should not also
// append a default tool-result message.
type ToolResult struct {
	Response       string `json:"response"`
	ExitLoop       bool   `json:"exitLoop"`
	MessageHandled bool   `json:"messageHandled"`
}

// Handler is a tool's async implementation. args is the raw JSON object the
// model supplied; ToolContext carries ids, cancellation, and the active
// model name.
type Handler func(ctx context.Context, args json.RawMessage, tc *ToolContext) (ToolResult, error)

// Tool pairs a JSON-schema definition with its handler.
type Tool struct {
	name        string
	description string
	schema      json.RawMessage
	handler     Handler
}

// New builds a Tool from an explicit schema. Most tools should instead use
// Define, which derives the schema from a parameter list.
func New(name, description string, schema json.RawMessage, handler Handler) Tool {
	return Tool{name: name, description: description, schema: schema, handler: handler}
}

func (t Tool) Name() string            { return t.name }
func (t Tool) Description() string     { return t.description }
func (t Tool) Schema() json.RawMessage { return t.schema }

// WithDescription returns a copy of t with a new description, used to
// rebuild depth-aware descriptions (push_context/pop_context) without
// re-registering the tool from scratch.
func (t Tool) WithDescription(description string) Tool {
	t.description = description
	return t
}

// Execute invokes the handler.
func (t Tool) Execute(ctx context.Context, args json.RawMessage, tc *ToolContext) (ToolResult, error) {
	return t.handler(ctx, args, tc)
}

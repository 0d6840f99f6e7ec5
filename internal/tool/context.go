package tool

import "context"

// ToolContext carries the ambient information a handler needs beyond its
// model-supplied arguments: identity, cancellation, and the model currently
// driving the conversation. It is injected by the dispatcher, never part of
// a tool's JSON schema.
type ToolContext struct {
	Context context.Context

	TicketID       string
	ConversationID string
	ToolCallID     string
	ActiveModel    string

	// AgentRole is the role of the conversation issuing this call; handlers
	// that behave differently per role (memory edits during compaction vs.
	// during normal execution, for instance) read it instead of threading a
	// role parameter through every tool.
	AgentRole string
}

type toolCallIDKey struct{}

// WithToolCallID stores the active tool-call id in ctx as a task-local, so
// concurrent tool invocations each see their own value. Tools that
// reconstitute nested conversations after a crash use this to recover which
// call spawned them.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey{}, id)
}

// ToolCallIDFromContext retrieves the id stored by WithToolCallID, if any.
func ToolCallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolCallIDKey{}).(string)
	return id, ok
}

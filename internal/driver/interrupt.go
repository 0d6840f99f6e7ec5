package driver

import "context"

// Cascade is the three-layer cancellation model: a
// process-level context, a conversation-level context derived from it (the
// hub registers one per conversation), and a tool-level context derived
// from the conversation context. Interrupting cancels the tool layer
// first so running tools and sub-agents observe cancellation and record
// their own notes before the outer loop unwinds.
type Cascade struct {
	Process      context.Context
	Conversation context.Context
	Tool         context.Context

	cancelConversation context.CancelFunc
	cancelTool         context.CancelFunc
}

// NewCascade derives a conversation-scoped and tool-scoped context from
// process, ready to register with the hub and hand to the Agent Driver.
func NewCascade(process context.Context) *Cascade {
	convCtx, cancelConv := context.WithCancel(process)
	toolCtx, cancelTool := context.WithCancel(convCtx)
	return &Cascade{
		Process:             process,
		Conversation:        convCtx,
		Tool:                toolCtx,
		cancelConversation:  cancelConv,
		cancelTool:          cancelTool,
	}
}

// DirectStop cancels the tool layer first, then the conversation layer. A
// direct stop (conversation hub only, e.g. the server telling this one
// conversation to pause) only needs DirectStop; a process-level stop
// (ctrl-c on the worker) cancels Process itself upstream of this call and
// is observed via IsParentCancelled.
func (c *Cascade) DirectStop() {
	c.cancelTool()
	c.cancelConversation()
}

// IsParentCancelled reports whether the process-level context (not just
// this cascade's own conversation/tool layers) was cancelled — the signal
// that the Agent Driver should re-throw rather than swallow as a plain
// Interrupted result.
func (c *Cascade) IsParentCancelled() bool {
	return c.Process.Err() != nil
}

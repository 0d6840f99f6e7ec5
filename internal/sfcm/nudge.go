package sfcm

import "github.com/kanbeast/kanbeast/internal/convo"

// NudgeMessage is injected when the model produces text with no tool calls
// while depth > 0: at depth 0 with no deeper frame, the same text is instead
// treated as completion, since there is no parent frame left to return to.
const NudgeMessage = "Continue. When this sub-task is complete, call pop_context with your findings."

// NeedsNudge reports whether the last assistant message should provoke a
// nudge rather than be treated as a completed turn: text with no tool calls
// while the frame stack is deeper than the root.
func (c *Conversation) NeedsNudge(last convo.Message) bool {
	if last.Role != convo.RoleAssistant {
		return false
	}
	if len(last.ToolCalls) > 0 {
		return false
	}
	return last.Content != "" && c.Depth() > 0
}

// Nudge appends the nudge message as a user turn.
func (c *Conversation) Nudge() {
	c.Append(convo.Message{Role: convo.RoleUser, Content: NudgeMessage})
}

package sfcm

import (
	"errors"
	"fmt"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// ErrMaxDepth is returned by PushContext when the stack is already at
// MaxDepth; the tool registry should omit push_context from the toolset
// before this is ever hit, but PushContext defends against it too.
var ErrMaxDepth = errors.New("sfcm: max frame depth reached")

// PushContext opens a new frame. It assumes the assistant message carrying
// the push_context tool call has already been appended (its index becomes
// the new frame's BoundaryIndex), then appends a FRAME_N marker and a user
// message of "{task}\n\n{details}".
func (c *Conversation) PushContext(task, details string) (*Frame, error) {
	if c.AtMaxDepth() {
		return nil, ErrMaxDepth
	}
	boundaryIndex := len(c.data.Messages) - 1
	depth := c.Depth() + 1
	marker := frameMarker(depth)
	startIndex := len(c.data.Messages)

	c.Append(convo.Message{Role: convo.RoleSystem, Content: marker})
	c.Append(convo.Message{Role: convo.RoleUser, Content: task + "\n\n" + details})

	frame := Frame{ID: marker, Task: task, Details: details, Depth: depth, BoundaryIndex: boundaryIndex, StartIndex: startIndex}
	c.frames = append(c.frames, frame)
	return &frame, nil
}

// PopContext closes the current frame. At depth >= 1 it truncates the
// frame's working messages, strips the push_context call from the boundary
// assistant message (dropping that message if it becomes empty), and
// appends a summary user message. At depth 0 (the FRAME_0 pop) it instead
// folds result into the memories message, rewrites the FRAME_0 task to
// next_steps, and re-emits a fresh FRAME_0 marker and user message.
func (c *Conversation) PopContext(result, nextSteps string) error {
	if len(c.frames) == 0 {
		return errors.New("sfcm: no active frame")
	}
	top := c.frames[len(c.frames)-1]

	if top.Depth >= 1 {
		c.data.Messages = c.data.Messages[:top.BoundaryIndex+1]
		c.stripPushCall(top.BoundaryIndex)
		c.Append(convo.Message{Role: convo.RoleUser, Content: fmt.Sprintf("%s\n%s\n[Next: %s]", top.Task, result, nextSteps)})
		c.frames = c.frames[:len(c.frames)-1]
		return nil
	}

	// FRAME_0 pop.
	c.data.Messages = c.data.Messages[:IdxFrame0Marker]
	c.data.Messages[IdxMemories].Content += "\n" + result
	newTask := nextSteps
	c.Append(convo.Message{Role: convo.RoleSystem, Content: frameMarker(0)})
	c.Append(convo.Message{Role: convo.RoleUser, Content: newTask})
	c.frames[0] = Frame{ID: frameMarker(0), Task: newTask, Details: "", Depth: 0, BoundaryIndex: -1, StartIndex: IdxFrame0Marker}
	return nil
}

// stripPushCall removes the push_context tool call from the assistant
// message at idx (if present), dropping the message entirely if it carries
// no remaining content or tool calls.
func (c *Conversation) stripPushCall(idx int) {
	if idx < 0 || idx >= len(c.data.Messages) {
		return
	}
	msg := c.data.Messages[idx]
	kept := msg.ToolCalls[:0:0]
	for _, tc := range msg.ToolCalls {
		if tc.Name != "push_context" {
			kept = append(kept, tc)
		}
	}
	msg.ToolCalls = kept
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		c.data.Messages = append(c.data.Messages[:idx], c.data.Messages[idx+1:]...)
		return
	}
	c.data.Messages[idx] = msg
}

// PopContextDescription returns the depth-aware description for the
// pop_context tool, rebuilt whenever depth changes so the model sees
// frame-aware guidance.
func (c *Conversation) PopContextDescription() string {
	if c.Depth() == 0 {
		return "Finish the current top-level focus: fold `result` into long-term memory and set the next focus via `next_steps`."
	}
	return fmt.Sprintf("Close the current sub-task (depth %d) and return to its parent with `result`; `next_steps` tells the parent what to do next.", c.Depth())
}

// PushContextDescription returns the depth-aware description for the
// push_context tool. It is rebuilt alongside pop_context's so both reflect
// the live depth and remaining headroom.
func (c *Conversation) PushContextDescription() string {
	remaining := MaxDepth - c.Depth()
	if remaining <= 0 {
		return "Open a new nested sub-task. (Unavailable: maximum nesting depth reached.)"
	}
	return fmt.Sprintf("Open a new nested sub-task with its own `task` and `details`; %d level(s) of nesting remain.", remaining)
}

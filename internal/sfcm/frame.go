// Package sfcm implements Stack-Frame Context Management, the second of
// KanBeast's two conversation strategies: instead of summarizing a growing
// tail (see internal/convo's CompactingConversation), it scopes a sub-task's
// intermediate work to a push/pop frame and discards that work on pop,
// keeping only the final result.
package sfcm

import (
	"fmt"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// MaxDepth is the deepest a frame stack may grow; push_context is omitted
// from the toolset once reached.
const MaxDepth = 6

// Fixed message-index layout. Index 4 onward is the active frame's working
// area; frame markers and their user messages are appended beyond it as
// frames are pushed.
const (
	IdxInstructions  = 0
	IdxUserGoal      = 1
	IdxMemories      = 2
	IdxFrame0Marker  = 3
	IdxUserFocus     = 4
)

// Frame is one entry in the stack. BoundaryIndex is the index of the
// assistant message whose push_context call opened the frame; StartIndex is
// the index of the FRAME_N marker that precedes the frame's user message.
// The stack invariant is Depth == index in the slice.
type Frame struct {
	ID            string
	Task          string
	Details       string
	Depth         int
	BoundaryIndex int
	StartIndex    int
}

func frameMarker(depth int) string { return fmt.Sprintf("FRAME_%d", depth) }

// Conversation wraps a *convo.Data using the SFCM strategy: a small fixed
// prefix followed by a live frame stack.
type Conversation struct {
	data   *convo.Data
	memories *convo.MemoryStore
	frames []Frame
}

// New builds a conversation in the SFCM fixed-prefix shape: instructions,
// user goal, the memories block rendered from memories, and a bare FRAME_0 marker plus user
// focus message.
func New(data *convo.Data, memories *convo.MemoryStore, instructions, userGoal, userFocus string) *Conversation {
	data.Strategy = convo.StrategySFCM
	c := &Conversation{data: data, memories: memories}
	if len(data.Messages) == 0 {
		data.Messages = []convo.Message{
			{Role: convo.RoleSystem, Content: instructions},
			{Role: convo.RoleUser, Content: userGoal},
			{Role: convo.RoleSystem, Content: memories.RenderBlock()},
			{Role: convo.RoleSystem, Content: frameMarker(0)},
			{Role: convo.RoleUser, Content: userFocus},
		}
	}
	c.frames = []Frame{{ID: frameMarker(0), Task: userGoal, Details: userFocus, Depth: 0, BoundaryIndex: -1, StartIndex: IdxFrame0Marker}}
	return c
}

// Data returns the underlying persistable snapshot.
func (c *Conversation) Data() *convo.Data { return c.data }

// Depth returns the current frame-stack depth (0 = FRAME_0, the root).
func (c *Conversation) Depth() int { return len(c.frames) - 1 }

// AtMaxDepth reports whether push_context should be omitted from the
// toolset.
func (c *Conversation) AtMaxDepth() bool { return c.Depth() >= MaxDepth }

// Append adds a message to the live conversation tail.
func (c *Conversation) Append(msg convo.Message) {
	c.data.Messages = append(c.data.Messages, msg)
}

// Messages returns the live message slice for driving an LLM call.
func (c *Conversation) Messages() []convo.Message { return c.data.Messages }

// RefreshMemoriesBlock regenerates the fixed memories message from the
// current memory store; callers invoke this whenever memories change.
func (c *Conversation) RefreshMemoriesBlock() {
	c.data.Messages[IdxMemories] = convo.Message{Role: convo.RoleSystem, Content: c.memories.RenderBlock()}
}

package convo

import (
	"context"
	"fmt"
	"strings"
)

// Fixed-prefix indices for a CompactingConversation. Indices 0-3 are never
// summarized; the compressible tail begins at index 4.
const (
	IdxSystemPrompt     = 0
	IdxInitialUserMsg   = 1
	IdxMemoriesBlock    = 2
	IdxChapterSummaries = 3
	TailStart           = 4
)

// MaxChapterSummaries caps the chapter-summary list; the oldest is evicted
// when a new one would exceed the cap.
const MaxChapterSummaries = 10

// MinCompactionThreshold is the floor applied to a configured compaction
// threshold: max(3072, configured).
const MinCompactionThreshold = 3072

// CompactFunc runs one Compaction sub-conversation (system prompt plus
// memory_add/memory_remove/summarize_history tools) over historyBlock and
// returns the text a summarize_history call produced. memories is the same
// MemoryStore the parent conversation uses, so memory_add/memory_remove
// calls made during compaction are visible to the parent and any sub-agents
// immediately.
type CompactFunc func(ctx context.Context, memories *MemoryStore, originalTask, historyBlock string) (summary string, err error)

// PromptLoader refreshes a role's system prompt from disk so a reconstituted
// conversation always sees the current prompt-file contents.
type PromptLoader func(role AgentRole) string

// CompactingConversation implements the C4 strategy: a fixed prefix, a
// memories block, a bounded chapter-summary list, and a compressible tail
// that is periodically folded into a new chapter summary.
type CompactingConversation struct {
	data     *Data
	memories *MemoryStore
	prompts  PromptLoader

	// Threshold is the approximate character-size trigger for compaction.
	// max(MinCompactionThreshold, Threshold) is always used.
	Threshold int

	log *TranscriptLog
}

// NewCompactingConversation builds a conversation in the fixed-prefix shape:
// system prompt, initial user instructions, an (initially empty) memories
// block, and an (initially empty) chapter-summaries block.
func NewCompactingConversation(data *Data, memories *MemoryStore, prompts PromptLoader, threshold int, log *TranscriptLog) *CompactingConversation {
	if data.Strategy == "" {
		data.Strategy = StrategyCompacting
	}
	cc := &CompactingConversation{data: data, memories: memories, prompts: prompts, Threshold: threshold, log: log}
	if len(data.Messages) == 0 {
		systemPrompt := ""
		if prompts != nil {
			systemPrompt = prompts(data.Role)
		}
		cc.data.Messages = []Message{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: ""},
			{Role: RoleSystem, Content: memories.RenderBlock()},
			{Role: RoleSystem, Content: renderChapters(nil)},
		}
	}
	return cc
}

// Data returns the underlying persistable snapshot data. Callers must treat
// it as read-mostly except through the conversation's own mutators.
func (c *CompactingConversation) Data() *Data { return c.data }

// SetInitialInstructions sets message index 1, the immutable initial user
// instructions, once at conversation creation.
func (c *CompactingConversation) SetInitialInstructions(text string) {
	c.data.Messages[IdxInitialUserMsg] = Message{Role: RoleUser, Content: text}
}

// Append adds a message to the compressible tail.
func (c *CompactingConversation) Append(msg Message) {
	c.data.Messages = append(c.data.Messages, msg)
}

// Messages returns the live message slice for driving an LLM call.
func (c *CompactingConversation) Messages() []Message { return c.data.Messages }

// RefreshMemoriesBlock regenerates message index 2 from the current memory
// store; callers invoke this whenever memories change.
func (c *CompactingConversation) RefreshMemoriesBlock() {
	c.data.Messages[IdxMemoriesBlock] = Message{Role: RoleSystem, Content: c.memories.RenderBlock()}
}

func renderChapters(chapters []string) string {
	var b strings.Builder
	b.WriteString("[Chapter Summaries]\n")
	if len(chapters) == 0 {
		b.WriteString("(none yet)\n")
		return b.String()
	}
	for i, ch := range chapters {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ch)
	}
	return b.String()
}

func (c *CompactingConversation) refreshChaptersBlock() {
	c.data.Messages[IdxChapterSummaries] = Message{Role: RoleSystem, Content: renderChapters(c.data.Chapters)}
}

// sizeThreshold is max(MinCompactionThreshold, Threshold).
func (c *CompactingConversation) sizeThreshold() int {
	if c.Threshold > MinCompactionThreshold {
		return c.Threshold
	}
	return MinCompactionThreshold
}

// approxSize sums Size() over every message: role plus content, a
// character-count stand-in for token count that needs no tokenizer.
func (c *CompactingConversation) approxSize() int {
	total := 0
	for _, m := range c.data.Messages {
		total += m.Size()
	}
	return total
}

// NeedsCompaction reports whether the tail should be folded into a new
// chapter summary.
func (c *CompactingConversation) NeedsCompaction() bool {
	return c.approxSize() > c.sizeThreshold()
}

// MaybeCompact runs compaction if NeedsCompaction and compact is non-nil.
// Returns whether a compaction actually ran.
func (c *CompactingConversation) MaybeCompact(ctx context.Context, compact CompactFunc) (bool, error) {
	if !c.NeedsCompaction() || compact == nil {
		return false, nil
	}
	total := len(c.data.Messages) - TailStart
	if total < 2 {
		return false, nil
	}
	keepRecent := total / 5
	if keepRecent < 1 {
		keepRecent = 1
	}
	end := len(c.data.Messages) - keepRecent
	if end <= TailStart {
		return false, nil
	}

	originalTask := c.data.Messages[IdxInitialUserMsg].Content
	historyBlock := renderHistoryBlock(c.data.Messages[TailStart:end])

	summary, err := compact(ctx, c.memories, originalTask, historyBlock)
	if err != nil {
		return false, err
	}

	c.data.Chapters = append(c.data.Chapters, summary)
	if len(c.data.Chapters) > MaxChapterSummaries {
		c.data.Chapters = c.data.Chapters[len(c.data.Chapters)-MaxChapterSummaries:]
	}

	remaining := append([]Message(nil), c.data.Messages[:TailStart]...)
	remaining = append(remaining, c.data.Messages[end:]...)
	c.data.Messages = remaining

	c.RefreshMemoriesBlock()
	c.refreshChaptersBlock()

	if c.log != nil {
		c.log.RotateAfterCompaction(len(c.data.Chapters))
	}
	return true, nil
}

// renderHistoryBlock formats a message slice role-by-role with escaped
// quotes, matching the format the Compaction sub-conversation's user message
// embeds.
func renderHistoryBlock(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		content := strings.ReplaceAll(m.Content, `"`, `\"`)
		fmt.Fprintf(&b, "[%s] \"%s\"\n", m.Role, content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&b, "  tool_call %s(%s)\n", tc.Name, string(tc.Arguments))
		}
	}
	return b.String()
}

// Reconstitute rewraps an already-persisted Data: it reattaches the shared
// MemoryStore reference, rebuilds the chapter-summaries block, and — since
// the prompt file may have been edited since the snapshot was taken —
// refreshes the system prompt from disk.
func Reconstitute(data *Data, memories *MemoryStore, prompts PromptLoader, threshold int, log *TranscriptLog) *CompactingConversation {
	c := &CompactingConversation{data: data, memories: memories, prompts: prompts, Threshold: threshold, log: log}
	if len(data.Messages) > IdxSystemPrompt && prompts != nil {
		data.Messages[IdxSystemPrompt] = Message{Role: RoleSystem, Content: prompts(data.Role)}
	}
	if len(data.Messages) > IdxMemoriesBlock {
		c.RefreshMemoriesBlock()
	}
	if len(data.Messages) > IdxChapterSummaries {
		c.refreshChaptersBlock()
	}
	return c
}

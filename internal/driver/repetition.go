package driver

import (
	"fmt"
	"hash/crc32"
	"strings"
	"time"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// repetitionWarnThreshold is when a warning is first injected into the
// conversation; repetitionKillThreshold is when the driver gives up.
const (
	repetitionWarnThreshold = 3
	repetitionKillThreshold = 5
)

// snippetClip is how far trailing tool results are clipped when building
// the RepetitionDetected context.
const snippetClip = 500

// repetitionTracker fingerprints one driver invocation's assistant turns to
// detect a model stuck repeating itself. Tool-call ids are excluded from
// the fingerprint because they vary per call even when everything else is
// identical.
type repetitionTracker struct {
	counts map[uint32]int
}

func newRepetitionTracker() *repetitionTracker {
	return &repetitionTracker{counts: make(map[uint32]int)}
}

// fingerprint builds the CRC32 input: assistant content plus name+args per
// tool call, each separated by a NUL byte.
func fingerprint(content string, calls []convo.ToolCall) uint32 {
	var b strings.Builder
	b.WriteString(content)
	for _, c := range calls {
		b.WriteByte(0)
		b.WriteString(c.Name)
		b.WriteByte(0)
		b.Write(c.Arguments)
	}
	return crc32.ChecksumIEEE([]byte(b.String()))
}

// Observe records one assistant turn and returns the updated count for its
// fingerprint.
func (t *repetitionTracker) Observe(content string, calls []convo.ToolCall) int {
	f := fingerprint(content, calls)
	t.counts[f]++
	return t.counts[f]
}

// repetitionContext renders the last n assistant turns (and their trailing
// tool results, clipped to snippetClip characters) as the context carried
// by a RepetitionDetected result.
func repetitionContext(msgs []convo.Message, n int) string {
	var turns []string
	for i := len(msgs) - 1; i >= 0 && len(turns) < n; i-- {
		if msgs[i].Role != convo.RoleAssistant {
			continue
		}
		turn := msgs[i].Content
		for j := i + 1; j < len(msgs) && msgs[j].Role == convo.RoleTool; j++ {
			snippet := msgs[j].Content
			if len(snippet) > snippetClip {
				snippet = snippet[:snippetClip]
			}
			turn += fmt.Sprintf("\n  [tool %s]: %s", msgs[j].ToolCallID, snippet)
		}
		turns = append([]string{turn}, turns...)
	}
	return strings.Join(turns, "\n---\n")
}

const repetitionWarning = "Warning: this exact action has been repeated multiple times. Try a different approach or explain why repetition is necessary."

// warningMessage builds the system message injected once repetition count
// hits repetitionWarnThreshold.
func warningMessage() convo.Message {
	return convo.Message{Role: convo.RoleSystem, Content: repetitionWarning, CreatedAt: time.Now()}
}

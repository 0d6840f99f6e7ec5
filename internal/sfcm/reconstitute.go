package sfcm

import (
	"strconv"
	"strings"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// Reconstitute rebuilds the frame stack of a persisted SFCM conversation by
// scanning its message list for FRAME_N markers. For each marker found, the
// boundary index is the nearest preceding assistant message carrying a
// push_context call; markers with no such predecessor (only FRAME_0 can
// legitimately lack one) get BoundaryIndex -1. If no markers are found at
// all but the fixed prefix exists, a clean FRAME_0 is rebuilt from messages
// 0 and 1 instead of failing.
func Reconstitute(data *convo.Data, memories *convo.MemoryStore) *Conversation {
	c := &Conversation{data: data, memories: memories}

	var frames []Frame
	for i, msg := range data.Messages {
		if msg.Role != convo.RoleSystem {
			continue
		}
		depth, ok := parseFrameMarker(msg.Content)
		if !ok {
			continue
		}
		boundary := nearestPushBoundary(data.Messages, i)
		task, details := "", ""
		if i+1 < len(data.Messages) {
			task, details = splitTaskDetails(data.Messages[i+1].Content)
		}
		frames = append(frames, Frame{
			ID:            msg.Content,
			Task:          task,
			Details:       details,
			Depth:         depth,
			BoundaryIndex: boundary,
			StartIndex:    i,
		})
	}

	if len(frames) == 0 && len(data.Messages) >= 2 {
		goal := data.Messages[IdxUserGoal].Content
		frames = []Frame{{ID: frameMarker(0), Task: goal, Depth: 0, BoundaryIndex: -1, StartIndex: IdxFrame0Marker}}
	}

	c.frames = frames
	return c
}

func parseFrameMarker(content string) (int, bool) {
	const prefix = "FRAME_"
	if !strings.HasPrefix(content, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(content, prefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

func nearestPushBoundary(messages []convo.Message, markerIdx int) int {
	for i := markerIdx - 1; i >= 0; i-- {
		if messages[i].Role != convo.RoleAssistant {
			continue
		}
		for _, tc := range messages[i].ToolCalls {
			if tc.Name == "push_context" {
				return i
			}
		}
	}
	return -1
}

func splitTaskDetails(content string) (string, string) {
	parts := strings.SplitN(content, "\n\n", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return content, ""
}

package sfcm

import (
	"testing"

	"github.com/kanbeast/kanbeast/internal/convo"
)

func TestReconstituteRebuildsStackFromMarkers(t *testing.T) {
	mem := convo.NewMemoryStore()
	data := &convo.Data{
		ID:   "conv-3",
		Role: convo.RoleDeveloper,
		Messages: []convo.Message{
			{Role: convo.RoleSystem, Content: "instructions"},
			{Role: convo.RoleUser, Content: "ship the widget"},
			{Role: convo.RoleSystem, Content: "[Memories]\n(none yet)\n"},
			{Role: convo.RoleSystem, Content: "FRAME_0"},
			{Role: convo.RoleUser, Content: "start with the schema"},
			{Role: convo.RoleAssistant, ToolCalls: []convo.ToolCall{{ID: "1", Name: "push_context"}}},
			{Role: convo.RoleSystem, Content: "FRAME_1"},
			{Role: convo.RoleUser, Content: "design the schema\n\nuse three tables"},
		},
	}
	c := Reconstitute(data, mem)
	if c.Depth() != 1 {
		t.Fatalf("expected reconstituted depth 1, got %d", c.Depth())
	}
	top := c.frames[len(c.frames)-1]
	if top.BoundaryIndex != 5 {
		t.Fatalf("expected boundary index 5, got %d", top.BoundaryIndex)
	}
	if top.Task != "design the schema" || top.Details != "use three tables" {
		t.Fatalf("unexpected frame task/details: %+v", top)
	}
}

func TestReconstituteRebuildsCleanFrame0WhenNoMarkers(t *testing.T) {
	mem := convo.NewMemoryStore()
	data := &convo.Data{
		ID:   "conv-4",
		Role: convo.RoleDeveloper,
		Messages: []convo.Message{
			{Role: convo.RoleSystem, Content: "instructions"},
			{Role: convo.RoleUser, Content: "ship the widget"},
		},
	}
	c := Reconstitute(data, mem)
	if c.Depth() != 0 {
		t.Fatalf("expected clean FRAME_0 at depth 0, got %d", c.Depth())
	}
	if len(c.frames) != 1 || c.frames[0].Task != "ship the widget" {
		t.Fatalf("unexpected rebuilt frame: %+v", c.frames)
	}
}

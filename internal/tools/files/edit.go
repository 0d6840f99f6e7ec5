package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kanbeast/kanbeast/internal/tool"
)

// textEdit is one find/replace step. Without ReplaceAll the old text must
// occur exactly once so an ambiguous edit fails loudly instead of landing on
// whichever occurrence happens to come first.
type textEdit struct {
	OldText    string `json:"old_text"`
	NewText    string `json:"new_text"`
	ReplaceAll bool   `json:"replace_all"`
}

func applyEdits(content string, edits []textEdit) (string, int, error) {
	total := 0
	for i, e := range edits {
		if e.OldText == "" {
			return "", 0, fmt.Errorf("edit %d: old_text is required", i+1)
		}
		n := strings.Count(content, e.OldText)
		switch {
		case n == 0:
			return "", 0, fmt.Errorf("edit %d: old_text not found", i+1)
		case n > 1 && !e.ReplaceAll:
			return "", 0, fmt.Errorf("edit %d: old_text occurs %d times; extend it to be unique or set replace_all", i+1, n)
		case e.ReplaceAll:
			content = strings.ReplaceAll(content, e.OldText, e.NewText)
			total += n
		default:
			content = strings.Replace(content, e.OldText, e.NewText, 1)
			total++
		}
	}
	return content, total, nil
}

func editFile(ws Workspace, path string, edits []textEdit) (tool.ToolResult, error) {
	resolved, err := ws.Resolve(path)
	if err != nil {
		return tool.ToolResult{}, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return tool.ToolResult{}, err
	}
	updated, n, err := applyEdits(string(data), edits)
	if err != nil {
		return tool.ToolResult{}, err
	}
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return tool.ToolResult{}, err
	}
	return tool.ToolResult{Response: fmt.Sprintf("Applied %d replacement(s) to %s", n, path)}, nil
}

func editTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolFileEdit,
		"Replace text in a workspace file. old_text must match exactly once unless replace_all is set.",
		[]tool.Param{
			{Name: "path", Type: tool.TypeString, Description: "File path, relative to the workspace root.", Required: true},
			{Name: "old_text", Type: tool.TypeString, Description: "Exact text to replace.", Required: true},
			{Name: "new_text", Type: tool.TypeString, Description: "Replacement text.", Required: true},
			{Name: "replace_all", Type: tool.TypeBoolean, Description: "Replace every occurrence (default false)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Path string `json:"path"`
				textEdit
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			return editFile(ws, in.Path, []textEdit{in.textEdit})
		})
}

// multiEditTool's edits parameter is an array of objects, which the Param
// list can't express, so its schema is written out by hand.
func multiEditTool(ws Workspace) tool.Tool {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "File path, relative to the workspace root."},
			"edits": {
				"type": "array",
				"description": "Find/replace steps, applied in order against the running result.",
				"items": {
					"type": "object",
					"properties": {
						"old_text": {"type": "string", "description": "Exact text to replace."},
						"new_text": {"type": "string", "description": "Replacement text."},
						"replace_all": {"type": "boolean", "description": "Replace every occurrence (default false)."}
					},
					"required": ["old_text", "new_text"]
				}
			}
		},
		"required": ["path", "edits"]
	}`)
	return tool.New(tool.ToolFileMultiEdit,
		"Apply several find/replace edits to one workspace file in a single call. All edits succeed or none are written.",
		schema,
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Path  string     `json:"path"`
				Edits []textEdit `json:"edits"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			if len(in.Edits) == 0 {
				return tool.ToolResult{}, fmt.Errorf("edits is required")
			}
			return editFile(ws, in.Path, in.Edits)
		})
}

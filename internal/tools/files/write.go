package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kanbeast/kanbeast/internal/tool"
)

func writeTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolFileWrite,
		"Write a file in the workspace, creating parent directories as needed. Overwrites any existing content.",
		[]tool.Param{
			{Name: "path", Type: tool.TypeString, Description: "File path, relative to the workspace root.", Required: true},
			{Name: "content", Type: tool.TypeString, Description: "Full file content to write.", Required: true},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			resolved, err := ws.Resolve(in.Path)
			if err != nil {
				return tool.ToolResult{}, err
			}
			if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
				return tool.ToolResult{}, err
			}
			existed := false
			if _, err := os.Stat(resolved); err == nil {
				existed = true
			}
			if err := os.WriteFile(resolved, []byte(in.Content), 0o644); err != nil {
				return tool.ToolResult{}, err
			}
			verb := "Created"
			if existed {
				verb = "Rewrote"
			}
			return tool.ToolResult{Response: fmt.Sprintf("%s %s (%d bytes)", verb, in.Path, len(in.Content))}, nil
		})
}

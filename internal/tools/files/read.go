package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kanbeast/kanbeast/internal/tool"
)

// maxReadBytes bounds one file_read response before the dispatcher's own
// truncation kicks in; large files are paged via offset/limit instead.
const maxReadBytes = 128 * 1024

const defaultReadLimit = 2000

func readTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolFileRead,
		"Read a file from the workspace. Output is line-numbered; use offset and limit to page through large files.",
		[]tool.Param{
			{Name: "path", Type: tool.TypeString, Description: "File path, relative to the workspace root.", Required: true},
			{Name: "offset", Type: tool.TypeInteger, Description: "1-based line to start from (default 1)."},
			{Name: "limit", Type: tool.TypeInteger, Description: "Maximum lines to return (default 2000)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Path   string `json:"path"`
				Offset int    `json:"offset"`
				Limit  int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			resolved, err := ws.Resolve(in.Path)
			if err != nil {
				return tool.ToolResult{}, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return tool.ToolResult{}, err
			}
			if isBinary(data) {
				return tool.ToolResult{Response: fmt.Sprintf("%s is a binary file (%d bytes)", in.Path, len(data))}, nil
			}

			lines := strings.Split(string(data), "\n")
			start := in.Offset
			if start < 1 {
				start = 1
			}
			if start > len(lines) {
				return tool.ToolResult{Response: fmt.Sprintf("%s has only %d lines", in.Path, len(lines))}, nil
			}
			limit := in.Limit
			if limit <= 0 {
				limit = defaultReadLimit
			}
			end := start - 1 + limit
			if end > len(lines) {
				end = len(lines)
			}

			var b strings.Builder
			bytesOut := 0
			shown := 0
			for i := start - 1; i < end; i++ {
				line := lines[i]
				if bytesOut+len(line) > maxReadBytes {
					break
				}
				fmt.Fprintf(&b, "%6d\t%s\n", i+1, line)
				bytesOut += len(line)
				shown++
			}
			if start-1+shown < len(lines) {
				fmt.Fprintf(&b, "... (%d more lines; continue with offset=%d)\n", len(lines)-(start-1+shown), start+shown)
			}
			return tool.ToolResult{Response: b.String()}, nil
		})
}

func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	for _, c := range probe {
		if c == 0 {
			return true
		}
	}
	return false
}

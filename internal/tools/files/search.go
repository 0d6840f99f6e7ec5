package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/kanbeast/kanbeast/internal/tool"
)

const grepMaxHits = 200

func globTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolSearchGlob,
		"List workspace files matching a glob pattern, e.g. internal/*/service.go.",
		[]tool.Param{
			{Name: "pattern", Type: tool.TypeString, Description: "Glob pattern, relative to the workspace root.", Required: true},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Pattern string `json:"pattern"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			if strings.TrimSpace(in.Pattern) == "" {
				return tool.ToolResult{}, fmt.Errorf("pattern is required")
			}
			rootAbs, err := ws.Resolve(".")
			if err != nil {
				return tool.ToolResult{}, err
			}
			matches, err := filepath.Glob(filepath.Join(rootAbs, in.Pattern))
			if err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid pattern: %w", err)
			}
			rel := make([]string, 0, len(matches))
			for _, m := range matches {
				if r, err := filepath.Rel(rootAbs, m); err == nil {
					rel = append(rel, r)
				}
			}
			sort.Strings(rel)
			if len(rel) == 0 {
				return tool.ToolResult{Response: "No matches."}, nil
			}
			return tool.ToolResult{Response: strings.Join(rel, "\n")}, nil
		})
}

func grepTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolSearchGrep,
		"Search file contents under a workspace directory for a regular expression.",
		[]tool.Param{
			{Name: "pattern", Type: tool.TypeString, Description: "Go regular expression to search for.", Required: true},
			{Name: "path", Type: tool.TypeString, Description: "Directory to search (default: workspace root)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Pattern string `json:"pattern"`
				Path    string `json:"path"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			re, err := regexp.Compile(in.Pattern)
			if err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid pattern: %w", err)
			}
			dir := in.Path
			if strings.TrimSpace(dir) == "" {
				dir = "."
			}
			root, err := ws.Resolve(dir)
			if err != nil {
				return tool.ToolResult{}, err
			}

			var b strings.Builder
			hits := 0
			walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if d.IsDir() {
					if d.Name() == ".git" || d.Name() == "node_modules" {
						return filepath.SkipDir
					}
					return nil
				}
				if hits >= grepMaxHits {
					return filepath.SkipAll
				}
				raw, err := os.ReadFile(path)
				if err != nil || isBinary(raw) {
					return nil
				}
				rel, _ := filepath.Rel(root, path)
				for i, line := range strings.Split(string(raw), "\n") {
					if hits >= grepMaxHits {
						break
					}
					if re.MatchString(line) {
						fmt.Fprintf(&b, "%s:%d: %s\n", rel, i+1, strings.TrimRight(line, "\r"))
						hits++
					}
				}
				return nil
			})
			if walkErr != nil {
				return tool.ToolResult{}, walkErr
			}
			if hits == 0 {
				return tool.ToolResult{Response: "No matches."}, nil
			}
			if hits >= grepMaxHits {
				fmt.Fprintf(&b, "(stopped after %d matches; narrow the pattern or path)\n", grepMaxHits)
			}
			return tool.ToolResult{Response: b.String()}, nil
		})
}

func listTool(ws Workspace) tool.Tool {
	return tool.Define(tool.ToolSearchList,
		"List the entries of a workspace directory.",
		[]tool.Param{
			{Name: "path", Type: tool.TypeString, Description: "Directory to list (default: workspace root)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Path string `json:"path"`
			}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &in); err != nil {
					return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
				}
			}
			dir := in.Path
			if strings.TrimSpace(dir) == "" {
				dir = "."
			}
			resolved, err := ws.Resolve(dir)
			if err != nil {
				return tool.ToolResult{}, err
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				return tool.ToolResult{}, err
			}
			var b strings.Builder
			for _, e := range entries {
				if e.IsDir() {
					b.WriteString(e.Name() + "/\n")
				} else {
					b.WriteString(e.Name() + "\n")
				}
			}
			if b.Len() == 0 {
				return tool.ToolResult{Response: "(empty directory)"}, nil
			}
			return tool.ToolResult{Response: b.String()}, nil
		})
}

package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kanbeast/kanbeast/internal/tool"
)

// Tools returns the shell toolset bound to this manager.
func (s *Shell) Tools() []tool.Tool {
	return []tool.Tool{
		s.runTool(),
		s.startTool(),
		s.sendTool(),
		s.killTool(),
	}
}

func (s *Shell) runTool() tool.Tool {
	return tool.Define(tool.ToolShellRun,
		"Run a shell command in the workspace and wait for it to finish. Returns combined output and the exit code.",
		[]tool.Param{
			{Name: "command", Type: tool.TypeString, Description: "Command line, run under /bin/sh -c.", Required: true},
			{Name: "cwd", Type: tool.TypeString, Description: "Working directory, relative to the workspace root."},
			{Name: "timeout_seconds", Type: tool.TypeInteger, Description: "Timeout in seconds (default 120, max 600)."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Command        string `json:"command"`
				Cwd            string `json:"cwd"`
				TimeoutSeconds int    `json:"timeout_seconds"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			out, code, err := s.Run(ctx, in.Command, in.Cwd, time.Duration(in.TimeoutSeconds)*time.Second)
			if err != nil {
				if out != "" {
					return tool.ToolResult{}, fmt.Errorf("%w\noutput so far:\n%s", err, out)
				}
				return tool.ToolResult{}, err
			}
			var b strings.Builder
			if out == "" {
				b.WriteString("(no output)")
			} else {
				b.WriteString(out)
			}
			if code != 0 {
				fmt.Fprintf(&b, "\nexit code: %d", code)
			}
			return tool.ToolResult{Response: b.String()}, nil
		})
}

func (s *Shell) startTool() tool.Tool {
	return tool.Define(tool.ToolShellStart,
		"Start a shell command as a tracked background process. Returns a process id for shell_send and shell_kill.",
		[]tool.Param{
			{Name: "command", Type: tool.TypeString, Description: "Command line, run under /bin/sh -c.", Required: true},
			{Name: "cwd", Type: tool.TypeString, Description: "Working directory, relative to the workspace root."},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				Command string `json:"command"`
				Cwd     string `json:"cwd"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			id, err := s.Start(ctx, in.Command, in.Cwd)
			if err != nil {
				return tool.ToolResult{}, err
			}
			return tool.ToolResult{Response: fmt.Sprintf("Started %s: %s", id, in.Command)}, nil
		})
}

func (s *Shell) sendTool() tool.Tool {
	return tool.Define(tool.ToolShellSend,
		"Write input to a running background process's stdin, then report its output so far.",
		[]tool.Param{
			{Name: "process_id", Type: tool.TypeString, Description: "Id returned by shell_start.", Required: true},
			{Name: "input", Type: tool.TypeString, Description: "Bytes to write; append \\n yourself for line input.", Required: true},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				ProcessID string `json:"process_id"`
				Input     string `json:"input"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			if err := s.Send(in.ProcessID, in.Input); err != nil {
				return tool.ToolResult{}, err
			}
			// Give a fast-reacting process a moment to respond so the model
			// sees the effect of its input in the same tool result.
			time.Sleep(100 * time.Millisecond)
			out, running, code, err := s.Output(in.ProcessID)
			if err != nil {
				return tool.ToolResult{}, err
			}
			status := "running"
			if !running {
				status = fmt.Sprintf("exited with code %d", code)
			}
			return tool.ToolResult{Response: fmt.Sprintf("%s (%s)\n%s", in.ProcessID, status, out)}, nil
		})
}

func (s *Shell) killTool() tool.Tool {
	return tool.Define(tool.ToolShellKill,
		"Kill a background process and return its captured output.",
		[]tool.Param{
			{Name: "process_id", Type: tool.TypeString, Description: "Id returned by shell_start.", Required: true},
		},
		func(ctx context.Context, args json.RawMessage, tc *tool.ToolContext) (tool.ToolResult, error) {
			var in struct {
				ProcessID string `json:"process_id"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return tool.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
			}
			out, err := s.Kill(in.ProcessID)
			if err != nil {
				return tool.ToolResult{}, err
			}
			if out == "" {
				out = "(no output)"
			}
			return tool.ToolResult{Response: fmt.Sprintf("Killed %s\n%s", in.ProcessID, out)}, nil
		})
}

package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kanbeast/kanbeast/internal/tool"
)

func execTool(t *testing.T, s *Shell, name string, args map[string]any) (tool.ToolResult, error) {
	t.Helper()
	for _, tl := range s.Tools() {
		if tl.Name() == name {
			raw, _ := json.Marshal(args)
			return tl.Execute(context.Background(), raw, &tool.ToolContext{})
		}
	}
	t.Fatalf("tool %s not in Tools()", name)
	return tool.ToolResult{}, nil
}

func TestRunCapturesOutputAndExitCode(t *testing.T) {
	s := NewShell(t.TempDir())

	res, err := execTool(t, s, tool.ToolShellRun, map[string]any{"command": "echo hello; echo err >&2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Response, "hello") || !strings.Contains(res.Response, "err") {
		t.Fatalf("expected combined stdout+stderr, got %q", res.Response)
	}

	res, err = execTool(t, s, tool.ToolShellRun, map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(res.Response, "exit code: 3") {
		t.Fatalf("expected exit code in response, got %q", res.Response)
	}
}

func TestRunTimesOut(t *testing.T) {
	s := NewShell(t.TempDir())
	start := time.Now()
	_, _, err := s.Run(context.Background(), "sleep 5", "", 100*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout did not cut the command short")
	}
}

func TestRunInSubdirectory(t *testing.T) {
	root := t.TempDir()
	s := NewShell(root)
	if _, _, err := s.Run(context.Background(), "mkdir sub", "", 0); err != nil {
		t.Fatal(err)
	}
	out, code, err := s.Run(context.Background(), "pwd", "sub", 0)
	if err != nil || code != 0 {
		t.Fatalf("run in cwd: out=%q code=%d err=%v", out, code, err)
	}
	if !strings.Contains(out, "sub") {
		t.Fatalf("expected cwd to be sub, got %q", out)
	}
	if _, _, err := s.Run(context.Background(), "pwd", "../..", 0); err == nil {
		t.Fatal("expected workspace-escape error for cwd ../..")
	}
}

func TestBackgroundSendAndKill(t *testing.T) {
	s := NewShell(t.TempDir())
	id, err := s.Start(context.Background(), "while read line; do echo got:$line; done", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Send(id, "ping\n"); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		out, _, _, err := s.Output(id)
		if err != nil {
			t.Fatalf("output: %v", err)
		}
		if strings.Contains(out, "got:ping") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw echoed input, output=%q", out)
		}
		time.Sleep(20 * time.Millisecond)
	}

	out, err := s.Kill(id)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !strings.Contains(out, "got:ping") {
		t.Fatalf("kill lost captured output: %q", out)
	}
	if _, _, _, err := s.Output(id); err == nil {
		t.Fatal("expected lookup failure after kill removed the process")
	}
}

func TestSendToExitedProcessFails(t *testing.T) {
	s := NewShell(t.TempDir())
	id, err := s.Start(context.Background(), "true", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, running, _, _ := s.Output(id)
		if !running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never exited")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := s.Send(id, "x"); err == nil {
		t.Fatal("expected error sending to exited process")
	}
}

func TestTailBufferKeepsNewestBytes(t *testing.T) {
	b := &tailBuffer{cap: 8}
	b.Write([]byte("0123456789"))
	got := b.String()
	if !strings.HasSuffix(got, "23456789") {
		t.Fatalf("expected newest bytes kept, got %q", got)
	}
	if !strings.Contains(got, "dropped") {
		t.Fatalf("expected drop notice, got %q", got)
	}
}

package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kanbeast/kanbeast/internal/tool"
)

func run(t *testing.T, tl tool.Tool, args map[string]any) (tool.ToolResult, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return tl.Execute(context.Background(), raw, &tool.ToolContext{})
}

func findTool(t *testing.T, root, name string) tool.Tool {
	t.Helper()
	for _, tl := range Tools(root) {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %s not in Tools()", name)
	return tool.Tool{}
}

func TestResolveRejectsEscape(t *testing.T) {
	ws := Workspace{Root: t.TempDir()}
	if _, err := ws.Resolve("../outside"); err == nil {
		t.Fatal("expected escape error for ../outside")
	}
	if _, err := ws.Resolve("sub/../ok.txt"); err != nil {
		t.Fatalf("expected in-root path to resolve, got %v", err)
	}
}

func TestWriteThenReadLineNumbered(t *testing.T) {
	root := t.TempDir()
	write := findTool(t, root, tool.ToolFileWrite)
	read := findTool(t, root, tool.ToolFileRead)

	res, err := run(t, write, map[string]any{"path": "a/b.txt", "content": "one\ntwo\nthree"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(res.Response, "Created") {
		t.Fatalf("expected Created response, got %q", res.Response)
	}

	res, err = run(t, read, map[string]any{"path": "a/b.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(res.Response, "1\tone") || !strings.Contains(res.Response, "3\tthree") {
		t.Fatalf("expected line-numbered content, got %q", res.Response)
	}
}

func TestReadOffsetAndLimitPage(t *testing.T) {
	root := t.TempDir()
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "line"
	}
	if err := os.WriteFile(filepath.Join(root, "big.txt"), []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		t.Fatal(err)
	}
	read := findTool(t, root, tool.ToolFileRead)
	res, err := run(t, read, map[string]any{"path": "big.txt", "offset": 10, "limit": 5})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(res.Response, "10\tline") || strings.Contains(res.Response, "15\tline") {
		t.Fatalf("expected lines 10-14 only, got %q", res.Response)
	}
	if !strings.Contains(res.Response, "offset=15") {
		t.Fatalf("expected continuation hint, got %q", res.Response)
	}
}

func TestEditRequiresUniqueMatch(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x x"), 0o644); err != nil {
		t.Fatal(err)
	}
	edit := findTool(t, root, tool.ToolFileEdit)

	if _, err := run(t, edit, map[string]any{"path": "f.txt", "old_text": "x", "new_text": "y"}); err == nil {
		t.Fatal("expected ambiguity error for two occurrences without replace_all")
	}

	res, err := run(t, edit, map[string]any{"path": "f.txt", "old_text": "x", "new_text": "y", "replace_all": true})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !strings.Contains(res.Response, "2 replacement") {
		t.Fatalf("expected 2 replacements, got %q", res.Response)
	}
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "y y" {
		t.Fatalf("file content = %q, want %q", data, "y y")
	}
}

func TestMultiEditAppliesInOrderAndFailsAtomically(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("alpha beta"), 0o644); err != nil {
		t.Fatal(err)
	}
	multi := findTool(t, root, tool.ToolFileMultiEdit)

	res, err := run(t, multi, map[string]any{
		"path": "f.txt",
		"edits": []map[string]any{
			{"old_text": "alpha", "new_text": "gamma"},
			{"old_text": "gamma beta", "new_text": "done"},
		},
	})
	if err != nil {
		t.Fatalf("multi edit: %v", err)
	}
	if !strings.Contains(res.Response, "2 replacement") {
		t.Fatalf("expected 2 replacements, got %q", res.Response)
	}

	// A failing step must leave the file untouched.
	if _, err := run(t, multi, map[string]any{
		"path": "f.txt",
		"edits": []map[string]any{
			{"old_text": "done", "new_text": "redone"},
			{"old_text": "missing", "new_text": "x"},
		},
	}); err == nil {
		t.Fatal("expected not-found error for second edit")
	}
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	if string(data) != "done" {
		t.Fatalf("file mutated despite failed edit batch: %q", data)
	}
}

func TestGlobGrepList(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\nfunc Alpha() {}\n"), 0o644)
	os.WriteFile(filepath.Join(root, "pkg", "b.txt"), []byte("nothing here\n"), 0o644)

	res, err := run(t, findTool(t, root, tool.ToolSearchGlob), map[string]any{"pattern": "pkg/*.go"})
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if !strings.Contains(res.Response, filepath.Join("pkg", "a.go")) || strings.Contains(res.Response, "b.txt") {
		t.Fatalf("glob matched wrong files: %q", res.Response)
	}

	res, err = run(t, findTool(t, root, tool.ToolSearchGrep), map[string]any{"pattern": "func Alpha"})
	if err != nil {
		t.Fatalf("grep: %v", err)
	}
	if !strings.Contains(res.Response, "a.go:2:") {
		t.Fatalf("grep missed match with line number: %q", res.Response)
	}

	res, err = run(t, findTool(t, root, tool.ToolSearchList), map[string]any{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(res.Response, "pkg/") {
		t.Fatalf("list missed directory entry: %q", res.Response)
	}
}

func TestReadBinaryFileReported(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "bin"), []byte{0x00, 0x01, 0x02}, 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := run(t, findTool(t, root, tool.ToolFileRead), map[string]any{"path": "bin"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(res.Response, "binary file") {
		t.Fatalf("expected binary notice, got %q", res.Response)
	}
}

// Package files implements the workspace-scoped file tools: file_read,
// file_write, file_edit, file_multi_edit, and the search_glob/search_grep/
// search_list surface. Every path a model supplies is resolved against the
// workspace root and rejected if it escapes it.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace anchors every file tool to one root directory.
type Workspace struct {
	Root string
}

// Resolve returns the absolute path for a workspace-relative (or absolute)
// path, failing if the result lands outside the workspace root.
func (w Workspace) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(w.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	targetAbs, err := filepath.Abs(filepath.Clean(target))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%q is outside the workspace", path)
	}
	return targetAbs, nil
}

package orchestrator

import (
	"github.com/kanbeast/kanbeast/internal/tools/exec"
	"github.com/kanbeast/kanbeast/internal/tools/files"
	"github.com/kanbeast/kanbeast/internal/tools/websearch"
)

// registerExecutionTools wires the file, shell, and web toolsets into the
// shared registry. Each package builds its tools under the exact names the
// role->toolset matrix (internal/tool/toolset.go) gates, so registration is
// a straight pass-through.
func (o *Orchestrator) registerExecutionTools() {
	for _, t := range files.Tools(o.Workspace) {
		o.tools.Register(t)
	}
	for _, t := range exec.NewShell(o.Workspace).Tools() {
		o.tools.Register(t)
	}
	for _, t := range websearch.NewClient().Tools() {
		o.tools.Register(t)
	}
}

package files

import "github.com/kanbeast/kanbeast/internal/tool"

// Tools returns every file tool bound to the workspace rooted at root,
// registered under the names the role->toolset matrix gates.
func Tools(root string) []tool.Tool {
	ws := Workspace{Root: root}
	return []tool.Tool{
		readTool(ws),
		writeTool(ws),
		editTool(ws),
		multiEditTool(ws),
		globTool(ws),
		grepTool(ws),
		listTool(ws),
	}
}

package tool

// Scope identifies which toolset a conversation sees: its agent role, and
// — for Planning only — whether the owning ticket is still in Backlog or
// has moved to Active. Every other role ignores TicketActive.
type Scope struct {
	Role         string
	TicketActive bool

	// UseSFCM is set when the conversation uses the SFCM strategy rather
	// than compacting; only then are push_context/pop_context added.
	UseSFCM bool
	// SFCMMaxDepth, when UseSFCM is set, omits push_context once the frame
	// stack has reached its maximum depth.
	SFCMMaxDepth bool
}

const (
	RolePlanning   = "Planning"
	RoleDeveloper  = "Developer"
	RoleSubAgent   = "SubAgent"
	RoleCompaction = "Compaction"
)

// Tool name constants for the ones the role matrix gates explicitly; tool
// bodies live in internal/tools-equivalent packages and register themselves
// under these names.
const (
	ToolShellRun      = "shell_run"
	ToolShellStart    = "shell_start"
	ToolShellSend     = "shell_send"
	ToolShellKill     = "shell_kill"
	ToolFileRead      = "file_read"
	ToolFileWrite     = "file_write"
	ToolFileEdit      = "file_edit"
	ToolFileMultiEdit = "file_multi_edit"
	ToolSearchGlob    = "search_glob"
	ToolSearchGrep    = "search_grep"
	ToolSearchList    = "search_list"
	ToolWebGetPage    = "web_get_page"
	ToolWebSearch     = "web_search"
	ToolTicketLog     = "ticket_log"
	ToolCreateTask    = "ticket_create_task"
	ToolCreateSubtask = "ticket_create_subtask"
	ToolNextWorkItem  = "ticket_get_next_work_item"
	ToolUpdateLLMNote = "ticket_update_llm_notes"
	ToolEndSubtask    = "ticket_end_subtask"
	ToolStartDev      = "start_developer"
	ToolStartSubAgent = "start_sub_agent"
	ToolTaskComplete  = "agent_task_complete"
	ToolCompleteTicket = "complete_ticket"
	ToolMemoryAdd     = "memory_add"
	ToolMemoryRemove  = "memory_remove"
	ToolSummarize     = "summarize_history"
	ToolPushContext   = "push_context"
	ToolPopContext    = "pop_context"
)

// NamesFor returns the tool names available to scope, per the role->toolset
// matrix: Planning/Backlog has task creation; Planning/Active has
// start_developer plus work-item selection; Developer has every execution
// tool plus start_sub_agent; SubAgent matches Developer minus sub-agent
// spawn, plus agent_task_complete; Compaction has summarization and memory
// edits only.
func NamesFor(scope Scope) []string {
	switch scope.Role {
	case RolePlanning:
		// complete_ticket is always present for this role: the Planner is
		// driven until a complete_ticket exit regardless of ticket status.
		names := []string{ToolSearchGlob, ToolSearchGrep, ToolSearchList, ToolWebGetPage, ToolWebSearch, ToolTicketLog, ToolMemoryAdd, ToolMemoryRemove, ToolShellRun, ToolFileRead, ToolCompleteTicket}
		if scope.TicketActive {
			names = append(names, ToolStartDev, ToolNextWorkItem, ToolUpdateLLMNote)
		} else {
			names = append(names, ToolCreateTask, ToolCreateSubtask)
		}
		return appendFrameTools(names, scope)

	case RoleDeveloper:
		names := []string{
			ToolShellRun, ToolShellStart, ToolShellSend, ToolShellKill,
			ToolFileRead, ToolFileWrite, ToolFileEdit, ToolFileMultiEdit,
			ToolSearchGlob, ToolSearchGrep, ToolSearchList,
			ToolWebGetPage, ToolWebSearch,
			ToolTicketLog, ToolEndSubtask, ToolStartSubAgent,
			ToolMemoryAdd, ToolMemoryRemove,
		}
		return appendFrameTools(names, scope)

	case RoleSubAgent:
		names := []string{
			ToolShellRun, ToolShellStart, ToolShellSend, ToolShellKill,
			ToolFileRead, ToolFileWrite, ToolFileEdit, ToolFileMultiEdit,
			ToolSearchGlob, ToolSearchGrep, ToolSearchList,
			ToolWebGetPage, ToolWebSearch,
			ToolTicketLog, ToolTaskComplete,
			ToolMemoryAdd, ToolMemoryRemove,
		}
		return appendFrameTools(names, scope)

	case RoleCompaction:
		return []string{ToolMemoryAdd, ToolMemoryRemove, ToolSummarize}

	default:
		return nil
	}
}

// appendFrameTools adds push_context/pop_context when scope.UseSFCM is set;
// push_context is withheld once the frame stack is at max depth. These two
// tools are SFCM-specific mechanics from the conversation strategy, not
// part of the role matrix itself, so a compacting-strategy scope (UseSFCM
// false) never sees them.
func appendFrameTools(names []string, scope Scope) []string {
	if !scope.UseSFCM {
		return names
	}
	if !scope.SFCMMaxDepth {
		names = append(names, ToolPushContext)
	}
	return append(names, ToolPopContext)
}

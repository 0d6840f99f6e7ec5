package maintenance

import (
	"os"
	"path/filepath"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convostore"
)

// gcFinishedConversationsJob returns a closure that removes finished
// conversations from every ticket's convostore document. Tickets in a
// terminal status (Done or Failed) accumulate no new conversations, so
// their finished history is safe to drop outright; active tickets keep
// their finished conversations (a Developer's completed sub-agent
// transcript is still useful context for the Planner).
func (s *Scheduler) gcFinishedConversationsJob(boardSvc *board.Service, store *convostore.Store) func() {
	return func() {
		tickets := boardSvc.List()
		var swept int
		for _, t := range tickets {
			if t.Status != board.StatusDone && t.Status != board.StatusFailed {
				continue
			}
			if err := store.DeleteFinished(t.ID); err != nil {
				s.log.Warn("maintenance: conversation GC failed", "ticket", t.ID, "error", err)
				continue
			}
			swept++
		}
		s.log.Info("maintenance: conversation GC complete", "tickets_swept", swept)
	}
}

// sweepOrphanedClonesJob returns a closure that removes per-ticket clone
// directories under clonesDir with no corresponding ticket left in the
// board. A clone survives its ticket's deletion because workers operate
// on a checkout independent of the board.Service lifecycle; nothing else
// deletes that checkout once the ticket itself is gone.
func (s *Scheduler) sweepOrphanedClonesJob(boardSvc *board.Service, clonesDir string) func() {
	return func() {
		entries, err := os.ReadDir(clonesDir)
		if err != nil {
			if !os.IsNotExist(err) {
				s.log.Warn("maintenance: clone sweep failed to list clonesDir", "error", err)
			}
			return
		}
		live := make(map[string]bool)
		for _, t := range boardSvc.List() {
			live[t.ID] = true
		}
		var removed int
		for _, entry := range entries {
			if !entry.IsDir() || live[entry.Name()] {
				continue
			}
			path := filepath.Join(clonesDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn("maintenance: failed to remove orphaned clone", "path", path, "error", err)
				continue
			}
			removed++
		}
		s.log.Info("maintenance: clone sweep complete", "clones_removed", removed)
	}
}

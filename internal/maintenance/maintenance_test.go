package maintenance

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convo"
	"github.com/kanbeast/kanbeast/internal/convostore"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	return &Scheduler{log: slog.Default()}
}

func TestGcFinishedConversations_SweepsOnlyTerminalTickets(t *testing.T) {
	boardSvc, err := board.NewService(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	store, err := convostore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	done := boardSvc.Create("done ticket", "")
	if err := boardSvc.UpdateStatus(done.ID, board.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := boardSvc.UpdateStatus(done.ID, board.StatusDone); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(done.ID, &convo.Data{ID: "c1", Finished: true}); err != nil {
		t.Fatal(err)
	}

	active := boardSvc.Create("active ticket", "")
	if err := boardSvc.UpdateStatus(active.ID, board.StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := store.Upsert(active.ID, &convo.Data{ID: "c2", Finished: true}); err != nil {
		t.Fatal(err)
	}

	s := newTestScheduler(t)
	s.gcFinishedConversationsJob(boardSvc, store)()

	doneConvos, err := store.GetInfoList(done.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(doneConvos) != 0 {
		t.Fatalf("expected finished conversations for a Done ticket to be swept, got %d", len(doneConvos))
	}

	activeConvos, err := store.GetInfoList(active.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(activeConvos) != 1 {
		t.Fatalf("expected an Active ticket's finished conversation to survive, got %d", len(activeConvos))
	}
}

func TestSweepOrphanedClones_RemovesOnlyUnknownTicketDirs(t *testing.T) {
	boardSvc, err := board.NewService(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	live := boardSvc.Create("live ticket", "")

	clonesDir := t.TempDir()
	liveDir := filepath.Join(clonesDir, live.ID)
	orphanDir := filepath.Join(clonesDir, "999")
	for _, dir := range []string{liveDir, orphanDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	s := newTestScheduler(t)
	s.sweepOrphanedClonesJob(boardSvc, clonesDir)()

	if _, err := os.Stat(liveDir); err != nil {
		t.Fatalf("expected live ticket's clone dir to survive: %v", err)
	}
	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Fatalf("expected orphaned clone dir to be removed, stat err = %v", err)
	}
}

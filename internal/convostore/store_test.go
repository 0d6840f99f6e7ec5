package convostore

import (
	"testing"
	"time"

	"github.com/kanbeast/kanbeast/internal/convo"
)

func TestStore_UpsertAndGet(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data := &convo.Data{ID: "c1", TicketID: "1", DisplayName: "Planning", StartedAt: time.Now()}
	if err := s.Upsert("1", data); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DisplayName != "Planning" {
		t.Fatalf("got %+v", got)
	}
}

func TestStore_GetAbsentTicketReturnsNilNoError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("missing", "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for a ticket with no file yet")
	}
}

func TestStore_GetActivePlanningPicksEarliestUnfinished(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	early := time.Now().Add(-time.Hour)
	late := time.Now()
	s.Upsert("1", &convo.Data{ID: "finished", DisplayName: "Planning", Finished: true, StartedAt: early})
	s.Upsert("1", &convo.Data{ID: "late", DisplayName: "Planning", StartedAt: late})
	s.Upsert("1", &convo.Data{ID: "early", DisplayName: "Planning", StartedAt: early})
	s.Upsert("1", &convo.Data{ID: "other-role", DisplayName: "Developer", StartedAt: early})

	got, err := s.GetActivePlanning("1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "early" {
		t.Fatalf("expected the earliest unfinished Planning conversation, got %+v", got)
	}
}

func TestStore_GetNonFinalizedExcludesFinished(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("1", &convo.Data{ID: "a", Finished: false, StartedAt: time.Now()})
	s.Upsert("1", &convo.Data{ID: "b", Finished: true, StartedAt: time.Now()})
	out, err := s.GetNonFinalized("1")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("got %+v", out)
	}
}

func TestStore_FinishSetsFlagAndCompletedAt(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("1", &convo.Data{ID: "a", StartedAt: time.Now()})
	if err := s.Finish("1", "a"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get("1", "a")
	if !got.Finished || got.CompletedAt.IsZero() {
		t.Fatalf("got %+v", got)
	}
}

func TestStore_DeleteFinishedKeepsOnlyUnfinished(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("1", &convo.Data{ID: "a", Finished: true, StartedAt: time.Now()})
	s.Upsert("1", &convo.Data{ID: "b", Finished: false, StartedAt: time.Now()})
	if err := s.DeleteFinished("1"); err != nil {
		t.Fatal(err)
	}
	list, _ := s.GetInfoList("1")
	if len(list) != 1 || list[0].ID != "b" {
		t.Fatalf("got %+v", list)
	}
}

func TestStore_DeleteForTicketRemovesFileEntirely(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("1", &convo.Data{ID: "a", StartedAt: time.Now()})
	if err := s.DeleteForTicket("1"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get("1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nothing to remain after DeleteForTicket")
	}
	// Deleting again (file already gone) must not error.
	if err := s.DeleteForTicket("1"); err != nil {
		t.Fatal(err)
	}
}

func TestStore_NoInMemoryCacheSeesExternalEdits(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert("1", &convo.Data{ID: "a", DisplayName: "v1", StartedAt: time.Now()})

	// A second Store instance over the same directory simulates an external
	// process editing the file; both must observe the same state with no
	// cache to go stale.
	other, err := New(s.Dir)
	if err != nil {
		t.Fatal(err)
	}
	other.Upsert("1", &convo.Data{ID: "a", DisplayName: "v2", StartedAt: time.Now()})

	got, err := s.Get("1", "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.DisplayName != "v2" {
		t.Fatalf("expected the original Store to see the externally-written edit, got %+v", got)
	}
}

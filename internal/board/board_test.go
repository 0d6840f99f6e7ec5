package board

import (
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func TestService_CreateAssignsMonotonicIDsAndPersists(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	a := svc.Create("first", "")
	b := svc.Create("second", "")
	if a.ID != "1" || b.ID != "2" {
		t.Fatalf("expected monotonic ids starting at 1, got %q and %q", a.ID, b.ID)
	}

	reopened, err := NewService(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Get("1") == nil || reopened.Get("2") == nil {
		t.Fatal("expected both tickets to survive a reload from disk")
	}
	third := reopened.Create("third", "")
	if third.ID != "3" {
		t.Fatalf("expected id allocator to resume at 3 after reload, got %q", third.ID)
	}
}

func TestTicket_StatusTransitions(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")

	if err := svc.UpdateStatus(tk.ID, StatusDone); err == nil {
		t.Fatal("expected Backlog -> Done to be illegal")
	}
	if err := svc.UpdateStatus(tk.ID, StatusActive); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateStatus(tk.ID, StatusFailed); err != nil {
		t.Fatal(err)
	}
	if err := svc.UpdateStatus(tk.ID, StatusBacklog); err != nil {
		t.Fatal(err)
	}
}

func TestTicket_AddTaskIsIdempotentByName(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")
	a, _ := svc.AddTask(tk.ID, "health", "first description")
	b, _ := svc.AddTask(tk.ID, "health", "second description")
	if a.ID != b.ID {
		t.Fatal("expected AddTask to update the existing task, not create a second one")
	}
	if len(tk.Tasks) != 1 || tk.Tasks[0].Description != "second description" {
		t.Fatalf("expected single task with latest description, got %+v", tk.Tasks)
	}
}

func TestTask_AddSubtaskIsIdempotentByName(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")
	task, _ := svc.AddTask(tk.ID, "health", "")
	a := task.AddSubtask("add handler", "v1")
	b := task.AddSubtask("add handler", "v2")
	if a.ID != b.ID || len(task.Subtasks) != 1 {
		t.Fatalf("expected idempotent upsert, got %+v", task.Subtasks)
	}
	if task.Subtasks[0].Status != SubtaskIncomplete {
		t.Fatalf("expected new subtask to start Incomplete, got %s", task.Subtasks[0].Status)
	}
}

func TestService_SetSubtaskStatusPersistsAndBroadcasts(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")
	task, _ := svc.AddTask(tk.ID, "health", "")
	sub, _ := svc.AddSubtask(tk.ID, task.ID, "add handler", "")

	if err := svc.SetSubtaskStatus(tk.ID, task.ID, sub.ID, SubtaskInProgress); err != nil {
		t.Fatal(err)
	}
	reloaded, ok := svc.Get(tk.ID).FindTask(task.ID)
	if !ok {
		t.Fatal("task not found")
	}
	reloadedSub, ok := reloaded.FindSubtask(sub.ID)
	if !ok {
		t.Fatal("subtask not found")
	}
	if reloadedSub.Status != SubtaskInProgress {
		t.Fatalf("expected InProgress, got %s", reloadedSub.Status)
	}

	if err := svc.SetSubtaskStatus(tk.ID, task.ID, "bogus", SubtaskComplete); err == nil {
		t.Fatal("expected error for unknown subtask id")
	}
}

func TestSubtask_IllegalTransitionRejected(t *testing.T) {
	sub := &Subtask{Status: SubtaskIncomplete}
	if err := sub.SetStatus(SubtaskComplete); err == nil {
		t.Fatal("expected Incomplete -> Complete to be rejected without passing through InProgress")
	}
	if err := sub.SetStatus(SubtaskInProgress); err != nil {
		t.Fatal(err)
	}
	if err := sub.SetStatus(SubtaskComplete); err != nil {
		t.Fatal(err)
	}
}

func TestTicket_RemainingBudget(t *testing.T) {
	tk := &Ticket{MaxCost: 0}
	if tk.RemainingBudget() != 0 {
		t.Fatal("maxCost 0 should mean unlimited (reported as 0)")
	}
	tk = &Ticket{MaxCost: 10, LlmCost: 3}
	if tk.RemainingBudget() != 7 {
		t.Fatalf("got %v", tk.RemainingBudget())
	}
	tk = &Ticket{MaxCost: 10, LlmCost: 15}
	if tk.RemainingBudget() != 0 {
		t.Fatal("overspent budget should clamp to 0, not go negative")
	}
}

func TestTicket_AddLlmCostAccumulatesAndLedgers(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")
	svc.AddLlmCost(tk.ID, "conv-1", 0, 100, 50, 0.02)
	svc.AddLlmCost(tk.ID, "conv-1", 1, 80, 40, 0.01)
	if tk.LlmCost != 0.03 {
		t.Fatalf("got %v", tk.LlmCost)
	}
	events := tk.GetCostBreakdown()
	if len(events) != 2 || events[1].Iteration != 1 {
		t.Fatalf("got %+v", events)
	}
}

type recordingBus struct {
	updated []string
}

func (r *recordingBus) TicketCreated(*Ticket)      {}
func (r *recordingBus) TicketUpdated(t *Ticket)    { r.updated = append(r.updated, t.ID) }
func (r *recordingBus) TicketDeleted(string)       {}

func TestWatchdog_ReclaimsStaleActiveTicket(t *testing.T) {
	bus := &recordingBus{}
	svc, err := NewService(t.TempDir(), bus, nil)
	if err != nil {
		t.Fatal(err)
	}
	tk := svc.Create("t", "")
	if err := svc.UpdateStatus(tk.ID, StatusActive); err != nil {
		t.Fatal(err)
	}

	heartbeats := NewHeartbeatStore()
	heartbeats.Touch(tk.ID)

	wd := NewWatchdog(svc, heartbeats, nil)
	wd.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	wd.Sweep()

	if tk.Status != StatusFailed {
		t.Fatalf("expected ticket to be reclaimed, got status %s", tk.Status)
	}
	if _, ok := heartbeats.Last(tk.ID); ok {
		t.Fatal("expected heartbeat entry to be cleared after reclaim")
	}
	last := tk.ActivityLog[len(tk.ActivityLog)-1]
	if !strings.Contains(last, "Watchdog:") {
		t.Fatalf("expected activity log to end with the watchdog message, got %q", last)
	}

	// A second sweep must not double-log (idempotent guard).
	entriesBefore := len(tk.ActivityLog)
	wd.Sweep()
	if len(tk.ActivityLog) != entriesBefore {
		t.Fatal("expected a second sweep to be a no-op for an already-Failed ticket")
	}
}

func TestWatchdog_AbsentHeartbeatNeverReclaims(t *testing.T) {
	svc := newTestService(t)
	tk := svc.Create("t", "")
	if err := svc.UpdateStatus(tk.ID, StatusActive); err != nil {
		t.Fatal(err)
	}
	wd := NewWatchdog(svc, NewHeartbeatStore(), nil)
	wd.Sweep()
	if tk.Status != StatusActive {
		t.Fatal("a ticket with no heartbeat yet must not be reclaimed")
	}
}


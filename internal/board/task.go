package board

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubtaskStatus is a subtask's position in its own small state machine.
type SubtaskStatus string

const (
	SubtaskIncomplete     SubtaskStatus = "Incomplete"
	SubtaskInProgress     SubtaskStatus = "InProgress"
	SubtaskAwaitingReview SubtaskStatus = "AwaitingReview"
	SubtaskComplete       SubtaskStatus = "Complete"
	SubtaskRejected       SubtaskStatus = "Rejected"
)

// Subtask is the unit of work a Developer conversation is assigned.
//
// AwaitingReview and Rejected are part of the enum but, per an unresolved
// ambiguity in the source material (see DESIGN.md), no code path in this
// module drives a subtask into or out of them; they are reserved for a
// reviewer tool that is not in scope.
type Subtask struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      SubtaskStatus `json:"status"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// Task groups an ordered list of subtasks under one name.
type Task struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Subtasks    []*Subtask `json:"subtasks"`
	UpdatedAt   time.Time  `json:"updatedAt"`

	mu sync.Mutex
}

// AddTask is an idempotent upsert-by-name: a task with an
// existing name has its description updated in place rather than a
// duplicate being created, so repeated planner runs converge.
func (t *Ticket) AddTask(name, description string) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.Tasks {
		if existing.Name == name {
			existing.mu.Lock()
			existing.Description = description
			existing.UpdatedAt = time.Now()
			existing.mu.Unlock()
			return existing
		}
	}
	task := &Task{ID: uuid.NewString(), Name: name, Description: description, UpdatedAt: time.Now()}
	t.Tasks = append(t.Tasks, task)
	return task
}

// FindTask looks up a task by id.
func (t *Ticket) FindTask(taskID string) (*Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, task := range t.Tasks {
		if task.ID == taskID {
			return task, true
		}
	}
	return nil, false
}

// AddSubtask is the same idempotent upsert-by-name as AddTask, scoped to
// one task's subtask list.
func (tk *Task) AddSubtask(name, description string) *Subtask {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for _, existing := range tk.Subtasks {
		if existing.Name == name {
			existing.Description = description
			existing.UpdatedAt = time.Now()
			return existing
		}
	}
	sub := &Subtask{ID: uuid.NewString(), Name: name, Description: description, Status: SubtaskIncomplete, UpdatedAt: time.Now()}
	tk.Subtasks = append(tk.Subtasks, sub)
	tk.UpdatedAt = time.Now()
	return sub
}

// FindSubtask looks up a subtask by id.
func (tk *Task) FindSubtask(subtaskID string) (*Subtask, bool) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for _, sub := range tk.Subtasks {
		if sub.ID == subtaskID {
			return sub, true
		}
	}
	return nil, false
}

// subtaskTransitions is deliberately narrower than the full SubtaskStatus
// enum: AwaitingReview/Rejected are unreachable (see the Subtask doc
// comment), so only Incomplete/InProgress/Complete are wired.
var subtaskTransitions = map[SubtaskStatus]map[SubtaskStatus]bool{
	SubtaskIncomplete: {SubtaskInProgress: true},
	SubtaskInProgress: {SubtaskComplete: true, SubtaskIncomplete: true},
	SubtaskComplete:   {},
}

// SetStatus validates and applies a subtask status change.
func (s *Subtask) SetStatus(to SubtaskStatus) error {
	if s.Status == to {
		return nil
	}
	if !subtaskTransitions[s.Status][to] {
		return fmt.Errorf("board: illegal subtask transition %s -> %s", s.Status, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return nil
}

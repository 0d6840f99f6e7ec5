package board

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Broadcaster is the subset of the hub (internal/hub) the ticket service
// notifies on ticket mutation. Kept as a narrow interface here so board
// never imports hub.
type Broadcaster interface {
	TicketCreated(t *Ticket)
	TicketUpdated(t *Ticket)
	TicketDeleted(ticketID string)
}

type noopBroadcaster struct{}

func (noopBroadcaster) TicketCreated(*Ticket)   {}
func (noopBroadcaster) TicketUpdated(*Ticket)   {}
func (noopBroadcaster) TicketDeleted(string)    {}

// Service is the ticket service: an in-memory map kept consistent with a
// per-ticket JSON file under Dir. There is no transactional storage layer
// (a Non-goal); persistence happens on every mutation, and a failed write
// is logged and the in-memory state is left authoritative until the next
// successful write.
type Service struct {
	Dir string

	mu      sync.RWMutex
	tickets map[string]*Ticket

	ids  *IDAllocator
	bus  Broadcaster
	log  *slog.Logger
}

// NewService loads every ticket-<id>.json under dir into memory and
// returns a ready Service. bus may be nil (no broadcasting, e.g. in tests).
func NewService(dir string, bus Broadcaster, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = noopBroadcaster{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("board: create ticket dir: %w", err)
	}
	s := &Service{
		Dir:     dir,
		tickets: make(map[string]*Ticket),
		ids:     NewIDAllocator(dir),
		bus:     bus,
		log:     logger,
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !ticketFilePattern.MatchString(e.Name()) {
			continue
		}
		t, err := s.readFile(e.Name())
		if err != nil {
			s.log.Warn("board: skipping unreadable ticket file", "file", e.Name(), "error", err)
			continue
		}
		s.tickets[t.ID] = t
	}
	return s, nil
}

func (s *Service) readFile(name string) (*Ticket, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return nil, err
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// persist writes t to disk as pretty JSON. A failure is logged and
// swallowed (warn-and-continue; the next successful write wins).
func (s *Service) persist(t *Ticket) {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		s.log.Warn("board: marshal ticket failed", "ticket", t.ID, "error", err)
		return
	}
	path := filepath.Join(s.Dir, TicketFileName(t.ID))
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		s.log.Warn("board: persist ticket failed", "ticket", t.ID, "error", err)
	}
}

// Create allocates an id and registers a new Backlog ticket.
func (s *Service) Create(title, description string) *Ticket {
	t := &Ticket{
		ID:          s.ids.Next(),
		Title:       title,
		Description: description,
		Status:      StatusBacklog,
	}
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt

	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()

	s.persist(t)
	s.bus.TicketCreated(t)
	return t
}

// Get returns the ticket for id, or nil if absent.
func (s *Service) Get(id string) *Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tickets[id]
}

// List returns every ticket sorted by CreatedAt ascending.
func (s *Service) List() []*Ticket {
	s.mu.RLock()
	out := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// UpdateStatus validates and applies a ticket status transition, persisting
// and broadcasting the result.
func (s *Service) UpdateStatus(id string, to Status) error {
	t := s.Get(id)
	if t == nil {
		return fmt.Errorf("board: unknown ticket %q", id)
	}
	if err := t.TransitionStatus(to); err != nil {
		return err
	}
	s.persist(t)
	s.bus.TicketUpdated(t)
	return nil
}

// AppendActivity logs an entry on id and persists/broadcasts.
func (s *Service) AppendActivity(id, format string, args ...any) error {
	t := s.Get(id)
	if t == nil {
		return fmt.Errorf("board: unknown ticket %q", id)
	}
	t.LogActivity(format, args...)
	s.persist(t)
	s.bus.TicketUpdated(t)
	return nil
}

// AddTask adds or updates a task on id (idempotent by name), persisting.
func (s *Service) AddTask(id, name, description string) (*Task, error) {
	t := s.Get(id)
	if t == nil {
		return nil, fmt.Errorf("board: unknown ticket %q", id)
	}
	task := t.AddTask(name, description)
	s.persist(t)
	s.bus.TicketUpdated(t)
	return task, nil
}

// AddSubtask adds or updates a subtask on taskID under ticket id (idempotent
// by name), persisting.
func (s *Service) AddSubtask(id, taskID, name, description string) (*Subtask, error) {
	t := s.Get(id)
	if t == nil {
		return nil, fmt.Errorf("board: unknown ticket %q", id)
	}
	task, ok := t.FindTask(taskID)
	if !ok {
		return nil, fmt.Errorf("board: unknown task %q on ticket %q", taskID, id)
	}
	sub := task.AddSubtask(name, description)
	s.persist(t)
	s.bus.TicketUpdated(t)
	return sub, nil
}

// SetSubtaskStatus transitions a subtask's status and persists/broadcasts
// the owning ticket.
func (s *Service) SetSubtaskStatus(id, taskID, subtaskID string, status SubtaskStatus) error {
	t := s.Get(id)
	if t == nil {
		return fmt.Errorf("board: unknown ticket %q", id)
	}
	task, ok := t.FindTask(taskID)
	if !ok {
		return fmt.Errorf("board: unknown task %q on ticket %q", taskID, id)
	}
	sub, ok := task.FindSubtask(subtaskID)
	if !ok {
		return fmt.Errorf("board: unknown subtask %q on task %q", subtaskID, taskID)
	}
	if err := sub.SetStatus(status); err != nil {
		return err
	}
	s.persist(t)
	s.bus.TicketUpdated(t)
	return nil
}

// AddLlmCost records one iteration's cost on id and persists.
func (s *Service) AddLlmCost(id, conversationID string, iteration, inputTokens, outputTokens int, cost float64) error {
	t := s.Get(id)
	if t == nil {
		return fmt.Errorf("board: unknown ticket %q", id)
	}
	t.AddLlmCost(conversationID, iteration, inputTokens, outputTokens, cost)
	s.persist(t)
	return nil
}

// Delete removes a ticket's in-memory entry and its file.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	_, ok := s.tickets[id]
	delete(s.tickets, id)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("board: unknown ticket %q", id)
	}
	if err := os.Remove(filepath.Join(s.Dir, TicketFileName(id))); err != nil && !os.IsNotExist(err) {
		s.log.Warn("board: delete ticket file failed", "ticket", id, "error", err)
	}
	s.bus.TicketDeleted(id)
	return nil
}

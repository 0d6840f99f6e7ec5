package convostore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kanbeast/kanbeast/internal/convo"
)

// Info is the lightweight, message-free view GetInfoList returns: enough to
// populate a conversation picker without reading every message body.
type Info struct {
	ID          string           `json:"id"`
	DisplayName string           `json:"displayName"`
	Role        convo.AgentRole  `json:"role"`
	Strategy    convo.Strategy   `json:"strategy"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt time.Time        `json:"completedAt,omitempty"`
	Finished    bool             `json:"finished"`
}

// document is the on-disk shape of one convos-<ticketId>.json file.
type document map[string]*convo.Data

// Store is the Conversation Store. Dir holds one convos-<ticketId>.json
// file per ticket.
type Store struct {
	Dir string

	locks lockTable
}

// New returns a Store rooted at dir, creating it if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("convostore: create dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(ticketID string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("convos-%s.json", ticketID))
}

// read loads and parses ticketID's file. A missing file is an empty
// document, not an error; a file that fails to deserialize yields an empty
// document together with the parse error, which every caller returns
// as its own error. Nothing in this package logs it.
func (s *Store) read(ticketID string) (document, error) {
	raw, err := os.ReadFile(s.path(ticketID))
	if err != nil {
		if os.IsNotExist(err) {
			return document{}, nil
		}
		return document{}, err
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return document{}, err
	}
	if doc == nil {
		doc = document{}
	}
	return doc, nil
}

func (s *Store) write(ticketID string, doc document) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(ticketID), raw, 0o644)
}

// Get returns conversationID's data for ticketID, or nil if absent.
func (s *Store) Get(ticketID, conversationID string) (*convo.Data, error) {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return nil, err
	}
	return doc[conversationID], nil
}

// GetActivePlanning returns the first non-finished conversation whose
// DisplayName is "Planning", or nil if none exists.
func (s *Store) GetActivePlanning(ticketID string) (*convo.Data, error) {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return nil, err
	}
	var candidates []*convo.Data
	for _, d := range doc {
		if !d.Finished && d.DisplayName == "Planning" {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].StartedAt.Before(candidates[j].StartedAt) })
	return candidates[0], nil
}

// GetNonFinalized returns every conversation for ticketID with Finished ==
// false, used by the orchestrator to find in-flight work after a crash.
func (s *Store) GetNonFinalized(ticketID string) ([]*convo.Data, error) {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return nil, err
	}
	var out []*convo.Data
	for _, d := range doc {
		if !d.Finished {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// GetInfoList returns every conversation for ticketID as a lightweight Info,
// sorted by StartedAt.
func (s *Store) GetInfoList(ticketID string) ([]Info, error) {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(doc))
	for _, d := range doc {
		out = append(out, Info{
			ID: d.ID, DisplayName: d.DisplayName, Role: d.Role, Strategy: d.Strategy,
			StartedAt: d.StartedAt, CompletedAt: d.CompletedAt, Finished: d.Finished,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Upsert writes data into ticketID's document, replacing any existing entry
// with the same conversation id.
func (s *Store) Upsert(ticketID string, data *convo.Data) error {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return err
	}
	doc[data.ID] = data
	return s.write(ticketID, doc)
}

// Finish marks conversationID's Finished flag and sets CompletedAt.
func (s *Store) Finish(ticketID, conversationID string) error {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return err
	}
	d, ok := doc[conversationID]
	if !ok {
		return fmt.Errorf("convostore: unknown conversation %q for ticket %q", conversationID, ticketID)
	}
	d.Finished = true
	d.CompletedAt = time.Now()
	return s.write(ticketID, doc)
}

// Delete removes one conversation from ticketID's document.
func (s *Store) Delete(ticketID, conversationID string) error {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return err
	}
	delete(doc, conversationID)
	return s.write(ticketID, doc)
}

// DeleteFinished removes every finished conversation from ticketID's
// document, a manual compaction hook for long-lived tickets.
func (s *Store) DeleteFinished(ticketID string) error {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	doc, err := s.read(ticketID)
	if err != nil {
		return err
	}
	for id, d := range doc {
		if d.Finished {
			delete(doc, id)
		}
	}
	return s.write(ticketID, doc)
}

// DeleteForTicket removes ticketID's entire conversation file, used when a
// ticket itself is deleted.
func (s *Store) DeleteForTicket(ticketID string) error {
	mu := s.locks.forTicket(ticketID)
	mu.Lock()
	defer mu.Unlock()
	if err := os.Remove(s.path(ticketID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

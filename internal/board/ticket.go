// Package board implements the Ticket Service and its watchdog (C8): the
// ticket/task/subtask state machines, activity log, cost ledger, and the
// periodic sweep that reclaims tickets whose worker has gone silent.
package board

import (
	"fmt"
	"sync"
	"time"
)

// Status is a ticket's position in the board state machine.
type Status string

const (
	StatusBacklog Status = "Backlog"
	StatusActive  Status = "Active"
	StatusFailed  Status = "Failed"
	StatusDone    Status = "Done"
)

// validTransitions encodes the ticket state machine: Backlog -> Active ->
// {Done|Failed}; Failed -> Backlog (retry); Active -> Backlog (cancel). No
// direct Backlog -> Done.
var validTransitions = map[Status]map[Status]bool{
	StatusBacklog: {StatusActive: true},
	StatusActive:  {StatusDone: true, StatusFailed: true, StatusBacklog: true},
	StatusFailed:  {StatusBacklog: true},
	StatusDone:    {},
}

// CanTransition reports whether from -> to is a legal ticket status move.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	return validTransitions[from][to]
}

// CostEvent is one iteration's contribution to a ticket's LLM spend, kept
// alongside the activity log so GetCostBreakdown can explain where budget
// went instead of only exposing a running total.
type CostEvent struct {
	ConversationID string    `json:"conversationId"`
	Iteration      int       `json:"iteration"`
	InputTokens    int       `json:"inputTokens"`
	OutputTokens   int       `json:"outputTokens"`
	Cost           float64   `json:"cost"`
	At             time.Time `json:"at"`
}

// Ticket is the board's unit of work.
type Ticket struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Branch      string `json:"branch"`
	PlannerLlm  string `json:"plannerLlmId"`

	Tasks      []*Task  `json:"tasks"`
	ActivityLog []string `json:"activityLog"`

	ContainerName string `json:"containerName"`

	LlmCost    float64     `json:"llmCost"`
	MaxCost    float64     `json:"maxCost"`
	CostEvents []CostEvent `json:"costEvents"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	mu sync.Mutex
}

// activityTimestampLayout is the UTC "yyyy-MM-dd HH:mm:ss" prefix on
// every activity log entry.
const activityTimestampLayout = "2006-01-02 15:04:05"

// LogActivity appends a timestamped entry. Safe for concurrent callers.
func (t *Ticket) LogActivity(format string, args ...any) {
	entry := fmt.Sprintf("%s %s", time.Now().UTC().Format(activityTimestampLayout), fmt.Sprintf(format, args...))
	t.mu.Lock()
	t.ActivityLog = append(t.ActivityLog, entry)
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
}

// TransitionStatus validates and applies a status change, logging it.
func (t *Ticket) TransitionStatus(to Status) error {
	t.mu.Lock()
	from := t.Status
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("board: illegal ticket transition %s -> %s", from, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
	t.LogActivity("Status changed: %s -> %s", from, to)
	return nil
}

// RemainingBudget is max(0, MaxCost - LlmCost); a MaxCost of 0 means
// unlimited.
func (t *Ticket) RemainingBudget() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.MaxCost == 0 {
		return 0
	}
	remaining := t.MaxCost - t.LlmCost
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AddLlmCost records one LLM iteration's cost, both as a
// running total and as a per-iteration CostEvent for GetCostBreakdown.
func (t *Ticket) AddLlmCost(conversationID string, iteration, inputTokens, outputTokens int, cost float64) {
	t.mu.Lock()
	t.LlmCost += cost
	t.CostEvents = append(t.CostEvents, CostEvent{
		ConversationID: conversationID,
		Iteration:      iteration,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		Cost:           cost,
		At:             time.Now(),
	})
	t.UpdatedAt = time.Now()
	t.mu.Unlock()
}

// GetCostBreakdown returns a snapshot of the per-iteration cost ledger.
func (t *Ticket) GetCostBreakdown() []CostEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CostEvent, len(t.CostEvents))
	copy(out, t.CostEvents)
	return out
}

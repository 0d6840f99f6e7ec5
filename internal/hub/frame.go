// Package hub implements the real-time channel: a
// websocket control plane connecting the kanbeast-server process (which
// owns the board) to kanbeast-worker processes (one per active ticket)
// and to any number of browser UI clients. It is kept thin on purpose:
// the wire contract (frame shape, method/event names) lives here so
// internal/orchestrator and internal/board's watchdog have something
// concrete to call, but routing policy and business logic stay in
// those packages.
package hub

import (
	"encoding/json"
	"fmt"
)

// protocolVersion guards against a worker or UI build drifting out of
// sync with the frame shapes below.
const protocolVersion = 1

// frame is the single envelope every message crosses the wire in,
// modeled directly on the request/response/event split of a
// JSON-RPC-like control plane: a "req" carries a Method and expects a
// "res" carrying OK/Payload/Error back, while an "event" is
// fire-and-forget and carries a monotonic Seq instead of an ID.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *frameError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Worker -> server methods. A worker connects once per active ticket
// and drives its conversation loop entirely locally; these are the
// only signals it needs to push upstream.
const (
	methodConnect      = "connect"
	methodHeartbeat    = "heartbeat"
	methodSnapshotSync = "snapshot_sync"
	methodFinishReset  = "finish_reset"
	methodBusy         = "busy"
)

// Server -> worker events. These arrive as unsolicited events on the
// same connection a worker used to call methodConnect.
const (
	eventUserChatMessage    = "user_chat_message"
	eventClearConversation  = "clear_conversation"
	eventModelSwitchRequest = "model_switch_request"
)

// Server -> UI events, broadcast to every connected browser client.
// These mirror board.Broadcaster one-for-one.
const (
	eventTicketCreated = "ticket.created"
	eventTicketUpdated = "ticket.updated"
	eventTicketDeleted = "ticket.deleted"
)

type connectParams struct {
	TicketID string `json:"ticketId"`
	Role     string `json:"role"` // "worker" or "ui"
}

type heartbeatParams struct {
	TicketID       string `json:"ticketId"`
	ConversationID string `json:"conversationId"`
}

type snapshotSyncParams struct {
	TicketID       string `json:"ticketId"`
	ConversationID string `json:"conversationId"`
	IterationCount int    `json:"iterationCount"`
	AccumulatedCost float64 `json:"accumulatedCost"`
}

type finishResetParams struct {
	TicketID       string `json:"ticketId"`
	ConversationID string `json:"conversationId"`
	Reset          bool   `json:"reset"`
}

type busyParams struct {
	TicketID string `json:"ticketId"`
	Busy     bool   `json:"busy"`
}

type modelSwitchPayload struct {
	ConversationID string `json:"conversationId"`
	NewConfigID    string `json:"newConfigId"`
}

type chatMessagePayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type clearConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

type ticketEventPayload struct {
	TicketID string `json:"ticketId"`
	Ticket   any    `json:"ticket,omitempty"`
}

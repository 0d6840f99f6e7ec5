package hub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/kanbeast/kanbeast/internal/board"
)

const (
	maxPayloadBytes = 1 << 20
	pongWait        = 45 * time.Second
	writeWait       = 10 * time.Second
	tickInterval    = 15 * time.Second
)

// Server is the kanbeast-server-side half of the hub: it upgrades
// incoming connections from workers and browser UIs alike, fans
// board events out to every connected UI, and routes server->worker
// control events (model switch, chat, clear) to the one worker
// connection tied to a ticket. It implements board.Broadcaster.
type Server struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	heartbeats *board.HeartbeatStore

	mu      sync.RWMutex
	workers map[string]*session // keyed by ticket id
	uis     map[string]*session // keyed by session id
}

// NewServer returns a Server broadcasting to UI clients and tracking
// worker liveness in heartbeats (shared with the Watchdog so a worker
// connection feeds the same staleness check it sweeps).
func NewServer(heartbeats *board.HeartbeatStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:        logger,
		heartbeats: heartbeats,
		workers:    make(map[string]*session),
		uis:        make(map[string]*session),
	}
}

// ServeHTTP upgrades the request and runs the session until the
// connection drops. Role (worker or ui) and, for workers, the ticket
// id are established by the handshake's connect call, not the URL,
// matching the control-plane pattern of authenticating/classifying a
// connection inside the protocol rather than the transport.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.log.Warn("hub: upgrade failed", "error", err)
		return
	}
	s := &session{
		id:   uuid.NewString(),
		srv:  srv,
		conn: conn,
		send: make(chan []byte, 64),
	}
	s.run()
}

// TicketCreated, TicketUpdated and TicketDeleted implement
// board.Broadcaster by fanning a ticket event out to every connected UI
// session.
func (srv *Server) TicketCreated(t *board.Ticket) { srv.broadcast(eventTicketCreated, t) }
func (srv *Server) TicketUpdated(t *board.Ticket) { srv.broadcast(eventTicketUpdated, t) }
func (srv *Server) TicketDeleted(id string) {
	srv.broadcast(eventTicketDeleted, ticketEventPayload{TicketID: id})
}

func (srv *Server) broadcast(event string, payload any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		srv.log.Warn("hub: encode broadcast event failed", "event", event, "error", err)
		return
	}
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	for _, s := range srv.uis {
		s.enqueue(data)
	}
}

// RequestModelSwitch pushes a model_switch_request event to the
// worker handling ticketID, if one is connected. A disconnected
// worker simply never sees it; the orchestrator's driver loop only
// polls for a switch, it never blocks waiting for one.
func (srv *Server) RequestModelSwitch(ticketID, conversationID, newConfigID string) error {
	return srv.sendToWorker(ticketID, eventModelSwitchRequest, modelSwitchPayload{ConversationID: conversationID, NewConfigID: newConfigID})
}

// SendChatMessage sends a user_chat_message event with an operator chat
// message to the worker handling ticketID. hub.Client acts only on
// model_switch_request events, so the worker drops this one and the
// message does not reach the conversation.
func (srv *Server) SendChatMessage(ticketID, conversationID, content string) error {
	return srv.sendToWorker(ticketID, eventUserChatMessage, chatMessagePayload{ConversationID: conversationID, Content: content})
}

// ClearConversation sends a clear_conversation event for conversationID
// to the worker handling ticketID. hub.Client drops this event, so the
// worker's in-memory conversation state is left unchanged.
func (srv *Server) ClearConversation(ticketID, conversationID string) error {
	return srv.sendToWorker(ticketID, eventClearConversation, clearConversationPayload{ConversationID: conversationID})
}

func (srv *Server) sendToWorker(ticketID, event string, payload any) error {
	srv.mu.RLock()
	s, ok := srv.workers[ticketID]
	srv.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hub: no worker connected for ticket %q", ticketID)
	}
	data, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	s.enqueue(data)
	return nil
}

func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	seq := time.Now().UnixNano()
	f := frame{Type: "event", Event: event, Payload: json.RawMessage(raw), Seq: &seq}
	return json.Marshal(f)
}

// session is one websocket connection, worker or UI, registered under
// srv.workers or srv.uis once its connect handshake completes.
type session struct {
	id       string
	srv      *Server
	conn     *websocket.Conn
	send     chan []byte
	role     string // "worker" or "ui"
	ticketID string
}

func (s *session) run() {
	defer s.close()
	go s.writeLoop()
	s.readLoop()
}

func (s *session) close() {
	s.srv.mu.Lock()
	if s.role == "worker" {
		delete(s.srv.workers, s.ticketID)
	} else {
		delete(s.srv.uis, s.id)
	}
	s.srv.mu.Unlock()
	close(s.send)
	s.conn.Close()
}

func (s *session) readLoop() {
	s.conn.SetReadLimit(maxPayloadBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	registered := false
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.sendError("", "invalid_frame", err.Error())
			continue
		}
		if f.Type == "" {
			f.Type = "req"
		}

		if !registered {
			if f.Type != "req" || f.Method != methodConnect {
				s.sendError(f.ID, "handshake_required", "first frame must be connect")
				continue
			}
			if err := s.handleConnect(&f); err != nil {
				s.sendError(f.ID, "connect_failed", err.Error())
				return
			}
			registered = true
			continue
		}

		if err := s.handleRequest(&f); err != nil {
			s.sendError(f.ID, "request_failed", err.Error())
		}
	}
}

func (s *session) writeLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

func (s *session) handleConnect(f *frame) error {
	var params connectParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		return err
	}
	s.role = params.Role
	s.ticketID = params.TicketID

	s.srv.mu.Lock()
	switch s.role {
	case "worker":
		if s.ticketID == "" {
			s.srv.mu.Unlock()
			return fmt.Errorf("worker connect requires ticketId")
		}
		s.srv.workers[s.ticketID] = s
	default:
		s.role = "ui"
		s.srv.uis[s.id] = s
	}
	s.srv.mu.Unlock()

	return s.sendResponse(f.ID, true, map[string]any{"protocol": protocolVersion, "sessionId": s.id}, nil)
}

func (s *session) handleRequest(f *frame) error {
	switch f.Method {
	case methodHeartbeat:
		var p heartbeatParams
		if err := json.Unmarshal(f.Params, &p); err != nil {
			return err
		}
		if s.srv.heartbeats != nil {
			s.srv.heartbeats.Touch(p.TicketID)
		}
		return s.sendResponse(f.ID, true, map[string]any{"ok": true}, nil)
	case methodSnapshotSync, methodFinishReset, methodBusy:
		// Acknowledged so the worker's driver loop never blocks on them;
		// the data they carry is informational only, logged for now.
		s.srv.log.Debug("hub: worker signal", "method", f.Method, "ticket", s.ticketID)
		return s.sendResponse(f.ID, true, map[string]any{"ok": true}, nil)
	case "ping":
		return s.sendResponse(f.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	default:
		return fmt.Errorf("unknown method %q", f.Method)
	}
}

func (s *session) sendResponse(id string, ok bool, payload any, ferr *frameError) error {
	f := frame{Type: "res", ID: id, OK: &ok, Payload: payload, Error: ferr}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	s.enqueue(data)
	return nil
}

func (s *session) sendError(id, code, message string) {
	s.sendResponse(id, false, nil, &frameError{Code: code, Message: message})
}

func (s *session) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		// Buffer full: drop rather than block the read loop. Matches
		// the fire-and-forget nature of events on this channel; a
		// missed tick or ticket update is superseded by the next one.
	}
}

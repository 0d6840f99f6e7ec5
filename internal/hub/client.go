package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is the kanbeast-worker-side half of the hub: one connection
// per ticket, dialed once at worker startup and held for the
// ticket's whole lifetime. It implements driver.HubClient so the
// agent driver can call Heartbeat/PollModelSwitch without knowing
// anything about websockets.
type Client struct {
	ticketID string
	conn     *websocket.Conn

	mu      sync.Mutex
	reqSeq  int
	pending map[string]chan frame

	switchMu sync.Mutex
	switches map[string]string // conversationID -> pending newConfigID
}

// Dial connects to the hub at url and performs the connect handshake
// as a worker for ticketID. The returned Client owns the connection;
// call Close when the ticket finishes.
func Dial(ctx context.Context, url, ticketID string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("hub: dial: %w", err)
	}
	c := &Client{
		ticketID: ticketID,
		conn:     conn,
		pending:  make(map[string]chan frame),
		switches: make(map[string]string),
	}
	go c.readLoop()

	if _, err := c.call(ctx, methodConnect, connectParams{TicketID: ticketID, Role: "worker"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("hub: connect handshake: %w", err)
	}
	return c, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Heartbeat implements driver.HubClient, reporting liveness for
// conversationID to the server's HeartbeatStore via the worker
// connection's methodHeartbeat call.
func (c *Client) Heartbeat(ctx context.Context, conversationID string) error {
	_, err := c.call(ctx, methodHeartbeat, heartbeatParams{TicketID: c.ticketID, ConversationID: conversationID})
	return err
}

// PollModelSwitch implements driver.HubClient. It never blocks: a
// model_switch_request event received asynchronously on readLoop is
// buffered by conversation id until a caller collects it here.
func (c *Client) PollModelSwitch(conversationID string) (string, bool) {
	c.switchMu.Lock()
	defer c.switchMu.Unlock()
	configID, ok := c.switches[conversationID]
	if ok {
		delete(c.switches, conversationID)
	}
	return configID, ok
}

// SyncSnapshot reports the worker's current iteration/cost progress.
// Informational only; nothing on the server side acts on it.
func (c *Client) SyncSnapshot(ctx context.Context, conversationID string, iteration int, accumulatedCost float64) error {
	_, err := c.call(ctx, methodSnapshotSync, snapshotSyncParams{TicketID: c.ticketID, ConversationID: conversationID, IterationCount: iteration, AccumulatedCost: accumulatedCost})
	return err
}

// NotifyFinishReset reports that a Developer conversation hit a
// context reset, for UI/operator visibility.
func (c *Client) NotifyFinishReset(ctx context.Context, conversationID string) error {
	_, err := c.call(ctx, methodFinishReset, finishResetParams{TicketID: c.ticketID, ConversationID: conversationID, Reset: true})
	return err
}

// NotifyBusy reports whether the worker currently has an LLM call in
// flight, so the UI can distinguish "thinking" from "idle".
func (c *Client) NotifyBusy(ctx context.Context, busy bool) error {
	_, err := c.call(ctx, methodBusy, busyParams{TicketID: c.ticketID, Busy: busy})
	return err
}

func (c *Client) call(ctx context.Context, method string, params any) (frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return frame{}, err
	}
	c.mu.Lock()
	c.reqSeq++
	id := fmt.Sprintf("%s-%d", c.ticketID, c.reqSeq)
	ch := make(chan frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	f := frame{Type: "req", ID: id, Method: method, Params: json.RawMessage(raw)}
	data, err := json.Marshal(f)
	if err != nil {
		c.dropPending(id)
		return frame{}, err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.dropPending(id)
		return frame{}, err
	}

	select {
	case res := <-ch:
		if res.Error != nil {
			return res, res.Error
		}
		return res, nil
	case <-ctx.Done():
		c.dropPending(id)
		return frame{}, ctx.Err()
	case <-time.After(30 * time.Second):
		c.dropPending(id)
		return frame{}, fmt.Errorf("hub: %s timed out", method)
	}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		switch f.Type {
		case "res":
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			if ok {
				delete(c.pending, f.ID)
			}
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case "event":
			c.handleEvent(&f)
		}
	}
}

func (c *Client) handleEvent(f *frame) {
	if f.Event != eventModelSwitchRequest {
		return
	}
	raw, err := json.Marshal(f.Payload)
	if err != nil {
		return
	}
	var p modelSwitchPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}
	c.switchMu.Lock()
	c.switches[p.ConversationID] = p.NewConfigID
	c.switchMu.Unlock()
}

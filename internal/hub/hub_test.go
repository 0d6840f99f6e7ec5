package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kanbeast/kanbeast/internal/board"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *board.HeartbeatStore) {
	t.Helper()
	heartbeats := board.NewHeartbeatStore()
	srv := NewServer(heartbeats, nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts, heartbeats
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestClient_HeartbeatReachesHeartbeatStore(t *testing.T) {
	_, ts, heartbeats := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(ts.URL), "ticket-1")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := client.Heartbeat(ctx, "conv-1"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	if _, ok := heartbeats.Last("ticket-1"); !ok {
		t.Fatal("expected heartbeat to be recorded for ticket-1")
	}
}

func TestServer_BroadcastReachesUIClient(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	connectFrame := frame{Type: "req", ID: "1", Method: methodConnect, Params: mustMarshal(t, connectParams{Role: "ui"})}
	if err := conn.WriteJSON(connectFrame); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	var res frame
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read connect response: %v", err)
	}
	if res.OK == nil || !*res.OK {
		t.Fatalf("expected successful connect response, got %+v", res)
	}

	srv.TicketUpdated(&board.Ticket{ID: "42", Title: "test"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event frame
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read broadcast event: %v", err)
	}
	if event.Type != "event" || event.Event != eventTicketUpdated {
		t.Fatalf("expected ticket.updated event, got %+v", event)
	}
}

func TestClient_PollModelSwitchReceivesServerRequest(t *testing.T) {
	srv, ts, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, wsURL(ts.URL), "ticket-2")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if _, ok := client.PollModelSwitch("conv-9"); ok {
		t.Fatal("expected no pending switch before the server requests one")
	}

	if err := srv.RequestModelSwitch("ticket-2", "conv-9", "gpt-fast"); err != nil {
		t.Fatalf("RequestModelSwitch: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if configID, ok := client.PollModelSwitch("conv-9"); ok {
			if configID != "gpt-fast" {
				t.Fatalf("expected gpt-fast, got %q", configID)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for model switch to be polled")
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

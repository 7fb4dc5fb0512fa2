package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/christopherjohns/nodchat/internal/chat"
	"github.com/mama165/sdk-go/logs"
	"nhooyr.io/websocket"
)

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	return conn
}

// newConnTestServer registers every accepted connection with cm, hands the
// client to the test and reads until the connection closes.
func newConnTestServer(t *testing.T, cm *ConnManager) (*httptest.Server, <-chan *Client) {
	t.Helper()
	clients := make(chan *Client, 16)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept error: %v", err)
			return
		}
		client := &Client{conn: conn, id: "conn-" + r.URL.Query().Get("id")}
		connCtx := cm.Add(client)
		if connCtx.Err() != nil {
			return
		}
		defer cm.Remove(client)
		clients <- client

		for {
			select {
			case <-connCtx.Done():
				return
			default:
			}
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	return ts, clients
}

func waitClient(t *testing.T, clients <-chan *Client) *Client {
	t.Helper()
	select {
	case c := <-clients:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("server did not register the connection")
		return nil
	}
}

func TestConnManagerAddRemove(t *testing.T) {
	cm := NewConnManager(testLogger())
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	client := waitClient(t, clients)

	if cm.Count() != 1 {
		t.Fatalf("expected 1 connection, got %d", cm.Count())
	}
	if client.send == nil {
		t.Fatal("expected send channel to be initialized")
	}

	cm.Remove(client)
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after remove, got %d", cm.Count())
	}
	select {
	case <-client.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be cancelled after remove")
	}

	// Sending to a removed client is refused, not a panic.
	if cm.Send(client, []byte("late")) {
		t.Fatal("expected send to a removed client to fail")
	}
	cm.Remove(client)
}

func TestClientSendEncodesEvent(t *testing.T) {
	cm := NewConnManager(testLogger())
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	client := waitClient(t, clients)

	client.Send(chat.Event{
		Type:    chat.EventMessage,
		Room:    "room1",
		Payload: chat.MessagePayload{Username: "alice", Text: "hello via conn manager"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	want := `{"type":"message","room":"room1","payload":{"username":"alice","text":"hello via conn manager"}}`
	if string(data) != want {
		t.Errorf("unexpected frame\n got: %s\nwant: %s", data, want)
	}
}

func TestConnManagerSendBufferFull(t *testing.T) {
	cm := NewConnManager(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No write pump: nothing drains the queue.
	client := &Client{id: "slow-consumer", send: make(chan []byte, sendBufferSize), ctx: ctx, manager: cm}

	for i := 0; i < sendBufferSize; i++ {
		if !cm.Send(client, []byte("msg")) {
			t.Fatalf("send %d should have succeeded", i)
		}
	}
	if cm.Send(client, []byte("overflow")) {
		t.Fatal("expected send to fail when buffer is full")
	}
	if got := cm.Stats().DroppedMessages; got != 1 {
		t.Errorf("expected 1 dropped message, got %d", got)
	}
}

func TestConnManagerConcurrentSend(t *testing.T) {
	cm := NewConnManager(testLogger())
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	const numClients = 5
	conns := make([]*websocket.Conn, numClients)
	registered := make([]*Client, numClients)
	for i := 0; i < numClients; i++ {
		conns[i] = dialWS(t, ts.URL)
		defer conns[i].Close(websocket.StatusNormalClosure, "")
		registered[i] = waitClient(t, clients)
	}

	const numMessages = 10
	for i := 0; i < numMessages; i++ {
		for _, c := range registered {
			go c.Send(chat.Event{Type: chat.EventReportsUpdate, Payload: []string{}})
		}
	}

	for ci, conn := range conns {
		for mi := 0; mi < numMessages; mi++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, _, err := conn.Read(ctx)
			cancel()
			if err != nil {
				t.Fatalf("client %d: read message %d error: %v", ci, mi, err)
			}
		}
	}
}

func TestConnManagerMaxConns(t *testing.T) {
	cm := NewConnManager(testLogger(), WithMaxConns(1))
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	first := dialWS(t, ts.URL)
	defer first.Close(websocket.StatusNormalClosure, "")
	waitClient(t, clients)

	second := dialWS(t, ts.URL)
	defer second.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := second.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusTryAgainLater {
		t.Fatalf("expected StatusTryAgainLater, got %v", err)
	}
	if got := cm.Stats().Rejected; got != 1 {
		t.Errorf("expected 1 rejected connection, got %d", got)
	}
}

func TestConnManagerRejectDoesNotBlockOthers(t *testing.T) {
	cm := NewConnManager(testLogger(), WithMaxConns(1))
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	first := dialWS(t, ts.URL)
	defer first.Close(websocket.StatusNormalClosure, "")
	waitClient(t, clients)

	// The rejected peer never reads, so its close handshake stalls.
	second := dialWS(t, ts.URL)
	defer second.CloseNow()

	deadline := time.Now().Add(time.Second)
	for cm.Stats().Rejected == 0 {
		if time.Now().After(deadline) {
			t.Fatal("second connection was not rejected in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	if got := cm.Count(); got != 1 {
		t.Fatalf("expected 1 connection, got %d", got)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Count blocked for %v while a client was being rejected", elapsed)
	}
}

func TestConnManagerShutdown(t *testing.T) {
	cm := NewConnManager(testLogger())
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitClient(t, clients)

	cm.Shutdown()
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", cm.Count())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("expected StatusGoingAway, got %v", err)
	}
}

func TestConnManagerShutdownRejectsNew(t *testing.T) {
	cm := NewConnManager(testLogger())
	cm.Shutdown()

	rejected := make(chan bool, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := cm.Add(&Client{conn: conn, id: "late"})
		rejected <- errors.Is(ctx.Err(), context.Canceled)
	}))
	defer ts.Close()

	wsConn := dialWS(t, ts.URL)
	defer wsConn.Close(websocket.StatusNormalClosure, "")

	select {
	case ok := <-rejected:
		if !ok {
			t.Error("expected context to be cancelled for rejected client")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
	if cm.Count() != 0 {
		t.Fatalf("expected 0 connections after shutdown, got %d", cm.Count())
	}
}

func TestConnManagerIdleReap(t *testing.T) {
	cm := NewConnManager(testLogger(), WithIdleTimeout(time.Millisecond))
	defer cm.Shutdown()
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitClient(t, clients)

	time.Sleep(10 * time.Millisecond)
	cm.reapIdle()

	if cm.Count() != 0 {
		t.Fatalf("expected idle connection to be reaped, got %d", cm.Count())
	}
	if got := cm.Stats().IdleReaped; got != 1 {
		t.Errorf("expected 1 reaped connection, got %d", got)
	}
}

func TestConnManagerClients(t *testing.T) {
	cm := NewConnManager(testLogger())
	ts, clients := newConnTestServer(t, cm)
	defer ts.Close()

	conn := dialWS(t, ts.URL + "?id=a")
	defer conn.Close(websocket.StatusNormalClosure, "")
	client := waitClient(t, clients)
	client.setUsername("alice")
	client.Subscribe("room1")
	client.Subscribe("room1")

	infos := cm.Clients()
	if len(infos) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(infos))
	}
	info := infos[0]
	if info.ConnID != "conn-a" || info.Username != "alice" {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.Rooms) != 1 || info.Rooms[0] != "room1" {
		t.Errorf("expected rooms [room1], got %v", info.Rooms)
	}

	client.Unsubscribe("room1")
	data, _ := json.Marshal(cm.Clients()[0])
	if !strings.Contains(string(data), `"rooms":[]`) {
		t.Errorf("expected empty rooms in %s", data)
	}
}

package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/mcp-training/wsbus/message"
)

// startRelay serves a running relay over httptest and returns its ws:// URL.
func startRelay(t *testing.T) (string, *Relay, context.CancelFunc) {
	t.Helper()

	relay := NewRelay(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go relay.Run(ctx)

	srv := httptest.NewServer(relay)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http"), relay, cancel
}

func dialRelay(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) message.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return mustDecode(t, string(frame))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitCount(t *testing.T, relay *Relay, want int) {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d clients", want), func() bool { return relay.Count() == want })
}

func TestNewRelay(t *testing.T) {
	relay := NewRelay(nil)

	if relay.clients == nil {
		t.Error("Relay clients map is nil")
	}
	if relay.broadcast == nil || relay.register == nil || relay.unregister == nil {
		t.Error("Relay channels are not initialized")
	}
	if relay.Count() != 0 {
		t.Errorf("Count = %d, want 0", relay.Count())
	}
}

func TestRelayRegisterAndUnregister(t *testing.T) {
	relay := NewRelay(nil)
	c1 := &relayClient{relay: relay, send: make(chan []byte, 1), log: relay.log}
	c2 := &relayClient{relay: relay, send: make(chan []byte, 1), log: relay.log}

	relay.registerClient(c1)
	relay.registerClient(c2)
	if relay.Count() != 2 {
		t.Fatalf("Count = %d, want 2", relay.Count())
	}

	relay.unregisterClient(c1)
	relay.unregisterClient(c1) // second unregister is ignored
	if relay.Count() != 1 {
		t.Errorf("Count = %d, want 1", relay.Count())
	}
	if _, ok := <-c1.send; ok {
		t.Error("unregistered client's send channel should be closed")
	}
}

func TestRelayDropsSlowClient(t *testing.T) {
	relay := NewRelay(nil)
	slow := &relayClient{relay: relay, send: make(chan []byte), log: relay.log}
	relay.registerClient(slow)

	relay.broadcastFrame([]byte(`{"type":"x"}`))

	if relay.Count() != 0 {
		t.Errorf("Count = %d, want slow client removed", relay.Count())
	}
	if relay.Stats().MessagesDropped != 1 {
		t.Errorf("MessagesDropped = %d, want 1", relay.Stats().MessagesDropped)
	}
}

func TestRelayBroadcastsToAllClients(t *testing.T) {
	wsURL, relay, _ := startRelay(t)

	conns := []*websocket.Conn{dialRelay(t, wsURL), dialRelay(t, wsURL), dialRelay(t, wsURL)}
	waitCount(t, relay, 3)

	write(t, conns[0], `{"type":"chat","data":{"text":"hi"}}`)

	want := mustDecode(t, `{"type":"chat","data":{"text":"hi"}}`)
	for i, conn := range conns {
		if got := readFrame(t, conn); !message.Equal(got, want) {
			t.Errorf("client %d got %s, want %s", i, got, want)
		}
	}

	if n := relay.Stats().MessagesReceived; n != 1 {
		t.Errorf("MessagesReceived = %d, want 1", n)
	}
	waitFor(t, "3 messages sent", func() bool { return relay.Stats().MessagesSent == 3 })
}

func TestRelayDropsInvalidFrames(t *testing.T) {
	wsURL, relay, _ := startRelay(t)
	conn := dialRelay(t, wsURL)
	waitCount(t, relay, 1)

	write(t, conn, `garbage`)
	write(t, conn, `{"no":"type"}`)
	write(t, conn, `{"type":"ok"}`)

	if got := readFrame(t, conn); got.Type() != "ok" {
		t.Errorf("first relayed frame = %s, want ok", got)
	}
	if relay.Stats().MessagesReceived != 1 {
		t.Errorf("MessagesReceived = %d, want 1", relay.Stats().MessagesReceived)
	}
}

func TestRelayServerBroadcast(t *testing.T) {
	wsURL, relay, _ := startRelay(t)
	conn := dialRelay(t, wsURL)
	waitCount(t, relay, 1)

	msg, _ := message.New("notice", map[string]string{"level": "info"})
	if err := relay.Broadcast(context.Background(), msg); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got := readFrame(t, conn); !message.Equal(got, msg) {
		t.Errorf("got %s, want %s", got, msg)
	}
}

func TestRelayCountDecreasesOnDisconnect(t *testing.T) {
	wsURL, relay, _ := startRelay(t)
	conn := dialRelay(t, wsURL)
	waitCount(t, relay, 1)

	conn.Close()
	waitCount(t, relay, 0)
}

func TestRelayCancelClosesConnections(t *testing.T) {
	wsURL, relay, cancel := startRelay(t)
	conn := dialRelay(t, wsURL)
	waitCount(t, relay, 1)

	cancel()
	waitCount(t, relay, 0)

	conn.SetReadDeadline(time.Now().Add(testTimeout))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection should be closed after relay shutdown")
	}

	if err := relay.Broadcast(context.Background(), mustMessage(t, "late", nil)); !errors.Is(err, ErrRelayStopped) {
		t.Errorf("Broadcast after shutdown error = %v, want ErrRelayStopped", err)
	}
}

func TestRelayNonWebSocketRequestReturns400(t *testing.T) {
	relay := NewRelay(nil)
	srv := httptest.NewServer(relay)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}

func TestHubThroughRelayRoundTrip(t *testing.T) {
	wsURL, relay, _ := startRelay(t)

	hub := NewHub()
	t.Cleanup(hub.Close)
	got := make(chan message.Message, 1)
	hub.Subscribe(func(msg message.Message) error {
		got <- msg
		return nil
	})

	hub.Connect(context.Background(), wsURL)
	waitOpen(t, hub)
	waitCount(t, relay, 1)

	sent := mustMessage(t, "hello", map[string]any{"n": 1.5, "ok": true})
	hub.Send(sent)

	select {
	case msg := <-got:
		if !message.Equal(msg, sent) {
			t.Errorf("echo = %s, want %s", msg, sent)
		}
	case <-time.After(testTimeout):
		t.Fatal("no echo from relay")
	}
}

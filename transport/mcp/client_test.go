package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/wricardo/mcp-training/wsbus/api"
	"github.com/wricardo/mcp-training/wsbus/message"
	"github.com/wricardo/mcp-training/wsbus/transport/websocket"
)

// fakeBus records sends and serves a fixed state and last message.
type fakeBus struct {
	mu    sync.Mutex
	state websocket.State
	last  *message.Message
	sent  []message.Message
}

func (b *fakeBus) ID() string { return "hub-1" }

func (b *fakeBus) State() websocket.State { return b.state }

func (b *fakeBus) Listeners() int { return 2 }

func (b *fakeBus) LastMessage() (message.Message, bool) {
	if b.last == nil {
		return message.Message{}, false
	}
	return *b.last, true
}

func (b *fakeBus) Send(msg message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, msg)
}

func callTool(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("Expected result, got nil")
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("Expected text content in result")
	}
	return text.Text
}

func TestNewClient(t *testing.T) {
	client := NewClient(&fakeBus{}, "http://localhost:5000/")

	if client.baseURL != "http://localhost:5000" {
		t.Errorf("Expected trailing slash trimmed, got %s", client.baseURL)
	}
	if client.httpClient == nil {
		t.Error("Expected HTTP client to be initialized")
	}
	if client.GetMCPServer() == nil {
		t.Error("Expected MCP server to be initialized")
	}
}

func TestConnectionState(t *testing.T) {
	client := NewClient(&fakeBus{state: websocket.StateOpen}, "")

	result, err := client.handleConnectionState(context.Background(), callTool("connection_state", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handleConnectionState failed: %v", err)
	}
	text := resultText(t, result)
	for _, want := range []string{"Connection: open", "Hub: hub-1", "Listeners: 2"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in %q", want, text)
		}
	}
}

func TestLastMessage(t *testing.T) {
	bus := &fakeBus{state: websocket.StateOpen}
	client := NewClient(bus, "")

	result, _ := client.handleLastMessage(context.Background(), callTool("last_message", nil))
	if text := resultText(t, result); !strings.Contains(text, "No message") {
		t.Errorf("Expected empty notice, got %q", text)
	}

	msg, _ := message.Decode([]byte(`{"type":"chat","data":{"text":"hi"},"room":"lobby"}`))
	bus.last = &msg

	result, _ = client.handleLastMessage(context.Background(), callTool("last_message", nil))
	text := resultText(t, result)
	for _, want := range []string{"Type: chat", `Data: {"text":"hi"}`, `room: "lobby"`} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in %q", want, text)
		}
	}
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name      string
		state     websocket.State
		args      map[string]interface{}
		wantError string
		wantSent  string
	}{
		{
			name:     "Type and data",
			state:    websocket.StateOpen,
			args:     map[string]interface{}{"type": "ping", "data": `{"n":1}`},
			wantSent: `{"type":"ping","data":{"n":1}}`,
		},
		{
			name:     "Type only",
			state:    websocket.StateOpen,
			args:     map[string]interface{}{"type": "ping"},
			wantSent: `{"type":"ping"}`,
		},
		{
			name:      "Missing type",
			state:     websocket.StateOpen,
			args:      map[string]interface{}{"data": `1`},
			wantError: "type is required",
		},
		{
			name:      "Invalid data",
			state:     websocket.StateOpen,
			args:      map[string]interface{}{"type": "ping", "data": `{`},
			wantError: "not valid JSON",
		},
		{
			name:      "Not open",
			state:     websocket.StateConnecting,
			args:      map[string]interface{}{"type": "ping"},
			wantError: "connecting",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &fakeBus{state: tt.state}
			client := NewClient(bus, "")

			result, err := client.handleSendMessage(context.Background(), callTool("send_message", tt.args))
			if err != nil {
				t.Fatalf("handleSendMessage failed: %v", err)
			}
			text := resultText(t, result)

			if tt.wantError != "" {
				if !result.IsError || !strings.Contains(text, tt.wantError) {
					t.Errorf("Expected error containing %q, got %q", tt.wantError, text)
				}
				if len(bus.sent) != 0 {
					t.Errorf("Expected nothing sent, got %d messages", len(bus.sent))
				}
				return
			}

			if len(bus.sent) != 1 {
				t.Fatalf("Expected 1 sent message, got %d", len(bus.sent))
			}
			want, _ := message.Decode([]byte(tt.wantSent))
			if !message.Equal(bus.sent[0], want) {
				t.Errorf("Sent %s, want %s", bus.sent[0], want)
			}
		})
	}
}

func TestRelayTools(t *testing.T) {
	relay := websocket.NewRelay(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	srv := httptest.NewServer(api.NewServer(relay, nil))
	defer srv.Close()

	client := NewClient(&fakeBus{}, srv.URL)

	result, err := client.handleRelayStats(ctx, callTool("relay_stats", nil))
	if err != nil {
		t.Fatalf("handleRelayStats failed: %v", err)
	}
	if text := resultText(t, result); !strings.Contains(text, "Clients: 0") {
		t.Errorf("Unexpected stats %q", text)
	}

	result, _ = client.handleRelayBroadcast(ctx, callTool("relay_broadcast", map[string]interface{}{"type": "notice"}))
	if text := resultText(t, result); result.IsError || !strings.Contains(text, "Broadcast notice") {
		t.Errorf("Unexpected broadcast result %q", text)
	}

	result, _ = client.handleRelayBroadcast(ctx, callTool("relay_broadcast", map[string]interface{}{}))
	if !result.IsError {
		t.Error("Expected error for missing type")
	}
}

func TestRelayAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"relay stopped"}`))
	}))
	defer srv.Close()

	client := NewClient(&fakeBus{}, srv.URL)
	result, _ := client.handleRelayBroadcast(context.Background(), callTool("relay_broadcast", map[string]interface{}{"type": "notice"}))
	if text := resultText(t, result); !result.IsError || text != "relay stopped" {
		t.Errorf("Expected relay error, got %q", text)
	}
}

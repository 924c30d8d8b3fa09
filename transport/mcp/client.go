package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/mcp-training/wsbus/message"
	"github.com/wricardo/mcp-training/wsbus/transport/websocket"
)

// Bus is the part of a hub the tools need.
type Bus interface {
	ID() string
	State() websocket.State
	Listeners() int
	LastMessage() (message.Message, bool)
	Send(msg message.Message)
}

// Client exposes a hub to MCP clients. When a relay URL is given it also
// proxies the relay's REST API.
type Client struct {
	bus        Bus
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates the MCP surface over bus. relayURL is the relay's HTTP
// base, e.g. http://localhost:5000; empty disables the relay tools.
func NewClient(bus Bus, relayURL string) *Client {
	c := &Client{
		bus:     bus,
		baseURL: strings.TrimSuffix(relayURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"wsbus",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`wsbus - MCP Interface

One WebSocket connection carrying JSON messages of the form {"type": "...", "data": ...}.
Every inbound message is delivered to all subscribers; the latest one is kept.

AVAILABLE TOOLS:
- connection_state: Connection state (connecting, open, closing, closed, failed), hub id and listener count
- last_message: The most recent inbound message
- send_message: Send a message (only delivered while the connection is Open)
- relay_stats: Relay counters (when a relay URL is configured)
- relay_broadcast: Broadcast through the relay's REST API (when a relay URL is configured)`),
	)

	c.registerTools()
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "connection_state",
		Description: "Get the state of the WebSocket connection",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleConnectionState)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "last_message",
		Description: "Get the most recent message received on the connection",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleLastMessage)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "send_message",
		Description: "Send a message over the connection",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type discriminant",
				},
				"data": map[string]interface{}{
					"type":        "string",
					"description": "Payload as a JSON document (optional)",
				},
			},
			Required: []string{"type"},
		},
	}, c.handleSendMessage)

	if c.baseURL == "" {
		return
	}

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_stats",
		Description: "Get connected clients and message counters from the relay",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleRelayStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_broadcast",
		Description: "Broadcast a message to every client of the relay",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"type": map[string]interface{}{
					"type":        "string",
					"description": "Message type discriminant",
				},
				"data": map[string]interface{}{
					"type":        "string",
					"description": "Payload as a JSON document (optional)",
				},
			},
			Required: []string{"type"},
		},
	}, c.handleRelayBroadcast)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	url := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

// messageFromArgs builds a message from the type and data tool arguments.
func messageFromArgs(request mcp.CallToolRequest) (message.Message, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	typ, _ := args["type"].(string)
	if typ == "" {
		return message.Message{}, fmt.Errorf("type is required")
	}

	var data any
	if raw, _ := args["data"].(string); raw != "" {
		if !json.Valid([]byte(raw)) {
			return message.Message{}, fmt.Errorf("data is not valid JSON")
		}
		data = json.RawMessage(raw)
	}
	return message.New(typ, data)
}

// Tool handlers

func (c *Client) handleConnectionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result := fmt.Sprintf("Connection: %s\nHub: %s\nListeners: %d\n", c.bus.State(), c.bus.ID(), c.bus.Listeners())
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleLastMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, ok := c.bus.LastMessage()
	if !ok {
		return mcp.NewToolResultText("No message received yet"), nil
	}
	return mcp.NewToolResultText(formatMessage(msg)), nil
}

func (c *Client) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := messageFromArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if state := c.bus.State(); state != websocket.StateOpen {
		return mcp.NewToolResultError(fmt.Sprintf("Connection is %s, message not sent", state)), nil
	}
	c.bus.Send(msg)

	return mcp.NewToolResultText(fmt.Sprintf("Sent %s", msg)), nil
}

func (c *Client) handleRelayStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var stats websocket.RelayStats
	if err := c.apiCall(ctx, "GET", "/api/stats", nil, &stats); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Clients: %d\nReceived: %d\nSent: %d\nDropped: %d\nUptime: %.0fs\n",
		stats.ConnectedClients, stats.MessagesReceived, stats.MessagesSent, stats.MessagesDropped, stats.Uptime)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleRelayBroadcast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := messageFromArgs(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response struct {
		Type    string `json:"type"`
		Clients int    `json:"clients"`
	}
	if err := c.apiCall(ctx, "POST", "/api/broadcast", msg, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Broadcast %s to %d clients", response.Type, response.Clients)), nil
}

func formatMessage(msg message.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", msg.Type())
	if msg.HasData() {
		fmt.Fprintf(&b, "Data: %s\n", msg.Data())
	}
	for _, name := range msg.FieldNames() {
		raw, _ := msg.Field(name)
		fmt.Fprintf(&b, "%s: %s\n", name, raw)
	}
	return b.String()
}

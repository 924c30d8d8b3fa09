// Package mcp exposes a hub to AI agents over the Model Context Protocol.
//
// MCP Tools:
//   - connection_state: state of the connection
//   - last_message: the most recent inbound message
//   - send_message: send a message while the connection is open
//   - relay_stats: relay counters, proxied from GET /api/stats
//   - relay_broadcast: broadcast through POST /api/broadcast
//
// The relay tools are only registered when a relay URL is given.
//
// Usage:
//
//	client := mcp.NewClient(hub, "http://localhost:5000")
//	server.ServeStdio(client.GetMCPServer())
package mcp

// Package api provides the HTTP surface of the relay.
//
// Endpoints:
//   - GET /api/health - liveness check
//   - GET /api/stats - connected clients and message counters
//   - POST /api/broadcast - send a message to every connected client
//   - /ws - WebSocket upgrade into the relay
//
// The broadcast body is a message object:
//
//	{
//	  "type": "notice",
//	  "data": {"text": "deploy finished"}
//	}
//
// Errors are returned as JSON with an appropriate HTTP status code:
//
//	{
//	  "error": "error message"
//	}
package api

// Package websocket provides both ends of the wsbus message channel.
//
// Hub is the client end. It owns exactly one connection and exposes it to the
// rest of an application as a publish/subscribe bus:
//   - LastMessage returns the most recently received message
//   - Send transmits a message while the connection is open, and silently
//     drops it otherwise
//   - Subscribe registers a Listener and returns its cancel function
//
// Lifecycle:
//
//	Connecting --handshake--> Open --Close/peer--> Closing --> Closed
//	Connecting --dial error--> Failed
//
// There is no reconnection. A closed or failed hub stays that way; build a new
// one for a new session.
//
// Concurrency:
//
// Each open hub runs a read goroutine and a write goroutine. The read
// goroutine is the hub's event loop: frames are decoded and delivered one at a
// time, and every listener runs on it. Listeners must not block for long, but
// they may Send, Subscribe, unsubscribe or Close without deadlocking. A
// listener that returns an error or panics is logged and skipped; the other
// listeners still get the message.
//
// Relay is the server end. It upgrades HTTP requests, validates inbound
// frames and broadcasts them to every connected client:
//
//	relay := websocket.NewRelay(log)
//	go relay.Run(ctx)
//	http.Handle("/ws", relay)
//
// Message Protocol:
//
// Text frames carrying JSON objects, see package message.
package websocket

package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/wsbus/logging"
	"github.com/wricardo/mcp-training/wsbus/message"
)

// ErrRelayStopped is returned by Broadcast once Run has returned.
var ErrRelayStopped = errors.New("relay stopped")

// Maximum message size accepted from a relay client.
const maxMessageSize = 1 << 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the reverse proxy in front of the relay.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RelayStats is a point-in-time view of relay activity.
type RelayStats struct {
	ConnectedClients int     `json:"connected_clients"`
	MessagesReceived int64   `json:"messages_received"`
	MessagesSent     int64   `json:"messages_sent"`
	MessagesDropped  int64   `json:"messages_dropped"`
	Uptime           float64 `json:"uptime_seconds"`
}

// relayClient is one peer connected to the relay.
type relayClient struct {
	id    string
	relay *Relay
	conn  *websocket.Conn
	send  chan []byte
	log   logrus.FieldLogger
}

// Relay is the server end of the channel. Every valid frame a client sends is
// broadcast to all connected clients, the sender included.
type Relay struct {
	log     logrus.FieldLogger
	started time.Time

	mu      sync.RWMutex
	clients map[*relayClient]struct{}

	// Inbound frames to fan out
	broadcast chan []byte

	// Register requests from clients
	register chan *relayClient

	// Unregister requests from clients
	unregister chan *relayClient

	// closed when Run starts shutting down
	stopped chan struct{}

	received atomic.Int64
	sent     atomic.Int64
	dropped  atomic.Int64
}

// NewRelay creates a relay. A nil logger discards output.
func NewRelay(log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{
		log:        log.WithField("component", "relay"),
		started:    time.Now(),
		clients:    make(map[*relayClient]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *relayClient),
		unregister: make(chan *relayClient),
		stopped:    make(chan struct{}),
	}
}

// Run is the relay's event loop. It blocks until ctx is cancelled, then
// disconnects every client.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(r.stopped)
			r.closeAll()
			return

		case c := <-r.register:
			r.registerClient(c)

		case c := <-r.unregister:
			r.unregisterClient(c)

		case frame := <-r.broadcast:
			r.broadcastFrame(frame)
		}
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// upgrader has already written the error response
		r.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &relayClient{
		id:    uuid.NewString(),
		relay: r,
		conn:  conn,
		send:  make(chan []byte, sendBufferSize),
	}
	c.log = r.log.WithField("client", c.id)

	select {
	case r.register <- c:
	case <-r.stopped:
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump()
}

// Broadcast sends a server-originated message to every client.
func (r *Relay) Broadcast(ctx context.Context, msg message.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	select {
	case <-r.stopped:
		return ErrRelayStopped
	default:
	}
	select {
	case r.broadcast <- frame:
		return nil
	case <-r.stopped:
		return ErrRelayStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of connected clients.
func (r *Relay) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Stats reports counters since the relay was created.
func (r *Relay) Stats() RelayStats {
	return RelayStats{
		ConnectedClients: r.Count(),
		MessagesReceived: r.received.Load(),
		MessagesSent:     r.sent.Load(),
		MessagesDropped:  r.dropped.Load(),
		Uptime:           time.Since(r.started).Seconds(),
	}
}

func (r *Relay) registerClient(c *relayClient) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()

	c.log.WithField("clients", n).Info("client registered")
}

func (r *Relay) unregisterClient(c *relayClient) {
	r.mu.Lock()
	_, ok := r.clients[c]
	if ok {
		delete(r.clients, c)
		close(c.send)
	}
	n := len(r.clients)
	r.mu.Unlock()

	if ok {
		c.log.WithField("clients", n).Info("client unregistered")
	}
}

func (r *Relay) broadcastFrame(frame []byte) {
	r.mu.RLock()
	targets := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
			r.sent.Add(1)
		default:
			// Client's send buffer is full, drop it
			r.dropped.Add(1)
			r.unregisterClient(c)
		}
	}
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.clients {
		close(c.send)
		delete(r.clients, c)
	}
}

// readPump forwards valid frames from the client to the relay loop.
func (c *relayClient) readPump() {
	defer func() {
		select {
		case c.relay.unregister <- c:
		case <-c.relay.stopped:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("read failed")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		msg, err := message.Decode(frame)
		if err != nil {
			c.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		c.relay.received.Add(1)

		out, err := msg.Encode()
		if err != nil {
			continue
		}
		select {
		case c.relay.broadcast <- out:
		case <-c.relay.stopped:
			return
		}
	}
}

// writePump drains the client's send channel onto the connection.
func (c *relayClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The relay closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

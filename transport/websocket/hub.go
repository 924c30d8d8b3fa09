package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/wsbus/logging"
	"github.com/wricardo/mcp-training/wsbus/message"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Outbound frames buffered per connection.
	sendBufferSize = 256
)

// State is the lifecycle of a hub's single connection.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener receives every decoded inbound message. An error return or a panic
// is logged and does not affect other listeners.
type Listener func(msg message.Message) error

type registration struct {
	id     uint64
	fn     Listener
	active atomic.Bool
}

// Hub owns one client connection and fans inbound messages out to listeners.
// A Hub is single-use: once closed or failed it never reconnects.
type Hub struct {
	id        string
	dialer    *websocket.Dialer
	log       logrus.FieldLogger
	readLimit int64

	state  atomic.Int32
	stopMu sync.Mutex // orders state transitions against teardown
	torn   bool

	startOnce  sync.Once
	finishOnce sync.Once
	cancel     context.CancelFunc
	send       chan []byte
	quit       chan struct{}
	opened     chan struct{}
	done       chan struct{}

	mu        sync.RWMutex
	listeners map[uint64]*registration
	nextID    uint64
	last      *message.Message
}

// Option configures a Hub.
type Option func(*Hub)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(h *Hub) { h.dialer = d }
}

// WithHandshakeTimeout bounds the opening handshake. Zero keeps the dialer's own.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d <= 0 {
			return
		}
		dialer := *h.dialer
		dialer.HandshakeTimeout = d
		h.dialer = &dialer
	}
}

// WithReadLimit caps inbound frame size. A larger frame ends the connection.
// Zero, the default, means no limit.
func WithReadLimit(n int64) Option {
	return func(h *Hub) { h.readLimit = n }
}

// WithLogger sets the logger. Hub fields are added to it.
func WithLogger(log logrus.FieldLogger) Option {
	return func(h *Hub) { h.log = log }
}

// NewHub creates a hub in the Connecting state. Nothing is dialed until Connect.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		id:        uuid.NewString(),
		dialer:    websocket.DefaultDialer,
		log:       logging.Discard(),
		send:      make(chan []byte, sendBufferSize),
		quit:      make(chan struct{}),
		opened:    make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[uint64]*registration),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.WithField("hub", h.id)
	h.state.Store(int32(StateConnecting))
	return h
}

// ID identifies the hub in logs.
func (h *Hub) ID() string { return h.id }

// State returns the current connection state.
func (h *Hub) State() State { return State(h.state.Load()) }

// Opened is closed once the handshake completes.
func (h *Hub) Opened() <-chan struct{} { return h.opened }

// Done is closed once the hub reaches Closed or Failed.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Connect dials target in the background and returns immediately. Only the
// first call has any effect. Failures are logged and leave the hub Failed.
func (h *Hub) Connect(ctx context.Context, target string) {
	h.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		h.stopMu.Lock()
		h.cancel = cancel
		torn := h.torn
		h.stopMu.Unlock()
		if torn {
			cancel()
			h.finish(StateClosed)
			return
		}

		log := h.log.WithField("url", target)
		if err := validTarget(target); err != nil {
			log.WithError(err).Error("cannot create connection")
			cancel()
			h.finish(StateFailed)
			return
		}

		log.Info("connecting")
		go h.dial(ctx, cancel, target, log)
	})
}

// Fail marks a hub that could not even be given a target as Failed.
func (h *Hub) Fail(err error) {
	h.startOnce.Do(func() {
		h.log.WithError(err).Error("cannot create connection")
		h.finish(StateFailed)
	})
}

func (h *Hub) dial(ctx context.Context, cancel context.CancelFunc, target string, log logrus.FieldLogger) {
	defer cancel()

	conn, resp, err := h.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		h.stopMu.Lock()
		torn := h.torn
		h.stopMu.Unlock()
		if torn {
			log.Debug("handshake abandoned by teardown")
			h.finish(StateClosed)
			return
		}
		log.WithError(err).Error("connection failed")
		h.finish(StateFailed)
		return
	}

	h.stopMu.Lock()
	if h.torn {
		h.stopMu.Unlock()
		conn.Close()
		log.Debug("connection opened after teardown, dropped")
		h.finish(StateClosed)
		return
	}
	h.state.Store(int32(StateOpen))
	h.stopMu.Unlock()

	close(h.opened)
	log.Info("connected")

	go h.writePump(conn)
	h.readPump(conn)
}

// Close tears the hub down. An open connection is closed; a pending handshake
// is abandoned; a closed or failed hub is left alone. Close does not block.
func (h *Hub) Close() {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	if h.torn {
		return
	}
	h.torn = true

	switch h.State() {
	case StateOpen:
		h.state.Store(int32(StateClosing))
		close(h.quit)
	case StateConnecting:
		if h.cancel != nil {
			h.cancel()
		}
		// a handshake that still completes is dropped by dial
		h.finish(StateClosed)
	}
}

// LastMessage returns the most recently decoded inbound message.
func (h *Hub) LastMessage() (message.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return message.Message{}, false
	}
	return *h.last, true
}

// Send transmits msg if the connection is open and silently drops it otherwise.
func (h *Hub) Send(msg message.Message) {
	if h.State() != StateOpen {
		h.log.WithField("type", msg.Type()).Debug("send dropped, connection not open")
		return
	}
	frame, err := msg.Encode()
	if err != nil {
		h.log.WithError(err).Warn("send dropped, message not encodable")
		return
	}

	select {
	case <-h.quit:
	case h.send <- frame:
	default:
		h.log.WithField("type", msg.Type()).Warn("send dropped, outbound buffer full")
	}
}

// Subscribe registers l and returns the function that unregisters it. Every
// call creates a separate registration, even for the same function.
func (h *Hub) Subscribe(l Listener) func() {
	h.mu.Lock()
	h.nextID++
	reg := &registration{id: h.nextID, fn: l}
	reg.active.Store(true)
	h.listeners[reg.id] = reg
	h.mu.Unlock()

	return func() {
		if !reg.active.CompareAndSwap(true, false) {
			return
		}
		h.mu.Lock()
		delete(h.listeners, reg.id)
		h.mu.Unlock()
	}
}

// Listeners returns how many registrations are live.
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// deliver records msg as the last message and hands it to a snapshot of the
// registry. Registrations cancelled mid fan-out are skipped.
func (h *Hub) deliver(msg message.Message) {
	h.mu.Lock()
	h.last = &msg
	targets := make([]*registration, 0, len(h.listeners))
	for _, reg := range h.listeners {
		targets = append(targets, reg)
	}
	h.mu.Unlock()

	for _, reg := range targets {
		if !reg.active.Load() {
			continue
		}
		h.invoke(reg, msg)
	}
}

func (h *Hub) invoke(reg *registration, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithFields(logrus.Fields{
				"listener": reg.id,
				"type":     msg.Type(),
				"panic":    r,
			}).Error("listener panicked")
		}
	}()
	if err := reg.fn(msg); err != nil {
		h.log.WithFields(logrus.Fields{
			"listener": reg.id,
			"type":     msg.Type(),
		}).WithError(err).Error("listener failed")
	}
}

func (h *Hub) finish(s State) {
	h.finishOnce.Do(func() {
		h.state.Store(int32(s))
		close(h.done)
	})
}

// readPump is the hub's event loop: every inbound frame is decoded and fanned
// out here, one at a time.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		h.stopMu.Lock()
		if !h.torn {
			// peer went away first; stop the write pump
			h.torn = true
			close(h.quit)
		}
		h.stopMu.Unlock()
		h.finish(StateClosed)
		h.log.Info("disconnected")
	}()

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if h.State() != StateClosing && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.WithError(err).Error("transport error")
			}
			return
		}
		h.handleFrame(kind, frame)
	}
}

// handleFrame decodes one inbound frame and delivers it. Frames that are not
// text or not valid messages are logged and dropped.
func (h *Hub) handleFrame(kind int, frame []byte) {
	if kind != websocket.TextMessage {
		h.log.WithField("frame_type", kind).Warn("discarding non-text frame")
		return
	}
	msg, err := message.Decode(frame)
	if err != nil {
		h.log.WithError(err).Warn("discarding undecodable frame")
		return
	}
	h.log.WithField("type", msg.Type()).Debug("message received")
	h.deliver(msg)
}

// writePump serializes all writes to the connection and keeps it alive with
// pings.
func (h *Hub) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case frame := <-h.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.WithError(err).Error("write failed")
				return
			}

		case <-h.quit:
			// flush what Send accepted before the close
			for pending := len(h.send); pending > 0; pending-- {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, <-h.send); err != nil {
					return
				}
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func validTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("target %q is not a ws:// or wss:// url", target)
	}
	if u.Host == "" {
		return fmt.Errorf("target %q has no host", target)
	}
	return nil
}

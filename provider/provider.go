package provider

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/wricardo/mcp-training/wsbus/config"
	"github.com/wricardo/mcp-training/wsbus/logging"
	"github.com/wricardo/mcp-training/wsbus/transport/websocket"
)

// ErrNoProvider is the panic value of FromContext and Use when no hub has been
// mounted on the context.
var ErrNoProvider = errors.New("provider: no hub mounted on context")

type hubKey struct{}

// Mount creates a hub for cfg, starts connecting it and returns a context
// carrying it. The hub is closed when teardown runs or ctx ends, whichever
// comes first.
//
// Resolution failures do not surface here: the hub is returned in the Failed
// state and the error is logged.
func Mount(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (context.Context, *websocket.Hub, func()) {
	if log == nil {
		log = logging.Discard()
	}

	hub := websocket.NewHub(
		websocket.WithHandshakeTimeout(cfg.HandshakeTimeout),
		websocket.WithLogger(log),
	)

	target, err := cfg.Endpoint()
	if err != nil {
		hub.Fail(err)
	} else {
		hub.Connect(ctx, target)
	}

	stop := context.AfterFunc(ctx, hub.Close)
	teardown := func() {
		stop()
		hub.Close()
	}

	return WithHub(ctx, hub), hub, teardown
}

// WithHub returns a context carrying hub. Mount uses it; tests and callers
// that manage the hub themselves can too.
func WithHub(ctx context.Context, hub *websocket.Hub) context.Context {
	return context.WithValue(ctx, hubKey{}, hub)
}

// FromContext returns the mounted hub. It panics with ErrNoProvider outside a
// mounted scope.
func FromContext(ctx context.Context) *websocket.Hub {
	hub, ok := ctx.Value(hubKey{}).(*websocket.Hub)
	if !ok || hub == nil {
		panic(ErrNoProvider)
	}
	return hub
}

// Use returns the mounted hub and, when l is non-nil, subscribes it. The
// returned func cancels the subscription and is safe to call more than once;
// with a nil listener it does nothing.
func Use(ctx context.Context, l websocket.Listener) (*websocket.Hub, func()) {
	hub := FromContext(ctx)
	if l == nil {
		return hub, func() {}
	}
	return hub, hub.Subscribe(l)
}

package message

import (
	"fmt"
	"sync"
)

// Unknown is what Resolve yields for a type nobody registered.
type Unknown struct {
	Message Message
}

// Registry maps discriminants to typed payload decoders so that consumers can
// switch on concrete Go types instead of poking at raw JSON.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]func(Message) (any, error)
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]func(Message) (any, error))}
}

// Register binds typ to payload type T. Messages of that type resolve to *T;
// a message without data resolves to a zero *T.
func Register[T any](r *Registry, typ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[typ] = func(m Message) (any, error) {
		v := new(T)
		if !m.HasData() {
			return v, nil
		}
		if err := m.DecodeData(v); err != nil {
			return nil, fmt.Errorf("decode %q payload: %w", typ, err)
		}
		return v, nil
	}
}

// Known reports whether typ has a registered decoder.
func (r *Registry) Known(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[typ]
	return ok
}

// Resolve returns the typed payload for m, or Unknown when m's type is not
// registered. An error means the type is known but its payload is malformed.
func (r *Registry) Resolve(m Message) (any, error) {
	r.mu.RLock()
	decode, ok := r.decoders[m.Type()]
	r.mu.RUnlock()
	if !ok {
		return Unknown{Message: m}, nil
	}
	return decode(m)
}

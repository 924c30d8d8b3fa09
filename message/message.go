package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
)

var (
	ErrNotObject   = errors.New("frame is not a JSON object")
	ErrMissingType = errors.New("frame has no string \"type\" field")
)

// Message is one frame on the channel: a mandatory type discriminant, an
// optional data payload and any other top-level fields the peer sent.
type Message struct {
	typ    string
	data   json.RawMessage
	fields map[string]json.RawMessage
}

// New builds a message of the given type. A nil data leaves the payload absent.
func New(typ string, data any) (Message, error) {
	if typ == "" {
		return Message{}, ErrMissingType
	}
	m := Message{typ: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Message{}, fmt.Errorf("encode %q payload: %w", typ, err)
		}
		m.data = raw
	}
	return m, nil
}

// WithField returns a copy of m carrying an extra top-level field.
func (m Message) WithField(name string, value any) (Message, error) {
	if name == "type" || name == "data" {
		return Message{}, fmt.Errorf("field %q is reserved", name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("encode field %q: %w", name, err)
	}
	out := Message{typ: m.typ, data: m.data, fields: make(map[string]json.RawMessage, len(m.fields)+1)}
	for k, v := range m.fields {
		out.fields[k] = v
	}
	out.fields[name] = raw
	return out, nil
}

// Type returns the discriminant.
func (m Message) Type() string { return m.typ }

// HasData reports whether the payload is present.
func (m Message) HasData() bool { return len(m.data) > 0 }

// Data returns a copy of the raw payload, nil when absent.
func (m Message) Data() json.RawMessage {
	if m.data == nil {
		return nil
	}
	return append(json.RawMessage(nil), m.data...)
}

// DecodeData unmarshals the payload into v.
func (m Message) DecodeData(v any) error {
	if !m.HasData() {
		return fmt.Errorf("message %q has no data", m.typ)
	}
	return json.Unmarshal(m.data, v)
}

// Field returns a copy of an extra top-level field.
func (m Message) Field(name string) (json.RawMessage, bool) {
	raw, ok := m.fields[name]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), raw...), true
}

// FieldNames lists the extra top-level fields in sorted order.
func (m Message) FieldNames() []string {
	names := make([]string, 0, len(m.fields))
	for k := range m.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Decode parses one text frame.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := m.UnmarshalJSON(frame); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Encode serializes m into a text frame.
func (m Message) Encode() ([]byte, error) {
	return m.MarshalJSON()
}

// MarshalJSON writes "type" first, then "data", then extra fields sorted by name.
func (m Message) MarshalJSON() ([]byte, error) {
	if m.typ == "" {
		return nil, ErrMissingType
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeMember(&buf, "type", mustString(m.typ))
	if m.HasData() {
		if !json.Valid(m.data) {
			return nil, fmt.Errorf("message %q: invalid data payload", m.typ)
		}
		buf.WriteByte(',')
		writeMember(&buf, "data", compact(m.data))
	}
	for _, name := range m.FieldNames() {
		raw := m.fields[name]
		if !json.Valid(raw) {
			return nil, fmt.Errorf("message %q: invalid field %q", m.typ, name)
		}
		buf.WriteByte(',')
		writeMember(&buf, name, compact(raw))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any JSON object whose "type" member is a non-empty string.
func (m *Message) UnmarshalJSON(b []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(b, &members); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return ErrNotObject
		}
		return fmt.Errorf("decode frame: %w", err)
	}
	if members == nil {
		// literal null
		return ErrNotObject
	}

	rawType, ok := members["type"]
	if !ok {
		return ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || typ == "" {
		return ErrMissingType
	}
	delete(members, "type")

	out := Message{typ: typ}
	if data, ok := members["data"]; ok {
		out.data = data
		delete(members, "data")
	}
	if len(members) > 0 {
		out.fields = members
	}
	*m = out
	return nil
}

// Equal reports whether two messages carry the same JSON values, ignoring
// formatting and member order.
func Equal(a, b Message) bool {
	if a.typ != b.typ || a.HasData() != b.HasData() || len(a.fields) != len(b.fields) {
		return false
	}
	if a.HasData() && !sameJSON(a.data, b.data) {
		return false
	}
	for name, raw := range a.fields {
		other, ok := b.fields[name]
		if !ok || !sameJSON(raw, other) {
			return false
		}
	}
	return true
}

func (m Message) String() string {
	b, err := m.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid message %q: %v>", m.typ, err)
	}
	return string(b)
}

func sameJSON(a, b json.RawMessage) bool {
	va, err := decodeNumbers(a)
	if err != nil {
		return false
	}
	vb, err := decodeNumbers(b)
	if err != nil {
		return false
	}
	return sameValue(va, vb)
}

// decodeNumbers keeps numbers as json.Number so no precision is lost.
func decodeNumbers(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// sameValue compares decoded JSON values. Numbers are equal when they denote
// the same rational, so 1, 1.0 and 1e0 match but 2^53+1 and 2^53 do not.
func sameValue(a, b any) bool {
	switch va := a.(type) {
	case json.Number:
		vb, ok := b.(json.Number)
		if !ok {
			return false
		}
		ra, okA := new(big.Rat).SetString(va.String())
		rb, okB := new(big.Rat).SetString(vb.String())
		if !okA || !okB {
			return va == vb
		}
		return ra.Cmp(rb) == 0
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, x := range va {
			y, ok := vb[k]
			if !ok || !sameValue(x, y) {
				return false
			}
		}
		return true
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !sameValue(va[i], vb[i]) {
				return false
			}
		}
		return true
	default:
		// strings, bools and nil are comparable
		return a == b
	}
}

func writeMember(buf *bytes.Buffer, name string, value []byte) {
	buf.Write(mustString(name))
	buf.WriteByte(':')
	buf.Write(value)
}

func mustString(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func compact(raw json.RawMessage) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

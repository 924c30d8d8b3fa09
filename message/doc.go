// Package message defines the frames exchanged over the wsbus channel.
//
// A frame is a JSON object with a mandatory string "type" discriminant, an
// optional "data" payload and any number of other top-level members:
//
//	{"type": "chat", "data": {"text": "hi"}, "room": "lobby"}
//
// Decode rejects frames that are not objects or lack a string type. Encode
// writes members in a stable order (type, data, then the rest sorted by name).
//
// Typed payloads:
//
//	r := message.NewRegistry()
//	message.Register[ChatPayload](r, "chat")
//
//	switch v, _ := r.Resolve(msg); p := v.(type) {
//	case *ChatPayload:
//		...
//	case message.Unknown:
//		...
//	}
package message

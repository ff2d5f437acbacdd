// Package protocol defines the JSON frame and event types exchanged over the
// chatbox websockets and the NATS bridge. All payloads follow a consistent
// envelope format with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client -> Server frame types (room socket).
const (
	TypeChatMessage = "chat_message"
	TypeStartTyping = "start_typing"
	TypeStopTyping  = "stop_typing"
	TypeMessageRead = "message_read"
)

// ErrUnknownType is returned by ParseClientFrame for a well-formed frame
// whose type is not one of the recognized client frame types. Sessions treat
// it as a silent no-op, unlike a JSON parse error which is reported back to
// the sender.
var ErrUnknownType = errors.New("protocol: unknown frame type")

// Allowed message content kinds, matching the persisted message rows.
const (
	MessageTypeText   = "text"
	MessageTypeImages = "images"
	MessageTypeFiles  = "files"
	MessageTypeVoice  = "voice"
)

// NormalizeMessageType maps an arbitrary client-supplied message type onto
// the allowed set, falling back to "text".
func NormalizeMessageType(t string) string {
	switch t {
	case MessageTypeText, MessageTypeImages, MessageTypeFiles, MessageTypeVoice:
		return t
	default:
		return MessageTypeText
	}
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the frame type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server frame structs
// ---------------------------------------------------------------------------

// ChatMessageFrame is sent by the client to post a message to the
// conversation the socket is bound to.
type ChatMessageFrame struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	MessageType string `json:"message_type"`
}

// StartTypingFrame signals that the client began composing a message.
type StartTypingFrame struct {
	Type string `json:"type"`
}

// StopTypingFrame signals that the client stopped composing.
type StopTypingFrame struct {
	Type string `json:"type"`
}

// MessageReadFrame marks a message as read by the sending client. MessageID
// may be zero when the client omits it; the read receipt is still broadcast
// but nothing is persisted.
type MessageReadFrame struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// ParseClientFrame parses raw websocket bytes into a typed client frame. It
// returns the frame type string, the decoded struct, and any error. A
// malformed JSON document yields a wrapped unmarshal error; a well-formed
// document with an unrecognized type yields ErrUnknownType.
func ParseClientFrame(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse frame: %w", err)
	}

	var (
		frame interface{}
		err   error
	)

	switch env.Type {
	case TypeChatMessage:
		var f ChatMessageFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeStartTyping:
		var f StartTypingFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeStopTyping:
		var f StopTypingFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	case TypeMessageRead:
		var f MessageReadFrame
		err = json.Unmarshal(env.Raw, &f)
		frame = f
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, frame, nil
}

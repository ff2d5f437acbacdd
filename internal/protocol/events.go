package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Server -> Client event types. TypeChatMessage and TypeMessageRead are
// shared with the inbound frame constants since the names coincide on the
// wire.
const (
	TypeTypingIndicator = "typing_indicator"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeUserOnline      = "user_online"
	TypeUserOffline     = "user_offline"
	TypeNotification    = "notification"
	TypeError           = "error"
)

// Identity is the wire shape of an authenticated principal attached to
// outbound events. The realtime layer only ever reads these fields; the
// user records themselves are owned by the CRUD backend.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Event is a fan-out payload published to a group. Origin returns the id of
// the identity that caused the event, used by sessions to suppress the echo
// back to the originator. Events not caused by any connected identity (such
// as notifications) return 0 and are never suppressed.
type Event interface {
	EventType() string
	Origin() int64
}

// ---------------------------------------------------------------------------
// Event structs
// ---------------------------------------------------------------------------

// ChatMessageEvent carries a persisted chat message to the room group.
type ChatMessageEvent struct {
	Type        string   `json:"type"`
	MessageID   int64    `json:"message_id"`
	MessageType string   `json:"message_type"`
	Message     string   `json:"message"`
	Identity    Identity `json:"identity"`
	Timestamp   string   `json:"timestamp"`
}

// NewChatMessageEvent builds a ChatMessageEvent with an RFC3339 timestamp.
func NewChatMessageEvent(messageID int64, messageType, message string, from Identity, ts time.Time) ChatMessageEvent {
	return ChatMessageEvent{
		Type:        TypeChatMessage,
		MessageID:   messageID,
		MessageType: messageType,
		Message:     message,
		Identity:    from,
		Timestamp:   ts.UTC().Format(time.RFC3339),
	}
}

func (e ChatMessageEvent) EventType() string { return TypeChatMessage }
func (e ChatMessageEvent) Origin() int64     { return e.Identity.ID }

// TypingIndicatorEvent tells the room that an identity started or stopped
// composing.
type TypingIndicatorEvent struct {
	Type     string   `json:"type"`
	Identity Identity `json:"identity"`
	IsTyping bool     `json:"is_typing"`
}

// NewTypingIndicatorEvent builds a TypingIndicatorEvent.
func NewTypingIndicatorEvent(from Identity, isTyping bool) TypingIndicatorEvent {
	return TypingIndicatorEvent{Type: TypeTypingIndicator, Identity: from, IsTyping: isTyping}
}

func (e TypingIndicatorEvent) EventType() string { return TypeTypingIndicator }
func (e TypingIndicatorEvent) Origin() int64     { return e.Identity.ID }

// MessageReadEvent is the read receipt broadcast to the room. MessageID may
// be zero when the client omitted it from the inbound frame.
type MessageReadEvent struct {
	Type      string   `json:"type"`
	MessageID int64    `json:"message_id"`
	ReadBy    Identity `json:"read_by"`
}

// NewMessageReadEvent builds a MessageReadEvent.
func NewMessageReadEvent(messageID int64, readBy Identity) MessageReadEvent {
	return MessageReadEvent{Type: TypeMessageRead, MessageID: messageID, ReadBy: readBy}
}

func (e MessageReadEvent) EventType() string { return TypeMessageRead }
func (e MessageReadEvent) Origin() int64     { return e.ReadBy.ID }

// UserJoinedEvent announces a new room member.
type UserJoinedEvent struct {
	Type     string   `json:"type"`
	Identity Identity `json:"identity"`
}

// NewUserJoinedEvent builds a UserJoinedEvent.
func NewUserJoinedEvent(who Identity) UserJoinedEvent {
	return UserJoinedEvent{Type: TypeUserJoined, Identity: who}
}

func (e UserJoinedEvent) EventType() string { return TypeUserJoined }
func (e UserJoinedEvent) Origin() int64     { return e.Identity.ID }

// UserLeftEvent announces a room member leaving.
type UserLeftEvent struct {
	Type     string   `json:"type"`
	Identity Identity `json:"identity"`
}

// NewUserLeftEvent builds a UserLeftEvent.
func NewUserLeftEvent(who Identity) UserLeftEvent {
	return UserLeftEvent{Type: TypeUserLeft, Identity: who}
}

func (e UserLeftEvent) EventType() string { return TypeUserLeft }
func (e UserLeftEvent) Origin() int64     { return e.Identity.ID }

// UserOnlineEvent announces presence on the global online-users group.
type UserOnlineEvent struct {
	Type     string   `json:"type"`
	Identity Identity `json:"identity"`
}

// NewUserOnlineEvent builds a UserOnlineEvent.
func NewUserOnlineEvent(who Identity) UserOnlineEvent {
	return UserOnlineEvent{Type: TypeUserOnline, Identity: who}
}

func (e UserOnlineEvent) EventType() string { return TypeUserOnline }
func (e UserOnlineEvent) Origin() int64     { return e.Identity.ID }

// UserOfflineEvent announces an identity going offline.
type UserOfflineEvent struct {
	Type     string   `json:"type"`
	Identity Identity `json:"identity"`
}

// NewUserOfflineEvent builds a UserOfflineEvent.
func NewUserOfflineEvent(who Identity) UserOfflineEvent {
	return UserOfflineEvent{Type: TypeUserOffline, Identity: who}
}

func (e UserOfflineEvent) EventType() string { return TypeUserOffline }
func (e UserOfflineEvent) Origin() int64     { return e.Identity.ID }

// NotificationEvent is pushed to a per-user notification group by the
// notification-authoring subsystem. It has no originating connection, so it
// is never echo-suppressed.
type NotificationEvent struct {
	Type             string `json:"type"`
	NotificationID   int64  `json:"notification_id"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	NotificationType string `json:"notification_type"`
	Timestamp        string `json:"timestamp"`
}

// NewNotificationEvent builds a NotificationEvent with an RFC3339 timestamp.
func NewNotificationEvent(id int64, title, message, notificationType string, ts time.Time) NotificationEvent {
	return NotificationEvent{
		Type:             TypeNotification,
		NotificationID:   id,
		Title:            title,
		Message:          message,
		NotificationType: notificationType,
		Timestamp:        ts.UTC().Format(time.RFC3339),
	}
}

func (e NotificationEvent) EventType() string { return TypeNotification }
func (e NotificationEvent) Origin() int64     { return 0 }

// ErrorFrame is sent directly to a single socket, never fanned out.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewErrorFrame builds an ErrorFrame.
func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: message}
}

// ---------------------------------------------------------------------------
// Bridge envelope — events crossing the NATS bus
// ---------------------------------------------------------------------------

// WireEvent is the envelope for events published on the broker. Server tags
// the publishing node so the bridge can drop its own publishes when they
// come back around.
type WireEvent struct {
	Type    string          `json:"type"`
	Server  string          `json:"server"`
	Payload json.RawMessage `json:"payload"`
}

// eventDecoders maps event type discriminants to payload decoders. The
// closed table gives the bridge the same exhaustiveness as the frame switch.
var eventDecoders = map[string]func([]byte) (Event, error){
	TypeChatMessage:     decodeInto[ChatMessageEvent],
	TypeTypingIndicator: decodeInto[TypingIndicatorEvent],
	TypeMessageRead:     decodeInto[MessageReadEvent],
	TypeUserJoined:      decodeInto[UserJoinedEvent],
	TypeUserLeft:        decodeInto[UserLeftEvent],
	TypeUserOnline:      decodeInto[UserOnlineEvent],
	TypeUserOffline:     decodeInto[UserOfflineEvent],
	TypeNotification:    decodeInto[NotificationEvent],
}

func decodeInto[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeWireEvent wraps an event in a WireEvent envelope tagged with the
// publishing server's name and marshals it for the broker.
func EncodeWireEvent(server string, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal event payload: %w", err)
	}
	out, err := json.Marshal(WireEvent{Type: ev.EventType(), Server: server, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal wire event: %w", err)
	}
	return out, nil
}

// DecodeWireEvent parses a broker message back into a typed event and the
// name of the server that published it.
func DecodeWireEvent(data []byte) (Event, string, error) {
	var we WireEvent
	if err := json.Unmarshal(data, &we); err != nil {
		return nil, "", fmt.Errorf("protocol: unmarshal wire event: %w", err)
	}
	decode, ok := eventDecoders[we.Type]
	if !ok {
		return nil, we.Server, fmt.Errorf("%w: %q", ErrUnknownType, we.Type)
	}
	ev, err := decode(we.Payload)
	if err != nil {
		return nil, we.Server, fmt.Errorf("protocol: decode %q payload: %w", we.Type, err)
	}
	return ev, we.Server, nil
}

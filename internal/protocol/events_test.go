package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Chat message events carry the sender as origin
// ---------------------------------------------------------------------------

func TestChatMessageEvent_Origin(t *testing.T) {
	sender := Identity{ID: 7, Username: "alice"}
	ev := NewChatMessageEvent(100, MessageTypeText, "hi", sender, time.Now())

	if ev.EventType() != TypeChatMessage {
		t.Fatalf("expected event type %q, got %q", TypeChatMessage, ev.EventType())
	}
	if ev.Origin() != 7 {
		t.Errorf("expected origin 7, got %d", ev.Origin())
	}
}

// ---------------------------------------------------------------------------
// Test: Read receipts originate from the reader, not the message sender
// ---------------------------------------------------------------------------

func TestMessageReadEvent_Origin(t *testing.T) {
	reader := Identity{ID: 9, Username: "bob"}
	ev := NewMessageReadEvent(100, reader)

	if ev.Origin() != 9 {
		t.Errorf("expected origin 9 (the reader), got %d", ev.Origin())
	}
}

// ---------------------------------------------------------------------------
// Test: Notifications have no origin and survive a wire round trip
// ---------------------------------------------------------------------------

func TestNotificationEvent_NoOrigin(t *testing.T) {
	ev := NewNotificationEvent(5, "New follower", "alice followed you", "follow", time.Now())
	if ev.Origin() != 0 {
		t.Errorf("expected origin 0, got %d", ev.Origin())
	}
}

// ---------------------------------------------------------------------------
// Test: Wire event encode/decode round trip preserves type and server tag
// ---------------------------------------------------------------------------

func TestWireEvent_RoundTrip(t *testing.T) {
	sender := Identity{ID: 3, Username: "carol", Avatar: "c.png"}
	orig := NewChatMessageEvent(55, MessageTypeImages, "look at this", sender, time.Now())

	data, err := EncodeWireEvent("chat-2", orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	ev, server, err := DecodeWireEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if server != "chat-2" {
		t.Errorf("expected server tag %q, got %q", "chat-2", server)
	}

	got, ok := ev.(ChatMessageEvent)
	if !ok {
		t.Fatalf("expected ChatMessageEvent, got %T", ev)
	}
	if got != orig {
		t.Errorf("round trip changed the event:\n got %+v\nwant %+v", got, orig)
	}
}

// ---------------------------------------------------------------------------
// Test: Every published event type has a wire decoder
// ---------------------------------------------------------------------------

func TestWireEvent_DecoderTableCovers(t *testing.T) {
	who := Identity{ID: 1, Username: "dave"}
	events := []Event{
		NewChatMessageEvent(1, MessageTypeText, "x", who, time.Now()),
		NewTypingIndicatorEvent(who, true),
		NewMessageReadEvent(1, who),
		NewUserJoinedEvent(who),
		NewUserLeftEvent(who),
		NewUserOnlineEvent(who),
		NewUserOfflineEvent(who),
		NewNotificationEvent(1, "t", "m", "generic", time.Now()),
	}

	for _, ev := range events {
		data, err := EncodeWireEvent("chat-1", ev)
		if err != nil {
			t.Fatalf("%s: encode: %v", ev.EventType(), err)
		}
		decoded, _, err := DecodeWireEvent(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", ev.EventType(), err)
		}
		if decoded.EventType() != ev.EventType() {
			t.Errorf("%s: decoded as %s", ev.EventType(), decoded.EventType())
		}
		if decoded.Origin() != ev.Origin() {
			t.Errorf("%s: origin %d after round trip, want %d",
				ev.EventType(), decoded.Origin(), ev.Origin())
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown wire event types are rejected with the server tag intact
// ---------------------------------------------------------------------------

func TestWireEvent_UnknownType(t *testing.T) {
	data, err := json.Marshal(WireEvent{Type: "mystery", Server: "chat-9", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	_, server, err := DecodeWireEvent(data)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if server != "chat-9" {
		t.Errorf("expected server tag to survive, got %q", server)
	}
}

// ---------------------------------------------------------------------------
// Test: Typing indicator JSON shape
// ---------------------------------------------------------------------------

func TestTypingIndicatorEvent_JSON(t *testing.T) {
	ev := NewTypingIndicatorEvent(Identity{ID: 4, Username: "erin"}, true)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypeTypingIndicator {
		t.Errorf("expected type %q, got %v", TypeTypingIndicator, decoded["type"])
	}
	if decoded["is_typing"] != true {
		t.Errorf("expected is_typing=true, got %v", decoded["is_typing"])
	}
	identity, ok := decoded["identity"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected identity object, got %v", decoded["identity"])
	}
	if identity["username"] != "erin" {
		t.Errorf("expected username erin, got %v", identity["username"])
	}
	if _, present := identity["avatar"]; present {
		t.Errorf("empty avatar should be omitted, got %v", identity["avatar"])
	}
}

package hub

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chatbox/realtime/internal/delivery"
	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
	"github.com/chatbox/realtime/internal/store"
)

// ---------------------------------------------------------------------------
// Test: A chat message is persisted, broadcast to the room, and not echoed
// ---------------------------------------------------------------------------

func TestRoomSession_ChatMessage(t *testing.T) {
	env := newTestEnv()

	u1, u1Sock := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)
	u1SockBase := u1Sock.frameCount() // bob's join announcement

	u1.HandleFrame([]byte(`{"type":"chat_message","message":"hello bob","message_type":"text"}`))

	// Persisted once with the session's own identity and conversation.
	if len(env.convs.created) != 1 {
		t.Fatalf("expected 1 created message, got %d", len(env.convs.created))
	}
	created := env.convs.created[0]
	if created.senderID != alice.ID || created.conversationID != 10 {
		t.Errorf("message attributed to user=%d conversation=%d", created.senderID, created.conversationID)
	}
	if created.content != "hello bob" || created.messageType != "text" {
		t.Errorf("message content mangled: %+v", created)
	}

	// Bob receives the broadcast with the persisted id.
	types := u2Sock.sentTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeChatMessage {
		t.Fatalf("bob expected [chat_message], got %v", types)
	}
	var ev protocol.ChatMessageEvent
	if err := json.Unmarshal(u2Sock.lastFrame(t), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.MessageID != 1 {
		t.Errorf("expected message_id 1, got %d", ev.MessageID)
	}
	if ev.Identity.ID != alice.ID || ev.Identity.Username != "alice" {
		t.Errorf("wrong sender identity: %+v", ev.Identity)
	}

	// The sender gets no echo.
	if n := u1Sock.frameCount(); n != u1SockBase {
		t.Errorf("sender received %d extra frames", n-u1SockBase)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown message kinds are normalized to text before persisting
// ---------------------------------------------------------------------------

func TestRoomSession_ChatMessageNormalizesKind(t *testing.T) {
	env := newTestEnv()
	u1, _ := env.joinRoom(t, "alice-token", 10)

	u1.HandleFrame([]byte(`{"type":"chat_message","message":"clip","message_type":"video"}`))

	if len(env.convs.created) != 1 {
		t.Fatalf("expected 1 created message, got %d", len(env.convs.created))
	}
	if got := env.convs.created[0].messageType; got != protocol.MessageTypeText {
		t.Errorf("expected kind normalized to text, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Whitespace-only content is dropped without persistence or broadcast
// ---------------------------------------------------------------------------

func TestRoomSession_WhitespaceMessageDropped(t *testing.T) {
	env := newTestEnv()

	u1, u1Sock := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)
	u1Base, u2Base := u1Sock.frameCount(), u2Sock.frameCount()

	for _, content := range []string{"", "   ", " \n\t "} {
		frame, _ := json.Marshal(map[string]string{"type": "chat_message", "message": content})
		u1.HandleFrame(frame)
	}

	if len(env.convs.created) != 0 {
		t.Errorf("whitespace message was persisted: %+v", env.convs.created)
	}
	if u1Sock.frameCount() != u1Base || u2Sock.frameCount() != u2Base {
		t.Error("whitespace message reached a socket")
	}
}

// ---------------------------------------------------------------------------
// Test: A failed persist drops the broadcast
// ---------------------------------------------------------------------------

func TestRoomSession_PersistFailureDropsBroadcast(t *testing.T) {
	env := newTestEnv()

	u1, _ := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)
	u2Base := u2Sock.frameCount()

	env.convs.createErr = store.ErrConversationGone
	u1.HandleFrame([]byte(`{"type":"chat_message","message":"into the void"}`))

	if u2Sock.frameCount() != u2Base {
		t.Error("unpersisted message was broadcast")
	}
}

// ---------------------------------------------------------------------------
// Test: Malformed JSON gets an error frame on the offending socket only
// ---------------------------------------------------------------------------

func TestRoomSession_InvalidJSON(t *testing.T) {
	env := newTestEnv()

	u1, u1Sock := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)
	u2Base := u2Sock.frameCount()

	u1.HandleFrame([]byte(`{broken`))

	types := u1Sock.sentTypes(t)
	if len(types) == 0 || types[len(types)-1] != protocol.TypeError {
		t.Fatalf("expected error frame to sender, got %v", types)
	}
	var ef protocol.ErrorFrame
	if err := json.Unmarshal(u1Sock.lastFrame(t), &ef); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ef.Message != "Invalid Json" {
		t.Errorf("expected message %q, got %q", "Invalid Json", ef.Message)
	}
	if u2Sock.frameCount() != u2Base {
		t.Error("error frame leaked to another member")
	}
}

// ---------------------------------------------------------------------------
// Test: Well-formed frames of unknown type are silently ignored
// ---------------------------------------------------------------------------

func TestRoomSession_UnknownTypeIgnored(t *testing.T) {
	env := newTestEnv()

	u1, u1Sock := env.joinRoom(t, "alice-token", 10)
	base := u1Sock.frameCount()

	u1.HandleFrame([]byte(`{"type":"subscribe","channel":"everything"}`))

	if u1Sock.frameCount() != base {
		t.Error("unknown frame type produced a response")
	}
	if len(env.convs.created) != 0 {
		t.Error("unknown frame type had side effects")
	}
}

// ---------------------------------------------------------------------------
// Test: Typing start/stop round trips through the store and the room
// ---------------------------------------------------------------------------

func TestRoomSession_Typing(t *testing.T) {
	env := newTestEnv()

	u1, _ := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)

	u1.HandleFrame([]byte(`{"type":"start_typing"}`))
	if !env.typing.isTyping(alice.ID, 10) {
		t.Error("typing marker not recorded")
	}

	var ev protocol.TypingIndicatorEvent
	if err := json.Unmarshal(u2Sock.lastFrame(t), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.IsTyping || ev.Identity.ID != alice.ID {
		t.Errorf("expected is_typing=true from alice, got %+v", ev)
	}

	u1.HandleFrame([]byte(`{"type":"stop_typing"}`))
	if env.typing.isTyping(alice.ID, 10) {
		t.Error("typing marker not removed")
	}
	if err := json.Unmarshal(u2Sock.lastFrame(t), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.IsTyping {
		t.Errorf("expected is_typing=false, got %+v", ev)
	}
}

// ---------------------------------------------------------------------------
// Test: A failed typing write suppresses the indicator broadcast
// ---------------------------------------------------------------------------

func TestRoomSession_TypingStoreFailure(t *testing.T) {
	env := newTestEnv()

	u1, _ := env.joinRoom(t, "alice-token", 10)
	_, u2Sock := env.joinRoom(t, "bob-token", 10)
	u2Base := u2Sock.frameCount()

	env.typing.startErr = errors.New("redis down")
	u1.HandleFrame([]byte(`{"type":"start_typing"}`))

	if u2Sock.frameCount() != u2Base {
		t.Error("indicator broadcast despite store failure")
	}
}

// ---------------------------------------------------------------------------
// Test: Read receipts persist the status and broadcast to everyone else
// ---------------------------------------------------------------------------

func TestRoomSession_MessageRead(t *testing.T) {
	env := newTestEnv()

	_, u1Sock := env.joinRoom(t, "alice-token", 10)
	u2, u2Sock := env.joinRoom(t, "bob-token", 10)
	u1Base, u2Base := u1Sock.frameCount(), u2Sock.frameCount()

	u2.HandleFrame([]byte(`{"type":"message_read","message_id":42}`))

	if len(env.delivery.marks) != 1 {
		t.Fatalf("expected 1 delivery mark, got %d", len(env.delivery.marks))
	}
	mark := env.delivery.marks[0]
	if mark.messageID != 42 || mark.userID != bob.ID || mark.status != delivery.StatusRead {
		t.Errorf("wrong mark: %+v", mark)
	}

	// Alice sees the receipt; the reader does not get it back.
	var ev protocol.MessageReadEvent
	if err := json.Unmarshal(u1Sock.lastFrame(t), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.MessageID != 42 || ev.ReadBy.ID != bob.ID {
		t.Errorf("wrong receipt: %+v", ev)
	}
	if u1Sock.frameCount() != u1Base+1 {
		t.Errorf("alice expected exactly 1 new frame")
	}
	if u2Sock.frameCount() != u2Base {
		t.Error("reader received its own receipt")
	}
}

// ---------------------------------------------------------------------------
// Test: A receipt without a message_id skips persistence but still broadcasts
// ---------------------------------------------------------------------------

func TestRoomSession_MessageReadWithoutID(t *testing.T) {
	env := newTestEnv()

	_, u1Sock := env.joinRoom(t, "alice-token", 10)
	u2, _ := env.joinRoom(t, "bob-token", 10)
	u1Base := u1Sock.frameCount()

	u2.HandleFrame([]byte(`{"type":"message_read"}`))

	if len(env.delivery.marks) != 0 {
		t.Errorf("id-less receipt was persisted: %+v", env.delivery.marks)
	}
	if u1Sock.frameCount() != u1Base+1 {
		t.Fatal("id-less receipt was not broadcast")
	}
	var ev protocol.MessageReadEvent
	if err := json.Unmarshal(u1Sock.lastFrame(t), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.MessageID != 0 {
		t.Errorf("expected message_id 0 on the wire, got %d", ev.MessageID)
	}
}

// ---------------------------------------------------------------------------
// Test: A failed delivery mark suppresses the receipt broadcast
// ---------------------------------------------------------------------------

func TestRoomSession_MessageReadMarkFailure(t *testing.T) {
	env := newTestEnv()

	_, u1Sock := env.joinRoom(t, "alice-token", 10)
	u2, _ := env.joinRoom(t, "bob-token", 10)
	u1Base := u1Sock.frameCount()

	env.delivery.markErr = errors.New("postgres down")
	u2.HandleFrame([]byte(`{"type":"message_read","message_id":42}`))

	if u1Sock.frameCount() != u1Base {
		t.Error("receipt broadcast despite failed mark")
	}
}

// ---------------------------------------------------------------------------
// Test: Disconnect cleanup is total and runs exactly once
// ---------------------------------------------------------------------------

func TestRoomSession_ClosedCleansUp(t *testing.T) {
	env := newTestEnv()

	_, u1Sock := env.joinRoom(t, "alice-token", 10)
	u2, _ := env.joinRoom(t, "bob-token", 10)
	u1Base := u1Sock.frameCount()

	// Bob was mid-composition when the socket dropped.
	u2.HandleFrame([]byte(`{"type":"start_typing"}`))
	u1Base++ // typing indicator

	u2.Closed()

	if _, ok := env.presence.entries[bob.ID]; ok {
		t.Error("presence entry survived the disconnect")
	}
	if env.typing.isTyping(bob.ID, 10) {
		t.Error("typing marker survived the disconnect")
	}
	if n := env.router.MemberCount(router.RoomGroup(10)); n != 1 {
		t.Errorf("expected 1 remaining member, got %d", n)
	}

	types := u1Sock.sentTypes(t)
	if len(types) != u1Base+1 || types[len(types)-1] != protocol.TypeUserLeft {
		t.Fatalf("alice expected user_left last, got %v", types)
	}

	// Heartbeat eviction racing a read error must not replay the cleanup.
	u2.Closed()
	if n := u1Sock.frameCount(); n != u1Base+1 {
		t.Errorf("duplicate close produced %d extra frames", n-u1Base-1)
	}
}

// ---------------------------------------------------------------------------
// Test: Remote events injected by the bridge reach local members
// ---------------------------------------------------------------------------

func TestRoomSession_RemoteEventDelivery(t *testing.T) {
	env := newTestEnv()

	_, u1Sock := env.joinRoom(t, "alice-token", 10)
	base := u1Sock.frameCount()

	// A user connected to another server instance sent a message; the
	// bridge decodes it and publishes into the local router.
	remote := protocol.Identity{ID: 77, Username: "carol"}
	data, err := protocol.EncodeWireEvent("chat-2", protocol.NewChatMessageEvent(9, "text", "hi from afar", remote, time.Now()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, server, err := protocol.DecodeWireEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if server == "chat-1" {
		t.Fatal("test event must look remote")
	}
	env.router.Publish(router.RoomGroup(10), ev)

	if u1Sock.frameCount() != base+1 {
		t.Fatal("remote event did not reach the local member")
	}
	var got protocol.ChatMessageEvent
	if err := json.Unmarshal(u1Sock.lastFrame(t), &got); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if got.Identity.ID != remote.ID || got.Message != "hi from afar" {
		t.Errorf("remote event mangled: %+v", got)
	}
}

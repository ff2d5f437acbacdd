package hub

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chatbox/realtime/internal/delivery"
	"github.com/chatbox/realtime/internal/metrics"
	"github.com/chatbox/realtime/internal/presence"
	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
	"github.com/chatbox/realtime/internal/store"
	"github.com/chatbox/realtime/internal/ws"
)

// RoomSession is the per-socket state machine for a conversation room. Once
// accepted it is Active: inbound frames are dispatched through a closed
// handler table and group events are written back out with the originator's
// own events suppressed. Closed (any cause) runs the cleanup exactly once.
type RoomSession struct {
	hub            *Hub
	socketID       string
	sender         Sender
	identity       protocol.Identity
	conversationID int64
	group          string

	dispatch map[string]func(frame interface{})
	cleanup  sync.Once
}

// AcceptRoom is the connect gate for /ws/chat/{conversation_id}. It rejects
// unauthenticated identities and non-participants before any group or
// presence side effect, then joins the room group, upserts presence, and
// announces the join to the rest of the room.
func (h *Hub) AcceptRoom(conn *ws.Connection, r *http.Request) (ws.SessionHandler, error) {
	conversationID, err := pathID(r, "conversation_id")
	if err != nil {
		return nil, err
	}

	identity, err := h.identityFromRequest(r)
	if err != nil {
		return nil, err
	}

	ctx, cancel := storeContext()
	defer cancel()

	ok, err := h.convs.IsParticipant(ctx, identity.ID, conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	s := &RoomSession{
		hub:            h,
		socketID:       conn.ID,
		sender:         conn,
		identity:       identity,
		conversationID: conversationID,
		group:          router.RoomGroup(conversationID),
	}
	s.dispatch = map[string]func(interface{}){
		protocol.TypeChatMessage: s.handleChatMessage,
		protocol.TypeStartTyping: s.handleStartTyping,
		protocol.TypeStopTyping:  s.handleStopTyping,
		protocol.TypeMessageRead: s.handleMessageRead,
	}

	h.router.Join(s.group, s)

	if err := h.presence.Upsert(ctx, presence.Entry{
		UserID:   identity.ID,
		Username: identity.Username,
		Room:     s.group,
		SocketID: conn.ID,
	}); err != nil {
		log.Printf("hub: presence upsert user=%d: %v", identity.ID, err)
	}

	h.publish(s.group, protocol.NewUserJoinedEvent(identity))

	log.Printf("hub: room join user=%d conversation=%d socket=%s", identity.ID, conversationID, conn.ID)
	return s, nil
}

// ID implements router.Member.
func (s *RoomSession) ID() string { return s.socketID }

// HandleFrame parses one inbound frame and routes it through the dispatch
// table. Malformed JSON is answered with an error frame to this socket
// only; a well-formed frame of unknown type is silently ignored.
func (s *RoomSession) HandleFrame(data []byte) {
	frameType, frame, err := protocol.ParseClientFrame(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			metrics.FramesHandled.WithLabelValues("unknown").Inc()
			return
		}
		metrics.FramesHandled.WithLabelValues("invalid").Inc()
		s.sendError("Invalid Json")
		return
	}

	handler, ok := s.dispatch[frameType]
	if !ok {
		// Recognized by the parser but not dispatchable on room sockets.
		metrics.FramesHandled.WithLabelValues("unknown").Inc()
		return
	}

	metrics.FramesHandled.WithLabelValues(frameType).Inc()
	handler(frame)
}

// handleChatMessage persists a message and broadcasts it to the room.
// Whitespace-only content is a deliberate no-op, and a persistence failure
// (conversation deleted mid-flight, store down) drops the message without a
// broadcast; both are normal UI races, not errors worth surfacing.
func (s *RoomSession) handleChatMessage(frame interface{}) {
	f, ok := frame.(protocol.ChatMessageFrame)
	if !ok {
		return
	}
	start := time.Now()

	if strings.TrimSpace(f.Message) == "" {
		return
	}
	messageType := protocol.NormalizeMessageType(f.MessageType)

	ctx, cancel := storeContext()
	defer cancel()

	msg, err := s.hub.convs.CreateMessage(ctx, s.identity.ID, s.conversationID, f.Message, messageType)
	if err != nil {
		if !errors.Is(err, store.ErrConversationGone) {
			log.Printf("hub: create message user=%d conversation=%d: %v", s.identity.ID, s.conversationID, err)
		}
		return
	}

	s.hub.publish(s.group, protocol.NewChatMessageEvent(msg.ID, messageType, f.Message, s.identity, msg.Timestamp))
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
}

// handleStartTyping upserts the typing marker and announces it.
func (s *RoomSession) handleStartTyping(interface{}) {
	ctx, cancel := storeContext()
	defer cancel()

	if err := s.hub.typing.Start(ctx, s.identity.ID, s.conversationID); err != nil {
		log.Printf("hub: typing start user=%d conversation=%d: %v", s.identity.ID, s.conversationID, err)
		return
	}
	s.hub.publish(s.group, protocol.NewTypingIndicatorEvent(s.identity, true))
}

// handleStopTyping deletes the typing marker and announces the stop.
func (s *RoomSession) handleStopTyping(interface{}) {
	ctx, cancel := storeContext()
	defer cancel()

	if err := s.hub.typing.Stop(ctx, s.identity.ID, s.conversationID); err != nil {
		log.Printf("hub: typing stop user=%d conversation=%d: %v", s.identity.ID, s.conversationID, err)
		return
	}
	s.hub.publish(s.group, protocol.NewTypingIndicatorEvent(s.identity, false))
}

// handleMessageRead records the read receipt and broadcasts it. A frame
// without a message_id skips the persistence write but the receipt is still
// broadcast; clients have depended on that since the first release.
func (s *RoomSession) handleMessageRead(frame interface{}) {
	f, ok := frame.(protocol.MessageReadFrame)
	if !ok {
		return
	}

	if f.MessageID != 0 {
		ctx, cancel := storeContext()
		defer cancel()

		if _, err := s.hub.delivery.Mark(ctx, f.MessageID, s.identity.ID, delivery.StatusRead); err != nil {
			log.Printf("hub: mark read message=%d user=%d: %v", f.MessageID, s.identity.ID, err)
			return
		}
		metrics.DeliveryMarks.WithLabelValues(string(delivery.StatusRead)).Inc()
	}

	s.hub.publish(s.group, protocol.NewMessageReadEvent(f.MessageID, s.identity))
}

// Deliver implements router.Member. Events originated by this session's own
// identity are not echoed back to it; every other room event is serialized
// and written to the socket.
func (s *RoomSession) Deliver(ev protocol.Event) {
	if ev.Origin() == s.identity.ID {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("hub: marshal %s event for socket=%s: %v", ev.EventType(), s.socketID, err)
		return
	}
	if err := s.sender.WriteMessage(data); err != nil {
		log.Printf("hub: deliver %s to socket=%s: %v", ev.EventType(), s.socketID, err)
		return
	}
	metrics.EventsDelivered.Inc()
}

// Closed implements ws.SessionHandler. Cleanup is idempotent and
// best-effort: presence delete, typing delete, group leave, and the
// user_left announcement all run even when an earlier step fails.
func (s *RoomSession) Closed() {
	s.cleanup.Do(func() {
		ctx, cancel := storeContext()
		defer cancel()

		if err := s.hub.presence.Remove(ctx, s.identity.ID); err != nil {
			log.Printf("hub: presence remove user=%d: %v", s.identity.ID, err)
		}
		if err := s.hub.typing.Stop(ctx, s.identity.ID, s.conversationID); err != nil {
			log.Printf("hub: typing cleanup user=%d conversation=%d: %v", s.identity.ID, s.conversationID, err)
		}

		s.hub.router.Leave(s.group, s)
		s.hub.publish(s.group, protocol.NewUserLeftEvent(s.identity))

		log.Printf("hub: room leave user=%d conversation=%d socket=%s", s.identity.ID, s.conversationID, s.socketID)
	})
}

// sendError writes an error frame to this socket only.
func (s *RoomSession) sendError(message string) {
	data, err := json.Marshal(protocol.NewErrorFrame(message))
	if err != nil {
		return
	}
	if err := s.sender.WriteMessage(data); err != nil {
		log.Printf("hub: send error frame socket=%s: %v", s.socketID, err)
	}
}

package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/chatbox/realtime/internal/metrics"
	"github.com/chatbox/realtime/internal/presence"
	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
	"github.com/chatbox/realtime/internal/ws"
)

// OnlineSession is the per-socket handler for the global online-status
// channel. Every connected client sees user_online and user_offline
// transitions for everyone but itself.
type OnlineSession struct {
	hub      *Hub
	socketID string
	sender   Sender
	identity protocol.Identity

	cleanup sync.Once
}

// AcceptOnline is the connect gate for /ws/online. Any authenticated
// identity may join; connecting marks the identity online both in the live
// presence store and on its persisted user row.
func (h *Hub) AcceptOnline(conn *ws.Connection, r *http.Request) (ws.SessionHandler, error) {
	identity, err := h.identityFromRequest(r)
	if err != nil {
		return nil, err
	}

	s := &OnlineSession{
		hub:      h,
		socketID: conn.ID,
		sender:   conn,
		identity: identity,
	}
	h.router.Join(router.OnlineGroup, s)

	ctx, cancel := storeContext()
	defer cancel()

	if err := h.presence.Upsert(ctx, presence.Entry{
		UserID:   identity.ID,
		Username: identity.Username,
		SocketID: conn.ID,
	}); err != nil {
		log.Printf("hub: presence upsert user=%d: %v", identity.ID, err)
	}
	if err := h.users.SetOnline(ctx, identity.ID, true); err != nil {
		log.Printf("hub: set online user=%d: %v", identity.ID, err)
	}

	h.publish(router.OnlineGroup, protocol.NewUserOnlineEvent(identity))

	log.Printf("hub: online join user=%d socket=%s", identity.ID, conn.ID)
	return s, nil
}

// ID implements router.Member.
func (s *OnlineSession) ID() string { return s.socketID }

// HandleFrame implements ws.SessionHandler. The online socket carries no
// inbound protocol; client frames are dropped.
func (s *OnlineSession) HandleFrame(data []byte) {
	metrics.FramesHandled.WithLabelValues("unknown").Inc()
}

// Deliver implements router.Member with echo suppression on the
// user_online/user_offline events.
func (s *OnlineSession) Deliver(ev protocol.Event) {
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

// Closed implements ws.SessionHandler. Best-effort, idempotent: the offline
// flag, presence delete, offline announcement, and group leave all run even
// when an earlier step fails.
func (s *OnlineSession) Closed() {
	s.cleanup.Do(func() {
		ctx, cancel := storeContext()
		defer cancel()

		if err := s.hub.users.SetOnline(ctx, s.identity.ID, false); err != nil {
			log.Printf("hub: set offline user=%d: %v", s.identity.ID, err)
		}
		if err := s.hub.presence.Remove(ctx, s.identity.ID); err != nil {
			log.Printf("hub: presence remove user=%d: %v", s.identity.ID, err)
		}

		s.hub.publish(router.OnlineGroup, protocol.NewUserOfflineEvent(s.identity))
		s.hub.router.Leave(router.OnlineGroup, s)

		log.Printf("hub: online leave user=%d socket=%s", s.identity.ID, s.socketID)
	})
}

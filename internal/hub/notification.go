package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/chatbox/realtime/internal/metrics"
	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
	"github.com/chatbox/realtime/internal/ws"
)

// NotificationSession is the per-socket handler for a user's notification
// feed. It is a pure fan-out target: notification events published to the
// user's group (by the notification-authoring service, through the bridge)
// are forwarded verbatim. Notifications are never self-authored by the
// receiving connection, so there is no echo suppression here.
type NotificationSession struct {
	hub      *Hub
	socketID string
	sender   Sender
	identity protocol.Identity
	group    string

	cleanup sync.Once
}

// AcceptNotifications is the connect gate for /ws/notifications/{user_id}.
// The authenticated identity must match the requested feed; nobody
// subscribes to someone else's notifications.
func (h *Hub) AcceptNotifications(conn *ws.Connection, r *http.Request) (ws.SessionHandler, error) {
	userID, err := pathID(r, "user_id")
	if err != nil {
		return nil, err
	}

	identity, err := h.identityFromRequest(r)
	if err != nil {
		return nil, err
	}
	if identity.ID != userID {
		return nil, ErrWrongRecipient
	}

	s := &NotificationSession{
		hub:      h,
		socketID: conn.ID,
		sender:   conn,
		identity: identity,
		group:    router.NotificationGroup(userID),
	}
	h.router.Join(s.group, s)

	log.Printf("hub: notification feed join user=%d socket=%s", userID, conn.ID)
	return s, nil
}

// ID implements router.Member.
func (s *NotificationSession) ID() string { return s.socketID }

// HandleFrame implements ws.SessionHandler. The notification socket carries
// no inbound protocol; client frames are dropped.
func (s *NotificationSession) HandleFrame(data []byte) {
	metrics.FramesHandled.WithLabelValues("unknown").Inc()
}

// Deliver implements router.Member, forwarding events verbatim.
func (s *NotificationSession) Deliver(ev protocol.Event) {
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

// Closed implements ws.SessionHandler.
func (s *NotificationSession) Closed() {
	s.cleanup.Do(func() {
		s.hub.router.Leave(s.group, s)
		log.Printf("hub: notification feed leave user=%d socket=%s", s.identity.ID, s.socketID)
	})
}

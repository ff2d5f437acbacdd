// Package hub implements the per-socket session state machines behind the
// three websocket endpoints: conversation rooms, per-user notification
// feeds, and the global online-status channel. Sessions authenticate and
// authorize at connect, dispatch inbound frames to the shared stores,
// publish events to their broadcast group, and filter the events fanned
// back out to their own socket.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chatbox/realtime/internal/delivery"
	"github.com/chatbox/realtime/internal/metrics"
	"github.com/chatbox/realtime/internal/presence"
	"github.com/chatbox/realtime/internal/protocol"
	"github.com/chatbox/realtime/internal/router"
	"github.com/chatbox/realtime/internal/store"
	"github.com/chatbox/realtime/internal/ws"
)

// storeTimeout bounds every call a session makes into Redis or Postgres.
const storeTimeout = 3 * time.Second

// Connect gate errors.
var (
	ErrUnauthenticated = errors.New("hub: unauthenticated")
	ErrNotParticipant  = errors.New("hub: not a conversation participant")
	ErrWrongRecipient  = errors.New("hub: token identity does not match requested feed")
)

// Sender is the outbound half of a socket as sessions see it.
// *ws.Connection satisfies it.
type Sender interface {
	WriteMessage(data []byte) error
}

// TokenVerifier resolves a bearer token to an authenticated identity.
type TokenVerifier interface {
	Verify(token string) (protocol.Identity, error)
}

// ConversationStore is the slice of the persistence backend the room
// sessions consume.
type ConversationStore interface {
	IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error)
	CreateMessage(ctx context.Context, senderID, conversationID int64, content, messageType string) (*store.Message, error)
}

// UserDirectory flips the persisted online flag on user rows.
type UserDirectory interface {
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// PresenceStore tracks live presence entries.
type PresenceStore interface {
	Upsert(ctx context.Context, e presence.Entry) error
	Remove(ctx context.Context, userID int64) error
}

// TypingStore tracks per-(identity, conversation) typing markers.
type TypingStore interface {
	Start(ctx context.Context, userID, conversationID int64) error
	Stop(ctx context.Context, userID, conversationID int64) error
}

// DeliveryMarker records per-recipient delivery progression.
type DeliveryMarker interface {
	Mark(ctx context.Context, messageID, userID int64, status delivery.Status) (bool, error)
}

// Hub owns the shared collaborators and builds a session per accepted
// socket. It is safe for concurrent use by all connections.
type Hub struct {
	router   *router.Router
	verifier TokenVerifier
	convs    ConversationStore
	users    UserDirectory
	presence PresenceStore
	typing   TypingStore
	delivery DeliveryMarker
}

// New creates a Hub over the given collaborators.
func New(r *router.Router, verifier TokenVerifier, convs ConversationStore, users UserDirectory,
	pres PresenceStore, typ TypingStore, del DeliveryMarker) *Hub {
	return &Hub{
		router:   r,
		verifier: verifier,
		convs:    convs,
		users:    users,
		presence: pres,
		typing:   typ,
		delivery: del,
	}
}

// Register binds the three websocket endpoints on the server.
func (h *Hub) Register(server *ws.Server) {
	server.Accept("/ws/chat/{conversation_id}", h.AcceptRoom)
	server.Accept("/ws/notifications/{user_id}", h.AcceptNotifications)
	server.Accept("/ws/online", h.AcceptOnline)
}

// identityFromRequest authenticates the request. The token comes from the
// "token" query parameter (browsers cannot set headers on websocket
// upgrades) with an Authorization bearer fallback for non-browser clients.
func (h *Hub) identityFromRequest(r *http.Request) (protocol.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		const prefix = "Bearer "
		if auth := r.Header.Get("Authorization"); len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			token = auth[len(prefix):]
		}
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		return protocol.Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return identity, nil
}

// publish fans an event out to a group and counts it.
func (h *Hub) publish(group string, ev protocol.Event) {
	metrics.EventsPublished.WithLabelValues(ev.EventType()).Inc()
	h.router.Publish(group, ev)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("hub: invalid %s in path", name)
	}
	return id, nil
}

func storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

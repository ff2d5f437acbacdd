// Package store is the realtime layer's view of the persistence owned by
// the CRUD backend: conversation membership checks, message creation, and
// the handful of user fields the sockets read or flip. Everything else about
// those tables (schema, CRUD endpoints, pagination) lives outside this
// repository.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConversationGone is returned by CreateMessage when the referenced
// conversation no longer exists. Callers drop the message silently.
var ErrConversationGone = errors.New("store: conversation no longer exists")

// ErrUserNotFound is returned by GetIdentity for an unknown user id.
var ErrUserNotFound = errors.New("store: user not found")

// Message is a persisted chat message row.
type Message struct {
	ID             int64
	SenderID       int64
	ConversationID int64
	Content        string
	MessageType    string
	Timestamp      time.Time
}

// Identity is the slice of a user row the realtime layer reads.
type Identity struct {
	ID       int64
	Username string
	Avatar   string
}

// Store wraps the shared PostgreSQL handle.
type Store struct {
	db *sql.DB
}

// New creates a store on the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// IsParticipant reports whether the user belongs to the conversation.
// Unknown conversations simply report false.
func (s *Store) IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2
		)`

	var ok bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("store: is participant user=%d conversation=%d: %w", userID, conversationID, err)
	}
	return ok, nil
}

// CreateMessage persists a chat message and returns the stored row. The
// insert is guarded on the conversation still existing so a race with
// conversation deletion surfaces as ErrConversationGone instead of an
// orphaned row.
func (s *Store) CreateMessage(ctx context.Context, senderID, conversationID int64, content, messageType string) (*Message, error) {
	const query = `
		INSERT INTO messages (sender_id, conversation_id, content, message_type, created_at)
		SELECT $1, $2, $3, $4, NOW()
		WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $2)
		RETURNING id, created_at`

	m := &Message{
		SenderID:       senderID,
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
	}
	err := s.db.QueryRowContext(ctx, query, senderID, conversationID, content, messageType).
		Scan(&m.ID, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationGone
	}
	if err != nil {
		return nil, fmt.Errorf("store: create message conversation=%d: %w", conversationID, err)
	}
	return m, nil
}

// GetIdentity loads the display fields for a user.
func (s *Store) GetIdentity(ctx context.Context, userID int64) (*Identity, error) {
	const query = `
		SELECT id, username, COALESCE(avatar, '') FROM users WHERE id = $1`

	var id Identity
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&id.ID, &id.Username, &id.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get identity user=%d: %w", userID, err)
	}
	return &id, nil
}

// SetOnline flips the persisted is_online flag on the user row. The flag is
// advisory for the CRUD surfaces; the presence store is the live source.
func (s *Store) SetOnline(ctx context.Context, userID int64, online bool) error {
	const query = `UPDATE users SET is_online = $2, last_seen = NOW() WHERE id = $1`

	if _, err := s.db.ExecContext(ctx, query, userID, online); err != nil {
		return fmt.Errorf("store: set online user=%d: %w", userID, err)
	}
	return nil
}

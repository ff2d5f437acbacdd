// Package typing tracks per-(identity, conversation) composing state in
// Redis. The representation is deliberate: a key existing IS the typing
// signal. Stopping deletes the key rather than flipping a flag, so the
// boolean can never drift from the row. Keys carry a TTL as a backstop for
// clients that vanish without stop_typing or a clean disconnect.
package typing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for typing markers.
	KeyPrefix = "typing:"

	// MarkerTTL expires an abandoned typing marker.
	MarkerTTL = 90 * time.Second
)

// Store manages typing markers in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a typing store on the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Start marks the identity as typing in the conversation. The value is the
// start time; repeated starts refresh it and the TTL.
func (s *Store) Start(ctx context.Context, userID, conversationID int64) error {
	key := keyFor(userID, conversationID)
	if err := s.client.Set(ctx, key, time.Now().Unix(), MarkerTTL).Err(); err != nil {
		return fmt.Errorf("typing: start user=%d conversation=%d: %w", userID, conversationID, err)
	}
	return nil
}

// Stop clears the typing marker. Stopping when no marker exists is not an
// error.
func (s *Store) Stop(ctx context.Context, userID, conversationID int64) error {
	key := keyFor(userID, conversationID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("typing: stop user=%d conversation=%d: %w", userID, conversationID, err)
	}
	return nil
}

// IsTyping reports whether a marker currently exists for the pair.
func (s *Store) IsTyping(ctx context.Context, userID, conversationID int64) (bool, error) {
	n, err := s.client.Exists(ctx, keyFor(userID, conversationID)).Result()
	if err != nil {
		return false, fmt.Errorf("typing: exists user=%d conversation=%d: %w", userID, conversationID, err)
	}
	return n > 0, nil
}

func keyFor(userID, conversationID int64) string {
	return fmt.Sprintf("%s%d:%d", KeyPrefix, conversationID, userID)
}

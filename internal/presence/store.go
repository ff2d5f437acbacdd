// Package presence tracks which identities are currently online, the room
// they are in, and their last activity. Entries live in Redis as one hash
// per identity, so upserts are last-writer-wins per key and at most one
// entry can exist per identity.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for presence hashes.
	KeyPrefix = "presence:"

	// EntryTTL bounds how long a presence row can outlive its connection if
	// the disconnect cleanup never ran (server crash). Every upsert
	// refreshes it.
	EntryTTL = 1 * time.Hour
)

// Entry is an identity's presence record.
type Entry struct {
	UserID       int64  `redis:"user_id"`
	Username     string `redis:"username"`
	Room         string `redis:"room"`      // empty for the global online socket
	SocketID     string `redis:"socket_id"` // connection UUID
	LastActivity int64  `redis:"last_activity"`
}

// Store manages presence entries in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store on the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Upsert creates or refreshes the presence entry for an identity. The write
// is a single pipelined HSet+Expire against the identity's key, so
// concurrent upserts for the same identity settle last-writer-wins without a
// read-modify-write race.
func (s *Store) Upsert(ctx context.Context, e Entry) error {
	key := keyFor(e.UserID)
	if e.LastActivity == 0 {
		e.LastActivity = time.Now().Unix()
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":       e.UserID,
		"username":      e.Username,
		"room":          e.Room,
		"socket_id":     e.SocketID,
		"last_activity": e.LastActivity,
	})
	pipe.Expire(ctx, key, EntryTTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: upsert user=%d: %w", e.UserID, err)
	}
	return nil
}

// Touch refreshes the last-activity timestamp and TTL without changing the
// rest of the entry.
func (s *Store) Touch(ctx context.Context, userID int64) error {
	key := keyFor(userID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_activity", time.Now().Unix())
	pipe.Expire(ctx, key, EntryTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the presence entry for an identity, or nil if absent.
func (s *Store) Get(ctx context.Context, userID int64) (*Entry, error) {
	var e Entry
	if err := s.client.HGetAll(ctx, keyFor(userID)).Scan(&e); err != nil {
		return nil, fmt.Errorf("presence: get user=%d: %w", userID, err)
	}
	if e.UserID == 0 {
		return nil, nil // not found
	}
	return &e, nil
}

// Remove deletes the presence entry for an identity. Removing an absent
// entry is not an error; disconnect cleanup relies on that.
func (s *Store) Remove(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, keyFor(userID)).Err(); err != nil {
		return fmt.Errorf("presence: remove user=%d: %w", userID, err)
	}
	return nil
}

func keyFor(userID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefix, userID)
}

// Package delivery provides PostgreSQL-backed per-recipient message delivery
// state: one row per (message, identity) progressing through sent ->
// delivered -> read. Writes are single upsert statements against the unique
// key, so concurrent markers for the same pair cannot lose updates.
package delivery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Status is a delivery state for a (message, identity) pair.
type Status string

// Delivery states in intended order of progression.
const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Valid reports whether s is one of the known delivery states.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// Rank orders statuses along the intended progression. Unknown statuses
// rank below all valid ones.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Policy controls whether a later mark may move a row backwards along the
// progression (e.g. read -> delivered on a resend).
type Policy int

const (
	// PolicyOverwrite applies every mark unconditionally. A read row marked
	// delivered regresses to delivered. This matches the historical
	// behavior the clients were built against.
	PolicyOverwrite Policy = iota

	// PolicyMonotonic refuses marks that would lower the status rank; the
	// row only ever moves forward.
	PolicyMonotonic
)

// ErrNotFound is returned by StatusFor when no row exists for the pair.
var ErrNotFound = errors.New("delivery: no status recorded")

// Store manages delivery status rows in PostgreSQL.
type Store struct {
	db     *sql.DB
	policy Policy
}

// NewStore creates a delivery store with the given regression policy.
func NewStore(db *sql.DB, policy Policy) *Store {
	return &Store{db: db, policy: policy}
}

// Upsert statements. Both skip the update when the status would not change,
// so RowsAffected distinguishes "created or changed" from "already there".
// The monotonic variant additionally guards against lowering the rank.
const (
	markOverwriteQuery = `
		INSERT INTO message_delivery_status (message_id, user_id, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()
		WHERE message_delivery_status.status IS DISTINCT FROM EXCLUDED.status`

	markMonotonicQuery = `
		INSERT INTO message_delivery_status (message_id, user_id, status, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (message_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()
		WHERE CASE message_delivery_status.status
		        WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END
		    < CASE EXCLUDED.status
		        WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`
)

// Mark upserts the status for a (message, identity) pair. It returns true
// when a row was created or its status actually changed, false when the
// write was a no-op (same status already recorded, or a regression refused
// under PolicyMonotonic). Repeated identical marks are idempotent.
func (s *Store) Mark(ctx context.Context, messageID, userID int64, status Status) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("delivery: invalid status %q", status)
	}

	query := markOverwriteQuery
	if s.policy == PolicyMonotonic {
		query = markMonotonicQuery
	}

	res, err := s.db.ExecContext(ctx, query, messageID, userID, string(status))
	if err != nil {
		return false, fmt.Errorf("delivery: mark message=%d user=%d: %w", messageID, userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delivery: mark rows affected: %w", err)
	}
	return n > 0, nil
}

// BulkMark applies Mark to each message id and returns how many rows were
// newly created or actually changed, not how many ids were touched.
func (s *Store) BulkMark(ctx context.Context, messageIDs []int64, userID int64, status Status) (int, error) {
	changed := 0
	for _, id := range messageIDs {
		ok, err := s.Mark(ctx, id, userID, status)
		if err != nil {
			return changed, err
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}

// StatusFor returns the recorded status for a (message, identity) pair, or
// ErrNotFound when no row exists.
func (s *Store) StatusFor(ctx context.Context, messageID, userID int64) (Status, error) {
	const query = `
		SELECT status FROM message_delivery_status
		WHERE message_id = $1 AND user_id = $2`

	var status string
	err := s.db.QueryRowContext(ctx, query, messageID, userID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delivery: status for message=%d user=%d: %w", messageID, userID, err)
	}
	return Status(status), nil
}

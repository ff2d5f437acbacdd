package delivery

import (
	"context"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Status validity
// ---------------------------------------------------------------------------

func TestStatus_Valid(t *testing.T) {
	for _, s := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	for _, s := range []Status{"", "seen", "SENT", "deleted"} {
		if s.Valid() {
			t.Errorf("%q should not be valid", s)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Rank orders the progression sent < delivered < read
// ---------------------------------------------------------------------------

func TestStatus_Rank(t *testing.T) {
	if !(StatusSent.Rank() < StatusDelivered.Rank() && StatusDelivered.Rank() < StatusRead.Rank()) {
		t.Errorf("rank order broken: sent=%d delivered=%d read=%d",
			StatusSent.Rank(), StatusDelivered.Rank(), StatusRead.Rank())
	}
	if Status("bogus").Rank() != 0 {
		t.Errorf("unknown status should rank 0, got %d", Status("bogus").Rank())
	}
	if Status("bogus").Rank() >= StatusSent.Rank() {
		t.Error("unknown status must rank below all valid statuses")
	}
}

// ---------------------------------------------------------------------------
// Test: Mark rejects invalid statuses before touching the database
// ---------------------------------------------------------------------------

func TestStore_MarkInvalidStatus(t *testing.T) {
	s := NewStore(nil, PolicyOverwrite)

	ok, err := s.Mark(context.Background(), 1, 1, Status("seen"))
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	if ok {
		t.Error("invalid mark must not report a change")
	}
}

// ---------------------------------------------------------------------------
// Test: BulkMark surfaces the first invalid status
// ---------------------------------------------------------------------------

func TestStore_BulkMarkInvalidStatus(t *testing.T) {
	s := NewStore(nil, PolicyMonotonic)

	changed, err := s.BulkMark(context.Background(), []int64{1, 2, 3}, 1, Status(""))
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
	if changed != 0 {
		t.Errorf("expected 0 changed rows, got %d", changed)
	}
}

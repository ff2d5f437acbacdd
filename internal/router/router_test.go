package router

import (
	"fmt"
	"sync"
	"testing"

	"github.com/chatbox/realtime/internal/protocol"
)

// fakeMember records delivered events for assertions.
type fakeMember struct {
	id string

	mu     sync.Mutex
	events []protocol.Event
}

func (m *fakeMember) ID() string { return m.id }

func (m *fakeMember) Deliver(ev protocol.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
}

func (m *fakeMember) delivered() []protocol.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Event, len(m.events))
	copy(out, m.events)
	return out
}

// ---------------------------------------------------------------------------
// Test: Group name builders
// ---------------------------------------------------------------------------

func TestGroupNames(t *testing.T) {
	if got := RoomGroup(42); got != "chat_42" {
		t.Errorf("RoomGroup(42) = %q, want %q", got, "chat_42")
	}
	if got := NotificationGroup(7); got != "notifications_7" {
		t.Errorf("NotificationGroup(7) = %q, want %q", got, "notifications_7")
	}
	if OnlineGroup != "online_users" {
		t.Errorf("OnlineGroup = %q, want %q", OnlineGroup, "online_users")
	}
}

// ---------------------------------------------------------------------------
// Test: Publish fans out to every member of the group and nobody else
// ---------------------------------------------------------------------------

func TestRouter_PublishFanOut(t *testing.T) {
	r := New()

	m1 := &fakeMember{id: "s1"}
	m2 := &fakeMember{id: "s2"}
	outsider := &fakeMember{id: "s3"}

	r.Join("chat_1", m1)
	r.Join("chat_1", m2)
	r.Join("chat_2", outsider)

	ev := protocol.NewUserJoinedEvent(protocol.Identity{ID: 1, Username: "alice"})
	r.Publish("chat_1", ev)

	if n := len(m1.delivered()); n != 1 {
		t.Errorf("m1: expected 1 delivery, got %d", n)
	}
	if n := len(m2.delivered()); n != 1 {
		t.Errorf("m2: expected 1 delivery, got %d", n)
	}
	if n := len(outsider.delivered()); n != 0 {
		t.Errorf("outsider: expected 0 deliveries, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: Publishing to an empty or unknown group is a silent no-op
// ---------------------------------------------------------------------------

func TestRouter_PublishEmptyGroup(t *testing.T) {
	r := New()

	// Never-joined group.
	r.Publish("chat_99", protocol.NewUserJoinedEvent(protocol.Identity{ID: 1}))

	// Group that existed and was emptied.
	m := &fakeMember{id: "s1"}
	r.Join("chat_1", m)
	r.Leave("chat_1", m)
	r.Publish("chat_1", protocol.NewUserLeftEvent(protocol.Identity{ID: 1}))

	if n := len(m.delivered()); n != 0 {
		t.Errorf("expected no deliveries after leave, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: Removing the last member deletes the group
// ---------------------------------------------------------------------------

func TestRouter_LastLeaveDeletesGroup(t *testing.T) {
	r := New()

	m1 := &fakeMember{id: "s1"}
	m2 := &fakeMember{id: "s2"}
	r.Join("chat_1", m1)
	r.Join("chat_1", m2)

	r.Leave("chat_1", m1)
	if n := r.MemberCount("chat_1"); n != 1 {
		t.Fatalf("expected 1 member, got %d", n)
	}

	r.Leave("chat_1", m2)
	if n := r.MemberCount("chat_1"); n != 0 {
		t.Fatalf("expected 0 members, got %d", n)
	}

	// Leaving again must be a no-op.
	r.Leave("chat_1", m2)
}

// ---------------------------------------------------------------------------
// Test: Rejoining with the same member ID replaces the previous handle
// ---------------------------------------------------------------------------

func TestRouter_RejoinReplaces(t *testing.T) {
	r := New()

	old := &fakeMember{id: "s1"}
	fresh := &fakeMember{id: "s1"}
	r.Join("chat_1", old)
	r.Join("chat_1", fresh)

	if n := r.MemberCount("chat_1"); n != 1 {
		t.Fatalf("expected 1 member after rejoin, got %d", n)
	}

	r.Publish("chat_1", protocol.NewUserJoinedEvent(protocol.Identity{ID: 2}))
	if n := len(old.delivered()); n != 0 {
		t.Errorf("replaced handle still receiving: %d deliveries", n)
	}
	if n := len(fresh.delivered()); n != 1 {
		t.Errorf("fresh handle: expected 1 delivery, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Test: First join and last leave fire the bridge hooks exactly once
// ---------------------------------------------------------------------------

func TestRouter_BridgeHooks(t *testing.T) {
	r := New()

	var firstJoins, lastLeaves, publishes []string
	r.onFirstJoin = func(group string) { firstJoins = append(firstJoins, group) }
	r.onLastLeave = func(group string) { lastLeaves = append(lastLeaves, group) }
	r.onPublish = func(group string, ev protocol.Event) {
		publishes = append(publishes, group+"/"+ev.EventType())
	}

	m1 := &fakeMember{id: "s1"}
	m2 := &fakeMember{id: "s2"}

	r.Join("chat_1", m1)
	r.Join("chat_1", m2) // second join, no hook
	if len(firstJoins) != 1 || firstJoins[0] != "chat_1" {
		t.Fatalf("expected one first-join hook for chat_1, got %v", firstJoins)
	}

	r.Publish("chat_1", protocol.NewTypingIndicatorEvent(protocol.Identity{ID: 1}, true))
	if len(publishes) != 1 || publishes[0] != "chat_1/typing_indicator" {
		t.Fatalf("expected one publish hook, got %v", publishes)
	}

	r.Leave("chat_1", m1) // still a member left, no hook
	if len(lastLeaves) != 0 {
		t.Fatalf("premature last-leave hook: %v", lastLeaves)
	}
	r.Leave("chat_1", m2)
	if len(lastLeaves) != 1 || lastLeaves[0] != "chat_1" {
		t.Fatalf("expected one last-leave hook for chat_1, got %v", lastLeaves)
	}
}

// ---------------------------------------------------------------------------
// Test: A single publisher's events arrive in publish order
// ---------------------------------------------------------------------------

func TestRouter_PerPublisherOrdering(t *testing.T) {
	r := New()
	m := &fakeMember{id: "s1"}
	r.Join("chat_1", m)

	const n = 100
	sender := protocol.Identity{ID: 1, Username: "alice"}
	for i := 0; i < n; i++ {
		r.Publish("chat_1", protocol.NewMessageReadEvent(int64(i), sender))
	}

	got := m.delivered()
	if len(got) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(got))
	}
	for i, ev := range got {
		mr := ev.(protocol.MessageReadEvent)
		if mr.MessageID != int64(i) {
			t.Fatalf("delivery %d out of order: message_id=%d", i, mr.MessageID)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Concurrent join, leave, and publish do not race
// ---------------------------------------------------------------------------

func TestRouter_ConcurrentAccess(t *testing.T) {
	r := New()
	ev := protocol.NewUserOnlineEvent(protocol.Identity{ID: 1})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: fmt.Sprintf("s%d", i)}
			for j := 0; j < 200; j++ {
				r.Join(OnlineGroup, m)
				r.Publish(OnlineGroup, ev)
				r.Leave(OnlineGroup, m)
			}
		}(i)
	}
	wg.Wait()

	if n := r.MemberCount(OnlineGroup); n != 0 {
		t.Errorf("expected empty group after churn, got %d members", n)
	}
}

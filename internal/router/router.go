// Package router implements the group broadcast layer: a process-local
// registry of named groups holding live connection handles, and a NATS
// bridge that extends fan-out across server instances and lets external
// services publish into groups without holding a socket reference.
package router

import (
	"fmt"
	"sync"

	"github.com/chatbox/realtime/internal/protocol"
)

// Group name builders. Room groups are scoped to a conversation,
// notification groups to a recipient, and the online group is global.
const OnlineGroup = "online_users"

// RoomGroup returns the broadcast group name for a conversation.
func RoomGroup(conversationID int64) string {
	return fmt.Sprintf("chat_%d", conversationID)
}

// NotificationGroup returns the per-user notification group name.
func NotificationGroup(userID int64) string {
	return fmt.Sprintf("notifications_%d", userID)
}

// Member is a connection handle subscribed to one or more groups. Deliver is
// invoked synchronously from the publisher's goroutine; implementations must
// be safe for concurrent calls and must not block on slow consumers beyond
// their own write path.
type Member interface {
	ID() string
	Deliver(ev protocol.Event)
}

// Router owns the mapping from group name to its current member set. It is
// safe for concurrent Join, Leave, and Publish. A group exists only while it
// has at least one member.
type Router struct {
	mu     sync.RWMutex
	groups map[string]map[string]Member // group name -> member ID -> member

	onFirstJoin func(group string)
	onLastLeave func(group string)
	onPublish   func(group string, ev protocol.Event)
}

// New creates an empty Router.
func New() *Router {
	return &Router{groups: make(map[string]map[string]Member)}
}

// Join adds a member to the named group, creating the group if it does not
// exist. Joining twice with the same member ID replaces the previous handle.
func (r *Router) Join(group string, m Member) {
	r.mu.Lock()
	members, ok := r.groups[group]
	if !ok {
		members = make(map[string]Member)
		r.groups[group] = members
	}
	first := len(members) == 0
	members[m.ID()] = m
	hook := r.onFirstJoin
	r.mu.Unlock()

	if first && hook != nil {
		hook(group)
	}
}

// Leave removes a member from the named group. Removing the last member
// deletes the group. Leaving a group the member is not in is a no-op.
func (r *Router) Leave(group string, m Member) {
	r.mu.Lock()
	last := false
	if members, ok := r.groups[group]; ok {
		delete(members, m.ID())
		if len(members) == 0 {
			delete(r.groups, group)
			last = true
		}
	}
	hook := r.onLastLeave
	r.mu.Unlock()

	if last && hook != nil {
		hook(group)
	}
}

// Publish fans an event out to every member currently in the group. Members
// are snapshotted under the read lock so concurrent Join/Leave cannot
// corrupt the iteration; delivery happens synchronously on the caller's
// goroutine, which preserves each publisher's own event order. Publishing to
// an empty or nonexistent group is a silent no-op.
func (r *Router) Publish(group string, ev protocol.Event) {
	r.deliverLocal(group, ev)

	r.mu.RLock()
	hook := r.onPublish
	r.mu.RUnlock()
	if hook != nil {
		hook(group, ev)
	}
}

// deliverLocal delivers an event to local members only, without invoking the
// publish hook. The bridge uses it to inject remote-origin events.
func (r *Router) deliverLocal(group string, ev protocol.Event) {
	r.mu.RLock()
	members := r.groups[group]
	snapshot := make([]Member, 0, len(members))
	for _, m := range members {
		snapshot = append(snapshot, m)
	}
	r.mu.RUnlock()

	for _, m := range snapshot {
		m.Deliver(ev)
	}
}

// MemberCount returns the current size of a group, zero for absent groups.
func (r *Router) MemberCount(group string) int {
	r.mu.RLock()
	n := len(r.groups[group])
	r.mu.RUnlock()
	return n
}

// Close clears all groups. Members are not notified; callers shut sessions
// down first.
func (r *Router) Close() {
	r.mu.Lock()
	r.groups = make(map[string]map[string]Member)
	r.mu.Unlock()
}

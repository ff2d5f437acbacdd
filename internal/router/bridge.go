package router

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/chatbox/realtime/internal/protocol"
)

// SubjectPrefix is the NATS subject namespace for group events. Each group
// maps to SubjectPrefix + "." + <group name>.
const SubjectPrefix = "chatbox.group"

// BridgeConfig holds NATS connection settings for the bridge.
type BridgeConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ServerName    string        // tag stamped on outgoing events, used to drop own echoes
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultBridgeConfig returns sensible defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:           "nats://localhost:4222",
		Name:          "chatbox",
		ServerName:    "chat-1",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Bridge mirrors a local Router onto NATS. Events published locally are
// republished on the group's subject tagged with this server's name; events
// arriving from the subject with a different tag are injected into the local
// router. Group subjects are subscribed when the first local member joins
// and unsubscribed when the last one leaves, so a server only receives
// traffic for groups it actually serves.
//
// The bridge is also the surface exposed to collaborating services: a
// publisher with no socket reference (the notification-authoring subsystem)
// connects with its own server name and calls PublishEvent.
type Bridge struct {
	conn   *nats.Conn
	router *Router
	server string

	mu   sync.Mutex
	subs map[string]*nats.Subscription // group name -> subscription
}

// NewBridge connects to NATS and, when router is non-nil, attaches the
// mirror hooks to it. A nil router yields a publish-only bridge.
func NewBridge(config BridgeConfig, r *Router) (*Bridge, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[bridge] disconnected: %v", err)
			} else {
				log.Printf("[bridge] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[bridge] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[bridge] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge: nats connect: %w", err)
	}
	log.Printf("[bridge] connected to %s", nc.ConnectedUrl())

	b := &Bridge{
		conn:   nc,
		router: r,
		server: config.ServerName,
		subs:   make(map[string]*nats.Subscription),
	}

	if r != nil {
		r.mu.Lock()
		r.onFirstJoin = b.subscribeGroup
		r.onLastLeave = b.unsubscribeGroup
		r.onPublish = b.publishLocal
		r.mu.Unlock()
	}

	return b, nil
}

// PublishEvent publishes an event to a group's subject without touching any
// local router. Remote servers with members in the group relay it to their
// sockets.
func (b *Bridge) PublishEvent(group string, ev protocol.Event) error {
	data, err := protocol.EncodeWireEvent(b.server, ev)
	if err != nil {
		return err
	}
	return b.conn.Publish(subjectFor(group), data)
}

// publishLocal is the router's publish hook. Local delivery already happened;
// this mirrors the event to the broker for other server instances.
func (b *Bridge) publishLocal(group string, ev protocol.Event) {
	if err := b.PublishEvent(group, ev); err != nil {
		log.Printf("[bridge] publish group=%s type=%s: %v", group, ev.EventType(), err)
	}
}

// subscribeGroup starts relaying broker traffic for a group into the local
// router. Events stamped with this server's own name are dropped since they
// were already delivered locally at publish time.
func (b *Bridge) subscribeGroup(group string) {
	sub, err := b.conn.Subscribe(subjectFor(group), func(msg *nats.Msg) {
		ev, server, err := protocol.DecodeWireEvent(msg.Data)
		if err != nil {
			log.Printf("[bridge] decode group=%s: %v", group, err)
			return
		}
		if server == b.server {
			return
		}
		b.router.deliverLocal(group, ev)
	})
	if err != nil {
		log.Printf("[bridge] subscribe group=%s: %v", group, err)
		return
	}

	b.mu.Lock()
	b.subs[group] = sub
	b.mu.Unlock()
}

// unsubscribeGroup stops relaying a group once it has no local members.
func (b *Bridge) unsubscribeGroup(group string) {
	b.mu.Lock()
	sub, ok := b.subs[group]
	delete(b.subs, group)
	b.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[bridge] unsubscribe group=%s: %v", group, err)
	}
}

// Close drains all group subscriptions and the underlying connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	for group, sub := range b.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[bridge] drain group=%s: %v", group, err)
		}
	}
	b.subs = make(map[string]*nats.Subscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		log.Printf("[bridge] connection drain: %v", err)
	}
	log.Printf("[bridge] closed")
}

func subjectFor(group string) string {
	return SubjectPrefix + "." + group
}

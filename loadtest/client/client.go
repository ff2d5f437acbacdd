// Package client provides a reusable WebSocket load test client for the
// chatbox realtime server. It connects using gobwas/ws (the same library the
// server uses), authenticates with a JWT passed as a query parameter, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeChatMessage = "chat_message"
	TypeStartTyping = "start_typing"
	TypeStopTyping  = "stop_typing"
	TypeMessageRead = "message_read"
)

// Server -> Client message types.
const (
	TypeTypingIndicator = "typing_indicator"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeUserOnline      = "user_online"
	TypeUserOffline     = "user_offline"
	TypeNotification    = "notification"
	TypeError           = "error"
)

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// Token signs an HS256 JWT for the given simulated user, matching the claim
// shape the server's verifier expects. The server and the load test must be
// started with the same secret and issuer.
func Token(secret, issuer string, userID int64, username string, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":  userID,
		"username": username,
		"iat":      now.Unix(),
		"exp":      now.Add(lifetime).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// WithToken appends the token query parameter to a WebSocket URL.
func WithToken(rawURL, token string) string {
	sep := "?"
	if u, err := url.Parse(rawURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	return rawURL + sep + "token=" + url.QueryEscape(token)
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the chatbox server.
// There is no application-level handshake: authentication happens during the
// HTTP upgrade, so the connection is usable as soon as New returns. It manages
// the WebSocket lifecycle and dispatches incoming events to registered
// handlers.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
	firstMsg  time.Time
}

// New creates a new load test client connected to the given WebSocket URL.
// The URL must already carry the token query parameter (see WithToken). The
// connection is established immediately and a background goroutine begins
// reading events.
func New(ctx context.Context, url string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	// Start reading events in background.
	go c.readLoop()

	return c, nil
}

// Send sends a JSON frame to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendChatMessage sends a chat_message frame with the given content.
func (c *Client) SendChatMessage(content string) error {
	return c.Send(map[string]string{
		"type":    TypeChatMessage,
		"message": content,
	})
}

// On registers a handler for a specific server event type. The handler
// receives the full raw JSON of the event for flexible decoding.
// Handlers are invoked from the read loop goroutine so they should not block
// for extended periods. Only one handler per event type is supported;
// registering a second handler for the same type replaces the first.
func (c *Client) On(eventType string, handler func(json.RawMessage)) {
	c.handlers[eventType] = handler
}

// Done returns a channel that is closed when the connection terminates, either
// by Close or by the server dropping the socket.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			c.Close()
			return
		}

		// Track time of first event for FirstMsgLatency.
		if c.firstMsg.IsZero() {
			c.firstMsg = time.Now()
			c.metrics.FirstMsgLatency = c.metrics.ConnectLatency + time.Since(c.firstMsg)
		}

		c.metrics.MessagesReceived++

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Dispatch to registered handler if one exists.
		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}

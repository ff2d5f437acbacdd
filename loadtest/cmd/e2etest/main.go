// Package main implements a standalone end-to-end integration test for the
// chatbox realtime server. It validates the full user journey against a
// running stack: health checks, the authentication gate, room messaging with
// echo suppression, typing indicators, and read receipts.
//
// The two test users and their shared conversation must exist in the
// database before the test runs.
//
// Usage:
//
//	go run ./cmd/e2etest/ [-url ws://localhost:8080] [-api http://localhost:8080] [-secret dev-secret]
//
// Exit code 0 if all required scenarios pass, 1 if any fail.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/chatbox/realtime/loadtest/client"
)

// ---------------------------------------------------------------------------
// Result tracking
// ---------------------------------------------------------------------------

// resultKind categorises a scenario outcome.
type resultKind int

const (
	resultPass resultKind = iota
	resultFail
	resultInfo // optional / non-fatal
)

// scenarioResult holds the outcome of a single test scenario.
type scenarioResult struct {
	name   string
	kind   resultKind
	detail string
}

func (r scenarioResult) tag() string {
	switch r.kind {
	case resultPass:
		return "PASS"
	case resultFail:
		return "FAIL"
	default:
		return "INFO"
	}
}

// testConfig carries the flag values shared by all scenarios.
type testConfig struct {
	wsBase  string
	secret  string
	issuer  string
	userA   int64
	userB   int64
	convID  int64
	timeout time.Duration
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	wsBase := flag.String("url", "ws://localhost:8080", "Server WebSocket base URL")
	apiBase := flag.String("api", "http://localhost:8080", "HTTP API base URL")
	secret := flag.String("secret", "dev-secret", "JWT secret shared with the server")
	issuer := flag.String("issuer", "", "JWT issuer claim (must match the server's, empty to omit)")
	userA := flag.Int64("user-a", 1, "First test user ID")
	userB := flag.Int64("user-b", 2, "Second test user ID")
	convID := flag.Int64("conv", 1, "Conversation both test users participate in")
	timeout := flag.Duration("timeout", 60*time.Second, "Global test timeout")
	flag.Parse()

	fmt.Println("=== Chatbox E2E Integration Test ===")
	fmt.Printf("Server: %s\n\n", *wsBase)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cfg := testConfig{
		wsBase: *wsBase,
		secret: *secret,
		issuer: *issuer,
		userA:  *userA,
		userB:  *userB,
		convID: *convID,
	}

	var results []scenarioResult

	results = append(results, scenario1HealthCheck(ctx, *apiBase))
	results = append(results, scenario2AuthGate(ctx, cfg))

	// Scenarios 3-5 share a connected pair; run them as a group.
	s3, s4, s5 := scenario345RoomFlow(ctx, cfg)
	results = append(results, s3, s4, s5)

	// -----------------------------------------------------------------------
	// Summary
	// -----------------------------------------------------------------------
	fmt.Println()
	passed := 0
	failed := 0
	info := 0
	for _, r := range results {
		fmt.Printf("[%s] %s", r.tag(), r.name)
		if r.detail != "" {
			fmt.Printf(" (%s)", r.detail)
		}
		fmt.Println()

		switch r.kind {
		case resultPass:
			passed++
		case resultFail:
			failed++
		case resultInfo:
			info++
		}
	}

	requiredTotal := passed + failed
	fmt.Printf("\n=== Results: %d/%d passed", passed, requiredTotal)
	if info > 0 {
		fmt.Printf(", %d info", info)
	}
	fmt.Println(" ===")

	if failed > 0 {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Scenario 1: Health Check
// ---------------------------------------------------------------------------

func scenario1HealthCheck(ctx context.Context, apiBase string) scenarioResult {
	name := "Scenario 1: Health Check"

	// 1a. /health
	if err := httpGetExpectOK(ctx, apiBase+"/health"); err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/health: %v", err)}
	}

	// 1b. /metrics — expect Prometheus text with chatbox_connections_active.
	metricsBody, err := httpGetBody(ctx, apiBase+"/metrics")
	if err != nil {
		return scenarioResult{name, resultFail, fmt.Sprintf("/metrics: %v", err)}
	}
	if !strings.Contains(string(metricsBody), "chatbox_connections_active") {
		return scenarioResult{name, resultFail, "/metrics: missing chatbox_connections_active"}
	}

	return scenarioResult{name, resultPass, ""}
}

// ---------------------------------------------------------------------------
// Scenario 2: Authentication Gate
// ---------------------------------------------------------------------------

// scenario2AuthGate verifies that a room connect without a valid token is
// rejected. The server closes the socket right after the upgrade, so the
// failure shows up either as a dial error or as an immediate disconnect.
func scenario2AuthGate(ctx context.Context, cfg testConfig) scenarioResult {
	name := "Scenario 2: Authentication Gate"

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	roomURL := fmt.Sprintf("%s/ws/chat/%d", cfg.wsBase, cfg.convID)

	c, err := client.New(connCtx, roomURL)
	if err != nil {
		return scenarioResult{name, resultPass, "rejected at dial"}
	}
	defer c.Close()

	select {
	case <-c.Done():
		return scenarioResult{name, resultPass, "socket closed by server"}
	case <-time.After(5 * time.Second):
		return scenarioResult{name, resultFail, "unauthenticated socket stayed open"}
	}
}

// ---------------------------------------------------------------------------
// Scenarios 3, 4, 5: Room Messaging, Typing Indicator, Read Receipt
// ---------------------------------------------------------------------------

func scenario345RoomFlow(ctx context.Context, cfg testConfig) (r3, r4, r5 scenarioResult) {
	n3 := "Scenario 3: Room Messaging with Echo Suppression"
	n4 := "Scenario 4: Typing Indicator"
	n5 := "Scenario 5: Read Receipt"

	fail := func(detail string) (scenarioResult, scenarioResult, scenarioResult) {
		r := scenarioResult{n3, resultFail, detail}
		skip := scenarioResult{n4, resultInfo, "skipped"}
		skip5 := scenarioResult{n5, resultInfo, "skipped"}
		return r, skip, skip5
	}

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	a, err := connectRoom(connCtx, cfg, cfg.userA, "e2e-alice")
	if err != nil {
		return fail(fmt.Sprintf("user A connect: %v", err))
	}
	defer a.Close()

	b, err := connectRoom(connCtx, cfg, cfg.userB, "e2e-bob")
	if err != nil {
		return fail(fmt.Sprintf("user B connect: %v", err))
	}
	defer b.Close()

	// --- Scenario 3: A sends, B receives, A gets no echo ---

	bGotMsg := make(chan int64, 1)
	aGotEcho := make(chan struct{}, 1)

	b.On(client.TypeChatMessage, func(raw json.RawMessage) {
		var msg struct {
			MessageID int64 `json:"message_id"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case bGotMsg <- msg.MessageID:
			default:
			}
		}
	})
	a.On(client.TypeChatMessage, func(json.RawMessage) {
		select {
		case aGotEcho <- struct{}{}:
		default:
		}
	})

	if err := a.SendChatMessage("hello from the e2e test"); err != nil {
		return fail(fmt.Sprintf("send: %v", err))
	}

	var messageID int64
	select {
	case messageID = <-bGotMsg:
	case <-time.After(10 * time.Second):
		return fail("user B never received the message")
	}

	// Give a misbehaving echo a moment to arrive before declaring victory.
	select {
	case <-aGotEcho:
		return fail("sender received its own message")
	case <-time.After(2 * time.Second):
	}
	r3 = scenarioResult{n3, resultPass, fmt.Sprintf("message_id=%d", messageID)}

	// --- Scenario 4: typing indicator round trip ---

	typing := make(chan bool, 2)
	b.On(client.TypeTypingIndicator, func(raw json.RawMessage) {
		var msg struct {
			IsTyping bool `json:"is_typing"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case typing <- msg.IsTyping:
			default:
			}
		}
	})

	r4 = scenarioResult{n4, resultPass, ""}
	if err := a.Send(map[string]string{"type": client.TypeStartTyping}); err != nil {
		r4 = scenarioResult{n4, resultFail, fmt.Sprintf("start_typing send: %v", err)}
	} else {
		select {
		case isTyping := <-typing:
			if !isTyping {
				r4 = scenarioResult{n4, resultFail, "expected is_typing=true"}
			}
		case <-time.After(10 * time.Second):
			r4 = scenarioResult{n4, resultFail, "no typing_indicator received"}
		}
		_ = a.Send(map[string]string{"type": client.TypeStopTyping})
	}

	// --- Scenario 5: B reads the message, A sees the receipt ---

	receipt := make(chan int64, 1)
	a.On(client.TypeMessageRead, func(raw json.RawMessage) {
		var msg struct {
			MessageID int64 `json:"message_id"`
		}
		if err := json.Unmarshal(raw, &msg); err == nil {
			select {
			case receipt <- msg.MessageID:
			default:
			}
		}
	})

	if err := b.Send(map[string]interface{}{
		"type":       client.TypeMessageRead,
		"message_id": messageID,
	}); err != nil {
		r5 = scenarioResult{n5, resultFail, fmt.Sprintf("message_read send: %v", err)}
		return r3, r4, r5
	}

	select {
	case id := <-receipt:
		if id != messageID {
			r5 = scenarioResult{n5, resultFail, fmt.Sprintf("receipt for message_id=%d, want %d", id, messageID)}
		} else {
			r5 = scenarioResult{n5, resultPass, ""}
		}
	case <-time.After(10 * time.Second):
		r5 = scenarioResult{n5, resultFail, "no message_read received"}
	}

	return r3, r4, r5
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// connectRoom signs a token for the user and opens a room socket.
func connectRoom(ctx context.Context, cfg testConfig, userID int64, username string) (*client.Client, error) {
	token, err := client.Token(cfg.secret, cfg.issuer, userID, username, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	roomURL := fmt.Sprintf("%s/ws/chat/%d", cfg.wsBase, cfg.convID)
	return client.New(ctx, client.WithToken(roomURL, token))
}

func httpGetExpectOK(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func httpGetBody(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

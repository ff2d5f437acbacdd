package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/chatbox/realtime/internal/protocol"
)

const testSecret = "test-secret"

// ---------------------------------------------------------------------------
// Test: Issue then Verify round trip
// ---------------------------------------------------------------------------

func TestVerifier_RoundTrip(t *testing.T) {
	identity := protocol.Identity{ID: 42, Username: "alice", Avatar: "a.png"}

	token, err := Issue(testSecret, "chatbox", identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := NewVerifier(testSecret, "chatbox")
	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != identity {
		t.Errorf("identity round trip: got %+v, want %+v", got, identity)
	}
}

// ---------------------------------------------------------------------------
// Test: Empty and garbage tokens are rejected
// ---------------------------------------------------------------------------

func TestVerifier_InvalidToken(t *testing.T) {
	v := NewVerifier(testSecret, "")

	for _, token := range []string{"", "not.a.token", "aaaa.bbbb.cccc"} {
		_, err := v.Verify(token)
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Wrong secret fails verification
// ---------------------------------------------------------------------------

func TestVerifier_WrongSecret(t *testing.T) {
	token, err := Issue("other-secret", "", protocol.Identity{ID: 1, Username: "bob"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := NewVerifier(testSecret, "")
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Expired tokens are rejected
// ---------------------------------------------------------------------------

func TestVerifier_ExpiredToken(t *testing.T) {
	token, err := Issue(testSecret, "", protocol.Identity{ID: 1, Username: "bob"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := NewVerifier(testSecret, "")
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Issuer mismatch is rejected, empty configured issuer is not checked
// ---------------------------------------------------------------------------

func TestVerifier_Issuer(t *testing.T) {
	identity := protocol.Identity{ID: 1, Username: "bob"}

	token, err := Issue(testSecret, "somewhere-else", identity, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	strict := NewVerifier(testSecret, "chatbox")
	if _, err := strict.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for issuer mismatch, got %v", err)
	}

	lax := NewVerifier(testSecret, "")
	if _, err := lax.Verify(token); err != nil {
		t.Fatalf("verifier without issuer must accept any issuer: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Tokens without a user_id claim are rejected
// ---------------------------------------------------------------------------

func TestVerifier_MissingUserID(t *testing.T) {
	token, err := Issue(testSecret, "", protocol.Identity{Username: "ghost"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	v := NewVerifier(testSecret, "")
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing user_id, got %v", err)
	}
}

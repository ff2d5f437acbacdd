// Package auth verifies the bearer tokens presented at socket connect and
// resolves them to an authenticated identity. Token issuance belongs to the
// login service; this package only needs the shared secret to validate what
// it is handed (plus an issuing half used by tests and the load client).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chatbox/realtime/internal/protocol"
)

// ErrInvalidToken is returned for missing, malformed, expired, or
// wrongly-signed tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the custom JWT claims carried by chatbox tokens.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 chatbox tokens.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier for the given shared secret and expected
// issuer. An empty issuer skips the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates a token, returning the identity it asserts.
func (v *Verifier) Verify(tokenString string) (protocol.Identity, error) {
	if tokenString == "" {
		return protocol.Identity{}, ErrInvalidToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return protocol.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == 0 {
		return protocol.Identity{}, fmt.Errorf("%w: missing user_id claim", ErrInvalidToken)
	}

	return protocol.Identity{ID: claims.UserID, Username: claims.Username, Avatar: claims.Avatar}, nil
}

// Issue signs a token for an identity with the given lifetime. The server
// never calls this; it exists for tests and the load client.
func Issue(secret, issuer string, identity protocol.Identity, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   identity.ID,
		Username: identity.Username,
		Avatar:   identity.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Package auth verifies the bearer JWT carried on workspace-scoped MCP
// calls. The secret is accepted only from the process environment
// (config.JWTSecret), never from a config file, per spec §6's "secrets
// (JWT secret) must come from the environment".
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every token-verification failure: missing
// header, malformed token, bad signature, expired token, or a token
// whose claims lack user_id. The dispatcher maps this uniformly to the
// Unauthorized error kind without distinguishing sub-cases to the
// caller (spec §7).
var ErrUnauthorized = errors.New("auth: unauthorized")

// Claims is the JWT payload shape from spec §6: sub, user_id (required
// for workspace operations), exp, iat, iss, aud, and an optional
// project_id.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
}

// Verifier validates bearer tokens against a single HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier from the environment-sourced secret.
// An empty secret is accepted at construction (so a misconfigured
// server still starts and logs) but verification always fails against
// it, since jwt-go refuses to sign/verify with a zero-length key.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates tokenString, returning its Claims. A
// token whose claims lack user_id is rejected with ErrUnauthorized even
// if the signature is otherwise valid, since user_id is mandatory for
// every workspace-scoped tool.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: no JWT secret configured", ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, ErrUnauthorized
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token missing user_id", ErrUnauthorized)
	}
	return claims, nil
}

// Issue builds a signed token for tests and for the CLI surface's local
// dev-mode token minting; production token issuance lives outside this
// bridge's scope (spec §1's "out of scope" collaborators).
func (v *Verifier) Issue(userID, projectID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:    userID,
		ProjectID: projectID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const tokenBytes = 32

var (
	// ErrSessionNotFound indicates that no live session matches the lookup.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSession indicates that a presented token is empty, unknown, expired, or revoked.
	ErrInvalidSession = errors.New("invalid session")
)

// Session groups the tokens issued by one login.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// Token is the persisted form of an issued secret. Only the digest is stored.
type Token struct {
	ID        string
	Hash      string
	UserID    string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issued is returned once at login. Token is the plaintext secret.
type Issued struct {
	Token     string
	SessionID string
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the result of a successful validation.
type Identity struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore persists sessions and their token digests.
type SessionStore interface {
	// Create stores the session and its token atomically.
	Create(ctx context.Context, session Session, token Token) error
	// FindByHash returns the identity for a token digest whose expiry is after now,
	// or ErrSessionNotFound.
	FindByHash(ctx context.Context, hash string, now time.Time) (Identity, error)
	// Delete removes a session and every token that belongs to it, or returns
	// ErrSessionNotFound.
	Delete(ctx context.Context, sessionID string) error
}

// HashToken returns the hex sha256 digest under which a secret is stored.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

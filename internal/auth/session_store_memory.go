package auth

import (
	"context"
	"errors"
	"sync"
	"time"
)

// NewInMemorySessionStore returns a SessionStore backed by in-memory maps.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]Session),
		tokens:   make(map[string]Token),
	}
}

// InMemorySessionStore implements SessionStore for tests and local development.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	tokens   map[string]Token
}

// Create persists the session together with its token.
func (s *InMemorySessionStore) Create(_ context.Context, session Session, token Token) error {
	if !token.ExpiresAt.After(token.IssuedAt) {
		return errors.New("token must expire after it is issued")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[token.Hash]; exists {
		return errors.New("duplicate token hash")
	}
	s.sessions[session.ID] = session
	s.tokens[token.Hash] = token
	return nil
}

// FindByHash returns the identity for an unexpired token digest.
func (s *InMemorySessionStore) FindByHash(_ context.Context, hash string, now time.Time) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[hash]
	if !ok || !now.Before(token.ExpiresAt) {
		return Identity{}, ErrSessionNotFound
	}
	if _, live := s.sessions[token.SessionID]; !live {
		return Identity{}, ErrSessionNotFound
	}
	return Identity{
		UserID:    token.UserID,
		SessionID: token.SessionID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Delete removes the session and its tokens.
func (s *InMemorySessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	for hash, token := range s.tokens {
		if token.SessionID == sessionID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// TokenCount reports how many token rows are stored, expired ones included.
func (s *InMemorySessionStore) TokenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/invis/backend/internal/logging"
)

// Cache remembers recently validated tokens by digest.
type Cache interface {
	Get(ctx context.Context, hash string) (Identity, bool, error)
	Set(ctx context.Context, hash string, identity Identity, ttl time.Duration) error
	// Invalidate drops every entry that belongs to the session and refuses
	// new entries for it during ttl.
	Invalidate(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Option customises a Manager.
type Option func(*Manager)

// WithCache puts a read-through cache in front of the session store. Entries
// live for at most ttl and never past the token expiry.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		if cache == nil || ttl <= 0 {
			return
		}
		m.cache = cache
		m.cacheTTL = ttl
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager issues, validates, and revokes opaque session tokens.
type Manager struct {
	ttl      time.Duration
	store    SessionStore
	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time
}

// NewManager constructs a Manager that issues tokens valid for ttl.
func NewManager(ttl time.Duration, store SessionStore, opts ...Option) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	if ttl <= 0 {
		panic("auth: session ttl must be positive")
	}
	m := &Manager{
		ttl:   ttl,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL reports the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue creates a session for userID and returns its plaintext token. The token
// is not recoverable afterwards.
func (m *Manager) Issue(ctx context.Context, userID string) (Issued, error) {
	if userID == "" {
		return Issued{}, errors.New("user id must be provided")
	}

	ctx, span := logging.StartSpan(ctx, "auth.issue")
	defer span.End()

	secret, err := randomToken()
	if err != nil {
		span.Fail(err)
		return Issued{}, err
	}

	now := m.now()
	session := Session{ID: uuid.NewString(), UserID: userID, CreatedAt: now}
	token := Token{
		ID:        uuid.NewString(),
		Hash:      HashToken(secret),
		UserID:    userID,
		SessionID: session.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Create(ctx, session, token); err != nil {
		span.Fail(err)
		return Issued{}, fmt.Errorf("store session: %w", err)
	}

	return Issued{
		Token:     secret,
		SessionID: session.ID,
		UserID:    userID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Validate resolves a plaintext token to its identity. Unknown, expired, and
// revoked tokens yield ErrInvalidSession.
func (m *Manager) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidSession
	}

	hash := HashToken(token)
	now := m.now()

	if m.cache != nil {
		identity, ok, err := m.cache.Get(ctx, hash)
		switch {
		case err != nil:
			logging.FromContext(ctx).Warn("session cache read failed", slog.String("error", err.Error()))
		case ok && now.Before(identity.ExpiresAt):
			return identity, nil
		}
	}

	identity, err := m.store.FindByHash(ctx, hash, now)
	if errors.Is(err, ErrSessionNotFound) {
		return Identity{}, ErrInvalidSession
	}
	if err != nil {
		return Identity{}, fmt.Errorf("find session: %w", err)
	}

	if m.cache != nil {
		ttl := min(m.cacheTTL, identity.ExpiresAt.Sub(m.now()))
		if err := m.cache.Set(ctx, hash, identity, ttl); err != nil {
			logging.FromContext(ctx).Warn("session cache write failed", slog.String("error", err.Error()))
		}
	}
	return identity, nil
}

// Revoke ends a session. Tokens belonging to it stop validating immediately.
func (m *Manager) Revoke(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrSessionNotFound
	}

	ctx, span := logging.StartSpan(ctx, "auth.revoke")
	defer span.End()

	if err := m.store.Delete(ctx, sessionID); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			span.Fail(err)
		}
		return err
	}

	if m.cache != nil {
		// A token never outlives the session ttl, so a revocation marker kept
		// that long covers any validation still in flight.
		if err := m.cache.Invalidate(ctx, sessionID, m.ttl); err != nil {
			span.Fail(err)
			return fmt.Errorf("invalidate cached session: %w", err)
		}
	}
	return nil
}

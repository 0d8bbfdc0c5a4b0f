package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/db"
)

// PostgresSessionStore persists sessions and token digests to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Create inserts the session and its token in one transaction.
func (s *PostgresSessionStore) Create(ctx context.Context, session auth.Session, token auth.Token) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            INSERT INTO sessions (id, user_id, created_at)
            VALUES ($1, $2, $3)
        `, session.ID, session.UserID, session.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO session_tokens (id, token_hash, user_id, session_id, issued_at, expires_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `, token.ID, token.Hash, token.UserID, token.SessionID, token.IssuedAt.UTC(), token.ExpiresAt.UTC()); err != nil {
			return fmt.Errorf("insert session token: %w", err)
		}
		return nil
	})
}

// FindByHash loads the identity for a digest that has not expired at now.
func (s *PostgresSessionStore) FindByHash(ctx context.Context, hash string, now time.Time) (auth.Identity, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT user_id, session_id, issued_at, expires_at
        FROM session_tokens
        WHERE token_hash = $1 AND expires_at > $2
    `, hash, now.UTC())

	var identity auth.Identity
	if err := row.Scan(&identity.UserID, &identity.SessionID, &identity.IssuedAt, &identity.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Identity{}, auth.ErrSessionNotFound
		}
		return auth.Identity{}, fmt.Errorf("select session token: %w", err)
	}

	identity.IssuedAt = identity.IssuedAt.UTC()
	identity.ExpiresAt = identity.ExpiresAt.UTC()
	return identity, nil
}

// Delete removes a session; its tokens follow through ON DELETE CASCADE.
func (s *PostgresSessionStore) Delete(ctx context.Context, sessionID string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM sessions
        WHERE id = $1
    `, sessionID)
	if err != nil {
		if errors.Is(db.Classify(err), db.ErrNotFound) {
			return auth.ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return auth.ErrSessionNotFound
	}

	return nil
}

var _ auth.SessionStore = (*PostgresSessionStore)(nil)

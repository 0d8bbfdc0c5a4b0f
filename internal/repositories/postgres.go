package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/models"
)

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record. A taken username yields db.ErrConflict.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	picture := user.ProfilePicture
	if picture == "" {
		picture = models.DefaultProfilePicture
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, username, password_hash, profile_picture, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, user.ID, user.Username, user.PasswordHash, picture, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if errors.Is(db.Classify(err), db.ErrConflict) {
			return db.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// FindByUsername fetches a user by exact, case-sensitive username.
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	return r.findOne(ctx, "username", username)
}

// FindByID fetches a user by id.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id string) (models.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *PostgresUserRepository) findOne(ctx context.Context, column, value string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT id, username, password_hash, profile_picture, created_at, updated_at
        FROM users
        WHERE `+column+` = $1
    `, value)

	var user models.User
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.ProfilePicture, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if errors.Is(db.Classify(err), db.ErrNotFound) {
			return models.User{}, db.ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by %s: %w", column, err)
	}

	return user, nil
}

// SwapProfilePicture replaces the user's picture under a row lock and returns
// the previous value.
func (r *PostgresUserRepository) SwapProfilePicture(ctx context.Context, userID, picture string) (string, error) {
	var previous string
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
            SELECT profile_picture
            FROM users
            WHERE id = $1
            FOR UPDATE
        `, userID).Scan(&previous)
		if err != nil {
			return db.Classify(err)
		}

		if _, err := tx.Exec(ctx, `
            UPDATE users
            SET profile_picture = $2, updated_at = NOW()
            WHERE id = $1
        `, userID, picture); err != nil {
			return fmt.Errorf("update profile picture: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", db.ErrNotFound
		}
		return "", fmt.Errorf("swap profile picture: %w", err)
	}
	return previous, nil
}

var _ UserRepository = (*PostgresUserRepository)(nil)

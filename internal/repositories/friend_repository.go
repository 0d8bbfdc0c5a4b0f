package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/friends"
	"github.com/invis/backend/internal/models"
)

// PostgresFriendStore persists friend requests and friendships to PostgreSQL.
type PostgresFriendStore struct {
	pool db.Pool
}

// NewPostgresFriendStore constructs a friend store backed by PostgreSQL.
func NewPostgresFriendStore(pool db.Pool) *PostgresFriendStore {
	return &PostgresFriendStore{pool: pool}
}

// WithinTx runs fn inside a database transaction.
func (s *PostgresFriendStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx friends.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgFriendTx{tx: tx})
	})
}

// State reads the relationship between a and b outside a transaction.
func (s *PostgresFriendStore) State(ctx context.Context, a, b string) (friends.PairState, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return friends.PairState{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return pairState(ctx, conn, a, b)
}

// ListRequests returns the user's pending requests, oldest first.
func (s *PostgresFriendStore) ListRequests(ctx context.Context, userID string) (models.PendingRequests, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return models.PendingRequests{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT r.id, r.incoming, u.id, u.username, u.profile_picture
        FROM friend_requests r
        JOIN users u ON u.id = CASE WHEN r.outgoing = $1 THEN r.incoming ELSE r.outgoing END
        WHERE r.outgoing = $1 OR r.incoming = $1
        ORDER BY r.created_at, r.id
    `, userID)
	if err != nil {
		return models.PendingRequests{}, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	pending := models.PendingRequests{Incoming: []models.RequestEntry{}, Outgoing: []models.RequestEntry{}}
	for rows.Next() {
		var (
			entry    models.RequestEntry
			incoming string
		)
		if err := rows.Scan(&entry.RowID, &incoming, &entry.User.ID, &entry.User.Username, &entry.User.ProfilePicture); err != nil {
			return models.PendingRequests{}, fmt.Errorf("scan friend request: %w", err)
		}
		if incoming == userID {
			pending.Incoming = append(pending.Incoming, entry)
		} else {
			pending.Outgoing = append(pending.Outgoing, entry)
		}
	}
	if err := rows.Err(); err != nil {
		return models.PendingRequests{}, fmt.Errorf("iterate friend requests: %w", err)
	}

	return pending, nil
}

// ListFriends returns the user's friendship rows ordered by friend username.
func (s *PostgresFriendStore) ListFriends(ctx context.Context, userID string) ([]models.FriendEntry, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT f.id, u.id, u.username, u.profile_picture
        FROM friendships f
        JOIN users u ON u.id = f.user_id_2
        WHERE f.user_id_1 = $1
        ORDER BY u.username, u.id
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	entries := []models.FriendEntry{}
	for rows.Next() {
		var entry models.FriendEntry
		if err := rows.Scan(&entry.RowID, &entry.User.ID, &entry.User.Username, &entry.User.ProfilePicture); err != nil {
			return nil, fmt.Errorf("scan friendship: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friendships: %w", err)
	}

	return entries, nil
}

// SearchUsers implements friends.Store with a case-insensitive LIKE match.
func (s *PostgresFriendStore) SearchUsers(ctx context.Context, query, requester string, limit int) ([]models.UserSummary, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	pattern := "%" + EscapeLike(strings.ToLower(query)) + "%"

	rows, err := conn.Query(ctx, `
        SELECT u.id, u.username, u.profile_picture
        FROM users u
        WHERE LOWER(u.username) LIKE $1
          AND u.id <> $2
          AND NOT EXISTS (
              SELECT 1 FROM friendships f
              WHERE f.user_id_1 = $2 AND f.user_id_2 = u.id
          )
          AND NOT EXISTS (
              SELECT 1 FROM friend_requests r
              WHERE (r.outgoing = $2 AND r.incoming = u.id)
                 OR (r.outgoing = u.id AND r.incoming = $2)
          )
        ORDER BY u.username, u.id
        LIMIT $3
    `, pattern, requester, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", db.Classify(err))
	}
	defer rows.Close()

	users := []models.UserSummary{}
	for rows.Next() {
		var user models.UserSummary
		if err := rows.Scan(&user.ID, &user.Username, &user.ProfilePicture); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// PendingCount counts requests waiting for the user's answer.
func (s *PostgresFriendStore) PendingCount(ctx context.Context, userID string) (int, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var count int
	if err := conn.QueryRow(ctx, `
        SELECT COUNT(*)
        FROM friend_requests
        WHERE incoming = $1
    `, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count friend requests: %w", err)
	}
	return count, nil
}

// FriendIDs returns the ids of the user's friends.
func (s *PostgresFriendStore) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT user_id_2
        FROM friendships
        WHERE user_id_1 = $1
        ORDER BY user_id_2
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("query friend ids: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect friend ids: %w", err)
	}
	return ids, nil
}

// EscapeLike escapes the LIKE wildcards in s so that it matches literally.
func EscapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pairState(ctx context.Context, q querier, a, b string) (friends.PairState, error) {
	var befriended bool
	if err := q.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM friendships
            WHERE user_id_1 = $1 AND user_id_2 = $2
        )
    `, a, b).Scan(&befriended); err != nil {
		return friends.PairState{}, fmt.Errorf("check friendship: %w", db.Classify(err))
	}
	if befriended {
		return friends.PairState{Kind: friends.Friends}, nil
	}

	var requestID, from string
	err := q.QueryRow(ctx, `
        SELECT id, outgoing
        FROM friend_requests
        WHERE (outgoing = $1 AND incoming = $2)
           OR (outgoing = $2 AND incoming = $1)
        LIMIT 1
    `, a, b).Scan(&requestID, &from)
	if errors.Is(err, pgx.ErrNoRows) {
		return friends.PairState{Kind: friends.Strangers}, nil
	}
	if err != nil {
		return friends.PairState{}, fmt.Errorf("check friend request: %w", db.Classify(err))
	}
	return friends.PairState{Kind: friends.Pending, From: from, RequestID: requestID}, nil
}

// pgFriendTx implements friends.Tx on an open pgx transaction.
type pgFriendTx struct {
	tx pgx.Tx
}

func (t *pgFriendTx) UserExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		if errors.Is(db.Classify(err), db.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check user: %w", err)
	}
	return exists, nil
}

func (t *pgFriendTx) PairState(ctx context.Context, a, b string) (friends.PairState, error) {
	return pairState(ctx, t.tx, a, b)
}

func (t *pgFriendTx) InsertRequest(ctx context.Context, request models.FriendRequest) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO friend_requests (id, outgoing, incoming, created_at)
        VALUES ($1, $2, $3, $4)
    `, request.ID, request.Outgoing, request.Incoming, request.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert friend request: %w", db.Classify(err))
	}
	return nil
}

func (t *pgFriendTx) LockRequest(ctx context.Context, requestID string) (models.FriendRequest, error) {
	var request models.FriendRequest
	err := t.tx.QueryRow(ctx, `
        SELECT id, outgoing, incoming, created_at
        FROM friend_requests
        WHERE id = $1
        FOR UPDATE
    `, requestID).Scan(&request.ID, &request.Outgoing, &request.Incoming, &request.CreatedAt)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("lock friend request: %w", db.Classify(err))
	}
	return request, nil
}

func (t *pgFriendTx) DeleteRequest(ctx context.Context, requestID string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("delete friend request: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

func (t *pgFriendTx) InsertFriendship(ctx context.Context, forward, reverse models.Friendship) error {
	for _, row := range []models.Friendship{forward, reverse} {
		if _, err := t.tx.Exec(ctx, `
            INSERT INTO friendships (id, user_id_1, user_id_2, created_at)
            VALUES ($1, $2, $3, $4)
        `, row.ID, row.UserID, row.FriendID, row.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert friendship: %w", db.Classify(err))
		}
	}
	return nil
}

func (t *pgFriendTx) LockFriendship(ctx context.Context, userID, friendID string) (models.Friendship, error) {
	return t.lockFriendship(ctx, `user_id_1 = $1 AND user_id_2 = $2`, userID, friendID)
}

func (t *pgFriendTx) LockFriendshipRow(ctx context.Context, userID, rowID string) (models.Friendship, error) {
	return t.lockFriendship(ctx, `user_id_1 = $1 AND id = $2`, userID, rowID)
}

func (t *pgFriendTx) lockFriendship(ctx context.Context, where string, args ...any) (models.Friendship, error) {
	var row models.Friendship
	err := t.tx.QueryRow(ctx, `
        SELECT id, user_id_1, user_id_2, created_at
        FROM friendships
        WHERE `+where+`
        FOR UPDATE
    `, args...).Scan(&row.ID, &row.UserID, &row.FriendID, &row.CreatedAt)
	if err != nil {
		return models.Friendship{}, fmt.Errorf("lock friendship: %w", db.Classify(err))
	}
	return row, nil
}

func (t *pgFriendTx) DeleteFriendship(ctx context.Context, userID, friendID string) error {
	tag, err := t.tx.Exec(ctx, `
        DELETE FROM friendships
        WHERE (user_id_1 = $1 AND user_id_2 = $2)
           OR (user_id_1 = $2 AND user_id_2 = $1)
    `, userID, friendID)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", db.Classify(err))
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

var _ friends.Store = (*PostgresFriendStore)(nil)

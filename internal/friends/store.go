package friends

import (
	"context"

	"github.com/invis/backend/internal/models"
)

// Tx exposes the reads and writes the engine performs inside one transaction.
// Implementations report missing rows with db.ErrNotFound and uniqueness
// violations with db.ErrConflict.
type Tx interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	// PairState reads the relationship between a and b, in either direction.
	PairState(ctx context.Context, a, b string) (PairState, error)
	InsertRequest(ctx context.Context, request models.FriendRequest) error
	// LockRequest loads a request and holds it until the transaction ends, so
	// concurrent answers to the same request serialize.
	LockRequest(ctx context.Context, requestID string) (models.FriendRequest, error)
	DeleteRequest(ctx context.Context, requestID string) error
	// InsertFriendship stores both directed rows of a friendship.
	InsertFriendship(ctx context.Context, forward, reverse models.Friendship) error
	LockFriendship(ctx context.Context, userID, friendID string) (models.Friendship, error)
	// LockFriendshipRow loads the row only when it is owned by userID.
	LockFriendshipRow(ctx context.Context, userID, rowID string) (models.Friendship, error)
	// DeleteFriendship removes both directed rows of the pair.
	DeleteFriendship(ctx context.Context, userID, friendID string) error
}

// Store persists the friend graph.
type Store interface {
	// WithinTx runs fn in a transaction that commits only when fn returns nil.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	State(ctx context.Context, a, b string) (PairState, error)
	ListRequests(ctx context.Context, userID string) (models.PendingRequests, error)
	ListFriends(ctx context.Context, userID string) ([]models.FriendEntry, error)
	// SearchUsers matches usernames containing query case-insensitively, excluding
	// the requester, their friends, and users with a pending request either way.
	// Results are ordered by username then id.
	SearchUsers(ctx context.Context, query, requester string, limit int) ([]models.UserSummary, error)
	PendingCount(ctx context.Context, userID string) (int, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

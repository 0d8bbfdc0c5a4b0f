package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/models"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	FindByID(ctx context.Context, id string) (models.User, error)
}

// SessionManager issues, validates and revokes opaque session tokens.
type SessionManager interface {
	Issue(ctx context.Context, userID string) (auth.Issued, error)
	Validate(ctx context.Context, token string) (auth.Identity, error)
	Revoke(ctx context.Context, sessionID string) error
	TTL() time.Duration
}

// FriendService captures the friend graph operations exposed over HTTP.
type FriendService interface {
	SendRequest(ctx context.Context, from, to string) (models.FriendRequest, error)
	CancelRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error)
	DeclineRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error)
	AcceptRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error)
	RemoveFriendship(ctx context.Context, by, friendID string) (string, error)
	RemoveFriendshipRow(ctx context.Context, by, rowID string) (string, error)
	SearchUsers(ctx context.Context, query, requester string) ([]models.UserSummary, error)
	ListRequests(ctx context.Context, userID string) (models.PendingRequests, error)
	ListFriends(ctx context.Context, userID string) (models.FriendList, error)
	PendingCount(ctx context.Context, userID string) (int, error)
}

// PictureService stores profile pictures and maps stored references to URLs.
type PictureService interface {
	Replace(ctx context.Context, userID string, r io.Reader, contentType string) (string, error)
	URL(picture string) string
	MaxBytes() int64
}

// RealtimeServer runs a WebSocket connection for an authenticated user.
type RealtimeServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

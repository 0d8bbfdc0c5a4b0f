package friends

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/logging"
	"github.com/invis/backend/internal/models"
	"github.com/invis/backend/internal/realtime"
)

// SearchLimit caps the number of users returned by SearchUsers.
const SearchLimit = 10

// PresenceChecker reports whether a user holds a live connection.
type PresenceChecker interface {
	IsOnline(userID string) bool
}

// Engine applies friend graph operations and notifies the affected users once
// the change is committed.
type Engine struct {
	store    Store
	notifier realtime.Notifier
	presence PresenceChecker
	now      func() time.Time
	newID    func() string
}

// NewEngine constructs an Engine. A nil notifier discards events; a nil
// presence checker reports everyone offline.
func NewEngine(store Store, notifier realtime.Notifier, presence PresenceChecker) *Engine {
	if store == nil {
		panic("friends: store must not be nil")
	}
	if notifier == nil {
		notifier = realtime.NopNotifier{}
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		presence: presence,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// SendRequest creates a pending request from one user to another.
func (e *Engine) SendRequest(ctx context.Context, from, to string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.send_request")
	defer span.End()

	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return models.FriendRequest{}, apperr.Validation("userId is required")
	}
	if from == to {
		return models.FriendRequest{}, apperr.Validation("cannot send a friend request to yourself")
	}

	request := models.FriendRequest{ID: e.newID(), Outgoing: from, Incoming: to, CreatedAt: e.now()}

	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		exists, err := tx.UserExists(ctx, to)
		if err != nil {
			return err
		}
		if !exists {
			return apperr.NotFound("user not found")
		}

		state, err := tx.PairState(ctx, from, to)
		if err != nil {
			return err
		}
		if _, err := Transition(state, Send, from, to); err != nil {
			return err
		}
		return tx.InsertRequest(ctx, request)
	})
	if err != nil {
		err = classify(err, "user not found", "a friend request between these users already exists")
		span.Fail(err)
		return models.FriendRequest{}, err
	}

	e.notifier.Notify(ctx, to, realtime.Event{
		Kind: realtime.FriendRequest,
		Data: realtime.RequestNotice{RowID: request.ID, FromID: from},
	})
	e.notifier.Notify(ctx, to, realtime.Event{Kind: realtime.UpdateNavbar})
	return request, nil
}

// CancelRequest withdraws a request. Only the sender may cancel.
func (e *Engine) CancelRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.cancel_request")
	defer span.End()

	request, err := e.answer(ctx, requestID, by, Cancel)
	if err != nil {
		span.Fail(err)
		return models.FriendRequest{}, err
	}

	e.notifier.Notify(ctx, request.Incoming, realtime.Event{Kind: realtime.FriendRequestReload})
	e.notifier.Notify(ctx, request.Incoming, realtime.Event{Kind: realtime.UpdateNavbar})
	return request, nil
}

// DeclineRequest rejects a request. Only the recipient may decline.
func (e *Engine) DeclineRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.decline_request")
	defer span.End()

	request, err := e.answer(ctx, requestID, by, Decline)
	if err != nil {
		span.Fail(err)
		return models.FriendRequest{}, err
	}

	e.notifier.Notify(ctx, request.Outgoing, realtime.Event{Kind: realtime.FriendRequestReload})
	e.notifier.Notify(ctx, request.Incoming, realtime.Event{Kind: realtime.UpdateNavbar})
	return request, nil
}

// AcceptRequest turns a request into a friendship. Only the recipient may accept.
func (e *Engine) AcceptRequest(ctx context.Context, requestID, by string) (models.FriendRequest, error) {
	ctx, span := logging.StartSpan(ctx, "friends.accept_request")
	defer span.End()

	request, err := e.answer(ctx, requestID, by, Accept)
	if err != nil {
		span.Fail(err)
		return models.FriendRequest{}, err
	}

	e.notifier.Notify(ctx, request.Outgoing, realtime.Event{Kind: realtime.FriendRequestReload})
	e.notifier.Notify(ctx, request.Outgoing, realtime.Event{Kind: realtime.FriendsListReload})
	e.notifier.Notify(ctx, request.Incoming, realtime.Event{Kind: realtime.UpdateNavbar})
	e.notifier.Notify(ctx, request.Incoming, realtime.Event{Kind: realtime.FriendsListReload})
	return request, nil
}

func (e *Engine) answer(ctx context.Context, requestID, by string, action Action) (models.FriendRequest, error) {
	requestID, by = strings.TrimSpace(requestID), strings.TrimSpace(by)
	if requestID == "" {
		return models.FriendRequest{}, apperr.Validation("rowId is required")
	}
	if by == "" {
		return models.FriendRequest{}, apperr.Validation("user id is required")
	}

	var answered models.FriendRequest
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		request, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if by != request.Outgoing && by != request.Incoming {
			return apperr.Forbidden("not a party to this friend request")
		}

		state := PairState{Kind: Pending, From: request.Outgoing, RequestID: request.ID}
		if _, err := Transition(state, action, by, request.Counterpart(by)); err != nil {
			return err
		}
		if err := tx.DeleteRequest(ctx, request.ID); err != nil {
			return err
		}

		if action == Accept {
			now := e.now()
			forward := models.Friendship{ID: e.newID(), UserID: request.Incoming, FriendID: request.Outgoing, CreatedAt: now}
			reverse := models.Friendship{ID: e.newID(), UserID: request.Outgoing, FriendID: request.Incoming, CreatedAt: now}
			if err := tx.InsertFriendship(ctx, forward, reverse); err != nil {
				return err
			}
		}

		answered = request
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, classify(err, "friend request not found", "users are already friends")
	}
	return answered, nil
}

// RemoveFriendship ends the friendship between by and friendID and returns the
// removed friend id.
func (e *Engine) RemoveFriendship(ctx context.Context, by, friendID string) (string, error) {
	ctx, span := logging.StartSpan(ctx, "friends.remove_friendship")
	defer span.End()

	by, friendID = strings.TrimSpace(by), strings.TrimSpace(friendID)
	if friendID == "" {
		return "", apperr.Validation("userId is required")
	}

	removed, err := e.remove(ctx, by, func(ctx context.Context, tx Tx) (models.Friendship, error) {
		return tx.LockFriendship(ctx, by, friendID)
	})
	if err != nil {
		span.Fail(err)
		return "", err
	}
	return removed, nil
}

// RemoveFriendshipRow ends the friendship identified by one of by's friendship
// rows and returns the removed friend id.
func (e *Engine) RemoveFriendshipRow(ctx context.Context, by, rowID string) (string, error) {
	ctx, span := logging.StartSpan(ctx, "friends.remove_friendship")
	defer span.End()

	by, rowID = strings.TrimSpace(by), strings.TrimSpace(rowID)
	if rowID == "" {
		return "", apperr.Validation("rowId is required")
	}

	removed, err := e.remove(ctx, by, func(ctx context.Context, tx Tx) (models.Friendship, error) {
		return tx.LockFriendshipRow(ctx, by, rowID)
	})
	if err != nil {
		span.Fail(err)
		return "", err
	}
	return removed, nil
}

func (e *Engine) remove(ctx context.Context, by string, lock func(context.Context, Tx) (models.Friendship, error)) (string, error) {
	if by == "" {
		return "", apperr.Validation("user id is required")
	}

	var friendID string
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		row, err := lock(ctx, tx)
		if errors.Is(err, db.ErrNotFound) {
			return apperr.Forbidden("users are not friends")
		}
		if err != nil {
			return err
		}
		if _, err := Transition(PairState{Kind: Friends}, Remove, by, row.FriendID); err != nil {
			return err
		}
		if err := tx.DeleteFriendship(ctx, by, row.FriendID); err != nil {
			return err
		}
		friendID = row.FriendID
		return nil
	})
	if err != nil {
		return "", classify(err, "friendship not found", "friendship changed concurrently")
	}

	e.notifier.Notify(ctx, friendID, realtime.Event{Kind: realtime.FriendsListReload})
	return friendID, nil
}

// SearchUsers finds users the requester could send a request to.
func (e *Engine) SearchUsers(ctx context.Context, query, requester string) ([]models.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validation("searchQuery is required")
	}

	users, err := e.store.SearchUsers(ctx, query, requester, SearchLimit)
	if err != nil {
		return nil, classify(err, "user not found", "search conflict")
	}
	return users, nil
}

// ListRequests returns the user's pending requests in both directions.
func (e *Engine) ListRequests(ctx context.Context, userID string) (models.PendingRequests, error) {
	requests, err := e.store.ListRequests(ctx, userID)
	if err != nil {
		return models.PendingRequests{}, apperr.Internal(err)
	}
	return requests, nil
}

// ListFriends returns the user's friends split by presence.
func (e *Engine) ListFriends(ctx context.Context, userID string) (models.FriendList, error) {
	entries, err := e.store.ListFriends(ctx, userID)
	if err != nil {
		return models.FriendList{}, apperr.Internal(err)
	}

	list := models.FriendList{Online: []models.FriendEntry{}, Offline: []models.FriendEntry{}}
	for _, entry := range entries {
		entry.Online = e.presence != nil && e.presence.IsOnline(entry.User.ID)
		if entry.Online {
			list.Online = append(list.Online, entry)
		} else {
			list.Offline = append(list.Offline, entry)
		}
	}
	return list, nil
}

// PendingCount returns the number of requests waiting for the user's answer.
func (e *Engine) PendingCount(ctx context.Context, userID string) (int, error) {
	count, err := e.store.PendingCount(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return count, nil
}

// FriendIDs returns the ids of the user's friends.
func (e *Engine) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	return e.store.FriendIDs(ctx, userID)
}

// State reports the relationship between two users.
func (e *Engine) State(ctx context.Context, a, b string) (PairState, error) {
	state, err := e.store.State(ctx, a, b)
	if err != nil {
		return PairState{}, apperr.Internal(err)
	}
	return state, nil
}

func classify(err error, notFound, conflict string) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		return apperr.NotFound(notFound)
	case errors.Is(err, db.ErrConflict):
		return apperr.Conflict(conflict)
	default:
		return apperr.Internal(err)
	}
}

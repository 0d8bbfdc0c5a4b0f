package memstore

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/friends"
	"github.com/invis/backend/internal/models"
)

// Friends is an in-memory friends.Store. Transactions are serialized and roll
// back by restoring a snapshot.
type Friends struct {
	users *Users

	mu          sync.Mutex
	requests    map[string]models.FriendRequest
	friendships map[string]models.Friendship
}

var _ friends.Store = (*Friends)(nil)

// NewFriends returns an empty friend graph over users.
func NewFriends(users *Users) *Friends {
	return &Friends{
		users:       users,
		requests:    make(map[string]models.FriendRequest),
		friendships: make(map[string]models.Friendship),
	}
}

// WithinTx runs fn with exclusive access to the graph.
func (s *Friends) WithinTx(ctx context.Context, fn func(ctx context.Context, tx friends.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	requests := maps.Clone(s.requests)
	friendships := maps.Clone(s.friendships)

	if err := fn(ctx, memTx{s}); err != nil {
		s.requests = requests
		s.friendships = friendships
		return err
	}
	return nil
}

// State reports the relationship between a and b.
func (s *Friends) State(_ context.Context, a, b string) (friends.PairState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(a, b), nil
}

// ListRequests returns the user's pending requests, oldest first.
func (s *Friends) ListRequests(_ context.Context, userID string) (models.PendingRequests, error) {
	s.mu.Lock()
	requests := make([]models.FriendRequest, 0)
	for _, r := range s.requests {
		if r.Outgoing == userID || r.Incoming == userID {
			requests = append(requests, r)
		}
	}
	s.mu.Unlock()

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].ID < requests[j].ID
		}
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})

	pending := models.PendingRequests{Incoming: []models.RequestEntry{}, Outgoing: []models.RequestEntry{}}
	for _, r := range requests {
		other, ok := s.users.summary(r.Counterpart(userID))
		if !ok {
			continue
		}
		entry := models.RequestEntry{RowID: r.ID, User: other}
		if r.Incoming == userID {
			pending.Incoming = append(pending.Incoming, entry)
		} else {
			pending.Outgoing = append(pending.Outgoing, entry)
		}
	}
	return pending, nil
}

// ListFriends returns the user's friendship rows ordered by friend username.
func (s *Friends) ListFriends(_ context.Context, userID string) ([]models.FriendEntry, error) {
	s.mu.Lock()
	rows := make([]models.Friendship, 0)
	for _, f := range s.friendships {
		if f.UserID == userID {
			rows = append(rows, f)
		}
	}
	s.mu.Unlock()

	entries := make([]models.FriendEntry, 0, len(rows))
	for _, f := range rows {
		friend, ok := s.users.summary(f.FriendID)
		if !ok {
			continue
		}
		entries = append(entries, models.FriendEntry{RowID: f.ID, User: friend})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].User.Username < entries[j].User.Username
	})
	return entries, nil
}

// SearchUsers implements friends.Store.
func (s *Friends) SearchUsers(_ context.Context, query, requester string, limit int) ([]models.UserSummary, error) {
	needle := strings.ToLower(query)

	s.mu.Lock()
	excluded := map[string]struct{}{requester: {}}
	for _, f := range s.friendships {
		if f.UserID == requester {
			excluded[f.FriendID] = struct{}{}
		}
	}
	for _, r := range s.requests {
		if r.Outgoing == requester || r.Incoming == requester {
			excluded[r.Counterpart(requester)] = struct{}{}
		}
	}
	s.mu.Unlock()

	matches := make([]models.UserSummary, 0)
	for _, user := range s.users.all() {
		if _, skip := excluded[user.ID]; skip {
			continue
		}
		if strings.Contains(strings.ToLower(user.Username), needle) {
			matches = append(matches, user.Summary())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Username == matches[j].Username {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Username < matches[j].Username
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// PendingCount counts requests addressed to the user.
func (s *Friends) PendingCount(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.requests {
		if r.Incoming == userID {
			count++
		}
	}
	return count, nil
}

// FriendIDs returns the user's friends in sorted order.
func (s *Friends) FriendIDs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	ids := make([]string, 0)
	for _, f := range s.friendships {
		if f.UserID == userID {
			ids = append(ids, f.FriendID)
		}
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids, nil
}

// FriendshipRows counts stored directed friendship rows.
func (s *Friends) FriendshipRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.friendships)
}

// RequestRows counts stored friend requests.
func (s *Friends) RequestRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Friends) stateLocked(a, b string) friends.PairState {
	for _, f := range s.friendships {
		if f.UserID == a && f.FriendID == b {
			return friends.PairState{Kind: friends.Friends}
		}
	}
	for _, r := range s.requests {
		if (r.Outgoing == a && r.Incoming == b) || (r.Outgoing == b && r.Incoming == a) {
			return friends.PairState{Kind: friends.Pending, From: r.Outgoing, RequestID: r.ID}
		}
	}
	return friends.PairState{Kind: friends.Strangers}
}

// memTx runs with Friends.mu held.
type memTx struct {
	s *Friends
}

func (t memTx) UserExists(_ context.Context, userID string) (bool, error) {
	return t.s.users.exists(userID), nil
}

func (t memTx) PairState(_ context.Context, a, b string) (friends.PairState, error) {
	return t.s.stateLocked(a, b), nil
}

func (t memTx) InsertRequest(_ context.Context, request models.FriendRequest) error {
	if !t.s.users.exists(request.Outgoing) || !t.s.users.exists(request.Incoming) {
		return db.ErrNotFound
	}
	for _, r := range t.s.requests {
		if r.ID == request.ID ||
			(r.Outgoing == request.Outgoing && r.Incoming == request.Incoming) ||
			(r.Outgoing == request.Incoming && r.Incoming == request.Outgoing) {
			return db.ErrConflict
		}
	}
	t.s.requests[request.ID] = request
	return nil
}

func (t memTx) LockRequest(_ context.Context, requestID string) (models.FriendRequest, error) {
	r, ok := t.s.requests[requestID]
	if !ok {
		return models.FriendRequest{}, db.ErrNotFound
	}
	return r, nil
}

func (t memTx) DeleteRequest(_ context.Context, requestID string) error {
	if _, ok := t.s.requests[requestID]; !ok {
		return db.ErrNotFound
	}
	delete(t.s.requests, requestID)
	return nil
}

func (t memTx) InsertFriendship(_ context.Context, forward, reverse models.Friendship) error {
	for _, row := range []models.Friendship{forward, reverse} {
		for _, f := range t.s.friendships {
			if f.UserID == row.UserID && f.FriendID == row.FriendID {
				return db.ErrConflict
			}
		}
		if _, taken := t.s.friendships[row.ID]; taken {
			return db.ErrConflict
		}
		t.s.friendships[row.ID] = row
	}
	return nil
}

func (t memTx) LockFriendship(_ context.Context, userID, friendID string) (models.Friendship, error) {
	for _, f := range t.s.friendships {
		if f.UserID == userID && f.FriendID == friendID {
			return f, nil
		}
	}
	return models.Friendship{}, db.ErrNotFound
}

func (t memTx) LockFriendshipRow(_ context.Context, userID, rowID string) (models.Friendship, error) {
	f, ok := t.s.friendships[rowID]
	if !ok || f.UserID != userID {
		return models.Friendship{}, db.ErrNotFound
	}
	return f, nil
}

func (t memTx) DeleteFriendship(_ context.Context, userID, friendID string) error {
	deleted := 0
	for id, f := range t.s.friendships {
		if (f.UserID == userID && f.FriendID == friendID) || (f.UserID == friendID && f.FriendID == userID) {
			delete(t.s.friendships, id)
			deleted++
		}
	}
	if deleted == 0 {
		return db.ErrNotFound
	}
	return nil
}

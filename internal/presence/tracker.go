// Package presence tracks which users currently hold a live real-time connection.
package presence

import (
	"sort"
	"sync"
)

// Tracker maps users to their live connection ids. A user is online while at
// least one connection is registered.
type Tracker struct {
	mu     sync.Mutex
	byUser map[string]map[string]struct{}
	byConn map[string]string
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// MarkOnline registers connID for userID and reports whether this is the user's
// first live connection. Re-registering a connection under another user moves it.
func (t *Tracker) MarkOnline(userID, connID string) (first bool) {
	if userID == "" || connID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if owner, ok := t.byConn[connID]; ok {
		if owner == userID {
			return false
		}
		t.removeLocked(connID)
	}

	conns, ok := t.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		t.byUser[userID] = conns
	}
	first = len(conns) == 0
	conns[connID] = struct{}{}
	t.byConn[connID] = userID
	return first
}

// MarkOffline removes connID and reports its owner and whether it was the
// owner's last connection. Unknown connections return an empty user id.
func (t *Tracker) MarkOffline(connID string) (userID string, last bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(connID)
}

func (t *Tracker) removeLocked(connID string) (string, bool) {
	userID, ok := t.byConn[connID]
	if !ok {
		return "", false
	}
	delete(t.byConn, connID)

	conns := t.byUser[userID]
	delete(conns, connID)
	if len(conns) > 0 {
		return userID, false
	}
	delete(t.byUser, userID)
	return userID, true
}

// IsOnline reports whether userID has at least one live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byUser[userID]) > 0
}

// Connections returns the user's connection ids in sorted order.
func (t *Tracker) Connections(userID string) []string {
	t.mu.Lock()
	conns := make([]string, 0, len(t.byUser[userID]))
	for connID := range t.byUser[userID] {
		conns = append(conns, connID)
	}
	t.mu.Unlock()

	sort.Strings(conns)
	return conns
}

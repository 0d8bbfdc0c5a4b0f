package models

import "time"

// DefaultProfilePicture is the picture every account starts with. It is never
// deleted from object storage.
const DefaultProfilePicture = "defaultprofile.jpg"

// User represents an account.
type User struct {
	ID             string
	Username       string
	PasswordHash   string
	ProfilePicture string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Summary returns the public projection of the user.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, ProfilePicture: u.ProfilePicture}
}

// UserSummary is the part of a user that other users may see.
type UserSummary struct {
	ID             string
	Username       string
	ProfilePicture string
}

// FriendRequest is a pending, directed invitation. At most one exists per
// unordered pair of users.
type FriendRequest struct {
	ID        string
	Outgoing  string
	Incoming  string
	CreatedAt time.Time
}

// Counterpart returns the party of the request that is not userID.
func (r FriendRequest) Counterpart(userID string) string {
	if r.Outgoing == userID {
		return r.Incoming
	}
	return r.Outgoing
}

// Friendship is one directed row of a mutual friendship; the reverse row always
// exists alongside it.
type Friendship struct {
	ID        string
	UserID    string
	FriendID  string
	CreatedAt time.Time
}

// RequestEntry is a pending request as shown to one of its parties.
type RequestEntry struct {
	RowID string
	User  UserSummary
}

// PendingRequests splits a user's pending requests by direction.
type PendingRequests struct {
	Incoming []RequestEntry
	Outgoing []RequestEntry
}

// FriendEntry is a friendship row as shown to its owner, with presence.
type FriendEntry struct {
	RowID  string
	User   UserSummary
	Online bool
}

// FriendList splits a user's friends by presence.
type FriendList struct {
	Online  []FriendEntry
	Offline []FriendEntry
}

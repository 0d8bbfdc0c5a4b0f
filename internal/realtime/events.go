// Package realtime pushes server events to users over WebSocket connections.
package realtime

import (
	"context"
	"encoding/json"
)

// Kind names an event on the wire.
type Kind string

// Server to client events.
const (
	FriendRequest       Kind = "friend_request"
	FriendRequestReload Kind = "friend_request_reload"
	FriendsListReload   Kind = "friends_list_reload"
	FriendStatusUpdate  Kind = "friend_status_update"
	UpdateNavbar        Kind = "update_navbar"
)

// JoinOnline is the only client to server event.
const JoinOnline Kind = "join_online"

// Status values carried by FriendStatusUpdate.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Event is one push to a user.
type Event struct {
	Kind Kind
	Data any
}

// StatusUpdate is the payload of FriendStatusUpdate.
type StatusUpdate struct {
	FriendID string `json:"friendId"`
	Status   string `json:"status"`
}

// RequestNotice is the payload of FriendRequest.
type RequestNotice struct {
	RowID  string `json:"rowId"`
	FromID string `json:"fromId"`
}

// Notifier delivers events to users. Delivery is best effort and at most once:
// offline users are skipped silently and nothing is queued for later.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event)
}

// NopNotifier discards every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string, Event) {}

type frame struct {
	Event Kind `json:"event"`
	Data  any  `json:"data,omitempty"`
}

type inboundFrame struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// EncodeFrame renders an event as the JSON text frame sent to clients.
func EncodeFrame(event Event) ([]byte, error) {
	return json.Marshal(frame{Event: event.Kind, Data: event.Data})
}

// Package friends implements the friend-request state machine and the engine
// that applies it transactionally.
package friends

import "github.com/invis/backend/internal/apperr"

// StateKind enumerates the relationship between an unordered pair of users.
type StateKind int

const (
	Strangers StateKind = iota
	Pending
	Friends
)

func (k StateKind) String() string {
	switch k {
	case Strangers:
		return "strangers"
	case Pending:
		return "pending"
	case Friends:
		return "friends"
	default:
		return "unknown"
	}
}

// PairState is the relationship between two users. From and RequestID are set
// only when Kind is Pending.
type PairState struct {
	Kind      StateKind
	From      string
	RequestID string
}

// Action is a user-initiated change to a PairState.
type Action int

const (
	Send Action = iota
	Cancel
	Decline
	Accept
	Remove
)

func (a Action) String() string {
	switch a {
	case Send:
		return "send"
	case Cancel:
		return "cancel"
	case Decline:
		return "decline"
	case Accept:
		return "accept"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

// Transition applies action by actor against other and returns the next state.
// Illegal transitions return an *apperr.Error.
func Transition(state PairState, action Action, actor, other string) (PairState, error) {
	if actor == "" || other == "" {
		return state, apperr.Validation("user id is required")
	}
	if actor == other {
		return state, apperr.Validation("cannot befriend yourself")
	}

	switch action {
	case Send:
		switch state.Kind {
		case Strangers:
			return PairState{Kind: Pending, From: actor}, nil
		case Pending:
			return state, apperr.Conflict("a friend request between these users already exists")
		default:
			return state, apperr.Conflict("users are already friends")
		}

	case Cancel:
		if state.Kind != Pending {
			return state, apperr.NotFound("friend request not found")
		}
		if state.From != actor {
			return state, apperr.Forbidden("only the sender can cancel a friend request")
		}
		return PairState{Kind: Strangers}, nil

	case Decline, Accept:
		if state.Kind != Pending {
			return state, apperr.NotFound("friend request not found")
		}
		if state.From != other {
			return state, apperr.Forbidden("only the recipient can answer a friend request")
		}
		if action == Decline {
			return PairState{Kind: Strangers}, nil
		}
		return PairState{Kind: Friends}, nil

	case Remove:
		if state.Kind != Friends {
			return state, apperr.Forbidden("users are not friends")
		}
		return PairState{Kind: Strangers}, nil
	}

	return state, apperr.Validation("unknown action")
}

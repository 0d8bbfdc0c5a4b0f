package handlers

import (
	"context"
	"net/http"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/models"
)

// FriendHandler exposes the friend graph over HTTP.
type FriendHandler struct {
	Friends  FriendService
	Pictures PictureService
}

type searchRequest struct {
	SearchQuery string `json:"searchQuery"`
}

type userRequest struct {
	UserID string `json:"userId"`
}

type rowRequest struct {
	RowID  string `json:"rowId"`
	UserID string `json:"userId"`
}

type searchResult struct {
	UserID            string `json:"user_id"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

type friendRow struct {
	UserID            string `json:"userId"`
	Username          string `json:"username"`
	ProfilePictureURL string `json:"profile_picture_url"`
	RowID             string `json:"rowId"`
}

type requestsResponse struct {
	Outgoing []friendRow `json:"outgoing"`
	Incoming []friendRow `json:"incoming"`
}

type friendsResponse struct {
	Online  []friendRow `json:"online"`
	Offline []friendRow `json:"offline"`
}

type searchResponse struct {
	Found   int            `json:"found"`
	Message string         `json:"message,omitempty"`
	Data    []searchResult `json:"data"`
}

// Search handles POST /friend_search.
func (h FriendHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	users, err := h.Friends.SearchUsers(ctx, req.SearchQuery, identity.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	resp := searchResponse{Data: make([]searchResult, 0, len(users))}
	for _, u := range users {
		resp.Data = append(resp.Data, searchResult{
			UserID:            u.ID,
			Username:          u.Username,
			ProfilePictureURL: h.pictureURL(u.ProfilePicture),
		})
	}
	if len(users) > 0 {
		resp.Found = 1
	} else {
		resp.Message = "no users found"
	}
	respondJSON(ctx, w, http.StatusOK, resp)
}

// Requests handles GET /friend_requests.
func (h FriendHandler) Requests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	pending, err := h.Friends.ListRequests(ctx, identity.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, requestsResponse{
		Outgoing: h.requestRows(pending.Outgoing),
		Incoming: h.requestRows(pending.Incoming),
	})
}

// Send handles POST /send_friend_request.
func (h FriendHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.UserID == "" {
		respondError(ctx, w, apperr.Validation("userId is required"))
		return
	}

	request, err := h.Friends.SendRequest(ctx, identity.UserID, req.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondMessage(ctx, w, http.StatusCreated, "friend request sent", map[string]string{"rowId": request.ID})
}

// Cancel handles POST /cancel_friend_request.
func (h FriendHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.Friends.CancelRequest, http.StatusOK, "friend request cancelled")
}

// Decline handles POST /decline_friend_request.
func (h FriendHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.Friends.DeclineRequest, http.StatusOK, "friend request declined")
}

// Accept handles POST /accept_friend_request.
func (h FriendHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.Friends.AcceptRequest, http.StatusCreated, "friend request accepted")
}

type requestAction func(ctx context.Context, requestID, by string) (models.FriendRequest, error)

func (h FriendHandler) answer(w http.ResponseWriter, r *http.Request, action requestAction, status int, message string) {
	ctx := r.Context()
	identity := mustIdentity(r)

	var req rowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.RowID == "" {
		respondError(ctx, w, apperr.Validation("rowId is required"))
		return
	}

	if _, err := action(ctx, req.RowID, identity.UserID); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondMessage(ctx, w, status, message, nil)
}

// List handles GET /friends_list.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	list, err := h.Friends.ListFriends(ctx, identity.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, friendsResponse{
		Online:  h.friendRows(list.Online),
		Offline: h.friendRows(list.Offline),
	})
}

// Remove handles POST /remove_friend with either {rowId} or {userId}.
func (h FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	var req rowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	var err error
	switch {
	case req.RowID != "":
		_, err = h.Friends.RemoveFriendshipRow(ctx, identity.UserID, req.RowID)
	case req.UserID != "":
		_, err = h.Friends.RemoveFriendship(ctx, identity.UserID, req.UserID)
	default:
		err = apperr.Validation("rowId is required")
	}
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondMessage(ctx, w, http.StatusOK, "friend removed", nil)
}

// Notifications handles GET /notifications.
func (h FriendHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	count, err := h.Friends.PendingCount(ctx, identity.UserID)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondMessage(ctx, w, http.StatusOK, "notifications fetched", map[string]int{"friend_requests": count})
}

func (h FriendHandler) requestRows(entries []models.RequestEntry) []friendRow {
	rows := make([]friendRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, h.row(e.RowID, e.User))
	}
	return rows
}

func (h FriendHandler) friendRows(entries []models.FriendEntry) []friendRow {
	rows := make([]friendRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, h.row(e.RowID, e.User))
	}
	return rows
}

func (h FriendHandler) row(rowID string, u models.UserSummary) friendRow {
	return friendRow{UserID: u.ID, Username: u.Username, ProfilePictureURL: h.pictureURL(u.ProfilePicture), RowID: rowID}
}

func (h FriendHandler) pictureURL(picture string) string {
	return pictureURL(h.Pictures, picture)
}

func pictureURL(pictures PictureService, picture string) string {
	if picture == "" {
		picture = models.DefaultProfilePicture
	}
	if pictures == nil {
		return "/uploads/" + picture
	}
	return pictures.URL(picture)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/db"
)

const multipartOverhead = 1 << 20

// ProfileHandler serves the current user's profile and picture uploads.
type ProfileHandler struct {
	Users    UserStore
	Pictures PictureService
}

type userInfo struct {
	UserID             string `json:"user_id"`
	Username           string `json:"username"`
	ProfilePictureFile string `json:"profile_picture_file"`
	ProfilePictureURL  string `json:"profile_picture_url"`
}

// UserInfo handles GET /user_info.
func (h ProfileHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	user, err := h.Users.FindByID(ctx, identity.UserID)
	if errors.Is(err, db.ErrNotFound) {
		respondError(ctx, w, apperr.NotFound("user not found"))
		return
	}
	if err != nil {
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	respondMessage(ctx, w, http.StatusOK, "data fetched", userInfo{
		UserID:             user.ID,
		Username:           user.Username,
		ProfilePictureFile: user.ProfilePicture,
		ProfilePictureURL:  pictureURL(h.Pictures, user.ProfilePicture),
	})
}

// UploadPicture handles POST /upload_profile_pic with a multipart "file" field.
func (h ProfileHandler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	if h.Pictures == nil {
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{
			Code:    "UNAVAILABLE",
			Message: "picture uploads are not configured",
		}})
		return
	}

	maxBytes := h.Pictures.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(ctx, w, apperr.Validation("file is too large"))
			return
		}
		respondError(ctx, w, apperr.Validation("invalid multipart body"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(ctx, w, apperr.Validation("the request is missing a file"))
		return
	}
	defer file.Close()

	url, err := h.Pictures.Replace(ctx, identity.UserID, file, header.Header.Get("Content-Type"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	respondMessage(ctx, w, http.StatusCreated, "profile picture updated", map[string]string{"profile_picture_url": url})
}

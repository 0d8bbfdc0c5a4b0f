package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/logging"
	"github.com/invis/backend/internal/models"
)

const (
	minUsernameLen = 5
	maxUsernameLen = 20
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes.
	maxPasswordLen = 72
)

// AuthHandler implements registration, login, logout and session validation.
type AuthHandler struct {
	Users    UserStore
	Sessions SessionManager
	Cookie   CookieConfig
	NowFunc  func() time.Time
	// HashCost overrides bcrypt.DefaultCost; tests lower it.
	HashCost int
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type validateRequest struct {
	UserSession string `json:"user_session"`
}

type registeredUser struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type sessionInfo struct {
	Valid  bool      `json:"valid"`
	ID     string    `json:"id"`
	UserID string    `json:"user_id"`
	Token  tokenInfo `json:"token"`
}

type tokenInfo struct {
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register handles POST /register.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	if err := validateUsername(req.Username); err != nil {
		respondError(ctx, w, err)
		return
	}
	if err := validatePassword(req.Password); err != nil {
		respondError(ctx, w, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.hashCost())
	if err != nil {
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	now := h.now()
	user := models.User{
		ID:             uuid.NewString(),
		Username:       req.Username,
		PasswordHash:   string(hashed),
		ProfilePicture: models.DefaultProfilePicture,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrConflict) {
			respondError(ctx, w, apperr.Conflict("username already taken"))
			return
		}
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	logger.Info("user registered", "user_id", user.ID)
	respondMessage(ctx, w, http.StatusCreated, "user registered", map[string]registeredUser{
		"user": {UserID: user.ID, Username: user.Username},
	})
}

// Login handles POST /login and sets the session cookie.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		respondError(ctx, w, apperr.Validation("username and password are required"))
		return
	}

	badCredentials := apperr.Unauthenticated("incorrect username or password")

	user, err := h.Users.FindByUsername(ctx, req.Username)
	if errors.Is(err, db.ErrNotFound) {
		logger.Warn("login unknown username")
		respondError(ctx, w, badCredentials)
		return
	}
	if err != nil {
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn("login password mismatch", "user_id", user.ID)
		respondError(ctx, w, badCredentials)
		return
	}

	issued, err := h.Sessions.Issue(ctx, user.ID)
	if err != nil {
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	setSessionCookie(w, h.Cookie, issued.Token, issued.ExpiresAt, h.Sessions.TTL())
	respondMessage(ctx, w, http.StatusOK, "logged in", nil)
}

// Logout handles POST /logout. It revokes the current session and clears the cookie.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity := mustIdentity(r)

	clearSessionCookie(w, h.Cookie)

	if err := h.Sessions.Revoke(ctx, identity.SessionID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		respondError(ctx, w, apperr.Internal(err))
		return
	}

	respondMessage(ctx, w, http.StatusOK, "logged out", nil)
}

// ValidateSession handles GET and POST /validate-session. GET reads the cookie,
// POST reads {"user_session": token}.
func (h AuthHandler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var token string
	switch r.Method {
	case http.MethodGet:
		token = sessionToken(r)
	case http.MethodPost:
		var req validateRequest
		if err := decodeJSON(r, &req); err != nil {
			respondError(ctx, w, err)
			return
		}
		token = req.UserSession
	default:
		methodNotAllowed(w, r)
		return
	}

	if token == "" {
		respondError(ctx, w, apperr.Validation("session token is required"))
		return
	}

	identity, err := h.Sessions.Validate(ctx, token)
	if err != nil {
		respondError(ctx, w, sessionError(err))
		return
	}

	respondMessage(ctx, w, http.StatusOK, "session is valid", sessionInfo{
		Valid:  true,
		ID:     identity.SessionID,
		UserID: identity.UserID,
		Token:  tokenInfo{IssuedAt: identity.IssuedAt, ExpiresAt: identity.ExpiresAt},
	})
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

func (h AuthHandler) hashCost() int {
	if h.HashCost > 0 {
		return h.HashCost
	}
	return bcrypt.DefaultCost
}

func validateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return apperr.Validation("username must be between 5 and 20 characters")
	}
	for _, r := range username {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return apperr.Validation("username must contain printable ASCII characters without whitespace")
		}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen {
		return apperr.Validation("password must be at least 8 characters")
	}
	if len(password) > maxPasswordLen {
		return apperr.Validation("password must be at most 72 bytes")
	}
	if strings.TrimSpace(password) == "" {
		return apperr.Validation("password must not be blank")
	}
	return nil
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/logging"
)

// SessionCookieName is the cookie carrying the plaintext session token.
const SessionCookieName = "user_session"

// CookieConfig controls the attributes of the session cookie.
type CookieConfig struct {
	Secure bool
}

type identityKey struct{}

func withIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the session identity attached by RequireSession.
func IdentityFromContext(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}

// RequireSession rejects requests without a valid session cookie and attaches
// the identity to the request context.
func RequireSession(sessions SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := sessionToken(r)
			if token == "" {
				respondError(ctx, w, apperr.Unauthenticated("not logged in"))
				return
			}

			identity, err := sessions.Validate(ctx, token)
			if err != nil {
				respondError(ctx, w, sessionError(err))
				return
			}

			ctx = logging.WithUserID(withIdentity(ctx, identity), identity.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionError(err error) error {
	if errors.Is(err, auth.ErrInvalidSession) {
		return apperr.Unauthenticated("session is invalid or expired")
	}
	return apperr.Internal(err)
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func setSessionCookie(w http.ResponseWriter, cfg CookieConfig, token string, expiresAt time.Time, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func mustIdentity(r *http.Request) auth.Identity {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		panic("handlers: route registered without RequireSession")
	}
	return identity
}

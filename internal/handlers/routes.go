package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/invis/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users       UserStore
	Sessions    SessionManager
	Friends     FriendService
	Pictures    PictureService
	Realtime    RealtimeServer
	AuthLimiter RateLimiter
	Cookie      CookieConfig
	Health      map[string]HealthChecker
	// PasswordCost overrides the bcrypt cost used at registration.
	PasswordCost int
}

// NewRouter wires every endpoint behind request logging and panic recovery.
func NewRouter(deps Dependencies, logger *slog.Logger) http.Handler {
	health := HealthHandler{Checks: deps.Health}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Cookie: deps.Cookie, HashCost: deps.PasswordCost}
	friends := FriendHandler{Friends: deps.Friends, Pictures: deps.Pictures}
	profile := ProfileHandler{Users: deps.Users, Pictures: deps.Pictures}
	realtime := RealtimeHandler{Hub: deps.Realtime}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", health.Handle)
	r.Get("/validate-session", auth.ValidateSession)
	r.Post("/validate-session", auth.ValidateSession)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(deps.AuthLimiter, "auth"))
		r.Post("/register", auth.Register)
		r.Post("/login", auth.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(deps.Sessions))

		r.Post("/logout", auth.Logout)
		r.Get("/user_info", profile.UserInfo)
		r.Post("/upload_profile_pic", profile.UploadPicture)

		r.Post("/friend_search", friends.Search)
		r.Get("/friend_requests", friends.Requests)
		r.Post("/send_friend_request", friends.Send)
		r.Post("/cancel_friend_request", friends.Cancel)
		r.Post("/decline_friend_request", friends.Decline)
		r.Post("/accept_friend_request", friends.Accept)
		r.Get("/friends_list", friends.List)
		r.Post("/remove_friend", friends.Remove)
		r.Get("/notifications", friends.Notifications)

		if deps.Realtime != nil {
			r.Get("/ws", realtime.Connect)
		}
	})

	return r
}

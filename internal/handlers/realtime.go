package handlers

import "net/http"

// RealtimeHandler upgrades authenticated requests to WebSocket connections.
type RealtimeHandler struct {
	Hub RealtimeServer
}

// Connect handles GET /ws.
func (h RealtimeHandler) Connect(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)
	h.Hub.Serve(w, r, identity.UserID)
}

package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/invis/backend/internal/logging"
	"github.com/invis/backend/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	defaultSendBuffer = 16
)

// FriendLister resolves the users that care about a user's presence.
type FriendLister interface {
	FriendIDs(ctx context.Context, userID string) ([]string, error)
}

// HubConfig tunes a Hub.
type HubConfig struct {
	// SendBuffer is the number of frames queued per connection before the
	// connection is dropped as too slow.
	SendBuffer int
	// AllowedOrigins lists the origins allowed to open a connection. Empty means
	// same-origin only.
	AllowedOrigins []string
}

// Hub owns the live WebSocket connections, keeps the presence tracker in sync
// with them, and implements Notifier.
type Hub struct {
	tracker  *presence.Tracker
	friends  FriendLister
	logger   *slog.Logger
	upgrader websocket.Upgrader
	buffer   int

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

type client struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
}

var _ Notifier = (*Hub)(nil)

// NewHub constructs a Hub. friends may be nil, in which case presence changes
// are not broadcast.
func NewHub(tracker *presence.Tracker, friends FriendLister, cfg HubConfig, logger *slog.Logger) *Hub {
	if tracker == nil {
		panic("realtime: presence tracker must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	buffer := cfg.SendBuffer
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}

	h := &Hub{
		tracker: tracker,
		friends: friends,
		logger:  logger,
		buffer:  buffer,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.TrimSpace(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}

// Serve upgrades the request and runs the connection for the authenticated
// userID until the peer disconnects or the hub shuts down.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	logger := logging.FromContext(r.Context())

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, h.buffer),
	}
	logger = logger.With(slog.String("conn_id", c.id))

	if !h.register(c) {
		_ = ws.Close()
		return
	}
	logger.Info("websocket connected")

	// Presence work outlives the request context once the peer is gone.
	ctx := logging.WithLogger(context.WithoutCancel(r.Context()), logger)

	go h.writeLoop(c)
	h.readLoop(ctx, c)
	h.unregister(ctx, c)

	logger.Info("websocket disconnected")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(ctx context.Context, c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()

	if userID, last := h.tracker.MarkOffline(c.id); last {
		h.broadcastStatus(ctx, userID, StatusOffline)
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer c.ws.Close()

	logger := logging.FromContext(ctx)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read ended", slog.String("error", err.Error()))
			}
			return
		}

		var in inboundFrame
		if err := json.Unmarshal(msg, &in); err != nil {
			logger.Warn("discarding malformed frame", slog.String("error", err.Error()))
			continue
		}

		switch in.Event {
		case JoinOnline:
			h.join(ctx, c, in.Data)
		default:
			logger.Debug("ignoring client event", slog.String("event", string(in.Event)))
		}
	}
}

func (h *Hub) join(ctx context.Context, c *client, data json.RawMessage) {
	var claimed string
	if err := json.Unmarshal(data, &claimed); err != nil || claimed != c.userID {
		logging.FromContext(ctx).Warn("ignoring join for another user", slog.String("claimed_user_id", claimed))
		return
	}

	if h.tracker.MarkOnline(c.userID, c.id) {
		h.broadcastStatus(ctx, c.userID, StatusOnline)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Notify pushes event to every live connection of userID. Offline users are
// skipped. A connection whose buffer is full is closed.
func (h *Hub) Notify(ctx context.Context, userID string, event Event) {
	if !h.tracker.IsOnline(userID) {
		return
	}

	payload, err := EncodeFrame(event)
	if err != nil {
		logging.FromContext(ctx).Error("encode realtime frame", slog.String("event", string(event.Kind)), slog.String("error", err.Error()))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, connID := range h.tracker.Connections(userID) {
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case c.send <- payload:
		default:
			logging.FromContext(ctx).Warn("dropping slow websocket connection",
				slog.String("conn_id", c.id),
				slog.String("recipient_id", userID),
			)
			_ = c.ws.Close()
		}
	}
}

func (h *Hub) broadcastStatus(ctx context.Context, userID, status string) {
	if h.friends == nil {
		return
	}
	friendIDs, err := h.friends.FriendIDs(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("list friends for presence update", slog.String("error", err.Error()))
		return
	}
	event := Event{Kind: FriendStatusUpdate, Data: StatusUpdate{FriendID: userID, Status: status}}
	for _, friendID := range friendIDs {
		h.Notify(ctx, friendID, event)
	}
}

// Shutdown closes every connection and waits for their handlers to return.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.clients {
		_ = c.ws.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

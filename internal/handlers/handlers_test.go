package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/friends"
	"github.com/invis/backend/internal/memstore"
	"github.com/invis/backend/internal/presence"
	"github.com/invis/backend/internal/profile"
	"github.com/invis/backend/internal/realtime"
	"github.com/invis/backend/internal/storage"
)

type testEnv struct {
	server   *httptest.Server
	users    *memstore.Users
	friends  *memstore.Friends
	sessions *auth.Manager
	tracker  *presence.Tracker
	hub      *realtime.Hub
	objects  *storage.MemoryStorage
}

type envOption func(*Dependencies)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	users := memstore.NewUsers()
	friendStore := memstore.NewFriends(users)
	tracker := presence.NewTracker()
	hub := realtime.NewHub(tracker, friendStore, realtime.HubConfig{}, logger)
	engine := friends.NewEngine(friendStore, hub, tracker)
	sessions := auth.NewManager(24*time.Hour, auth.NewInMemorySessionStore())
	objects := storage.NewMemoryStorage("https://cdn.example.com")

	pictures, err := profile.NewService(profile.Config{
		Users:    users,
		Objects:  objects,
		Friends:  friendStore,
		Notifier: hub,
		MaxBytes: 1 << 10,
	})
	if err != nil {
		t.Fatalf("profile service: %v", err)
	}

	deps := Dependencies{
		Users:        users,
		Sessions:     sessions,
		Friends:      engine,
		Pictures:     pictures,
		Realtime:     hub,
		PasswordCost: bcrypt.MinCost,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	server := httptest.NewServer(NewRouter(deps, logger))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		server.Close()
	})

	return &testEnv{
		server:   server,
		users:    users,
		friends:  friendStore,
		sessions: sessions,
		tracker:  tracker,
		hub:      hub,
		objects:  objects,
	}
}

// browser is an HTTP client with its own cookie jar.
type browser struct {
	t      *testing.T
	env    *testEnv
	client *http.Client
	userID string
}

func (e *testEnv) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &browser{t: t, env: e, client: &http.Client{Jar: jar}}
}

// signUp registers and logs in username, returning the browser.
func (e *testEnv) signUp(t *testing.T, username string) *browser {
	t.Helper()
	b := e.browser(t)

	status, body := b.do(http.MethodPost, "/register", map[string]string{"username": username, "password": "password123"})
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %s", username, status, body)
	}
	var registered struct {
		Data struct {
			User registeredUser `json:"user"`
		} `json:"data"`
	}
	decode(t, body, &registered)
	b.userID = registered.Data.User.UserID

	status, body = b.do(http.MethodPost, "/login", map[string]string{"username": username, "password": "password123"})
	if status != http.StatusOK {
		t.Fatalf("login %s: status %d body %s", username, status, body)
	}
	return b
}

func (b *browser) do(method, path string, payload any) (int, []byte) {
	b.t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			b.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, b.env.server.URL+path, body)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, data
}

func (b *browser) expect(method, path string, payload any, want int) []byte {
	b.t.Helper()
	status, body := b.do(method, path, payload)
	if status != want {
		b.t.Fatalf("%s %s: expected status %d got %d body %s", method, path, want, status, body)
	}
	return body
}

func (b *browser) dial() *websocket.Conn {
	b.t.Helper()
	dialer := websocket.Dialer{Jar: b.client.Jar, HandshakeTimeout: 2 * time.Second}
	url := "ws" + strings.TrimPrefix(b.env.server.URL, "http") + "/ws"
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		b.t.Fatalf("dial websocket: %v", err)
	}
	b.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func decode(t *testing.T, body []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(body, dst); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp errorBody
	decode(t, body, &resp)
	return resp.Error.Code
}

func jsonBody(t *testing.T, payload any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(raw)
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/invis/backend/internal/apperr"
	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/friends"
	"github.com/invis/backend/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresUserRepository_CreateFindAndSwap(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresUserRepository(testPool)
	user := createTestUser(t, repo, "alice_1")

	dup := models.User{
		ID:           uuid.NewString(),
		Username:     user.Username,
		PasswordHash: "another-hash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(ctx, dup); !errors.Is(err, db.ErrConflict) {
		t.Fatalf("expected ErrConflict when creating duplicate username, got %v", err)
	}

	fetched, err := repo.FindByUsername(ctx, user.Username)
	if err != nil {
		t.Fatalf("find by username: %v", err)
	}
	if fetched.ID != user.ID || fetched.PasswordHash != user.PasswordHash {
		t.Fatalf("unexpected user fetched: %+v", fetched)
	}
	if fetched.ProfilePicture != models.DefaultProfilePicture {
		t.Fatalf("expected default picture, got %q", fetched.ProfilePicture)
	}

	if _, err := repo.FindByUsername(ctx, strings.ToUpper(user.Username)); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("usernames are case-sensitive, got %v", err)
	}
	if _, err := repo.FindByID(ctx, uuid.NewString()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "not-a-uuid"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}

	previous, err := repo.SwapProfilePicture(ctx, user.ID, "profile/new.png")
	if err != nil {
		t.Fatalf("swap picture: %v", err)
	}
	if previous != models.DefaultProfilePicture {
		t.Fatalf("expected previous default picture, got %q", previous)
	}
	previous, err = repo.SwapProfilePicture(ctx, user.ID, "profile/newer.png")
	if err != nil {
		t.Fatalf("swap picture again: %v", err)
	}
	if previous != "profile/new.png" {
		t.Fatalf("expected previous upload, got %q", previous)
	}

	if _, err := repo.SwapProfilePicture(ctx, uuid.NewString(), "x.png"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound swapping for unknown user, got %v", err)
	}
}

func TestPostgresSessionStore_CreateFindAndDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "owner_1")
	store := NewPostgresSessionStore(testPool)

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := auth.Session{ID: uuid.NewString(), UserID: user.ID, CreatedAt: now}
	token := auth.Token{
		ID:        uuid.NewString(),
		Hash:      auth.HashToken("secret"),
		UserID:    user.ID,
		SessionID: session.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}

	if err := store.Create(ctx, session, token); err != nil {
		t.Fatalf("create session: %v", err)
	}

	identity, err := store.FindByHash(ctx, token.Hash, now)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if identity.UserID != user.ID || identity.SessionID != session.ID {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !timesClose(identity.ExpiresAt, token.ExpiresAt, time.Millisecond) {
		t.Fatalf("unexpected expiry %v", identity.ExpiresAt)
	}

	if _, err := store.FindByHash(ctx, token.Hash, token.ExpiresAt); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected token to be invalid at expiry, got %v", err)
	}

	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.FindByHash(ctx, token.Hash, now); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, session.ID); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}

	var remaining int
	if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM session_tokens WHERE session_id = $1`, session.ID).Scan(&remaining); err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected tokens to cascade with their session, found %d", remaining)
	}

	expired := token
	expired.ID = uuid.NewString()
	expired.Hash = auth.HashToken("other")
	expired.ExpiresAt = expired.IssuedAt
	if err := store.Create(ctx, auth.Session{ID: uuid.NewString(), UserID: user.ID, CreatedAt: now}, expired); err == nil {
		t.Fatal("expected check constraint to reject a token that expires when issued")
	}
}

func TestPostgresSessionStore_WithManager(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	user := createTestUser(t, NewPostgresUserRepository(testPool), "owner_2")
	manager := auth.NewManager(24*time.Hour, NewPostgresSessionStore(testPool))

	issued, err := manager.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := manager.Validate(ctx, issued.Token); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := manager.Revoke(ctx, issued.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := manager.Validate(ctx, issued.Token); !errors.Is(err, auth.ErrInvalidSession) {
		t.Fatalf("expected invalid session after revoke, got %v", err)
	}
}

func TestPostgresFriendStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	alice := createTestUser(t, users, "alice_1")
	bob := createTestUser(t, users, "bobby_1")

	store := NewPostgresFriendStore(testPool)
	engine := friends.NewEngine(store, nil, nil)

	req, err := engine.SendRequest(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}

	if _, err := engine.SendRequest(ctx, bob.ID, alice.ID); !apperr.HasCode(err, apperr.CodeConflict) {
		t.Fatalf("expected reciprocal send to conflict, got %v", err)
	}

	duplicate := models.FriendRequest{ID: uuid.NewString(), Outgoing: bob.ID, Incoming: alice.ID, CreatedAt: time.Now()}
	err = store.WithinTx(ctx, func(ctx context.Context, tx friends.Tx) error {
		return tx.InsertRequest(ctx, duplicate)
	})
	if !errors.Is(err, db.ErrConflict) {
		t.Fatalf("expected pair index to reject reciprocal insert, got %v", err)
	}

	count, err := store.PendingCount(ctx, bob.ID)
	if err != nil || count != 1 {
		t.Fatalf("expected one pending request for bob, got %d (%v)", count, err)
	}

	pending, err := store.ListRequests(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(pending.Outgoing) != 1 || pending.Outgoing[0].User.ID != bob.ID || len(pending.Incoming) != 0 {
		t.Fatalf("unexpected pending requests: %+v", pending)
	}

	if _, err := engine.AcceptRequest(ctx, req.ID, alice.ID); !apperr.HasCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected sender accept to be forbidden, got %v", err)
	}
	if _, err := engine.AcceptRequest(ctx, req.ID, bob.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := engine.AcceptRequest(ctx, req.ID, bob.ID); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected second accept to be not found, got %v", err)
	}

	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		state, err := store.State(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("state: %v", err)
		}
		if state.Kind != friends.Friends {
			t.Fatalf("expected friends, got %s", state.Kind)
		}
	}

	ids, err := store.FriendIDs(ctx, alice.ID)
	if err != nil || len(ids) != 1 || ids[0] != bob.ID {
		t.Fatalf("unexpected friend ids %v (%v)", ids, err)
	}

	entries, err := store.ListFriends(ctx, bob.ID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("unexpected friends for bob %+v (%v)", entries, err)
	}

	if _, err := engine.RemoveFriendshipRow(ctx, alice.ID, entries[0].RowID); !apperr.HasCode(err, apperr.CodeForbidden) {
		t.Fatalf("expected removing another user's row to be forbidden, got %v", err)
	}
	if _, err := engine.RemoveFriendshipRow(ctx, bob.ID, entries[0].RowID); err != nil {
		t.Fatalf("remove friendship: %v", err)
	}

	state, err := store.State(ctx, alice.ID, bob.ID)
	if err != nil || state.Kind != friends.Strangers {
		t.Fatalf("expected strangers after removal, got %v (%v)", state.Kind, err)
	}

	if _, err := engine.SendRequest(ctx, bob.ID, alice.ID); err != nil {
		t.Fatalf("expected re-send after removal to succeed: %v", err)
	}
}

func TestPostgresFriendStore_DoubleCancel(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	alice := createTestUser(t, users, "alice_2")
	bob := createTestUser(t, users, "bobby_2")
	engine := friends.NewEngine(NewPostgresFriendStore(testPool), nil, nil)

	req, err := engine.SendRequest(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}
	if _, err := engine.CancelRequest(ctx, req.ID, alice.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.CancelRequest(ctx, req.ID, alice.ID); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected second cancel to be not found, got %v", err)
	}
	if _, err := engine.CancelRequest(ctx, "not-a-uuid", alice.ID); !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected malformed id to be not found, got %v", err)
	}
}

func TestPostgresFriendStore_ConcurrentReciprocalSends(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	alice := createTestUser(t, users, "alice_3")
	bob := createTestUser(t, users, "bobby_3")
	store := NewPostgresFriendStore(testPool)
	engine := friends.NewEngine(store, nil, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		wg.Add(1)
		go func(from, to string) {
			defer wg.Done()
			_, err := engine.SendRequest(ctx, from, to)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !apperr.HasCode(err, apperr.CodeConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}(pair[0], pair[1])
	}
	wg.Wait()

	var rows int
	if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM friend_requests`).Scan(&rows); err != nil {
		t.Fatalf("count requests: %v", err)
	}
	if rows != 1 || successes != 1 {
		t.Fatalf("expected exactly one request, got %d rows and %d successes", rows, successes)
	}
}

func TestPostgresFriendStore_Search(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	users := NewPostgresUserRepository(testPool)
	seeker := createTestUser(t, users, "seeker")
	createTestUser(t, users, "mal_ice")
	createTestUser(t, users, "malxice")
	friend := createTestUser(t, users, "alice_friend")
	createTestUser(t, users, "zalice")
	createTestUser(t, users, "bob_builder")

	store := NewPostgresFriendStore(testPool)
	engine := friends.NewEngine(store, nil, nil)

	req, err := engine.SendRequest(ctx, seeker.ID, friend.ID)
	if err != nil {
		t.Fatalf("send request: %v", err)
	}

	found, err := engine.SearchUsers(ctx, "ICE", seeker.ID)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got := usernames(found); strings.Join(got, ",") != "mal_ice,malxice,zalice" {
		t.Fatalf("unexpected search results %v", got)
	}

	found, err = engine.SearchUsers(ctx, "l_i", seeker.ID)
	if err != nil {
		t.Fatalf("search with wildcard: %v", err)
	}
	if got := usernames(found); strings.Join(got, ",") != "mal_ice" {
		t.Fatalf("expected underscore to match literally, got %v", got)
	}

	if _, err := engine.AcceptRequest(ctx, req.ID, friend.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	found, err = engine.SearchUsers(ctx, "alice", seeker.ID)
	if err != nil {
		t.Fatalf("search after accept: %v", err)
	}
	if got := usernames(found); strings.Join(got, ",") != "zalice" {
		t.Fatalf("expected friends to be excluded, got %v", got)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := map[string]string{
		"plain":  "plain",
		"50%":    `50\%`,
		"a_b":    `a\_b`,
		`back\s`: `back\\s`,
	}
	for in, want := range tests {
		if got := EscapeLike(in); got != want {
			t.Errorf("EscapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func usernames(users []models.UserSummary) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE friendships, friend_requests, session_tokens, sessions, users CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestUser(t *testing.T, repo *PostgresUserRepository, username string) models.User {
	t.Helper()
	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: "password-hash",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("create test user: %v", err)
	}
	return user
}

func timesClose(a, b time.Time, tolerance time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

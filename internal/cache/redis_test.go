package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invis/backend/internal/auth"
)

func newTestCache(t *testing.T) *RedisSessionCache {
	t.Helper()

	url := os.Getenv("INVIS_TEST_REDIS_URL")
	if url == "" {
		url = "redis://" + miniredis.RunT(t).Addr()
	}

	client, err := NewClient(context.Background(), url, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisSessionCache(client)
}

func TestRedisSessionCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	identity := auth.Identity{
		UserID:    uuid.NewString(),
		SessionID: uuid.NewString(),
		IssuedAt:  time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
	hash := auth.HashToken(uuid.NewString())

	_, ok, err := c.Get(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, hash, identity, time.Minute))

	got, ok, err := c.Get(ctx, hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, identity.UserID, got.UserID)
	assert.True(t, identity.ExpiresAt.Equal(got.ExpiresAt))

	require.NoError(t, c.Invalidate(ctx, identity.SessionID, time.Hour))

	_, ok, err = c.Get(ctx, hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient(context.Background(), "://nope", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestRedisSessionCacheRefusesRevokedSession(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	identity := auth.Identity{
		UserID:    uuid.NewString(),
		SessionID: uuid.NewString(),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	}
	first := auth.HashToken(uuid.NewString())
	second := auth.HashToken(uuid.NewString())

	require.NoError(t, c.Set(ctx, first, identity, time.Minute))
	require.NoError(t, c.Set(ctx, second, identity, time.Minute))
	require.NoError(t, c.Invalidate(ctx, identity.SessionID, time.Hour))

	for _, hash := range []string{first, second} {
		_, ok, err := c.Get(ctx, hash)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	require.NoError(t, c.Set(ctx, first, identity, time.Minute))
	_, ok, err := c.Get(ctx, first)
	require.NoError(t, err)
	assert.False(t, ok, "revoked session must not be cached again")

	other := identity
	other.SessionID = uuid.NewString()
	require.NoError(t, c.Set(ctx, second, other, time.Minute))
	_, ok, err = c.Get(ctx, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

type pausingStore struct {
	*auth.InMemorySessionStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *pausingStore) FindByHash(ctx context.Context, hash string, now time.Time) (auth.Identity, error) {
	identity, err := s.InMemorySessionStore.FindByHash(ctx, hash, now)
	s.once.Do(func() {
		close(s.read)
		<-s.release
	})
	return identity, err
}

func TestManagerWithRedisCacheRevokeDuringValidate(t *testing.T) {
	store := &pausingStore{
		InMemorySessionStore: auth.NewInMemorySessionStore(),
		read:                 make(chan struct{}),
		release:              make(chan struct{}),
	}
	manager := auth.NewManager(24*time.Hour, store, auth.WithCache(newTestCache(t), time.Hour))
	ctx := context.Background()

	issued, err := manager.Issue(ctx, uuid.NewString())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := manager.Validate(ctx, issued.Token)
		done <- err
	}()

	<-store.read
	require.NoError(t, manager.Revoke(ctx, issued.SessionID))
	close(store.release)
	require.NoError(t, <-done)

	_, err = manager.Validate(ctx, issued.Token)
	require.ErrorIs(t, err, auth.ErrInvalidSession)
}

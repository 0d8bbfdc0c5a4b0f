package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invis/backend/internal/config"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/profile"
	"github.com/invis/backend/internal/realtime"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		Environment:     "development",
		SessionTTL:      time.Hour,
		SessionCacheTTL: time.Minute,
		PictureMaxBytes: 1 << 20,
		CleanupWorkers:  1,
		AuthRateLimit: config.RateLimitConfig{
			Requests: 10,
			Window:   time.Minute,
			Burst:    5,
			TTL:      10 * time.Minute,
		},
	}
}

func build(t *testing.T, cfg config.Config) (func(context.Context) error, error) {
	t.Helper()
	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	if err != nil {
		return nil, err
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cleanup(ctx)
	})

	assert.NotNil(t, deps.Users)
	assert.NotNil(t, deps.Sessions)
	assert.NotNil(t, deps.Friends)
	assert.IsType(t, &realtime.Hub{}, deps.Realtime)
	assert.NotNil(t, deps.AuthLimiter)
	assert.Contains(t, deps.Health, "database")
	return cleanup, nil
}

func TestBuildDependenciesInMemoryPictures(t *testing.T) {
	cfg := testConfig()
	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	require.NoError(t, err)
	defer func() { _ = cleanup(context.Background()) }()

	assert.IsType(t, &profile.Service{}, deps.Pictures)
	assert.False(t, deps.Cookie.Secure)
	assert.NotContains(t, deps.Health, "redis")
}

func TestBuildDependenciesProductionWithoutBucket(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"

	deps, cleanup, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	require.NoError(t, err)
	defer func() { _ = cleanup(context.Background()) }()

	assert.Nil(t, deps.Pictures)
	assert.True(t, deps.Cookie.Secure)
}

func TestBuildDependenciesS3(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	cfg := testConfig()
	cfg.ObjectStore = config.ObjectStoreConfig{
		Bucket:   "pictures",
		Region:   "us-east-1",
		Endpoint: "http://localhost:9000",
	}

	_, err := build(t, cfg)
	require.NoError(t, err)
}

func TestBuildDependenciesBadRedisURL(t *testing.T) {
	cfg := testConfig()
	cfg.RedisURL = "not-a-url://"

	_, _, err := buildDependencies(context.Background(), fakePool{}, cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestCleanupIsIdempotent(t *testing.T) {
	cleanup, err := build(t, testConfig())
	require.NoError(t, err)

	require.NoError(t, cleanup(context.Background()))
	require.NoError(t, cleanup(context.Background()))
}

func TestDatabaseCheckerReportsAcquireFailure(t *testing.T) {
	err := db.Checker{Pool: fakePool{}}.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire connection")
}

func TestSeedFileName(t *testing.T) {
	assert.Equal(t, "dev_seed.sql", seedFileName("dev"))
	assert.Equal(t, "custom.sql", seedFileName("custom.sql"))
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	load := func() (config.Config, error) {
		t.Fatal("configuration should not load for invalid arguments")
		return config.Config{}, nil
	}

	cmd := newRootCommand(load)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"migrate", "sideways"})

	require.Error(t, cmd.Execute())
}

func TestSeedRequiresName(t *testing.T) {
	load := func() (config.Config, error) {
		return config.Config{}, errors.New("unexpected load")
	}

	cmd := newRootCommand(load)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"seed"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "unexpected load")
}

func TestConfigLoadErrorStopsServe(t *testing.T) {
	load := func() (config.Config, error) {
		return config.Config{}, errors.New("bad environment")
	}

	cmd := newRootCommand(load)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve"})

	require.EqualError(t, cmd.Execute(), "bad environment")
}

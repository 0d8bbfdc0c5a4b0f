package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/invis/backend/internal/auth"
	"github.com/invis/backend/internal/cache"
	"github.com/invis/backend/internal/config"
	"github.com/invis/backend/internal/db"
	"github.com/invis/backend/internal/friends"
	"github.com/invis/backend/internal/handlers"
	"github.com/invis/backend/internal/middleware"
	"github.com/invis/backend/internal/presence"
	"github.com/invis/backend/internal/profile"
	"github.com/invis/backend/internal/realtime"
	"github.com/invis/backend/internal/repositories"
	"github.com/invis/backend/internal/storage"
)

type redisChecker struct {
	client *redis.Client
}

func (c redisChecker) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup stops background work and closes clients.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, func(context.Context) error, error) {
	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (handlers.Dependencies, func(context.Context) error, error) {
		_ = cleanup(context.WithoutCancel(ctx))
		return handlers.Dependencies{}, nil, err
	}

	health := map[string]handlers.HealthChecker{"database": db.Checker{Pool: pool}}

	var sessionOpts []auth.Option
	if strings.TrimSpace(cfg.RedisURL) != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return client.Close() })
		health["redis"] = redisChecker{client: client}
		sessionOpts = append(sessionOpts, auth.WithCache(cache.NewRedisSessionCache(client), cfg.SessionCacheTTL))
	} else if cfg.SessionCacheTTL > 0 {
		sessionOpts = append(sessionOpts, auth.WithCache(auth.NewMemoryCache(), cfg.SessionCacheTTL))
	}

	users := repositories.NewPostgresUserRepository(pool)
	sessions := auth.NewManager(cfg.SessionTTL, repositories.NewPostgresSessionStore(pool), sessionOpts...)
	friendStore := repositories.NewPostgresFriendStore(pool)

	tracker := presence.NewTracker()
	hub := realtime.NewHub(tracker, friendStore, realtime.HubConfig{AllowedOrigins: cfg.AllowedOrigins}, logger)
	closers = append(closers, hub.Shutdown)

	engine := friends.NewEngine(friendStore, hub, tracker)

	objects, err := objectStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	var pictures handlers.PictureService
	if objects != nil {
		cleaner := profile.NewCleaner(objects, profile.CleanerConfig{Workers: cfg.CleanupWorkers}, logger)
		closers = append(closers, cleaner.Shutdown)

		svc, err := profile.NewService(profile.Config{
			Users:    users,
			Objects:  objects,
			Cleanup:  cleaner,
			Friends:  friendStore,
			Notifier: hub,
			MaxBytes: cfg.PictureMaxBytes,
		})
		if err != nil {
			return fail(err)
		}
		pictures = svc
	}

	rate := cfg.AuthRateLimit
	deps := handlers.Dependencies{
		Users:       users,
		Sessions:    sessions,
		Friends:     engine,
		Pictures:    pictures,
		Realtime:    hub,
		AuthLimiter: middleware.NewIPRateLimiter(rate.Requests, rate.Window, rate.Burst, rate.TTL),
		Cookie:      handlers.CookieConfig{Secure: cfg.SecureCookies()},
		Health:      health,
	}
	return deps, cleanup, nil
}

// objectStore picks S3 when a bucket is configured. Outside production it
// falls back to process memory; in production uploads are disabled.
func objectStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if strings.TrimSpace(cfg.ObjectStore.Bucket) != "" {
		s3, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("configure object store: %w", err)
		}
		return s3, nil
	}
	if cfg.IsProduction() {
		logger.Warn("no object store bucket configured, picture uploads disabled")
		return nil, nil
	}
	logger.Info("no object store bucket configured, keeping pictures in memory")
	return storage.NewMemoryStorage(cfg.ObjectStore.PublicBaseURL), nil
}

// Package cache holds the shared Redis-backed session cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/invis/backend/internal/auth"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
	pingTimeout  = 2 * time.Second

	tokenKeyPrefix   = "invis:session:token:"
	sessionKeyPrefix = "invis:session:index:"
	revokedKeyPrefix = "invis:session:revoked:"
)

// setScript caches a digest unless its session carries a revocation marker.
// KEYS: revoked marker, token key, session index. ARGV: payload, ttl ms, digest.
var setScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
redis.call('SADD', KEYS[3], ARGV[3])
if redis.call('PTTL', KEYS[3]) < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[3], ARGV[2])
end
return 1
`)

// NewClient parses redisURL, connects, and verifies the server with a ping.
func NewClient(ctx context.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("redis client connected", slog.String("addr", opts.Addr))
	return client, nil
}

// RedisSessionCache implements auth.Cache on Redis so that several processes
// share validated sessions and revocations.
type RedisSessionCache struct {
	client redis.UniversalClient
}

var _ auth.Cache = (*RedisSessionCache)(nil)

// NewRedisSessionCache wraps an existing client.
func NewRedisSessionCache(client redis.UniversalClient) *RedisSessionCache {
	return &RedisSessionCache{client: client}
}

// Get loads the identity cached under the token digest.
func (c *RedisSessionCache) Get(ctx context.Context, hash string) (auth.Identity, bool, error) {
	payload, err := c.client.Get(ctx, tokenKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.Identity{}, false, nil
	}
	if err != nil {
		return auth.Identity{}, false, fmt.Errorf("redis get session: %w", err)
	}

	var identity auth.Identity
	if err := json.Unmarshal(payload, &identity); err != nil {
		return auth.Identity{}, false, fmt.Errorf("decode cached session: %w", err)
	}
	return identity, true, nil
}

// Set caches identity and records the digest in the session index. The write
// is skipped when the session was revoked.
func (c *RedisSessionCache) Set(ctx context.Context, hash string, identity auth.Identity, ttl time.Duration) error {
	if ttl < time.Millisecond {
		return nil
	}
	payload, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keys := []string{
		revokedKeyPrefix + identity.SessionID,
		tokenKeyPrefix + hash,
		sessionKeyPrefix + identity.SessionID,
	}
	if err := setScript.Run(ctx, c.client, keys, payload, ttl.Milliseconds(), hash).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// Invalidate marks the session revoked for ttl, then deletes every cached
// digest of it.
func (c *RedisSessionCache) Invalidate(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl > 0 {
		if err := c.client.Set(ctx, revokedKeyPrefix+sessionID, 1, ttl).Err(); err != nil {
			return fmt.Errorf("redis mark session revoked: %w", err)
		}
	}

	indexKey := sessionKeyPrefix + sessionID
	hashes, err := c.client.SMembers(ctx, indexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis read session index: %w", err)
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, tokenKeyPrefix+hash)
	}
	keys = append(keys, indexKey)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

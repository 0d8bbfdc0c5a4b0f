package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.AppPort)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, time.Duration(0), cfg.SessionCacheTTL)
	assert.Equal(t, int64(5<<20), cfg.PictureMaxBytes)
	assert.Equal(t, 10, cfg.AuthRateLimit.Requests)
	assert.Equal(t, "us-east-1", cfg.ObjectStore.Region)
	assert.False(t, cfg.SecureCookies())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("INVIS_PORT", "8081")
	t.Setenv("INVIS_SESSION_TTL", "2h")
	t.Setenv("INVIS_ENVIRONMENT", "production")
	t.Setenv("INVIS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("INVIS_S3_BUCKET", "pictures")
	t.Setenv("INVIS_AUTH_RATE_BURST", "9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.AppPort)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.SecureCookies())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "pictures", cfg.ObjectStore.Bucket)
	assert.Equal(t, 9, cfg.AuthRateLimit.Burst)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("INVIS_SESSION_TTL", "-1h")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session ttl")
}

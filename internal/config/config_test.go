package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("HTTP_PORT", "")

	cfg := Load()
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, 500, cfg.NotificationCap)
	assert.Equal(t, 100.0, cfg.WeakSignalMeters)
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("NOTIFICATION_CAP", "20")
	t.Setenv("WEAK_SIGNAL_METERS", "50.5")
	t.Setenv("SEED_DEMO_USERS", "true")
	t.Setenv("APP_ENV", "production")

	cfg := Load()
	assert.Equal(t, "file", cfg.StoreBackend)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 20, cfg.NotificationCap)
	assert.Equal(t, 50.5, cfg.WeakSignalMeters)
	assert.True(t, cfg.SeedDemoUsers)
	assert.True(t, cfg.Production())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	t.Setenv("SEED_DEMO_USERS", "perhaps")

	cfg := Load()
	assert.Equal(t, 12*time.Hour, cfg.AccessTTL)
	assert.Equal(t, 240, cfg.RateLimitPerMin)
	assert.False(t, cfg.SeedDemoUsers)
}

func TestLocationFallsBackToFixedZone(t *testing.T) {
	cfg := App{Timezone: "Nowhere/Invalid"}
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 7*60*60, offset)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DATABASE_URL", "MONGO_URI", "SETTINGS_CACHE_TTL", "DEFAULT_TAX_RATE_PERCENT", "LOYALTY_RETRY_INTERVAL", "ACCESS_TOKEN_TTL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.DatabaseMigrate)
	assert.Equal(t, "retailpos", cfg.MongoDatabase)
	assert.Equal(t, time.Minute, cfg.SettingsCacheTTL)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 8.0, cfg.DefaultTaxRatePercent)
	assert.Equal(t, time.Minute, cfg.LoyaltyRetryInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEFAULT_TAX_RATE_PERCENT", "12.5")
	t.Setenv("LOYALTY_RETRY_INTERVAL", "0s")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 12.5, cfg.DefaultTaxRatePercent)
	assert.Zero(t, cfg.LoyaltyRetryInterval)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadRejectsOutOfRangeTaxRate(t *testing.T) {
	t.Setenv("DEFAULT_TAX_RATE_PERCENT", "140")

	_, err := Load()
	require.Error(t, err)
}

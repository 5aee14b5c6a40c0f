package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
)

func TestNoopSettingsCacheAlwaysMisses(t *testing.T) {
	var c SettingsCache = NoopSettingsCache{}
	rate := 8.0
	require.NoError(t, c.Set(context.Background(), "t1", &domain.Settings{TenantID: "t1", TaxRatePercent: &rate}, time.Minute))

	got, ok, err := c.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisSettingsCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("RETAILPOS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RETAILPOS_TEST_REDIS_ADDR is not set")
	}

	ctx := context.Background()
	c := NewRedisSettingsCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))

	tenantID := "cache-test-" + time.Now().UTC().Format("150405.000000")
	t.Cleanup(func() { _ = c.Delete(context.Background(), tenantID) })

	_, ok, err := c.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)

	zero := 0.0
	require.NoError(t, c.Set(ctx, tenantID, &domain.Settings{
		TenantID: tenantID, TaxRatePercent: &zero, Currency: "EUR", LoyaltyEnabled: true,
	}, time.Minute))

	got, ok, err := c.Get(ctx, tenantID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.TaxRatePercent)
	assert.Equal(t, 0.0, *got.TaxRatePercent)
	assert.Equal(t, "EUR", got.Currency)

	require.NoError(t, c.Delete(ctx, tenantID))
	_, ok, err = c.Get(ctx, tenantID)
	require.NoError(t, err)
	assert.False(t, ok)
}

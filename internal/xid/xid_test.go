package xid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionNumberFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	number := TransactionNumber("DEMO", at)

	parts := strings.Split(number, "-")
	require.Len(t, parts, 3)
	assert.Equal(t, "DEMO", parts[0])
	assert.Equal(t, "20260314092653", parts[1])
	assert.Len(t, parts[2], 10)
}

func TestTransactionNumbersDoNotCollide(t *testing.T) {
	at := time.Now()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		number := TransactionNumber("DEMO", at)
		_, dup := seen[number]
		require.False(t, dup, "collision on %s", number)
		seen[number] = struct{}{}
	}
}

func TestTenantPrefix(t *testing.T) {
	assert.Equal(t, "SHOP", TenantPrefix("shop", "tenant-demo"))
	assert.Equal(t, "DEMO", TenantPrefix("", "tenant-demo"))
	assert.Equal(t, "OTHE", TenantPrefix("", "tenant-other"))
	assert.Equal(t, "ACME", TenantPrefix("", "Tenant_acme"))
	assert.Equal(t, "STOR", TenantPrefix("", "store-42"))
	assert.Equal(t, "TENA", TenantPrefix("", "tenant-"))
	assert.Equal(t, "TENA", TenantPrefix("", "tenantx"))
	assert.Equal(t, "TX", TenantPrefix(" - ", "--"))
}

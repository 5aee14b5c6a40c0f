package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) (*Store, string) {
	t.Helper()

	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}
	require.NoError(t, Migrate(databaseURL))

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)

	tenantID := fmt.Sprintf("tenant-it-%d", time.Now().UnixNano())
	_, err = s.CreateTenant(ctx, domain.Tenant{ID: tenantID, Name: "Integration"})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM loyalty_accruals WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE tenant_id = $1`, tenantID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
		_ = s.Close()
	})
	return s, tenantID
}

func TestDecrementStockUnderContention(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	product, err := s.CreateProduct(ctx, domain.Product{
		TenantID: tenantID, SKU: "IT-TEA", Name: "Tea", Price: 450, Stock: 5, IsActive: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecrementStockIfAvailable(ctx, tenantID, product.ID, 1)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.True(t, errors.Is(err, store.ErrInsufficientStock), "unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), wins.Load())
	reloaded, err := s.GetProduct(ctx, tenantID, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Stock)
}

func TestTransactionRoundTripAndLoyaltyReplay(t *testing.T) {
	s, tenantID := newIntegrationStore(t)
	ctx := context.Background()

	customer, err := s.CreateCustomer(ctx, domain.Customer{TenantID: tenantID, Name: "Ana", Email: "ana@it.test"})
	require.NoError(t, err)

	tx := domain.Transaction{
		TenantID:       tenantID,
		Number:         "IT-20260101000000-0000000001",
		CashierID:      "user-it",
		CustomerID:     customer.ID,
		Items:          []domain.LineItem{{ProductID: "p1", Snapshot: domain.ProductSnapshot{Name: "Tea", SKU: "IT-TEA", Price: 450}, Quantity: 2, UnitPrice: 450, TotalPrice: 900}},
		Subtotal:       900,
		TaxRatePercent: 8,
		Tax:            72,
		Total:          972,
		PaymentMethod:  domain.PaymentCash,
		AmountPaid:     1000,
		Change:         28,
		Status:         domain.TxStatusCompleted,
	}
	created, err := s.CreateTransaction(ctx, tx)
	require.NoError(t, err)

	_, err = s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	loaded, err := s.GetTransaction(ctx, tenantID, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "Tea", loaded.Items[0].Snapshot.Name)
	assert.EqualValues(t, 972, loaded.Total)

	accrual := domain.LoyaltyAccrual{TransactionID: created.ID, Points: 9, Spend: 972}
	_, err = s.AccrueLoyalty(ctx, tenantID, customer.ID, accrual)
	require.NoError(t, err)
	updated, err := s.AccrueLoyalty(ctx, tenantID, customer.ID, accrual)
	require.NoError(t, err)
	assert.Equal(t, int64(9), updated.LoyaltyPoints)
	assert.EqualValues(t, 972, updated.TotalSpent)

	pending, err := s.ListPendingLoyalty(ctx, tenantID, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	require.NoError(t, s.MarkLoyaltyAccrued(ctx, tenantID, created.ID))
	pending, err = s.ListPendingLoyalty(ctx, tenantID, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/pos", migrateURL("postgres://u:p@db:5432/pos"))
	assert.Equal(t, "pgx5://db/pos", migrateURL("postgresql://db/pos"))
	assert.Equal(t, "pgx5://db/pos", migrateURL("pgx5://db/pos"))
}

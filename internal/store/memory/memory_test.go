package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func TestDecrementStockIfAvailableNeverOversells(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	_, err := s.AdjustStock(ctx, DemoTenantID, "prod-tea", -25)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.DecrementStockIfAvailable(ctx, DemoTenantID, "prod-tea", 1); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, store.ErrInsufficientStock)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), wins.Load())
	product, err := s.GetProduct(ctx, DemoTenantID, "prod-tea")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock)
}

func TestDecrementStockReportsAvailable(t *testing.T) {
	s := NewSeeded()
	_, err := s.DecrementStockIfAvailable(context.Background(), DemoTenantID, "prod-coffee", 41)

	var stockErr *store.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 40, stockErr.Available)
	assert.Equal(t, 41, stockErr.Requested)
}

func TestTenantScopedReads(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.GetProduct(ctx, DemoTenantID, "prod-other-cola")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.DecrementStockIfAvailable(ctx, DemoTenantID, "prod-other-cola", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)

	products, err := s.ListProducts(ctx, OtherTenantID, false)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "prod-other-cola", products[0].ID)
}

func TestSKUUniquePerTenant(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateProduct(ctx, domain.Product{TenantID: DemoTenantID, SKU: "COF-250", Name: "Dup", IsActive: true})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	_, err = s.CreateProduct(ctx, domain.Product{TenantID: OtherTenantID, SKU: "COF-250", Name: "Coffee", IsActive: true})
	assert.NoError(t, err)
}

func TestAdjustStockRejectsNegativeResult(t *testing.T) {
	s := NewSeeded()
	_, err := s.AdjustStock(context.Background(), DemoTenantID, "prod-tea", -31)

	var adjErr *store.AdjustmentError
	require.True(t, errors.As(err, &adjErr))
	assert.Equal(t, 30, adjErr.Stock)
}

func TestAccrueLoyaltyIsIdempotent(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	accrual := domain.LoyaltyAccrual{TransactionID: "tx-1", Points: 35, Spend: 3509}

	_, err := s.AccrueLoyalty(ctx, DemoTenantID, DemoCustomerID, accrual)
	require.NoError(t, err)
	customer, err := s.AccrueLoyalty(ctx, DemoTenantID, DemoCustomerID, accrual)
	require.NoError(t, err)

	assert.Equal(t, int64(35), customer.LoyaltyPoints)
	assert.EqualValues(t, 3509, customer.TotalSpent)
	assert.NotNil(t, customer.LastVisit)
}

func TestCreateTransactionRejectsDuplicateNumber(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	tx := domain.Transaction{
		TenantID: DemoTenantID,
		Number:   "DEMO-20260101000000-AAAAAAAAAA",
		Items:    []domain.LineItem{{ProductID: "prod-bagel", Quantity: 1, UnitPrice: 375, TotalPrice: 375}},
		Status:   domain.TxStatusCompleted,
	}

	created, err := s.CreateTransaction(ctx, tx)
	require.NoError(t, err)
	_, err = s.CreateTransaction(ctx, tx)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)

	created.Items[0].Quantity = 99
	stored, err := s.GetTransaction(ctx, DemoTenantID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestListPendingLoyaltySkipsAccruedAndCancelled(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	item := []domain.LineItem{{ProductID: "prod-bagel", Quantity: 1, UnitPrice: 375, TotalPrice: 375}}

	pending, err := s.CreateTransaction(ctx, domain.Transaction{TenantID: DemoTenantID, Number: "A", Items: item, CustomerID: DemoCustomerID, Status: domain.TxStatusCompleted})
	require.NoError(t, err)
	accrued, err := s.CreateTransaction(ctx, domain.Transaction{TenantID: DemoTenantID, Number: "B", Items: item, CustomerID: DemoCustomerID, Status: domain.TxStatusCompleted})
	require.NoError(t, err)
	require.NoError(t, s.MarkLoyaltyAccrued(ctx, DemoTenantID, accrued.ID))
	_, err = s.CreateTransaction(ctx, domain.Transaction{TenantID: DemoTenantID, Number: "C", Items: item, CustomerID: DemoCustomerID, Status: domain.TxStatusCancelled})
	require.NoError(t, err)

	list, err := s.ListPendingLoyalty(ctx, DemoTenantID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, pending.ID, list[0].ID)
}

func TestReconcileTransactionRejectsStaleWrite(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	created, err := s.CreateTransaction(ctx, domain.Transaction{
		TenantID:   DemoTenantID,
		Number:     "DEMO-20260101000000-BBBBBBBBBB",
		Items:      []domain.LineItem{{ProductID: "prod-bagel", Quantity: 4, UnitPrice: 375, TotalPrice: 1500}},
		Total:      1500,
		AmountPaid: 500,
		DueAmount:  1000,
		Status:     domain.TxStatusDue,
	})
	require.NoError(t, err)

	read := domain.Reconciliation{
		ExpectedStatus:     domain.TxStatusDue,
		ExpectedAmountPaid: 500,
		ExpectedDueAmount:  1000,
	}

	first := read
	first.Status, first.AmountPaid, first.DueAmount = domain.TxStatusDue, 1000, 500
	_, err = s.ReconcileTransaction(ctx, DemoTenantID, created.ID, first)
	require.NoError(t, err)

	second := read
	second.Status, second.AmountPaid, second.DueAmount = domain.TxStatusCompleted, 1500, 0
	_, err = s.ReconcileTransaction(ctx, DemoTenantID, created.ID, second)
	assert.ErrorIs(t, err, store.ErrConflict)

	stored, err := s.GetTransaction(ctx, DemoTenantID, created.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, stored.AmountPaid)
	assert.EqualValues(t, 500, stored.DueAmount)

	_, err = s.ReconcileTransaction(ctx, OtherTenantID, created.ID, read)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

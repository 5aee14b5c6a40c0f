package store

import (
	"context"
	"errors"
	"fmt"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidAdjustment = errors.New("invalid inventory adjustment")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("concurrent modification")
)

// StockError reports the stock a conditional write observed when it refused
// to apply.
type StockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

type AdjustmentError struct {
	ProductID string
	Stock     int
	Delta     int
}

func (e *AdjustmentError) Error() string {
	return fmt.Sprintf("adjustment %+d on product %s would leave stock at %d", e.Delta, e.ProductID, e.Stock+e.Delta)
}

func (e *AdjustmentError) Unwrap() error { return ErrInvalidAdjustment }

type DuplicateKeyError struct {
	Field string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

func (e *DuplicateKeyError) Unwrap() error { return ErrDuplicateKey }

// Every method takes the tenant id explicitly; implementations must filter
// on it for reads and writes alike.
type ProductRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, tenantID string, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	// DecrementStockIfAvailable is a single conditional write: it applies
	// only when the active product holds at least qty units and returns the
	// new stock, otherwise a *StockError.
	DecrementStockIfAvailable(ctx context.Context, tenantID string, id string, qty int) (int, error)
	IncrementStock(ctx context.Context, tenantID string, id string, qty int) (int, error)
	// AdjustStock applies a signed delta, refusing with *AdjustmentError when
	// the result would be negative.
	AdjustStock(ctx context.Context, tenantID string, id string, delta int) (*domain.Product, error)
}

type CustomerRepository interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, tenantID string, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error)
	// AccrueLoyalty increments points and spend and sets lastVisit atomically.
	// Replaying the same TransactionID is a no-op that returns the customer.
	AccrueLoyalty(ctx context.Context, tenantID string, id string, accrual domain.LoyaltyAccrual) (*domain.Customer, error)
}

type TransactionRepository interface {
	// CreateTransaction fails with *DuplicateKeyError on a number clash.
	CreateTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, tenantID string, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error)
	ReconcileTransaction(ctx context.Context, tenantID string, id string, rec domain.Reconciliation) (*domain.Transaction, error)
	MarkLoyaltyAccrued(ctx context.Context, tenantID string, id string) error
	ListPendingLoyalty(ctx context.Context, tenantID string, limit int) ([]domain.Transaction, error)
}

type TenantRepository interface {
	CreateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error)
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	ListTenants(ctx context.Context) ([]domain.Tenant, error)
	GetSettings(ctx context.Context, tenantID string) (*domain.Settings, error)
	UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, tenantID string, id string) (*domain.UserAccount, error)
	GetUserByUsername(ctx context.Context, tenantID string, username string) (*domain.UserAccount, error)
}

type Repository interface {
	ProductRepository
	CustomerRepository
	TransactionRepository
	TenantRepository
	UserRepository
}

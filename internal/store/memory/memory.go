package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Store keeps every collection behind one mutex, so each conditional write is
// a single critical section and never spans a caller's suspension point.
type Store struct {
	mu               sync.RWMutex
	tenants          map[string]domain.Tenant
	settings         map[string]domain.Settings
	products         map[string]domain.Product
	skuIndex         map[string]string
	customers        map[string]domain.Customer
	emailIndex       map[string]string
	accruals         map[string]map[string]struct{}
	transactions     map[string]*domain.Transaction
	numberIndex      map[string]string
	users            map[string]domain.UserAccount
	usernameIndex    map[string]string
	transactionOrder []string
}

const (
	DemoTenantID   = "tenant-demo"
	OtherTenantID  = "tenant-other"
	DemoAdminID    = "user-admin"
	DemoCashierID  = "user-cashier"
	DemoCustomerID = "cust-ana"
)

func New() *Store {
	return &Store{
		tenants:       make(map[string]domain.Tenant),
		settings:      make(map[string]domain.Settings),
		products:      make(map[string]domain.Product),
		skuIndex:      make(map[string]string),
		customers:     make(map[string]domain.Customer),
		emailIndex:    make(map[string]string),
		accruals:      make(map[string]map[string]struct{}),
		transactions:  make(map[string]*domain.Transaction),
		numberIndex:   make(map[string]string),
		users:         make(map[string]domain.UserAccount),
		usernameIndex: make(map[string]string),
	}
}

var (
	seedOnce   sync.Once
	seedHashes map[string]string
)

// seedPasswords hashes the demo credentials once per process. Passwords come
// from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to dev
// defaults with a warning.
func seedPasswords() map[string]string {
	seedOnce.Do(func() {
		adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
		cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
		if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
			log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
		}
		seedHashes = make(map[string]string, 2)
		for username, password := range map[string]string{"admin": adminPwd, "cashier": cashierPwd} {
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				log.Fatalf("[memory-store] failed to hash seed password for %s: %v", username, err)
			}
			seedHashes[username] = string(hash)
		}
	})
	return seedHashes
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding a demo tenant with users, products and a
// customer, plus a second tenant used to exercise isolation.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	ctx := context.Background()
	taxRate := 8.0

	for _, tenant := range []domain.Tenant{
		{ID: DemoTenantID, Name: "Demo Mart", CreatedAt: now},
		{ID: OtherTenantID, Name: "Other Shop", CreatedAt: now},
	} {
		_, _ = s.CreateTenant(ctx, tenant)
	}
	_, _ = s.UpsertSettings(ctx, domain.Settings{
		TenantID:          DemoTenantID,
		TaxRatePercent:    &taxRate,
		Currency:          "USD",
		Locale:            "en-US",
		TransactionPrefix: "DEMO",
		LoyaltyEnabled:    true,
	})

	hashes := seedPasswords()
	for _, u := range []domain.UserAccount{
		{ID: DemoAdminID, TenantID: DemoTenantID, Username: "admin", Password: hashes["admin"], Role: domain.RoleAdmin},
		{ID: DemoCashierID, TenantID: DemoTenantID, Username: "cashier", Password: hashes["cashier"], Role: domain.RoleCashier},
		{ID: "user-other-admin", TenantID: OtherTenantID, Username: "admin", Password: hashes["admin"], Role: domain.RoleAdmin},
	} {
		u.Active = true
		u.CreatedAt = now
		_ = s.CreateUser(ctx, u)
	}

	for _, p := range []domain.Product{
		{ID: "prod-coffee", TenantID: DemoTenantID, SKU: "COF-250", Name: "Ground Coffee 250g", Price: 2499, CostPrice: 1600, Stock: 40, ReorderLevel: 5},
		{ID: "prod-bagel", TenantID: DemoTenantID, SKU: "BAG-01", Name: "Sesame Bagel", Price: 375, CostPrice: 150, Stock: 120, ReorderLevel: 20},
		{ID: "prod-milk", TenantID: DemoTenantID, SKU: "MLK-1L", Name: "Whole Milk 1L", Price: 189, CostPrice: 110, Stock: 60, ReorderLevel: 10},
		{ID: "prod-tea", TenantID: DemoTenantID, SKU: "TEA-20", Name: "Green Tea 20 bags", Price: 450, CostPrice: 260, Stock: 30, ReorderLevel: 5},
		{ID: "prod-other-cola", TenantID: OtherTenantID, SKU: "COLA-330", Name: "Cola 330ml", Price: 150, CostPrice: 60, Stock: 200, ReorderLevel: 24},
	} {
		p.IsActive = true
		_, _ = s.CreateProduct(ctx, p)
	}

	_, _ = s.CreateCustomer(ctx, domain.Customer{
		ID:       DemoCustomerID,
		TenantID: DemoTenantID,
		Name:     "Ana Lima",
		Email:    "ana@example.com",
		Status:   domain.CustomerActive,
	})

	return s
}

func tenantKey(tenantID string, value string) string {
	return tenantID + "\x00" + value
}

func (s *Store) CreateTenant(_ context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	if tenant.ID == "" || strings.TrimSpace(tenant.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tenants[tenant.ID]; exists {
		return nil, &store.DuplicateKeyError{Field: "tenant", Value: tenant.ID}
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	s.tenants[tenant.ID] = tenant
	created := tenant
	return &created, nil
}

func (s *Store) GetTenant(_ context.Context, id string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenant, ok := s.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tenant, nil
}

func (s *Store) ListTenants(_ context.Context) ([]domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Tenant, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		result = append(result, tenant)
	}
	slices.SortFunc(result, func(a, b domain.Tenant) int { return strings.Compare(a.ID, b.ID) })
	return result, nil
}

func (s *Store) GetSettings(_ context.Context, tenantID string) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSettings(settings), nil
}

func (s *Store) UpsertSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.TenantID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[settings.TenantID]; !ok {
		return nil, store.ErrNotFound
	}
	settings.UpdatedAt = time.Now().UTC()
	s.settings[settings.TenantID] = *cloneSettings(settings)
	return cloneSettings(settings), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Stock < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(product.TenantID, product.SKU)
	if _, exists := s.skuIndex[key]; exists {
		return nil, &store.DuplicateKeyError{Field: "sku", Value: product.SKU}
	}
	if product.ID == "" {
		product.ID = xid.New()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	s.products[product.ID] = product
	s.skuIndex[key] = product.ID
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context, tenantID string, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.TenantID != tenantID {
			continue
		}
		if !product.IsActive && !includeInactive {
			continue
		}
		result = append(result, product)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.TenantID != product.TenantID {
		return nil, store.ErrNotFound
	}

	existing.Name = product.Name
	existing.Description = product.Description
	existing.Price = product.Price
	existing.CostPrice = product.CostPrice
	existing.ReorderLevel = product.ReorderLevel
	existing.CategoryID = product.CategoryID
	existing.SupplierID = product.SupplierID
	existing.IsActive = product.IsActive
	existing.UpdatedAt = time.Now().UTC()
	s.products[existing.ID] = existing

	updated := existing
	return &updated, nil
}

func (s *Store) DecrementStockIfAvailable(_ context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID || !product.IsActive {
		return 0, store.ErrNotFound
	}
	if product.Stock < qty {
		return product.Stock, &store.StockError{ProductID: id, Available: product.Stock, Requested: qty}
	}
	product.Stock -= qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return product.Stock, nil
}

func (s *Store) IncrementStock(_ context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID {
		return 0, store.ErrNotFound
	}
	product.Stock += qty
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return product.Stock, nil
}

func (s *Store) AdjustStock(_ context.Context, tenantID string, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok || product.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return nil, &store.AdjustmentError{ProductID: id, Stock: product.Stock, Delta: delta}
	}
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product

	updated := product
	return &updated, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.TenantID == "" || customer.Name == "" || customer.Email == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(customer.TenantID, customer.Email)
	if _, exists := s.emailIndex[key]; exists {
		return nil, &store.DuplicateKeyError{Field: "email", Value: customer.Email}
	}
	if customer.ID == "" {
		customer.ID = xid.New()
	}
	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customers[customer.ID] = customer
	s.emailIndex[key] = customer.ID
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, tenantID string, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok || customer.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return cloneCustomer(customer), nil
}

func (s *Store) ListCustomers(_ context.Context, tenantID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if customer.TenantID == tenantID {
			result = append(result, *cloneCustomer(customer))
		}
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) AccrueLoyalty(_ context.Context, tenantID string, id string, accrual domain.LoyaltyAccrual) (*domain.Customer, error) {
	if accrual.TransactionID == "" || accrual.Points < 0 || accrual.Spend < 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, ok := s.customers[id]
	if !ok || customer.TenantID != tenantID {
		return nil, store.ErrNotFound
	}

	applied, ok := s.accruals[id]
	if !ok {
		applied = make(map[string]struct{})
		s.accruals[id] = applied
	}
	if _, done := applied[accrual.TransactionID]; done {
		return cloneCustomer(customer), nil
	}

	at := accrual.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	customer.LoyaltyPoints += accrual.Points
	customer.TotalSpent += accrual.Spend
	customer.LastVisit = &at
	s.customers[id] = customer
	applied[accrual.TransactionID] = struct{}{}

	return cloneCustomer(customer), nil
}

func (s *Store) CreateTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if tx.TenantID == "" || tx.Number == "" || len(tx.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(tx.TenantID, tx.Number)
	if _, exists := s.numberIndex[key]; exists {
		return nil, &store.DuplicateKeyError{Field: "transactionId", Value: tx.Number}
	}
	if tx.ID == "" {
		tx.ID = xid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.UpdatedAt = tx.CreatedAt

	s.transactions[tx.ID] = cloneTransaction(&tx)
	s.numberIndex[key] = tx.ID
	s.transactionOrder = append(s.transactionOrder, tx.ID)
	return cloneTransaction(&tx), nil
}

func (s *Store) GetTransaction(_ context.Context, tenantID string, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for i := len(s.transactionOrder) - 1; i >= 0; i-- {
		tx := s.transactions[s.transactionOrder[i]]
		if tx.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, *cloneTransaction(tx))
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func (s *Store) ReconcileTransaction(_ context.Context, tenantID string, id string, rec domain.Reconciliation) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	if tx.Status != rec.ExpectedStatus || tx.AmountPaid != rec.ExpectedAmountPaid || tx.DueAmount != rec.ExpectedDueAmount {
		return nil, store.ErrConflict
	}
	tx.Status = rec.Status
	tx.AmountPaid = rec.AmountPaid
	tx.Change = rec.Change
	tx.DueAmount = rec.DueAmount
	tx.Notes = rec.Notes
	tx.UpdatedAt = rec.UpdatedAt
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = time.Now().UTC()
	}
	return cloneTransaction(tx), nil
}

func (s *Store) MarkLoyaltyAccrued(_ context.Context, tenantID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.TenantID != tenantID {
		return store.ErrNotFound
	}
	tx.LoyaltyAccrued = true
	return nil
}

func (s *Store) ListPendingLoyalty(_ context.Context, tenantID string, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, id := range s.transactionOrder {
		tx := s.transactions[id]
		if tx.TenantID != tenantID || tx.CustomerID == "" || tx.LoyaltyAccrued {
			continue
		}
		if tx.Status == domain.TxStatusCancelled || tx.Status == domain.TxStatusRefunded {
			continue
		}
		result = append(result, *cloneTransaction(tx))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.TenantID == "" || user.Username == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(user.TenantID, user.Username)
	if _, exists := s.usernameIndex[key]; exists {
		return &store.DuplicateKeyError{Field: "username", Value: user.Username}
	}
	if user.ID == "" {
		user.ID = xid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = user
	s.usernameIndex[key] = user.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, tenantID string, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok || user.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, tenantID string, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernameIndex[tenantKey(tenantID, username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.users[id]
	return &user, nil
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	return &dst
}

func cloneCustomer(src domain.Customer) *domain.Customer {
	dst := src
	if src.LastVisit != nil {
		at := *src.LastVisit
		dst.LastVisit = &at
	}
	return &dst
}

func cloneSettings(src domain.Settings) *domain.Settings {
	dst := src
	if src.TaxRatePercent != nil {
		rate := *src.TaxRatePercent
		dst.TaxRatePercent = &rate
	}
	return &dst
}

var _ store.Repository = (*Store)(nil)

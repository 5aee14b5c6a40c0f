package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const tenantColumns = `id, name, created_at`

func (s *Store) CreateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	if tenant.ID == "" || strings.TrimSpace(tenant.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, created_at) VALUES ($1, $2, $3)
	`, tenant.ID, tenant.Name, tenant.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateKeyError{Field: "tenant", Value: tenant.ID}
		}
		return nil, err
	}

	created := tenant
	return &created, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id).
		Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tenants := make([]domain.Tenant, 0, 8)
	for rows.Next() {
		var tenant domain.Tenant
		if err := rows.Scan(&tenant.ID, &tenant.Name, &tenant.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

func (s *Store) GetSettings(ctx context.Context, tenantID string) (*domain.Settings, error) {
	var (
		settings domain.Settings
		rate     sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, tax_rate_percent, currency, locale, transaction_prefix,
		       receipt_header, receipt_footer, loyalty_enabled, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1
	`, tenantID).Scan(
		&settings.TenantID, &rate, &settings.Currency, &settings.Locale, &settings.TransactionPrefix,
		&settings.ReceiptHeader, &settings.ReceiptFooter, &settings.LoyaltyEnabled, &settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if rate.Valid {
		v := rate.Float64
		settings.TaxRatePercent = &v
	}
	return &settings, nil
}

func (s *Store) UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.TenantID == "" {
		return nil, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()

	var rate any
	if settings.TaxRatePercent != nil {
		rate = *settings.TaxRatePercent
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (
			tenant_id, tax_rate_percent, currency, locale, transaction_prefix,
			receipt_header, receipt_footer, loyalty_enabled, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (SELECT 1 FROM tenants WHERE id = $1)
		ON CONFLICT (tenant_id) DO UPDATE SET
			tax_rate_percent = EXCLUDED.tax_rate_percent,
			currency = EXCLUDED.currency,
			locale = EXCLUDED.locale,
			transaction_prefix = EXCLUDED.transaction_prefix,
			receipt_header = EXCLUDED.receipt_header,
			receipt_footer = EXCLUDED.receipt_footer,
			loyalty_enabled = EXCLUDED.loyalty_enabled,
			updated_at = EXCLUDED.updated_at
	`, settings.TenantID, rate, settings.Currency, settings.Locale, settings.TransactionPrefix,
		settings.ReceiptHeader, settings.ReceiptFooter, settings.LoyaltyEnabled, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}

	saved := settings
	return &saved, nil
}

const productColumns = `
	id, tenant_id, sku, name, description, price_cents, cost_price_cents, stock,
	reorder_level, category_id, supplier_id, is_active, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var price, cost int64
	err := row.Scan(
		&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.Description, &price, &cost, &p.Stock,
		&p.ReorderLevel, &p.CategoryID, &p.SupplierID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Price = money.Cents(price)
	p.CostPrice = money.Cents(cost)
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.TenantID == "" || product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if product.Price < 0 || product.CostPrice < 0 || product.Stock < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New()
	}

	created, err := scanProduct(s.db.QueryRowContext(ctx, `
		INSERT INTO products (
			id, tenant_id, sku, name, description, price_cents, cost_price_cents, stock,
			reorder_level, category_id, supplier_id, is_active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
		RETURNING `+productColumns,
		product.ID, product.TenantID, product.SKU, product.Name, product.Description,
		int64(product.Price), int64(product.CostPrice), product.Stock, product.ReorderLevel,
		product.CategoryID, product.SupplierID, product.IsActive,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateKeyError{Field: "sku", Value: product.SKU}
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND (is_active OR $2)
		ORDER BY name, id
	`, tenantID, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $3, description = $4, price_cents = $5, cost_price_cents = $6,
		    reorder_level = $7, category_id = $8, supplier_id = $9, is_active = $10,
		    updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING `+productColumns,
		product.TenantID, product.ID, product.Name, product.Description,
		int64(product.Price), int64(product.CostPrice), product.ReorderLevel,
		product.CategoryID, product.SupplierID, product.IsActive,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

// DecrementStockIfAvailable relies on the row lock taken by UPDATE: the
// stock predicate is re-evaluated against the committed row, so concurrent
// sales can never drive stock below zero.
func (s *Store) DecrementStockIfAvailable(ctx context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	var stock int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND is_active AND stock >= $3
		RETURNING stock
	`, tenantID, id, qty).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var active bool
	err = s.db.QueryRowContext(ctx, `
		SELECT stock, is_active FROM products WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&stock, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	if !active {
		return 0, store.ErrNotFound
	}
	return stock, &store.StockError{ProductID: id, Available: stock, Requested: qty}
}

func (s *Store) IncrementStock(ctx context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	var stock int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2
		RETURNING stock
	`, tenantID, id, qty).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return stock, nil
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, id string, delta int) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $3, updated_at = now()
		WHERE tenant_id = $1 AND id = $2 AND stock + $3 >= 0
		RETURNING `+productColumns,
		tenantID, id, delta,
	))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	current, err := s.GetProduct(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return nil, &store.AdjustmentError{ProductID: id, Stock: current.Stock, Delta: delta}
}

const customerColumns = `
	id, tenant_id, name, email, phone, loyalty_points, total_spent_cents,
	last_visit, status, created_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var (
		c         domain.Customer
		spent     int64
		lastVisit sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.LoyaltyPoints, &spent,
		&lastVisit, &c.Status, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TotalSpent = money.Cents(spent)
	if lastVisit.Valid {
		at := lastVisit.Time.UTC()
		c.LastVisit = &at
	}
	return &c, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.TenantID == "" || customer.Name == "" || customer.Email == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New()
	}
	if customer.Status == "" {
		customer.Status = domain.CustomerActive
	}

	created, err := scanCustomer(s.db.QueryRowContext(ctx, `
		INSERT INTO customers (id, tenant_id, name, email, phone, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
		RETURNING `+customerColumns,
		customer.ID, customer.TenantID, customer.Name, customer.Email, customer.Phone, customer.Status,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateKeyError{Field: "email", Value: customer.Email}
		}
		return nil, err
	}
	return created, nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID string, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

// AccrueLoyalty records the accrual row and bumps the customer counters in
// one database transaction. The accrual primary key makes replays no-ops.
func (s *Store) AccrueLoyalty(ctx context.Context, tenantID string, id string, accrual domain.LoyaltyAccrual) (*domain.Customer, error) {
	if accrual.TransactionID == "" || accrual.Points < 0 || accrual.Spend < 0 {
		return nil, store.ErrInvalidInput
	}
	if accrual.At.IsZero() {
		accrual.At = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT true FROM customers WHERE tenant_id = $1 AND id = $2 FOR UPDATE
	`, tenantID, id).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_accruals (customer_id, transaction_id, tenant_id, points, spend_cents, accrued_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (customer_id, transaction_id) DO NOTHING
	`, id, accrual.TransactionID, tenantID, accrual.Points, int64(accrual.Spend), accrual.At)
	if err != nil {
		return nil, err
	}

	if n, _ := res.RowsAffected(); n == 1 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET loyalty_points = loyalty_points + $3,
			    total_spent_cents = total_spent_cents + $4,
			    last_visit = $5
			WHERE tenant_id = $1 AND id = $2
		`, tenantID, id, accrual.Points, int64(accrual.Spend), accrual.At); err != nil {
			return nil, err
		}
	}

	customer, err := scanCustomer(tx.QueryRowContext(ctx, `
		SELECT `+customerColumns+` FROM customers WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return customer, nil
}

const transactionColumns = `
	id, tenant_id, number, cashier_id, customer_id, subtotal_cents, tax_rate_percent,
	tax_cents, discount_cents, total_cents, payment_method, amount_paid_cents,
	change_cents, due_amount_cents, loyalty_points_earned, loyalty_accrued, status,
	notes, created_at, updated_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t          domain.Transaction
		customerID sql.NullString
	)
	var subtotal, tax, discount, total, paid, chg, due int64
	err := row.Scan(
		&t.ID, &t.TenantID, &t.Number, &t.CashierID, &customerID, &subtotal, &t.TaxRatePercent,
		&tax, &discount, &total, &t.PaymentMethod, &paid,
		&chg, &due, &t.LoyaltyPointsEarned, &t.LoyaltyAccrued, &t.Status,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.CustomerID = customerID.String
	t.Subtotal = money.Cents(subtotal)
	t.Tax = money.Cents(tax)
	t.Discount = money.Cents(discount)
	t.Total = money.Cents(total)
	t.AmountPaid = money.Cents(paid)
	t.Change = money.Cents(chg)
	t.DueAmount = money.Cents(due)
	return &t, nil
}

func (s *Store) CreateTransaction(ctx context.Context, t domain.Transaction) (*domain.Transaction, error) {
	if t.TenantID == "" || t.Number == "" || len(t.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if t.ID == "" {
		t.ID = xid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.UpdatedAt = t.CreatedAt

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, tenant_id, number, cashier_id, customer_id, subtotal_cents, tax_rate_percent,
			tax_cents, discount_cents, total_cents, payment_method, amount_paid_cents,
			change_cents, due_amount_cents, loyalty_points_earned, loyalty_accrued, status,
			notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, t.ID, t.TenantID, t.Number, t.CashierID, nullIfEmpty(t.CustomerID), int64(t.Subtotal), t.TaxRatePercent,
		int64(t.Tax), int64(t.Discount), int64(t.Total), t.PaymentMethod, int64(t.AmountPaid),
		int64(t.Change), int64(t.DueAmount), t.LoyaltyPointsEarned, t.LoyaltyAccrued, t.Status,
		t.Notes, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &store.DuplicateKeyError{Field: "transactionId", Value: t.Number}
		}
		return nil, err
	}

	for i, item := range t.Items {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (
				transaction_id, line_no, product_id, product_name, product_sku, product_price_cents,
				quantity, unit_price_cents, total_price_cents
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, t.ID, i+1, item.ProductID, item.Snapshot.Name, item.Snapshot.SKU, int64(item.Snapshot.Price),
			item.Quantity, int64(item.UnitPrice), int64(item.TotalPrice)); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	created := t
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+` FROM transactions WHERE tenant_id = $1 AND id = $2
	`, tenantID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.loadItems(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Items = items[t.ID]
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, filter.Status, limit)
	if err != nil {
		return nil, err
	}
	return s.collectTransactions(ctx, rows)
}

func (s *Store) collectTransactions(ctx context.Context, rows *sql.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	transactions := make([]domain.Transaction, 0, 32)
	ids := make([]string, 0, 32)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return transactions, nil
	}

	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range transactions {
		transactions[i].Items = items[transactions[i].ID]
	}
	return transactions, nil
}

func (s *Store) loadItems(ctx context.Context, transactionIDs []string) (map[string][]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, product_id, product_name, product_sku, product_price_cents,
		       quantity, unit_price_cents, total_price_cents
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY transaction_id, line_no
	`, transactionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.LineItem, len(transactionIDs))
	for rows.Next() {
		var (
			txID                        string
			item                        domain.LineItem
			snapPrice, unitPrice, total int64
		)
		if err := rows.Scan(&txID, &item.ProductID, &item.Snapshot.Name, &item.Snapshot.SKU, &snapPrice,
			&item.Quantity, &unitPrice, &total); err != nil {
			return nil, err
		}
		item.Snapshot.Price = money.Cents(snapPrice)
		item.UnitPrice = money.Cents(unitPrice)
		item.TotalPrice = money.Cents(total)
		items[txID] = append(items[txID], item)
	}
	return items, rows.Err()
}

func (s *Store) ReconcileTransaction(ctx context.Context, tenantID string, id string, rec domain.Reconciliation) (*domain.Transaction, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $3, amount_paid_cents = $4, change_cents = $5, due_amount_cents = $6,
		    notes = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2
		  AND status = $9 AND amount_paid_cents = $10 AND due_amount_cents = $11
	`, tenantID, id, rec.Status, int64(rec.AmountPaid), int64(rec.Change), int64(rec.DueAmount), rec.Notes, rec.UpdatedAt,
		rec.ExpectedStatus, int64(rec.ExpectedAmountPaid), int64(rec.ExpectedDueAmount))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetTransaction(ctx, tenantID, id); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return s.GetTransaction(ctx, tenantID, id)
}

func (s *Store) MarkLoyaltyAccrued(ctx context.Context, tenantID string, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET loyalty_accrued = true WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingLoyalty(ctx context.Context, tenantID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE tenant_id = $1
		  AND customer_id IS NOT NULL
		  AND loyalty_accrued = false
		  AND status NOT IN ('cancelled', 'refunded')
		ORDER BY created_at, id
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	return s.collectTransactions(ctx, rows)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.TenantID == "" || user.Username == "" {
		return store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, tenant_id, username, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.ID, user.TenantID, user.Username, user.Password, user.Role, user.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return &store.DuplicateKeyError{Field: "username", Value: user.Username}
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, tenantID string, id string) (*domain.UserAccount, error) {
	return s.getUser(ctx, `WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, tenantID string, username string) (*domain.UserAccount, error) {
	return s.getUser(ctx, `WHERE tenant_id = $1 AND username = $2`, tenantID, username)
}

func (s *Store) getUser(ctx context.Context, where string, args ...any) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, username, password_hash, role, active, created_at
		FROM users `+where, args...).
		Scan(&user.ID, &user.TenantID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

var _ store.Repository = (*Store)(nil)

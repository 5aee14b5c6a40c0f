package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// Store keeps each aggregate in one document. Stock and loyalty writes are
// single-document conditional updates, so they stay atomic without sessions.
type Store struct {
	client       *mongo.Client
	tenants      *mongo.Collection
	settings     *mongo.Collection
	products     *mongo.Collection
	customers    *mongo.Collection
	transactions *mongo.Collection
	users        *mongo.Collection
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(6 * time.Second))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	s := &Store{
		client:       client,
		tenants:      db.Collection("tenants"),
		settings:     db.Collection("tenant_settings"),
		products:     db.Collection("products"),
		customers:    db.Collection("customers"),
		transactions: db.Collection("transactions"),
		users:        db.Collection("users"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	unique := func(keys ...string) mongo.IndexModel {
		doc := bson.D{}
		for _, k := range keys {
			doc = append(doc, bson.E{Key: k, Value: 1})
		}
		return mongo.IndexModel{Keys: doc, Options: options.Index().SetUnique(true)}
	}

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.products:  {unique("tenantId", "sku")},
		s.customers: {unique("tenantId", "email")},
		s.users:     {unique("tenantId", "username")},
		s.transactions: {
			unique("tenantId", "number"),
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "tenantId", Value: 1}, {Key: "loyaltyAccrued", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, models); err != nil {
			return err
		}
	}
	return nil
}

type tenantDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	CreatedAt time.Time `bson:"createdAt"`
}

type settingsDoc struct {
	TenantID          string    `bson:"_id"`
	TaxRatePercent    *float64  `bson:"taxRatePercent,omitempty"`
	Currency          string    `bson:"currency"`
	Locale            string    `bson:"locale"`
	TransactionPrefix string    `bson:"transactionPrefix"`
	ReceiptHeader     string    `bson:"receiptHeader"`
	ReceiptFooter     string    `bson:"receiptFooter"`
	LoyaltyEnabled    bool      `bson:"loyaltyEnabled"`
	UpdatedAt         time.Time `bson:"updatedAt"`
}

type productDoc struct {
	ID           string    `bson:"_id"`
	TenantID     string    `bson:"tenantId"`
	SKU          string    `bson:"sku"`
	Name         string    `bson:"name"`
	Description  string    `bson:"description"`
	PriceCents   int64     `bson:"priceCents"`
	CostCents    int64     `bson:"costPriceCents"`
	Stock        int       `bson:"stock"`
	ReorderLevel int       `bson:"reorderLevel"`
	CategoryID   string    `bson:"category"`
	SupplierID   string    `bson:"supplier"`
	IsActive     bool      `bson:"isActive"`
	CreatedAt    time.Time `bson:"createdAt"`
	UpdatedAt    time.Time `bson:"updatedAt"`
}

func (d productDoc) toDomain() *domain.Product {
	return &domain.Product{
		ID: d.ID, TenantID: d.TenantID, SKU: d.SKU, Name: d.Name, Description: d.Description,
		Price: money.Cents(d.PriceCents), CostPrice: money.Cents(d.CostCents), Stock: d.Stock,
		ReorderLevel: d.ReorderLevel, CategoryID: d.CategoryID, SupplierID: d.SupplierID,
		IsActive: d.IsActive, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
}

// customerDoc tracks applied accruals inline so the idempotency check and the
// counter update are one document write.
type customerDoc struct {
	ID                  string     `bson:"_id"`
	TenantID            string     `bson:"tenantId"`
	Name                string     `bson:"name"`
	Email               string     `bson:"email"`
	Phone               string     `bson:"phone"`
	LoyaltyPoints       int64      `bson:"loyaltyPoints"`
	TotalSpentCents     int64      `bson:"totalSpentCents"`
	LastVisit           *time.Time `bson:"lastVisit,omitempty"`
	Status              string     `bson:"status"`
	CreatedAt           time.Time  `bson:"createdAt"`
	AccruedTransactions []string   `bson:"accruedTransactions"`
}

func (d customerDoc) toDomain() *domain.Customer {
	c := &domain.Customer{
		ID: d.ID, TenantID: d.TenantID, Name: d.Name, Email: d.Email, Phone: d.Phone,
		LoyaltyPoints: d.LoyaltyPoints, TotalSpent: money.Cents(d.TotalSpentCents),
		Status: d.Status, CreatedAt: d.CreatedAt,
	}
	if d.LastVisit != nil {
		at := d.LastVisit.UTC()
		c.LastVisit = &at
	}
	return c
}

type lineItemDoc struct {
	ProductID  string `bson:"productId"`
	Name       string `bson:"name"`
	SKU        string `bson:"sku"`
	PriceCents int64  `bson:"priceCents"`
	Quantity   int    `bson:"quantity"`
	UnitCents  int64  `bson:"unitPriceCents"`
	TotalCents int64  `bson:"totalPriceCents"`
}

type transactionDoc struct {
	ID                  string        `bson:"_id"`
	TenantID            string        `bson:"tenantId"`
	Number              string        `bson:"number"`
	Items               []lineItemDoc `bson:"items"`
	CashierID           string        `bson:"cashierId"`
	CustomerID          string        `bson:"customerId,omitempty"`
	SubtotalCents       int64         `bson:"subtotalCents"`
	TaxRatePercent      float64       `bson:"taxRatePercent"`
	TaxCents            int64         `bson:"taxCents"`
	DiscountCents       int64         `bson:"discountCents"`
	TotalCents          int64         `bson:"totalCents"`
	PaymentMethod       string        `bson:"paymentMethod"`
	AmountPaidCents     int64         `bson:"amountPaidCents"`
	ChangeCents         int64         `bson:"changeCents"`
	DueAmountCents      int64         `bson:"dueAmountCents"`
	LoyaltyPointsEarned int64         `bson:"loyaltyPointsEarned"`
	LoyaltyAccrued      bool          `bson:"loyaltyAccrued"`
	Status              string        `bson:"status"`
	Notes               string        `bson:"notes"`
	CreatedAt           time.Time     `bson:"createdAt"`
	UpdatedAt           time.Time     `bson:"updatedAt"`
}

func transactionToDoc(t domain.Transaction) transactionDoc {
	items := make([]lineItemDoc, 0, len(t.Items))
	for _, item := range t.Items {
		items = append(items, lineItemDoc{
			ProductID: item.ProductID, Name: item.Snapshot.Name, SKU: item.Snapshot.SKU,
			PriceCents: int64(item.Snapshot.Price), Quantity: item.Quantity,
			UnitCents: int64(item.UnitPrice), TotalCents: int64(item.TotalPrice),
		})
	}
	return transactionDoc{
		ID: t.ID, TenantID: t.TenantID, Number: t.Number, Items: items, CashierID: t.CashierID,
		CustomerID: t.CustomerID, SubtotalCents: int64(t.Subtotal), TaxRatePercent: t.TaxRatePercent,
		TaxCents: int64(t.Tax), DiscountCents: int64(t.Discount), TotalCents: int64(t.Total),
		PaymentMethod: t.PaymentMethod, AmountPaidCents: int64(t.AmountPaid), ChangeCents: int64(t.Change),
		DueAmountCents: int64(t.DueAmount), LoyaltyPointsEarned: t.LoyaltyPointsEarned,
		LoyaltyAccrued: t.LoyaltyAccrued, Status: t.Status, Notes: t.Notes,
		CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt,
	}
}

func (d transactionDoc) toDomain() *domain.Transaction {
	items := make([]domain.LineItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.LineItem{
			ProductID:  item.ProductID,
			Snapshot:   domain.ProductSnapshot{Name: item.Name, SKU: item.SKU, Price: money.Cents(item.PriceCents)},
			Quantity:   item.Quantity,
			UnitPrice:  money.Cents(item.UnitCents),
			TotalPrice: money.Cents(item.TotalCents),
		})
	}
	return &domain.Transaction{
		ID: d.ID, TenantID: d.TenantID, Number: d.Number, Items: items, CashierID: d.CashierID,
		CustomerID: d.CustomerID, Subtotal: money.Cents(d.SubtotalCents), TaxRatePercent: d.TaxRatePercent,
		Tax: money.Cents(d.TaxCents), Discount: money.Cents(d.DiscountCents), Total: money.Cents(d.TotalCents),
		PaymentMethod: d.PaymentMethod, AmountPaid: money.Cents(d.AmountPaidCents), Change: money.Cents(d.ChangeCents),
		DueAmount: money.Cents(d.DueAmountCents), LoyaltyPointsEarned: d.LoyaltyPointsEarned,
		LoyaltyAccrued: d.LoyaltyAccrued, Status: d.Status, Notes: d.Notes,
		CreatedAt: d.CreatedAt.UTC(), UpdatedAt: d.UpdatedAt.UTC(),
	}
}

type userDoc struct {
	ID           string    `bson:"_id"`
	TenantID     string    `bson:"tenantId"`
	Username     string    `bson:"username"`
	PasswordHash string    `bson:"passwordHash"`
	Role         string    `bson:"role"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func scoped(tenantID string, id string) bson.M {
	return bson.M{"tenantId": tenantID, "_id": id}
}

func afterUpdate() *options.FindOneAndUpdateOptionsBuilder {
	return options.FindOneAndUpdate().SetReturnDocument(options.After)
}

func (s *Store) CreateTenant(ctx context.Context, tenant domain.Tenant) (*domain.Tenant, error) {
	if tenant.ID == "" || strings.TrimSpace(tenant.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}

	_, err := s.tenants.InsertOne(ctx, tenantDoc{ID: tenant.ID, Name: tenant.Name, CreatedAt: tenant.CreatedAt})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &store.DuplicateKeyError{Field: "tenant", Value: tenant.ID}
		}
		return nil, err
	}
	created := tenant
	return &created, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	var doc tenantDoc
	if err := s.tenants.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &domain.Tenant{ID: doc.ID, Name: doc.Name, CreatedAt: doc.CreatedAt.UTC()}, nil
}

func (s *Store) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	cursor, err := s.tenants.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []tenantDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	tenants := make([]domain.Tenant, 0, len(docs))
	for _, doc := range docs {
		tenants = append(tenants, domain.Tenant{ID: doc.ID, Name: doc.Name, CreatedAt: doc.CreatedAt.UTC()})
	}
	return tenants, nil
}

func (s *Store) GetSettings(ctx context.Context, tenantID string) (*domain.Settings, error) {
	var doc settingsDoc
	if err := s.settings.FindOne(ctx, bson.M{"_id": tenantID}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &domain.Settings{
		TenantID: doc.TenantID, TaxRatePercent: doc.TaxRatePercent, Currency: doc.Currency,
		Locale: doc.Locale, TransactionPrefix: doc.TransactionPrefix, ReceiptHeader: doc.ReceiptHeader,
		ReceiptFooter: doc.ReceiptFooter, LoyaltyEnabled: doc.LoyaltyEnabled, UpdatedAt: doc.UpdatedAt.UTC(),
	}, nil
}

func (s *Store) UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.TenantID == "" {
		return nil, store.ErrInvalidInput
	}
	if _, err := s.GetTenant(ctx, settings.TenantID); err != nil {
		return nil, err
	}
	settings.UpdatedAt = time.Now().UTC()

	doc := settingsDoc{
		TenantID: settings.TenantID, TaxRatePercent: settings.TaxRatePercent, Currency: settings.Currency,
		Locale: settings.Locale, TransactionPrefix: settings.TransactionPrefix, ReceiptHeader: settings.ReceiptHeader,
		ReceiptFooter: settings.ReceiptFooter, LoyaltyEnabled: settings.LoyaltyEnabled, UpdatedAt: settings.UpdatedAt,
	}
	_, err := s.settings.ReplaceOne(ctx, bson.M{"_id": settings.TenantID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return nil, err
	}
	saved := settings
	return &saved, nil
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
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.products.InsertOne(ctx, productDoc{
		ID: product.ID, TenantID: product.TenantID, SKU: product.SKU, Name: product.Name,
		Description: product.Description, PriceCents: int64(product.Price), CostCents: int64(product.CostPrice),
		Stock: product.Stock, ReorderLevel: product.ReorderLevel, CategoryID: product.CategoryID,
		SupplierID: product.SupplierID, IsActive: product.IsActive, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &store.DuplicateKeyError{Field: "sku", Value: product.SKU}
		}
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, id string) (*domain.Product, error) {
	var doc productDoc
	if err := s.products.FindOne(ctx, scoped(tenantID, id)).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListProducts(ctx context.Context, tenantID string, includeInactive bool) ([]domain.Product, error) {
	filter := bson.M{"tenantId": tenantID}
	if !includeInactive {
		filter["isActive"] = true
	}
	cursor, err := s.products.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []productDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		products = append(products, *doc.toDomain())
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Price < 0 || product.CostPrice < 0 || product.ReorderLevel < 0 {
		return nil, store.ErrInvalidInput
	}

	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx, scoped(product.TenantID, product.ID), bson.M{"$set": bson.M{
		"name":           product.Name,
		"description":    product.Description,
		"priceCents":     int64(product.Price),
		"costPriceCents": int64(product.CostPrice),
		"reorderLevel":   product.ReorderLevel,
		"category":       product.CategoryID,
		"supplier":       product.SupplierID,
		"isActive":       product.IsActive,
		"updatedAt":      time.Now().UTC(),
	}}, afterUpdate()).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) DecrementStockIfAvailable(ctx context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	filter := scoped(tenantID, id)
	filter["isActive"] = true
	filter["stock"] = bson.M{"$gte": qty}

	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx, filter, bson.M{
		"$inc": bson.M{"stock": -qty},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}, afterUpdate()).Decode(&doc)
	if err == nil {
		return doc.Stock, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, err
	}

	current, err := s.GetProduct(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}
	if !current.IsActive {
		return 0, store.ErrNotFound
	}
	return current.Stock, &store.StockError{ProductID: id, Available: current.Stock, Requested: qty}
}

func (s *Store) IncrementStock(ctx context.Context, tenantID string, id string, qty int) (int, error) {
	if qty < 1 {
		return 0, store.ErrInvalidInput
	}

	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx, scoped(tenantID, id), bson.M{
		"$inc": bson.M{"stock": qty},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}, afterUpdate()).Decode(&doc)
	if err != nil {
		return 0, notFound(err)
	}
	return doc.Stock, nil
}

func (s *Store) AdjustStock(ctx context.Context, tenantID string, id string, delta int) (*domain.Product, error) {
	filter := scoped(tenantID, id)
	filter["stock"] = bson.M{"$gte": -delta}

	var doc productDoc
	err := s.products.FindOneAndUpdate(ctx, filter, bson.M{
		"$inc": bson.M{"stock": delta},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}, afterUpdate()).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	current, err := s.GetProduct(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return nil, &store.AdjustmentError{ProductID: id, Stock: current.Stock, Delta: delta}
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
	customer.CreatedAt = time.Now().UTC()

	_, err := s.customers.InsertOne(ctx, customerDoc{
		ID: customer.ID, TenantID: customer.TenantID, Name: customer.Name, Email: customer.Email,
		Phone: customer.Phone, Status: customer.Status, CreatedAt: customer.CreatedAt,
		AccruedTransactions: []string{},
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &store.DuplicateKeyError{Field: "email", Value: customer.Email}
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, tenantID string, id string) (*domain.Customer, error) {
	var doc customerDoc
	if err := s.customers.FindOne(ctx, scoped(tenantID, id)).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]domain.Customer, error) {
	cursor, err := s.customers.Find(ctx, bson.M{"tenantId": tenantID},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}).
			SetProjection(bson.M{"accruedTransactions": 0}))
	if err != nil {
		return nil, err
	}
	var docs []customerDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	customers := make([]domain.Customer, 0, len(docs))
	for _, doc := range docs {
		customers = append(customers, *doc.toDomain())
	}
	return customers, nil
}

func (s *Store) AccrueLoyalty(ctx context.Context, tenantID string, id string, accrual domain.LoyaltyAccrual) (*domain.Customer, error) {
	if accrual.TransactionID == "" || accrual.Points < 0 || accrual.Spend < 0 {
		return nil, store.ErrInvalidInput
	}
	if accrual.At.IsZero() {
		accrual.At = time.Now().UTC()
	}

	filter := scoped(tenantID, id)
	filter["accruedTransactions"] = bson.M{"$ne": accrual.TransactionID}

	var doc customerDoc
	err := s.customers.FindOneAndUpdate(ctx, filter, bson.M{
		"$inc":  bson.M{"loyaltyPoints": accrual.Points, "totalSpentCents": int64(accrual.Spend)},
		"$set":  bson.M{"lastVisit": accrual.At},
		"$push": bson.M{"accruedTransactions": accrual.TransactionID},
	}, afterUpdate().SetProjection(bson.M{"accruedTransactions": 0})).Decode(&doc)
	if err == nil {
		return doc.toDomain(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	// Either the customer is missing or this transaction was already applied.
	return s.GetCustomer(ctx, tenantID, id)
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

	if _, err := s.transactions.InsertOne(ctx, transactionToDoc(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, &store.DuplicateKeyError{Field: "transactionId", Value: t.Number}
		}
		return nil, err
	}
	created := t
	created.Items = append([]domain.LineItem(nil), t.Items...)
	return &created, nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID string, id string) (*domain.Transaction, error) {
	var doc transactionDoc
	if err := s.transactions.FindOne(ctx, scoped(tenantID, id)).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	query := bson.M{"tenantId": tenantID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	limit := int64(filter.Limit)
	if limit <= 0 {
		limit = 200
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)
	return s.findTransactions(ctx, query, opts)
}

func (s *Store) findTransactions(ctx context.Context, query bson.M, opts *options.FindOptionsBuilder) ([]domain.Transaction, error) {
	cursor, err := s.transactions.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	var docs []transactionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	transactions := make([]domain.Transaction, 0, len(docs))
	for _, doc := range docs {
		transactions = append(transactions, *doc.toDomain())
	}
	return transactions, nil
}

func (s *Store) ReconcileTransaction(ctx context.Context, tenantID string, id string, rec domain.Reconciliation) (*domain.Transaction, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	filter := scoped(tenantID, id)
	filter["status"] = rec.ExpectedStatus
	filter["amountPaidCents"] = int64(rec.ExpectedAmountPaid)
	filter["dueAmountCents"] = int64(rec.ExpectedDueAmount)

	var doc transactionDoc
	err := s.transactions.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{
		"status":          rec.Status,
		"amountPaidCents": int64(rec.AmountPaid),
		"changeCents":     int64(rec.Change),
		"dueAmountCents":  int64(rec.DueAmount),
		"notes":           rec.Notes,
		"updatedAt":       rec.UpdatedAt,
	}}, afterUpdate()).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, err := s.GetTransaction(ctx, tenantID, id); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (s *Store) MarkLoyaltyAccrued(ctx context.Context, tenantID string, id string) error {
	res, err := s.transactions.UpdateOne(ctx, scoped(tenantID, id), bson.M{"$set": bson.M{"loyaltyAccrued": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListPendingLoyalty(ctx context.Context, tenantID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := bson.M{
		"tenantId":       tenantID,
		"customerId":     bson.M{"$exists": true, "$ne": ""},
		"loyaltyAccrued": false,
		"status":         bson.M{"$nin": []string{domain.TxStatusCancelled, domain.TxStatusRefunded}},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return s.findTransactions(ctx, query, opts)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.TenantID == "" || user.Username == "" {
		return store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.users.InsertOne(ctx, userDoc{
		ID: user.ID, TenantID: user.TenantID, Username: user.Username, PasswordHash: user.Password,
		Role: user.Role, Active: user.Active, CreatedAt: user.CreatedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &store.DuplicateKeyError{Field: "username", Value: user.Username}
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, tenantID string, id string) (*domain.UserAccount, error) {
	return s.findUser(ctx, scoped(tenantID, id))
}

func (s *Store) GetUserByUsername(ctx context.Context, tenantID string, username string) (*domain.UserAccount, error) {
	return s.findUser(ctx, bson.M{"tenantId": tenantID, "username": username})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*domain.UserAccount, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	return &domain.UserAccount{
		ID: doc.ID, TenantID: doc.TenantID, Username: doc.Username, Password: doc.PasswordHash,
		Role: doc.Role, Active: doc.Active, CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

var _ store.Repository = (*Store)(nil)

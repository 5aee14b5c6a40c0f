package domain

import (
	"time"

	"retailpos/backend/internal/money"
)

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settings is the per-tenant configuration document. A nil TaxRatePercent
// means the tenant never configured one and the service default applies.
type Settings struct {
	TenantID          string    `json:"tenantId"`
	TaxRatePercent    *float64  `json:"taxRatePercent,omitempty"`
	Currency          string    `json:"currency"`
	Locale            string    `json:"locale"`
	TransactionPrefix string    `json:"transactionPrefix,omitempty"`
	ReceiptHeader     string    `json:"receiptHeader,omitempty"`
	ReceiptFooter     string    `json:"receiptFooter,omitempty"`
	LoyaltyEnabled    bool      `json:"loyaltyEnabled"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type SettingsUpdateRequest struct {
	TaxRatePercent    *float64 `json:"taxRatePercent,omitempty"`
	Currency          *string  `json:"currency,omitempty"`
	Locale            *string  `json:"locale,omitempty"`
	TransactionPrefix *string  `json:"transactionPrefix,omitempty"`
	ReceiptHeader     *string  `json:"receiptHeader,omitempty"`
	ReceiptFooter     *string  `json:"receiptFooter,omitempty"`
	LoyaltyEnabled    *bool    `json:"loyaltyEnabled,omitempty"`
}

type Product struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenantId"`
	SKU          string      `json:"sku"`
	Name         string      `json:"name"`
	Description  string      `json:"description,omitempty"`
	Price        money.Cents `json:"price"`
	CostPrice    money.Cents `json:"costPrice"`
	Stock        int         `json:"stock"`
	ReorderLevel int         `json:"reorderLevel"`
	CategoryID   string      `json:"category,omitempty"`
	SupplierID   string      `json:"supplier,omitempty"`
	IsActive     bool        `json:"isActive"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func (p Product) LowStock() bool {
	return p.Stock <= p.ReorderLevel
}

type ProductCreateRequest struct {
	SKU          string      `json:"sku"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Price        money.Cents `json:"price"`
	CostPrice    money.Cents `json:"costPrice"`
	Stock        int         `json:"stock"`
	ReorderLevel int         `json:"reorderLevel"`
	CategoryID   string      `json:"category"`
	SupplierID   string      `json:"supplier"`
}

// ProductUpdateRequest covers catalog fields only. Stock moves through sales
// and inventory adjustments.
type ProductUpdateRequest struct {
	Name         *string      `json:"name,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Price        *money.Cents `json:"price,omitempty"`
	CostPrice    *money.Cents `json:"costPrice,omitempty"`
	ReorderLevel *int         `json:"reorderLevel,omitempty"`
	CategoryID   *string      `json:"category,omitempty"`
	SupplierID   *string      `json:"supplier,omitempty"`
	IsActive     *bool        `json:"isActive,omitempty"`
}

type InventoryAdjustRequest struct {
	Amount int `json:"amount"`
}

type Customer struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenantId"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Phone         string      `json:"phone,omitempty"`
	LoyaltyPoints int64       `json:"loyaltyPoints"`
	TotalSpent    money.Cents `json:"totalSpent"`
	LastVisit     *time.Time  `json:"lastVisit,omitempty"`
	Status        string      `json:"status"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// LoyaltyAccrual is applied at most once per TransactionID.
type LoyaltyAccrual struct {
	TransactionID string
	Points        int64
	Spend         money.Cents
	At            time.Time
}

type SaleItemRequest struct {
	ProductID string `json:"product"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	Items         []SaleItemRequest `json:"items"`
	CustomerID    string            `json:"customer,omitempty"`
	PaymentMethod string            `json:"paymentMethod"`
	AmountPaid    money.Cents       `json:"amountPaid"`
	Discount      money.Cents       `json:"discount,omitempty"`
	Status        string            `json:"status,omitempty"`
	Notes         string            `json:"notes,omitempty"`
}

// ProductSnapshot is copied into a line item at sale time and never
// re-read from the live product.
type ProductSnapshot struct {
	Name  string      `json:"name"`
	SKU   string      `json:"sku"`
	Price money.Cents `json:"price"`
}

type LineItem struct {
	ProductID  string          `json:"product"`
	Snapshot   ProductSnapshot `json:"snapshot"`
	Quantity   int             `json:"quantity"`
	UnitPrice  money.Cents     `json:"unitPrice"`
	TotalPrice money.Cents     `json:"totalPrice"`
}

type Transaction struct {
	ID                  string      `json:"id"`
	TenantID            string      `json:"tenantId"`
	Number              string      `json:"transactionId"`
	Items               []LineItem  `json:"items"`
	CashierID           string      `json:"cashier"`
	CustomerID          string      `json:"customer,omitempty"`
	Subtotal            money.Cents `json:"subtotal"`
	TaxRatePercent      float64     `json:"taxRatePercent"`
	Tax                 money.Cents `json:"tax"`
	Discount            money.Cents `json:"discount"`
	Total               money.Cents `json:"total"`
	PaymentMethod       string      `json:"paymentMethod"`
	AmountPaid          money.Cents `json:"amountPaid"`
	Change              money.Cents `json:"change"`
	DueAmount           money.Cents `json:"dueAmount"`
	LoyaltyPointsEarned int64       `json:"loyaltyPointsEarned"`
	LoyaltyAccrued      bool        `json:"loyaltyAccrued"`
	Status              string      `json:"status"`
	Notes               string      `json:"notes,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// Reconciliation carries the only fields a stored transaction may change.
// The write applies only while the stored payment state still matches the
// Expected* values the caller read.
type Reconciliation struct {
	Status     string
	AmountPaid money.Cents
	Change     money.Cents
	DueAmount  money.Cents
	Notes      string
	UpdatedAt  time.Time

	ExpectedStatus     string
	ExpectedAmountPaid money.Cents
	ExpectedDueAmount  money.Cents
}

type TransactionFilter struct {
	Status string
	Limit  int
}

type CustomerRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type TransactionView struct {
	Transaction
	CustomerRef *CustomerRef `json:"customerDetails,omitempty"`
	CashierRef  *UserRef     `json:"cashierDetails,omitempty"`
}

type LoyaltyRetryResult struct {
	Attempted int `json:"attempted"`
	Applied   int `json:"applied"`
	Failed    int `json:"failed"`
}

type LoginRequest struct {
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	TenantID    string `json:"tenantId"`
	ExpiresAt   string `json:"expiresAt"`
}

// Actor is the authenticated principal. TenantID scopes every repository call
// made on its behalf.
type Actor struct {
	UserID   string
	TenantID string
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	TenantID  string
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	TxStatusCompleted = "completed"
	TxStatusDue       = "due"
	TxStatusCancelled = "cancelled"
	TxStatusRefunded  = "refunded"
)

const (
	PaymentCash    = "cash"
	PaymentCard    = "card"
	PaymentDigital = "digital"
)

const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()

	repo := memory.NewSeeded()
	posMetrics := metrics.New()
	svc := service.New(repo, service.Options{Metrics: posMetrics})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)

	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: posMetrics.Handler()}).Handler()
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Errors  map[string]any  `json:"errors"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func loginToken(t *testing.T, handler http.Handler, tenantID string, username string, password string) string {
	t.Helper()
	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		TenantID: tenantID, Username: username, Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("expected access token")
	}
	return resp.AccessToken
}

func TestHandleHealthSetsSecurityHeaders(t *testing.T) {
	handler := newTestAPI(t)
	rec, _ := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
}

func TestPostSaleReturns201WithTransaction(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{
		"items": [{"product": "prod-coffee", "quantity": 1}, {"product": "prod-bagel", "quantity": 2}],
		"customer": "cust-ana",
		"paymentMethod": "cash",
		"amountPaid": 40.00
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var view map[string]any
	if err := json.Unmarshal(env.Data, &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view["total"] != 35.09 || view["change"] != 4.91 || view["tax"] != 2.6 {
		t.Fatalf("unexpected totals: total=%v change=%v tax=%v", view["total"], view["change"], view["tax"])
	}
	if view["loyaltyPointsEarned"] != float64(35) {
		t.Fatalf("expected 35 loyalty points, got %v", view["loyaltyPointsEarned"])
	}
	if !strings.HasPrefix(view["transactionId"].(string), "DEMO-") {
		t.Fatalf("unexpected transaction number %v", view["transactionId"])
	}
	details, ok := view["customerDetails"].(map[string]any)
	if !ok || details["name"] != "Ana Lima" {
		t.Fatalf("expected populated customer details, got %v", view["customerDetails"])
	}
}

func TestPostSaleInsufficientPaymentReturns400(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{
		"items": [{"product": "prod-coffee", "quantity": 1}, {"product": "prod-bagel", "quantity": 2}],
		"amountPaid": 30
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if env.Success {
		t.Fatalf("expected success:false")
	}
	if !strings.Contains(env.Message, "35.09") || !strings.Contains(env.Message, "30.00") {
		t.Fatalf("expected message to name the amounts, got %q", env.Message)
	}
}

func TestPostSaleInsufficientStockNamesProduct(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{
		"items": [{"product": "prod-tea", "quantity": 31}],
		"amountPaid": 1000
	}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(env.Message, "Green Tea") {
		t.Fatalf("expected message to name the product, got %q", env.Message)
	}
	if env.Errors["available"] != float64(30) || env.Errors["requested"] != float64(31) {
		t.Fatalf("unexpected error details: %v", env.Errors)
	}
}

func TestPostSaleMissingProductReturns404(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")

	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{
		"items": [{"product": "prod-other-cola", "quantity": 1}],
		"amountPaid": 10
	}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another tenant's product, got %d", rec.Code)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	handler := newTestAPI(t)

	rec, env := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if env.Success || env.Message == "" {
		t.Fatalf("expected error envelope, got %+v", env)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestCashierCannotAdjustInventory(t *testing.T) {
	handler := newTestAPI(t)
	cashier := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")
	admin := loginToken(t, handler, memory.DemoTenantID, "admin", "admin123")

	rec, _ := doJSON(t, handler, http.MethodPatch, "/api/v1/inventory/prod-tea/adjust", cashier, `{"amount": 5}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec, _ = doJSON(t, handler, http.MethodPatch, "/api/v1/inventory/prod-tea/adjust", admin, `{"amount": -31}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative result, got %d", rec.Code)
	}

	rec, env := doJSON(t, handler, http.MethodPatch, "/api/v1/inventory/prod-tea/adjust", admin, `{"amount": -26}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result struct {
		Product  domain.Product `json:"product"`
		LowStock bool           `json:"lowStock"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Product.Stock != 4 || !result.LowStock {
		t.Fatalf("expected stock 4 flagged low, got %+v", result)
	}
}

func TestUpdateTransactionRejectsImmutableFields(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{
		"items": [{"product": "prod-coffee", "quantity": 1}, {"product": "prod-bagel", "quantity": 2}],
		"customer": "cust-ana",
		"amountPaid": 10,
		"status": "due"
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.TransactionView
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Status != domain.TxStatusDue || created.DueAmount != 2509 {
		t.Fatalf("expected due 25.09, got status=%s due=%s", created.Status, created.DueAmount)
	}

	path := "/api/v1/transactions/" + created.ID
	rec, env = doJSON(t, handler, http.MethodPut, path, token, `{"total": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for immutable field, got %d", rec.Code)
	}
	if env.Errors["total"] != "is immutable" {
		t.Fatalf("expected total flagged immutable, got %v", env.Errors)
	}

	rec, env = doJSON(t, handler, http.MethodPut, path, token, `{"amountPaid": 35.09, "notes": "settled"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var updated domain.TransactionView
	if err := json.Unmarshal(env.Data, &updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != domain.TxStatusCompleted || updated.DueAmount != 0 || updated.Total != created.Total {
		t.Fatalf("unexpected reconciliation result: %+v", updated.Transaction)
	}

	rec, _ = doJSON(t, handler, http.MethodPut, "/api/v1/transactions/missing", token, `{"notes": "x"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestTransactionsAreTenantScoped(t *testing.T) {
	handler := newTestAPI(t)
	demo := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")
	other := loginToken(t, handler, memory.OtherTenantID, "admin", "admin123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/transactions", demo, `{
		"items": [{"product": "prod-milk", "quantity": 1}],
		"amountPaid": 5
	}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created domain.TransactionView
	if err := json.Unmarshal(env.Data, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec, _ = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/"+created.ID, other, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", rec.Code)
	}

	rec, env = doJSON(t, handler, http.MethodGet, "/api/v1/transactions", other, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list []domain.TransactionView
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected other tenant to see no transactions, got %d", len(list))
	}
}

func TestDuplicateSKUReturns400(t *testing.T) {
	handler := newTestAPI(t)
	admin := loginToken(t, handler, memory.DemoTenantID, "admin", "admin123")

	rec, env := doJSON(t, handler, http.MethodPost, "/api/v1/products", admin, `{"sku": "COF-250", "name": "Copy", "price": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env.Errors["sku"] != "already exists" {
		t.Fatalf("expected sku duplicate detail, got %v", env.Errors)
	}
}

func TestSettingsUpdateIsAdminOnly(t *testing.T) {
	handler := newTestAPI(t)
	cashier := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")
	admin := loginToken(t, handler, memory.DemoTenantID, "admin", "admin123")

	rec, _ := doJSON(t, handler, http.MethodPut, "/api/v1/settings", cashier, `{"taxRatePercent": 10}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec, env := doJSON(t, handler, http.MethodPut, "/api/v1/settings", admin, `{"taxRatePercent": 10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var settings domain.Settings
	if err := json.Unmarshal(env.Data, &settings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if settings.TaxRatePercent == nil || *settings.TaxRatePercent != 10 {
		t.Fatalf("expected tax rate 10, got %v", settings.TaxRatePercent)
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{TenantID: memory.DemoTenantID, Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	handler := newTestAPI(t)
	rec, _ := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"admin123","role":"admin"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestMetricsEndpointExposesSaleCounters(t *testing.T) {
	handler := newTestAPI(t)
	token := loginToken(t, handler, memory.DemoTenantID, "cashier", "cashier123")
	doJSON(t, handler, http.MethodPost, "/api/v1/transactions", token, `{"items":[{"product":"prod-milk","quantity":1}],"amountPaid":5}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `retailpos_sales_total{outcome="completed"} 1`) {
		t.Fatalf("expected completed sale counter in metrics output")
	}
}

func TestConcurrentModificationReturns409(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("update: %w", &service.ConflictError{Entity: service.EntityTransaction, ID: "tx-1"})
	writeServiceError(rec, err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || !strings.Contains(env.Message, "tx-1") {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	metrics       http.Handler
	allowedOrigin string
	loginLimiter  *clientLimiter
}

type Options struct {
	AllowedOrigin string
	// LoginPerMinute caps login attempts per client address.
	LoginPerMinute int
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	if opts.LoginPerMinute < 1 {
		opts.LoginPerMinute = 5
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       opts.Metrics,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newClientLimiter(opts.LoginPerMinute, time.Minute),
	}
}

// clientLimiter keeps one token bucket per client key.
type clientLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newClientLimiter(perWindow int, window time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.withMiddleware)

	r.Get("/healthz", a.handleHealth)
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/products", a.handleListProducts)
			r.Post("/products", a.handleCreateProduct)
			r.Get("/products/{id}", a.handleGetProduct)
			r.Put("/products/{id}", a.handleUpdateProduct)
			r.Patch("/inventory/{id}/adjust", a.handleAdjustInventory)

			r.Get("/customers", a.handleListCustomers)
			r.Post("/customers", a.handleCreateCustomer)
			r.Get("/customers/{id}", a.handleGetCustomer)

			r.Post("/transactions", a.handlePostSale)
			r.Get("/transactions", a.handleListTransactions)
			r.Get("/transactions/{id}", a.handleGetTransaction)
			r.Put("/transactions/{id}", a.handleUpdateTransaction)

			r.Post("/loyalty/retry", a.handleLoyaltyRetry)

			r.Get("/settings", a.handleGetSettings)
			r.Put("/settings", a.handleUpdateSettings)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})
	return r
}

// requireAuth resolves the bearer token into an actor. Role checks live in
// the service so every transport gets the same rules.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("includeInactive"))
	products, err := a.service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, product)
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, product)
}

func (a *API) handleAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req domain.InventoryAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.AdjustInventory(r.Context(), chi.URLParam(r, "id"), req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"product":  product,
		"lowStock": product.LowStock(),
	})
}

func (a *API) handleListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, customers)
}

func (a *API) handleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req domain.CustomerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	customer, err := a.service.CreateCustomer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, customer)
}

func (a *API) handleGetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := a.service.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, customer)
}

func (a *API) handlePostSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	view, err := a.service.PostSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusCreated, view)
}

func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.TransactionFilter{
		Status: strings.ToLower(strings.TrimSpace(query.Get("status"))),
		Limit:  parsePositiveLimit(query.Get("limit"), 50, 200),
	}
	views, err := a.service.ListTransactions(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, views)
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (a *API) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}
	patch, err := service.DecodeTransactionPatch(raw)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	view, err := a.service.UpdateTransaction(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, view)
}

func (a *API) handleLoyaltyRetry(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.RetryPendingLoyalty(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.service.GetSettings(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, settings)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.SettingsUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	settings, err := a.service.UpdateSettings(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, settings)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Printf("[httpapi] %s %s %d %s", r.Method, r.URL.Path, ww.Status(), time.Since(startedAt))
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// writeServiceError maps engine errors onto status codes and a details
// object the client can render next to the message.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		notFound   *service.NotFoundError
		stock      *service.InsufficientStockError
		payment    *service.InsufficientPaymentError
		adjustment *service.InvalidAdjustmentError
		immutable  *service.ImmutableFieldError
		validation *service.ValidationError
		duplicate  *store.DuplicateKeyError
		conflict   *service.ConflictError
	)
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err)
	case errors.As(err, &notFound):
		writeErrorDetails(w, http.StatusNotFound, err, map[string]any{notFound.Entity: notFound.ID})
	case errors.As(err, &stock):
		writeErrorDetails(w, http.StatusBadRequest, err, map[string]any{
			"product":   stock.ProductID,
			"available": stock.Available,
			"requested": stock.Requested,
		})
	case errors.As(err, &payment):
		writeErrorDetails(w, http.StatusBadRequest, err, map[string]any{
			"total":      payment.Total,
			"amountPaid": payment.AmountPaid,
		})
	case errors.As(err, &adjustment):
		writeErrorDetails(w, http.StatusBadRequest, err, map[string]any{
			"product": adjustment.ProductID,
			"stock":   adjustment.Stock,
			"amount":  adjustment.Delta,
		})
	case errors.As(err, &immutable):
		writeErrorDetails(w, http.StatusBadRequest, err, map[string]any{immutable.Field: "is immutable"})
	case errors.As(err, &validation):
		details := map[string]any(nil)
		if validation.Field != "" {
			details = map[string]any{validation.Field: validation.Message}
		}
		writeErrorDetails(w, http.StatusBadRequest, err, details)
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &duplicate):
		writeErrorDetails(w, http.StatusBadRequest, err, map[string]any{duplicate.Field: "already exists"})
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeErrorDetails(w, status, err, nil)
}

func writeErrorDetails(w http.ResponseWriter, status int, err error, details map[string]any) {
	// 5xx bodies never carry the underlying cause.
	msg := err.Error()
	if status >= 500 {
		log.Printf("[httpapi] internal error (status %d): %v", status, err)
		msg = "internal server error"
		details = nil
	}
	body := map[string]any{
		"success": false,
		"message": msg,
	}
	if len(details) > 0 {
		body["errors"] = details
	}
	writeJSON(w, status, body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

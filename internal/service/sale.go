package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const maxNumberAttempts = 3

type saleLine struct {
	product  domain.Product
	quantity int
}

// PostSale records a sale for the caller's tenant. Stock is reserved line by
// line with the store's conditional decrement; any failure before the
// transaction row exists re-increments every reservation already taken.
// Loyalty accrual runs after the row is written and never undoes the sale.
func (s *Service) PostSale(ctx context.Context, req domain.SaleRequest) (view domain.TransactionView, err error) {
	ctx, span := s.tracer.Start(ctx, "service.PostSale")
	startedAt := time.Now()
	defer func() {
		s.metrics.PostSaleDuration.Observe(time.Since(startedAt).Seconds())
		s.metrics.SalesTotal.WithLabelValues(saleOutcome(view, err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.TransactionView{}, err
	}
	span.SetAttributes(attribute.String("tenant.id", actor.TenantID), attribute.Int("sale.lines", len(req.Items)))

	items, err := normalizeSaleItems(req.Items)
	if err != nil {
		return domain.TransactionView{}, err
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.TransactionView{}, invalid("paymentMethod", "must be one of cash, card, digital")
	}
	if req.AmountPaid < 0 {
		return domain.TransactionView{}, invalid("amountPaid", "must not be negative")
	}
	if req.Discount < 0 {
		return domain.TransactionView{}, invalid("discount", "must not be negative")
	}
	creditSale := false
	switch req.Status {
	case "", domain.TxStatusCompleted:
	case domain.TxStatusDue:
		if req.CustomerID == "" {
			return domain.TransactionView{}, invalid("status", "a due sale requires a customer")
		}
		creditSale = true
	default:
		return domain.TransactionView{}, invalid("status", "a new sale must be completed or due")
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		customer, err = s.repo.GetCustomer(ctx, actor.TenantID, req.CustomerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.TransactionView{}, notFound(EntityCustomer, req.CustomerID)
			}
			return domain.TransactionView{}, fmt.Errorf("load customer: %w", err)
		}
		if customer.Status != domain.CustomerActive {
			return domain.TransactionView{}, invalid("customer", "customer is inactive")
		}
	}

	settings, err := s.settingsFor(ctx, actor.TenantID)
	if err != nil {
		return domain.TransactionView{}, err
	}

	lines := make([]saleLine, 0, len(items))
	for _, item := range items {
		product, err := s.repo.GetProduct(ctx, actor.TenantID, item.ProductID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.TransactionView{}, notFound(EntityProduct, item.ProductID)
			}
			return domain.TransactionView{}, fmt.Errorf("load product: %w", err)
		}
		if !product.IsActive {
			return domain.TransactionView{}, notFound(EntityProduct, item.ProductID)
		}
		if product.Stock < item.Quantity {
			return domain.TransactionView{}, &InsufficientStockError{
				ProductID: product.ID, Name: product.Name, Available: product.Stock, Requested: item.Quantity,
			}
		}
		lines = append(lines, saleLine{product: *product, quantity: item.Quantity})
	}

	lineItems, subtotal := snapshotLines(lines)
	rate := s.taxRate(settings)
	tax := money.PercentOf(subtotal, rate)
	if req.Discount > subtotal+tax {
		return domain.TransactionView{}, invalid("discount", fmt.Sprintf("discount %s exceeds subtotal plus tax %s", req.Discount, subtotal+tax))
	}
	total := subtotal + tax - req.Discount

	status := domain.TxStatusCompleted
	change := req.AmountPaid - total
	due := money.Cents(0)
	if change < 0 {
		if !creditSale {
			return domain.TransactionView{}, &InsufficientPaymentError{Total: total, AmountPaid: req.AmountPaid}
		}
		status = domain.TxStatusDue
		due = -change
		change = 0
	}

	reserved, err := s.reserveStock(ctx, actor.TenantID, lines)
	if err != nil {
		return domain.TransactionView{}, err
	}
	if err := ctx.Err(); err != nil {
		s.releaseStock(ctx, actor.TenantID, reserved)
		return domain.TransactionView{}, err
	}

	var points int64
	if customer != nil && settings.LoyaltyEnabled {
		points = total.WholeUnits()
	}

	tx := domain.Transaction{
		TenantID:            actor.TenantID,
		Items:               lineItems,
		CashierID:           actor.UserID,
		Subtotal:            subtotal,
		TaxRatePercent:      rate,
		Tax:                 tax,
		Discount:            req.Discount,
		Total:               total,
		PaymentMethod:       req.PaymentMethod,
		AmountPaid:          req.AmountPaid,
		Change:              change,
		DueAmount:           due,
		LoyaltyPointsEarned: points,
		Status:              status,
		Notes:               strings.TrimSpace(req.Notes),
		CreatedAt:           s.now(),
	}
	if customer != nil {
		tx.CustomerID = customer.ID
	}

	created, err := s.recordTransaction(ctx, settings, tx)
	if err != nil {
		s.releaseStock(ctx, actor.TenantID, reserved)
		return domain.TransactionView{}, err
	}
	span.SetAttributes(attribute.String("transaction.number", created.Number))

	if customer != nil {
		if updated, ok := s.applyLoyalty(ctx, created); ok {
			customer = updated
		}
	}

	view = domain.TransactionView{
		Transaction: *created,
		CashierRef:  &domain.UserRef{ID: actor.UserID, Username: actor.Username},
	}
	if customer != nil {
		view.CustomerRef = &domain.CustomerRef{ID: customer.ID, Name: customer.Name, Email: customer.Email}
	}
	return view, nil
}

// normalizeSaleItems validates quantities and merges repeated products,
// keeping the order in which each product first appeared.
func normalizeSaleItems(items []domain.SaleItemRequest) ([]domain.SaleItemRequest, error) {
	if len(items) == 0 {
		return nil, invalid("items", "at least one item is required")
	}

	merged := make([]domain.SaleItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, invalid(fmt.Sprintf("items[%d].product", i), "is required")
		}
		if item.Quantity < 1 {
			return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		}
		if pos, seen := index[productID]; seen {
			if merged[pos].Quantity > math.MaxInt-item.Quantity {
				return nil, invalid(fmt.Sprintf("items[%d].quantity", i), "combined quantity for product is too large")
			}
			merged[pos].Quantity += item.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, domain.SaleItemRequest{ProductID: productID, Quantity: item.Quantity})
	}
	return merged, nil
}

func snapshotLines(lines []saleLine) ([]domain.LineItem, money.Cents) {
	items := make([]domain.LineItem, 0, len(lines))
	var subtotal money.Cents
	for _, line := range lines {
		lineTotal := line.product.Price * money.Cents(line.quantity)
		items = append(items, domain.LineItem{
			ProductID: line.product.ID,
			Snapshot: domain.ProductSnapshot{
				Name:  line.product.Name,
				SKU:   line.product.SKU,
				Price: line.product.Price,
			},
			Quantity:   line.quantity,
			UnitPrice:  line.product.Price,
			TotalPrice: lineTotal,
		})
		subtotal += lineTotal
	}
	return items, subtotal
}

func (s *Service) reserveStock(ctx context.Context, tenantID string, lines []saleLine) ([]saleLine, error) {
	reserved := make([]saleLine, 0, len(lines))
	for _, line := range lines {
		_, err := s.repo.DecrementStockIfAvailable(ctx, tenantID, line.product.ID, line.quantity)
		if err == nil {
			reserved = append(reserved, line)
			continue
		}

		s.releaseStock(ctx, tenantID, reserved)
		var stockErr *store.StockError
		switch {
		case errors.As(err, &stockErr):
			return nil, &InsufficientStockError{
				ProductID: line.product.ID, Name: line.product.Name,
				Available: stockErr.Available, Requested: line.quantity,
			}
		case errors.Is(err, store.ErrNotFound):
			return nil, notFound(EntityProduct, line.product.ID)
		default:
			return nil, fmt.Errorf("reserve stock for product %s: %w", line.product.ID, err)
		}
	}
	return reserved, nil
}

// releaseStock re-increments reserved lines. It runs on a context detached
// from the caller so a cancelled request still gets its stock back.
func (s *Service) releaseStock(ctx context.Context, tenantID string, reserved []saleLine) {
	if len(reserved) == 0 {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	for _, line := range reserved {
		if _, err := s.repo.IncrementStock(releaseCtx, tenantID, line.product.ID, line.quantity); err != nil {
			s.metrics.StockCompensations.WithLabelValues("error").Inc()
			log.Printf("[service] WARN: stock compensation failed tenant=%s product=%s qty=%d: %v",
				tenantID, line.product.ID, line.quantity, err)
			continue
		}
		s.metrics.StockCompensations.WithLabelValues("ok").Inc()
	}
}

// recordTransaction inserts the transaction under a fresh number, retrying
// on number clashes. Once stock is reserved the insert is not tied to the
// caller's cancellation, so a committed row is never reported as failed.
func (s *Service) recordTransaction(ctx context.Context, settings domain.Settings, tx domain.Transaction) (*domain.Transaction, error) {
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.compensationTimeout)
	defer cancel()

	prefix := xid.TenantPrefix(settings.TransactionPrefix, tx.TenantID)
	for attempt := 1; ; attempt++ {
		tx.Number = xid.TransactionNumber(prefix, tx.CreatedAt)
		created, err := s.repo.CreateTransaction(insertCtx, tx)
		if err == nil {
			return created, nil
		}
		var dup *store.DuplicateKeyError
		if errors.As(err, &dup) && attempt < maxNumberAttempts {
			log.Printf("[service] WARN: transaction number clash tenant=%s number=%s, regenerating", tx.TenantID, tx.Number)
			continue
		}
		return nil, fmt.Errorf("record transaction: %w", err)
	}
}

func saleOutcome(view domain.TransactionView, err error) string {
	if err == nil {
		return view.Status
	}
	var (
		stockErr   *InsufficientStockError
		paymentErr *InsufficientPaymentError
	)
	switch {
	case errors.As(err, &stockErr):
		return "rejected_stock"
	case errors.As(err, &paymentErr):
		return "rejected_payment"
	case IsBusinessError(err):
		return "rejected_other"
	default:
		return "failed"
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/money"
	"retailpos/backend/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// TransactionPatch is a reconciliation update. Nil fields are left alone.
type TransactionPatch struct {
	Status     *string
	AmountPaid *money.Cents
	DueAmount  *money.Cents
	Notes      *string
}

var immutableTransactionFields = map[string]struct{}{
	"id":                  {},
	"items":               {},
	"subtotal":            {},
	"tax":                 {},
	"taxRatePercent":      {},
	"discount":            {},
	"total":               {},
	"change":              {},
	"transactionId":       {},
	"tenantId":            {},
	"customer":            {},
	"customerId":          {},
	"cashier":             {},
	"cashierId":           {},
	"paymentMethod":       {},
	"loyaltyPointsEarned": {},
	"loyaltyAccrued":      {},
	"createdAt":           {},
	"updatedAt":           {},
}

// DecodeTransactionPatch parses a reconciliation body. Keys naming recorded
// history fail with ImmutableFieldError, unknown keys with ValidationError.
func DecodeTransactionPatch(raw []byte) (TransactionPatch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return TransactionPatch{}, invalid("", "patch must be a JSON object")
	}
	if len(fields) == 0 {
		return TransactionPatch{}, invalid("", "patch is empty")
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if _, immutable := immutableTransactionFields[key]; immutable {
			return TransactionPatch{}, &ImmutableFieldError{Field: key}
		}
	}

	var patch TransactionPatch
	for _, key := range keys {
		value := fields[key]
		var err error
		switch key {
		case "status":
			patch.Status = new(string)
			err = json.Unmarshal(value, patch.Status)
		case "amountPaid":
			patch.AmountPaid = new(money.Cents)
			err = json.Unmarshal(value, patch.AmountPaid)
		case "dueAmount":
			patch.DueAmount = new(money.Cents)
			err = json.Unmarshal(value, patch.DueAmount)
		case "notes":
			patch.Notes = new(string)
			err = json.Unmarshal(value, patch.Notes)
		default:
			return TransactionPatch{}, invalid(key, "is not a recognised field")
		}
		if err != nil || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return TransactionPatch{}, invalid(key, "has an invalid value")
		}
	}
	return patch, nil
}

var allowedTransitions = map[string][]string{
	domain.TxStatusCompleted: {domain.TxStatusDue, domain.TxStatusCancelled, domain.TxStatusRefunded},
	domain.TxStatusDue:       {domain.TxStatusCompleted, domain.TxStatusCancelled, domain.TxStatusRefunded},
}

// UpdateTransaction reconciles payment state on a recorded transaction. Line
// items, snapshots and totals are never touched. Cancelling or refunding does
// not restock; returned goods go through AdjustInventory.
func (s *Service) UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (domain.TransactionView, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.TransactionView{}, err
	}

	tx, err := s.repo.GetTransaction(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TransactionView{}, notFound(EntityTransaction, id)
		}
		return domain.TransactionView{}, err
	}

	rec := domain.Reconciliation{
		Status:     tx.Status,
		AmountPaid: tx.AmountPaid,
		Change:     tx.Change,
		DueAmount:  tx.DueAmount,
		Notes:      tx.Notes,
		UpdatedAt:  s.now(),

		ExpectedStatus:     tx.Status,
		ExpectedAmountPaid: tx.AmountPaid,
		ExpectedDueAmount:  tx.DueAmount,
	}

	terminal := tx.Status == domain.TxStatusCancelled || tx.Status == domain.TxStatusRefunded
	if terminal && (patch.AmountPaid != nil || patch.DueAmount != nil) {
		return domain.TransactionView{}, invalid("status", fmt.Sprintf("transaction is %s", tx.Status))
	}

	if patch.Status != nil {
		next := strings.ToLower(strings.TrimSpace(*patch.Status))
		if next != tx.Status {
			if !slices.Contains(allowedTransitions[tx.Status], next) {
				return domain.TransactionView{}, invalid("status", fmt.Sprintf("cannot change status from %s to %s", tx.Status, next))
			}
			if next == domain.TxStatusCancelled || next == domain.TxStatusRefunded {
				if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
					return domain.TransactionView{}, err
				}
			}
		}
		rec.Status = next
	}

	if patch.AmountPaid != nil {
		if *patch.AmountPaid < 0 {
			return domain.TransactionView{}, invalid("amountPaid", "must not be negative")
		}
		rec.AmountPaid = *patch.AmountPaid
		rec.Change = max(0, rec.AmountPaid-tx.Total)
		rec.DueAmount = max(0, tx.Total-rec.AmountPaid)
	}
	if patch.DueAmount != nil {
		if *patch.DueAmount < 0 || *patch.DueAmount > tx.Total {
			return domain.TransactionView{}, invalid("dueAmount", fmt.Sprintf("must be between 0 and %s", tx.Total))
		}
		rec.DueAmount = *patch.DueAmount
	}
	if patch.Notes != nil {
		rec.Notes = strings.TrimSpace(*patch.Notes)
	}

	switch rec.Status {
	case domain.TxStatusDue:
		if rec.DueAmount == 0 {
			rec.Status = domain.TxStatusCompleted
		}
	case domain.TxStatusCompleted:
		if rec.DueAmount > 0 {
			return domain.TransactionView{}, invalid("status", fmt.Sprintf("%s is still due", rec.DueAmount))
		}
	}

	updated, err := s.repo.ReconcileTransaction(ctx, actor.TenantID, id, rec)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return domain.TransactionView{}, notFound(EntityTransaction, id)
		case errors.Is(err, store.ErrConflict):
			return domain.TransactionView{}, &ConflictError{Entity: EntityTransaction, ID: id}
		}
		return domain.TransactionView{}, fmt.Errorf("reconcile transaction: %w", err)
	}
	return s.buildView(ctx, *updated, newRefResolver()), nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.TransactionView, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return domain.TransactionView{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, actor.TenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.TransactionView{}, notFound(EntityTransaction, id)
		}
		return domain.TransactionView{}, err
	}
	return s.buildView(ctx, *tx, newRefResolver()), nil
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.TransactionView, error) {
	actor, err := actorFrom(ctx)
	if err != nil {
		return nil, err
	}
	switch filter.Status {
	case "", domain.TxStatusCompleted, domain.TxStatusDue, domain.TxStatusCancelled, domain.TxStatusRefunded:
	default:
		return nil, invalid("status", "unknown status filter")
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	filter.Limit = min(filter.Limit, maxListLimit)

	transactions, err := s.repo.ListTransactions(ctx, actor.TenantID, filter)
	if err != nil {
		return nil, err
	}

	refs := newRefResolver()
	views := make([]domain.TransactionView, 0, len(transactions))
	for _, tx := range transactions {
		views = append(views, s.buildView(ctx, tx, refs))
	}
	return views, nil
}

// refResolver memoises display lookups across one call.
type refResolver struct {
	customers map[string]*domain.CustomerRef
	cashiers  map[string]*domain.UserRef
}

func newRefResolver() *refResolver {
	return &refResolver{
		customers: make(map[string]*domain.CustomerRef),
		cashiers:  make(map[string]*domain.UserRef),
	}
}

func (s *Service) buildView(ctx context.Context, tx domain.Transaction, refs *refResolver) domain.TransactionView {
	view := domain.TransactionView{Transaction: tx}

	if tx.CustomerID != "" {
		ref, ok := refs.customers[tx.CustomerID]
		if !ok {
			ref = &domain.CustomerRef{ID: tx.CustomerID}
			if customer, err := s.repo.GetCustomer(ctx, tx.TenantID, tx.CustomerID); err == nil {
				ref.Name = customer.Name
				ref.Email = customer.Email
			}
			refs.customers[tx.CustomerID] = ref
		}
		view.CustomerRef = ref
	}

	if tx.CashierID != "" {
		ref, ok := refs.cashiers[tx.CashierID]
		if !ok {
			ref = &domain.UserRef{ID: tx.CashierID}
			if user, err := s.repo.GetUser(ctx, tx.TenantID, tx.CashierID); err == nil {
				ref.Username = user.Username
			}
			refs.cashiers[tx.CashierID] = ref
		}
		view.CashierRef = ref
	}
	return view
}

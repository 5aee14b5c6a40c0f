package service

import (
	"errors"
	"fmt"

	"retailpos/backend/internal/money"
)

var (
	ErrUnauthenticated = errors.New("authenticated principal required")
	ErrForbidden       = errors.New("role not permitted")
)

const (
	EntityProduct     = "product"
	EntityCustomer    = "customer"
	EntityTransaction = "transaction"
)

// NotFoundError covers records that are missing or belong to another tenant.
// The two cases are indistinguishable to the caller.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

type InsufficientStockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

type InsufficientPaymentError struct {
	Total      money.Cents
	AmountPaid money.Cents
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: total %s, paid %s", e.Total, e.AmountPaid)
}

type InvalidAdjustmentError struct {
	ProductID string
	Stock     int
	Delta     int
}

func (e *InvalidAdjustmentError) Error() string {
	return fmt.Sprintf("adjustment %+d on product %s would leave stock at %d", e.Delta, e.ProductID, e.Stock+e.Delta)
}

type ImmutableFieldError struct {
	Field string
}

func (e *ImmutableFieldError) Error() string {
	return fmt.Sprintf("field %q cannot be changed on a recorded transaction", e.Field)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ConflictError means the record changed between read and write. The caller
// should reload and retry.
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was changed by another request", e.Entity, e.ID)
}

func invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFound(entity string, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// IsBusinessError reports whether err is a rule violation the caller can fix,
// as opposed to an infrastructure failure.
func IsBusinessError(err error) bool {
	var (
		nf  *NotFoundError
		is  *InsufficientStockError
		ip  *InsufficientPaymentError
		ia  *InvalidAdjustmentError
		imm *ImmutableFieldError
		ve  *ValidationError
		ce  *ConflictError
	)
	return errors.As(err, &nf) || errors.As(err, &is) || errors.As(err, &ip) ||
		errors.As(err, &ia) || errors.As(err, &imm) || errors.As(err, &ve) || errors.As(err, &ce)
}

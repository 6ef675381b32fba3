package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrProductNotFound      = errors.New("product not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentDeclined      = errors.New("payment declined")
	ErrPaymentUnavailable   = errors.New("payment service unavailable")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrInvalidOrderStatus   = errors.New("invalid order status")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidProduct       = errors.New("invalid product")
	ErrCartItemNotFound     = errors.New("cart item not found")
	ErrInvalidDateRange     = errors.New("invalid date range")
	ErrCartChanged          = errors.New("cart changed during checkout")
)

type InsufficientStockError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == ErrProductNotFound
}

type PaymentDeclinedError struct {
	Method PaymentMethod
	Reason string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("payment declined for method %s", e.Method)
	}
	return fmt.Sprintf("payment declined for method %s: %s", e.Method, e.Reason)
}

func (e *PaymentDeclinedError) Is(target error) bool {
	return target == ErrPaymentDeclined
}

type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// TransactionAbortError wraps any unclassified failure that rolled back a
// checkout.
type TransactionAbortError struct {
	Cause error
}

func (e *TransactionAbortError) Error() string {
	return "failed to create order: " + e.Cause.Error()
}

func (e *TransactionAbortError) Unwrap() error {
	return e.Cause
}

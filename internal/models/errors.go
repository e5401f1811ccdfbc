package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPlanNotFound indicates a service or request references an unknown plan
	ErrPlanNotFound = errors.New("plan not found")

	// ErrServiceNotFound indicates that no service is configured under the name
	ErrServiceNotFound = errors.New("service not found")

	// ErrSubscriptionNotFound indicates that the specified subscription was not found
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionExists indicates the subscriber already holds a live subscription to the plan
	ErrSubscriptionExists = errors.New("subscriber already has a live subscription for this plan")

	// ErrSubscriptionInactive indicates usage was reported for a cancelled or expired subscription
	ErrSubscriptionInactive = errors.New("subscription is no longer active")

	// ErrInvalidTransition indicates the requested status change is not allowed
	ErrInvalidTransition = errors.New("invalid subscription status transition")

	// ErrPaymentRequired indicates that no valid payment was supplied
	ErrPaymentRequired = errors.New("valid payment required")

	// ErrPaymentAlreadyUsed indicates that a payment was already credited elsewhere
	ErrPaymentAlreadyUsed = errors.New("payment already used")

	// ErrNotFound is returned by stores for missing records
	ErrNotFound = errors.New("record not found")
)

// InsufficientPaymentError is returned when a payment does not cover a price
type InsufficientPaymentError struct {
	Required decimal.Decimal
	Paid     decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: required %s, paid %s", e.Required.String(), e.Paid.String())
}

// NewInsufficientPaymentError creates a new InsufficientPaymentError
func NewInsufficientPaymentError(required, paid decimal.Decimal) *InsufficientPaymentError {
	return &InsufficientPaymentError{Required: required, Paid: paid}
}

// ValidationError reports malformed caller input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

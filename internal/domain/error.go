package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("storage operation failed")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Allocation
	ErrNumberTaken       = errors.New("member number already taken")
	ErrClaimantHasNumber = errors.New("claimant already holds a member number")
	ErrRateLimited       = errors.New("too many requests")

	// Identity and webhooks
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// External payment processor
	ErrPaymentProvider = errors.New("payment provider error")
)

// ValidationError reports bad caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

type ConflictReason string

const (
	ConflictAlreadyTaken     ConflictReason = "already_taken"
	ConflictAlreadyHasNumber ConflictReason = "already_has_number"
)

// ConflictError is returned when the requested number cannot be handed to the claimant.
type ConflictError struct {
	Reason ConflictReason
	Number int
}

func NewConflictError(reason ConflictReason, number int) *ConflictError {
	return &ConflictError{Reason: reason, Number: number}
}

func (e *ConflictError) Error() string {
	switch e.Reason {
	case ConflictAlreadyHasNumber:
		return "claimant already holds a member number"
	default:
		return fmt.Sprintf("member number %d already taken", e.Number)
	}
}

func (e *ConflictError) Unwrap() error {
	if e.Reason == ConflictAlreadyHasNumber {
		return ErrClaimantHasNumber
	}
	return ErrNumberTaken
}

// AuthError covers a missing or invalid identity.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "unauthorized: " + e.Reason }

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

type AnomalyKind string

const (
	AnomalyNoReservation   AnomalyKind = "no_reservation"
	AnomalyDuplicateWinner AnomalyKind = "duplicate_winner"
	// AnomalyNumberLost is a renewal for an expired member whose number went to someone else.
	AnomalyNumberLost      AnomalyKind = "number_lost"
)

// ReconciliationAnomaly describes a payment that could not be honored with a number.
// It always triggers compensation and is reported, never retried.
type ReconciliationAnomaly struct {
	Kind            AnomalyKind
	Number          int
	ClaimantID      string
	SubscriptionRef string
	PaymentRef      string
	// Compensated is false when the cancel or refund call failed and an operator was alerted.
	Compensated bool
	Cause       error
}

func (a *ReconciliationAnomaly) Error() string {
	msg := fmt.Sprintf("reconciliation anomaly %s: number=%d claimant=%s subscription=%s", a.Kind, a.Number, a.ClaimantID, a.SubscriptionRef)
	if a.Cause != nil {
		msg += ": " + a.Cause.Error()
	}
	return msg
}

func (a *ReconciliationAnomaly) Unwrap() error { return a.Cause }

// IsTransient reports whether err should make the payment processor redeliver.
func IsTransient(err error) bool {
	return errors.Is(err, ErrOperationFailed) || errors.Is(err, ErrPaymentProvider)
}

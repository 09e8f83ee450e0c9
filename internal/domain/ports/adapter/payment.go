package adapter

import (
	"context"
	"time"

	"github.com/operio-dev/1nproject/internal/domain/model"
)

type RefundReason string

const (
	RefundReasonCustomerRequest RefundReason = "requested_by_customer"
	RefundReasonDuplicate       RefundReason = "duplicate"
)

// RefundResult captures a minimal, provider-agnostic result of a refund request.
type RefundResult struct {
	ID     string
	Status string
	Amount int64 // minor units
	At     time.Time
}

// PaymentGateway is the hex port for the recurring-payment processor.
// Implementations must make CancelSubscription and Refund safe to repeat for
// the same reference.
type PaymentGateway interface {
	Name() string

	// CreateRecurringCharge opens a checkout for a subscription and returns its ref and redirect URL.
	CreateRecurringCharge(ctx context.Context, claimantID string, meta model.CorrelationMetadata) (model.PaymentSession, error)
	CancelSubscription(ctx context.Context, subscriptionRef string) error
	// Refund reverses the charge identified by paymentRef (payment intent or invoice).
	Refund(ctx context.Context, paymentRef string, reason RefundReason) (RefundResult, error)
	GetSubscription(ctx context.Context, subscriptionRef string) (model.ExternalSubscription, error)
	// CreatePortalSession returns a URL where the customer manages billing.
	CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error)
}

// EventVerifier authenticates and decodes inbound webhook payloads.
// Bad signatures wrap domain.ErrInvalidSignature; malformed payloads wrap
// domain.ErrInvalidArgument.
type EventVerifier interface {
	ParseEvent(payload []byte, signatureHeader string) (*model.PaymentEvent, error)
}

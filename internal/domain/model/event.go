package model

import (
	"time"

	"github.com/operio-dev/1nproject/internal/domain"
)

type EventKind string

const (
	EventPaymentCompleted    EventKind = "payment_completed"
	EventSubscriptionUpdated EventKind = "subscription_updated"
	EventSubscriptionDeleted EventKind = "subscription_deleted"
	EventPaymentFailed       EventKind = "payment_failed"
	EventUnknown             EventKind = "unknown"
)

// PaymentEvent is a verified, provider-neutral webhook event.
type PaymentEvent struct {
	ID                string
	Kind              EventKind
	ProviderType      string // raw provider event type, for logs
	SessionRef        string
	SubscriptionRef   string
	PaymentRef        string // payment intent or invoice to refund
	CustomerRef       string
	Metadata          CorrelationMetadata
	ExternalStatus    string
	PeriodEndAt       time.Time
	CancelAtPeriodEnd bool
	CreatedAt         time.Time
}

// EventOutcome is reported back to the processor in the webhook response.
type EventOutcome string

const (
	OutcomeProcessed             EventOutcome = "processed"
	OutcomeAlreadyProcessed      EventOutcome = "already_processed"
	OutcomeIgnored               EventOutcome = "ignored"
	OutcomeRefundedNoReservation EventOutcome = "refunded_no_reservation"
	OutcomeRefundedDuplicate     EventOutcome = "refunded_duplicate"
	OutcomeRefundedNumberLost    EventOutcome = "refunded_number_lost"
	OutcomeCompensationEscalated EventOutcome = "compensation_escalated"
)

// CompensationAlert is sent to operators when a refund could not be completed.
type CompensationAlert struct {
	EventID         string
	Anomaly         string
	Number          int
	ClaimantID      string
	Contact         string
	SubscriptionRef string
	PaymentRef      string
	Err             string
}

// EventResult is what handling one webhook event produced.
type EventResult struct {
	EventID string
	Kind    EventKind
	Outcome EventOutcome
	// Anomaly is set when the payment had to be compensated.
	Anomaly *domain.ReconciliationAnomaly
}

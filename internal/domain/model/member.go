package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/operio-dev/1nproject/internal/domain"
)

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusGrace     MemberStatus = "grace"
	MemberStatusCancelled MemberStatus = "cancelled"
	MemberStatusExpired   MemberStatus = "expired"
)

// Holding reports whether the status keeps the number out of the pool.
func (s MemberStatus) Holding() bool {
	return s == MemberStatusActive || s == MemberStatusGrace
}

// MapExternalStatus maps the payment processor's subscription status onto ours.
// It is total: anything unrecognised maps to expired.
func MapExternalStatus(external string) MemberStatus {
	switch strings.ToLower(strings.TrimSpace(external)) {
	case "active", "trialing":
		return MemberStatusActive
	case "past_due", "unpaid":
		return MemberStatusGrace
	case "canceled", "cancelled", "incomplete_expired":
		return MemberStatusCancelled
	default:
		return MemberStatusExpired
	}
}

// LedgerEntry is a confirmed member number.
type LedgerEntry struct {
	ID                string
	Number            int
	ClaimantID        string
	Contact           string
	SubscriptionRef   string
	CustomerRef       string
	Status            MemberStatus
	PeriodEndAt       time.Time
	CancelAtPeriodEnd bool
	GraceUntil        *time.Time // set while in grace
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewLedgerEntry builds an active entry from a confirmed reservation.
func NewLedgerEntry(res *Reservation, subscriptionRef, customerRef string, sub ExternalSubscription) (*LedgerEntry, error) {
	if res == nil || res.Number <= 0 || res.ClaimantID == "" || subscriptionRef == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now().UTC()
	periodEnd := sub.PeriodEndAt
	if periodEnd.IsZero() {
		periodEnd = now.AddDate(0, 1, 0)
	}
	if customerRef == "" {
		customerRef = sub.CustomerRef
	}
	return &LedgerEntry{
		ID:                ulid.Make().String(),
		Number:            res.Number,
		ClaimantID:        res.ClaimantID,
		Contact:           res.Contact,
		SubscriptionRef:   subscriptionRef,
		CustomerRef:       customerRef,
		Status:            MemberStatusActive,
		PeriodEndAt:       periodEnd.UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// ExternalSubscription is the processor's view of a recurring charge.
type ExternalSubscription struct {
	Ref               string
	CustomerRef       string
	Status            string
	PeriodEndAt       time.Time
	CancelAtPeriodEnd bool
}

// SubscriptionUpdate carries the fields a subscription_updated event may change.
type SubscriptionUpdate struct {
	SubscriptionRef   string
	Status            MemberStatus
	PeriodEndAt       time.Time
	CancelAtPeriodEnd bool
	// GraceUntil is applied only when Status is grace and the entry has none yet.
	GraceUntil time.Time
	At         time.Time
}

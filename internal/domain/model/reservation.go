package model

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/operio-dev/1nproject/internal/domain"
)

// DefaultReservationTTL bounds how long an unpaid claim holds a number.
const DefaultReservationTTL = 30 * time.Minute

// Reservation is a provisional, time-bounded claim on a number.
type Reservation struct {
	Ref        string
	Number     int
	ClaimantID string
	Contact    string
	SessionRef string // empty until a payment session is opened
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// NewReservation creates a reservation expiring ttl from now.
func NewReservation(number int, claimantID, contact string, ttl time.Duration) (*Reservation, error) {
	if number <= 0 || claimantID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	now := time.Now().UTC()
	return &Reservation{
		Ref:        ulid.Make().String(),
		Number:     number,
		ClaimantID: claimantID,
		Contact:    contact,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}, nil
}

func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// CorrelationMetadata is attached to the external payment session so the
// confirmation can be matched back to the reservation.
type CorrelationMetadata struct {
	ClaimantID string
	Number     int
	Contact    string
}

// PaymentSession is an opened external checkout.
type PaymentSession struct {
	SessionRef  string
	RedirectURL string
}

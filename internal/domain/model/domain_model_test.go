//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"github.com/operio-dev/1nproject/internal/domain"
)

// --- Number pool ---

func TestNumberPool_Validate(t *testing.T) {
	pool := NewNumberPool(100000, []int{7, 13, 200000})

	t.Run("should accept numbers inside the pool", func(t *testing.T) {
		for _, n := range []int{1, 42, 100000} {
			if err := pool.Validate(n); err != nil {
				t.Errorf("expected %d to be valid, but got: %v", n, err)
			}
		}
	})

	t.Run("should reject out of range numbers", func(t *testing.T) {
		for _, n := range []int{0, -1, 100001} {
			err := pool.Validate(n)
			if err == nil {
				t.Fatalf("expected an error for %d, but got nil", n)
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected a ValidationError, but got %T", err)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected error to wrap ErrInvalidArgument")
			}
		}
	})

	t.Run("should reject blocked numbers", func(t *testing.T) {
		if err := pool.Validate(13); err == nil {
			t.Fatal("expected blocked number 13 to be rejected")
		}
	})

	t.Run("should ignore blocked numbers outside the pool when computing capacity", func(t *testing.T) {
		if got := pool.Capacity(); got != 99998 {
			t.Errorf("expected capacity 99998, but got %d", got)
		}
	})

	t.Run("should default to the full pool size", func(t *testing.T) {
		p := NewNumberPool(0, nil)
		if p.Max != PoolSize {
			t.Errorf("expected max %d, but got %d", PoolSize, p.Max)
		}
	})
}

// --- Status mapping ---

func TestMapExternalStatus(t *testing.T) {
	cases := map[string]MemberStatus{
		"active":             MemberStatusActive,
		"trialing":           MemberStatusActive,
		"past_due":           MemberStatusGrace,
		"unpaid":             MemberStatusGrace,
		"canceled":           MemberStatusCancelled,
		"incomplete_expired": MemberStatusCancelled,
		"incomplete":         MemberStatusExpired,
		"paused":             MemberStatusExpired,
		"":                   MemberStatusExpired,
		"something-new":      MemberStatusExpired,
	}
	for in, want := range cases {
		if got := MapExternalStatus(in); got != want {
			t.Errorf("MapExternalStatus(%q) = %q, want %q", in, got, want)
		}
		if MapExternalStatus(in) != MapExternalStatus(in) {
			t.Errorf("MapExternalStatus(%q) is not deterministic", in)
		}
	}
}

func TestMemberStatus_Holding(t *testing.T) {
	if !MemberStatusActive.Holding() || !MemberStatusGrace.Holding() {
		t.Error("expected active and grace to hold the number")
	}
	if MemberStatusCancelled.Holding() || MemberStatusExpired.Holding() {
		t.Error("expected cancelled and expired to release the number")
	}
}

// --- Reservation / ledger entry ---

func TestNewReservation(t *testing.T) {
	t.Run("should create a reservation with a bounded expiry", func(t *testing.T) {
		before := time.Now()
		r, err := NewReservation(42, "claimant-a", "a@example.com", 0)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if r.Ref == "" {
			t.Error("expected a reservation ref")
		}
		ttl := r.ExpiresAt.Sub(before)
		if ttl < DefaultReservationTTL || ttl > DefaultReservationTTL+time.Second {
			t.Errorf("expected expiry about %s from now, but got %s", DefaultReservationTTL, ttl)
		}
		if r.Expired(time.Now()) {
			t.Error("fresh reservation should not be expired")
		}
		if !r.Expired(r.ExpiresAt) {
			t.Error("reservation should be expired at its deadline")
		}
	})

	t.Run("should fail without a claimant", func(t *testing.T) {
		_, err := NewReservation(42, "", "", time.Minute)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got %v", err)
		}
	})
}

func TestNewLedgerEntry(t *testing.T) {
	res, _ := NewReservation(42, "claimant-a", "a@example.com", time.Minute)
	periodEnd := time.Now().Add(30 * 24 * time.Hour)

	t.Run("should promote a reservation into an active entry", func(t *testing.T) {
		e, err := NewLedgerEntry(res, "sub_1", "", ExternalSubscription{CustomerRef: "cus_1", PeriodEndAt: periodEnd})
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if e.Status != MemberStatusActive {
			t.Errorf("expected status active, but got %s", e.Status)
		}
		if e.Number != 42 || e.ClaimantID != "claimant-a" || e.Contact != "a@example.com" {
			t.Errorf("entry does not carry the reservation fields: %+v", e)
		}
		if e.CustomerRef != "cus_1" {
			t.Errorf("expected customer ref from subscription, got %q", e.CustomerRef)
		}
		if !e.PeriodEndAt.Equal(periodEnd.UTC()) {
			t.Errorf("expected period end %v, but got %v", periodEnd, e.PeriodEndAt)
		}
	})

	t.Run("should fail without a subscription ref", func(t *testing.T) {
		if _, err := NewLedgerEntry(res, "", "", ExternalSubscription{}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got %v", err)
		}
	})
}

// --- Tenure level ---

func TestLevelFor(t *testing.T) {
	joined := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("should start at the first level", func(t *testing.T) {
		lvl := LevelFor(joined, joined.Add(time.Hour))
		if lvl.Index != 0 || lvl.Name != "Starter" {
			t.Errorf("expected Starter, but got %+v", lvl)
		}
		if lvl.DaysRemaining != 30 {
			t.Errorf("expected 30 days remaining, but got %d", lvl.DaysRemaining)
		}
	})

	t.Run("should advance every thirty days", func(t *testing.T) {
		lvl := LevelFor(joined, joined.Add(65*24*time.Hour))
		if lvl.Index != 2 {
			t.Errorf("expected level index 2, but got %d", lvl.Index)
		}
		if lvl.DaysRemaining != 25 {
			t.Errorf("expected 25 days remaining, but got %d", lvl.DaysRemaining)
		}
	})

	t.Run("should cap at the last level", func(t *testing.T) {
		lvl := LevelFor(joined, joined.Add(5000*24*time.Hour))
		if !lvl.Max || lvl.Name != "Il Nulla" || lvl.DaysRemaining != 0 {
			t.Errorf("expected capped last level, but got %+v", lvl)
		}
	})
}

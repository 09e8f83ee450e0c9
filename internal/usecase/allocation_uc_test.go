//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/usecase"
)

type allocationDeps struct {
	ledger       *MockLedgerRepo
	reservations *MockReservationRepo
	tm           *MockTxManager
}

func newAllocation(pool model.NumberPool) (usecase.AllocationUseCase, *allocationDeps) {
	d := &allocationDeps{
		ledger:       NewMockLedgerRepo(),
		reservations: NewMockReservationRepo(),
		tm:           NewMockTxManager(),
	}
	uc := usecase.NewAllocationUseCase(d.ledger, d.reservations, d.tm, d.tm, pool, 30*time.Minute, newTestLogger())
	return uc, d
}

func seedMember(t *testing.T, ledger *MockLedgerRepo, number int, claimant, subRef string) *model.LedgerEntry {
	t.Helper()
	res, _ := model.NewReservation(number, claimant, claimant+"@example.com", time.Minute)
	e, err := model.NewLedgerEntry(res, subRef, "cus_"+claimant, model.ExternalSubscription{PeriodEndAt: time.Now().Add(720 * time.Hour)})
	if err != nil {
		t.Fatalf("NewLedgerEntry: %v", err)
	}
	if err := ledger.Insert(context.Background(), nil, e); err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return e
}

func assertConflict(t *testing.T, err error, want domain.ConflictReason) {
	t.Helper()
	var conflict *domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError(%s), got %v", want, err)
	}
	if conflict.Reason != want {
		t.Errorf("expected reason %s, got %s", want, conflict.Reason)
	}
}

func TestAllocationUseCase_Claim(t *testing.T) {
	ctx := context.Background()
	pool := model.NewNumberPool(100000, []int{666})

	t.Run("should reserve a free number", func(t *testing.T) {
		// --- Arrange ---
		uc, deps := newAllocation(pool)

		// --- Act ---
		res, err := uc.Claim(ctx, "user-1", "u1@example.com", 42)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Number != 42 || res.ClaimantID != "user-1" {
			t.Errorf("unexpected reservation: %+v", res)
		}
		if d := time.Until(res.ExpiresAt); d < 29*time.Minute || d > 31*time.Minute {
			t.Errorf("expected ~30m deadline, got %v", d)
		}
		if deps.reservations.Len() != 1 {
			t.Errorf("expected one stored reservation, got %d", deps.reservations.Len())
		}
	})

	t.Run("should reject numbers outside the pool", func(t *testing.T) {
		uc, _ := newAllocation(pool)
		for _, n := range []int{0, -1, 100001, 666} {
			_, err := uc.Claim(ctx, "user-1", "", n)
			var vErr *domain.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("number %d: expected ValidationError, got %v", n, err)
			}
			if !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("number %d: expected ErrInvalidArgument in chain", n)
			}
		}
	})

	t.Run("should require a claimant", func(t *testing.T) {
		uc, _ := newAllocation(pool)
		_, err := uc.Claim(ctx, "", "", 5)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("should refuse a number held in the ledger", func(t *testing.T) {
		// --- Arrange ---
		uc, deps := newAllocation(pool)
		seedMember(t, deps.ledger, 7, "owner", "sub_owner")

		// --- Act ---
		_, err := uc.Claim(ctx, "user-2", "", 7)

		// --- Assert ---
		assertConflict(t, err, domain.ConflictAlreadyTaken)
		if deps.reservations.Len() != 0 {
			t.Error("no reservation should be created")
		}
	})

	t.Run("should refuse a claimant who already holds a number", func(t *testing.T) {
		uc, deps := newAllocation(pool)
		seedMember(t, deps.ledger, 7, "user-1", "sub_1")

		_, err := uc.Claim(ctx, "user-1", "", 8)

		assertConflict(t, err, domain.ConflictAlreadyHasNumber)
	})

	t.Run("should refuse a number reserved by someone else", func(t *testing.T) {
		uc, _ := newAllocation(pool)
		if _, err := uc.Claim(ctx, "user-1", "", 9); err != nil {
			t.Fatalf("first claim: %v", err)
		}

		_, err := uc.Claim(ctx, "user-2", "", 9)

		assertConflict(t, err, domain.ConflictAlreadyTaken)
	})

	t.Run("should refresh the deadline when the same claim is repeated", func(t *testing.T) {
		uc, deps := newAllocation(pool)
		first, _ := uc.Claim(ctx, "user-1", "", 10)
		// age the reservation
		_, _ = deps.reservations.Extend(ctx, nil, first.Ref, time.Now().Add(time.Minute))

		second, err := uc.Claim(ctx, "user-1", "", 10)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if second.Ref != first.Ref {
			t.Errorf("expected the same reservation, got %s and %s", first.Ref, second.Ref)
		}
		if time.Until(second.ExpiresAt) < 29*time.Minute {
			t.Errorf("deadline was not refreshed: %v", second.ExpiresAt)
		}
	})

	t.Run("should replace the claimant's previous reservation", func(t *testing.T) {
		uc, deps := newAllocation(pool)
		_, _ = uc.Claim(ctx, "user-1", "", 11)

		res, err := uc.Claim(ctx, "user-1", "", 12)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Number != 12 || deps.reservations.Len() != 1 {
			t.Errorf("expected only the new reservation, got %+v (%d stored)", res, deps.reservations.Len())
		}
		if _, err := deps.reservations.FindByNumber(ctx, nil, 11); !errors.Is(err, domain.ErrNotFound) {
			t.Error("number 11 should be free again")
		}
	})

	t.Run("should take over a number whose reservation has lapsed", func(t *testing.T) {
		uc, deps := newAllocation(pool)
		old, _ := uc.Claim(ctx, "user-1", "", 13)
		_, _ = deps.reservations.Extend(ctx, nil, old.Ref, time.Now().Add(-time.Second))

		res, err := uc.Claim(ctx, "user-2", "", 13)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.ClaimantID != "user-2" {
			t.Errorf("expected user-2 to hold the reservation, got %s", res.ClaimantID)
		}
	})

	t.Run("should wrap storage failures", func(t *testing.T) {
		uc, deps := newAllocation(pool)
		deps.ledger.FindErr = fmt.Errorf("%w: connection reset", domain.ErrOperationFailed)

		_, err := uc.Claim(ctx, "user-1", "", 14)

		if !errors.Is(err, domain.ErrOperationFailed) {
			t.Errorf("expected ErrOperationFailed, got %v", err)
		}
		if !domain.IsTransient(err) {
			t.Error("storage failure should be transient")
		}
	})

	t.Run("should let exactly one of many concurrent claims win", func(t *testing.T) {
		// --- Arrange ---
		uc, deps := newAllocation(pool)
		const claimants = 50

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			winners   int
			conflicts int
		)

		// --- Act ---
		for i := 0; i < claimants; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := uc.Claim(ctx, fmt.Sprintf("user-%d", i), "", 777)
				mu.Lock()
				defer mu.Unlock()
				var conflict *domain.ConflictError
				switch {
				case err == nil:
					winners++
				case errors.As(err, &conflict) && conflict.Reason == domain.ConflictAlreadyTaken:
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		// --- Assert ---
		if winners != 1 {
			t.Errorf("expected exactly one winner, got %d", winners)
		}
		if conflicts != claimants-1 {
			t.Errorf("expected %d conflicts, got %d", claimants-1, conflicts)
		}
		if deps.reservations.Len() != 1 {
			t.Errorf("expected one reservation, got %d", deps.reservations.Len())
		}
	})
}

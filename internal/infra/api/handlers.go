package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/infra/logging"
	"github.com/operio-dev/1nproject/internal/infra/metrics"
	"github.com/operio-dev/1nproject/internal/infra/redis"
)

const maxWebhookBody = 1 << 20

type claimRequest struct {
	Number *int `json:"number"`
}

type reservationResponse struct {
	ReservationRef string    `json:"reservationRef"`
	Number         int       `json:"number"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

func newReservationResponse(r *model.Reservation) *reservationResponse {
	if r == nil {
		return nil
	}
	return &reservationResponse{ReservationRef: r.Ref, Number: r.Number, ExpiresAt: r.ExpiresAt}
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := IdentityFrom(ctx)

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.IncClaim("invalid")
		writeError(w, r, s.log, domain.NewValidationError("body", "malformed JSON"))
		return
	}
	if req.Number == nil {
		metrics.IncClaim("invalid")
		writeError(w, r, s.log, domain.NewValidationError("number", "required"))
		return
	}

	if s.deps.Limiter != nil && s.opts.ClaimsPerMinute > 0 {
		ok, err := s.deps.Limiter.Allow(ctx, redis.ClaimKey(id.ClaimantID), s.opts.ClaimsPerMinute, time.Minute)
		if err != nil {
			// uniqueness lives in the database; a broken limiter only loses throttling
			logging.With(ctx, s.log).Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncClaim("rate_limited")
			writeError(w, r, s.log, domain.ErrRateLimited)
			return
		}
	}

	res, err := s.deps.Allocation.Claim(ctx, id.ClaimantID, id.Contact, *req.Number)
	if err != nil {
		metrics.IncClaim(claimResult(err))
		writeError(w, r, s.log, err)
		return
	}
	metrics.IncClaim("reserved")
	logging.With(ctx, s.log).Info().
		Int("number", res.Number).
		Str("contact", logging.Redact(id.Contact, s.opts.Dev)).
		Msg("number reserved")
	writeJSON(w, http.StatusOK, newReservationResponse(res))
}

func claimResult(err error) string {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		return string(conflict.Reason)
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid"
	default:
		return "error"
	}
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	sess, err := s.deps.Checkout.OpenSession(r.Context(), id.ClaimantID)
	if err != nil {
		metrics.IncCheckoutSession("error")
		writeError(w, r, s.log, err)
		return
	}
	metrics.IncCheckoutSession("ok")
	writeJSON(w, http.StatusOK, map[string]string{"sessionRef": sess.SessionRef, "url": sess.RedirectURL})
}

type levelResponse struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	DaysRemaining int    `json:"daysRemaining"`
	Max           bool   `json:"max"`
}

type memberResponse struct {
	Number            int                  `json:"number,omitempty"`
	Status            string               `json:"status"`
	JoinedAt          *time.Time           `json:"joinedAt,omitempty"`
	PeriodEndAt       *time.Time           `json:"periodEndAt,omitempty"`
	CancelAtPeriodEnd bool                 `json:"cancelAtPeriodEnd"`
	GraceUntil        *time.Time           `json:"graceUntil,omitempty"`
	Level             *levelResponse       `json:"level,omitempty"`
	Pending           *reservationResponse `json:"pending,omitempty"`
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	v, err := s.deps.Members.Status(r.Context(), id.ClaimantID)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	if v.Pending != nil {
		writeJSON(w, http.StatusOK, memberResponse{Status: "pending", Pending: newReservationResponse(v.Pending)})
		return
	}
	joined, periodEnd := v.JoinedAt, v.PeriodEndAt
	writeJSON(w, http.StatusOK, memberResponse{
		Number:            v.Number,
		Status:            string(v.Status),
		JoinedAt:          &joined,
		PeriodEndAt:       &periodEnd,
		CancelAtPeriodEnd: v.CancelAtPeriodEnd,
		GraceUntil:        v.GraceUntil,
		Level: &levelResponse{
			Index:         v.Level.Index,
			Name:          v.Level.Name,
			DaysRemaining: v.Level.DaysRemaining,
			Max:           v.Level.Max,
		},
	})
}

func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	u, err := s.deps.Members.PortalSession(r.Context(), id.ClaimantID, s.opts.PortalReturnURL)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, r, s.log, domain.NewValidationError("number", "not an integer"))
		return
	}
	a, err := s.deps.Members.Availability(r.Context(), n)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Number    int    `json:"number"`
		Available bool   `json:"available"`
		Reason    string `json:"reason,omitempty"`
	}{a.Number, a.Available, a.Reason})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Members.Stats(r.Context())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"members": st.Members, "capacity": st.Capacity})
}

// handleWebhook answers 200 for every event that must not be redelivered,
// including anomalies, and 500 for transient failures.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhookEvent("unknown", "rejected")
		writeError(w, r, s.log, domain.NewValidationError("body", "unreadable"))
		return
	}

	res, err := s.deps.Confirmation.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		l := logging.With(r.Context(), s.log)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrInvalidSignature) || errors.Is(err, domain.ErrInvalidArgument) {
			status = http.StatusBadRequest
			metrics.IncWebhookEvent("unknown", "rejected")
			l.Warn().Err(err).Msg("webhook rejected")
		} else {
			kind := "unknown"
			if res != nil {
				kind = string(res.Kind)
			}
			metrics.IncWebhookEvent(kind, "error")
			l.Error().Err(err).Msg("webhook failed, processor will redeliver")
		}
		writeJSON(w, status, errorBody{Error: webhookErrorText(status, err)})
		return
	}

	metrics.IncWebhookEvent(string(res.Kind), string(res.Outcome))
	if a := res.Anomaly; a != nil {
		metrics.IncAnomaly(string(a.Kind))
		result := "ok"
		if !a.Compensated {
			result = "escalated"
		}
		metrics.IncCompensation(string(a.Kind), result)
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "status": res.Outcome})
}

func webhookErrorText(status int, err error) string {
	if status == http.StatusBadRequest {
		return err.Error()
	}
	return http.StatusText(status)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Sweeper.Sweep(r.Context())
	if err != nil {
		metrics.IncSweepRun("error")
		writeError(w, r, s.log, err)
		return
	}
	metrics.IncSweepRun("ok")
	metrics.AddMembersExpired(res.ExpiredCount)
	metrics.AddReservationsReclaimed(res.DeletedReservations)
	logging.With(r.Context(), s.log).Info().
		Int("expired", res.ExpiredCount).
		Ints("freed_numbers", res.FreedNumbers).
		Int("reservations_deleted", res.DeletedReservations).
		Msg("sweep finished")
	writeJSON(w, http.StatusOK, map[string]any{
		"expiredCount":        res.ExpiredCount,
		"freedNumbers":        res.FreedNumbers,
		"deletedReservations": res.DeletedReservations,
	})
}

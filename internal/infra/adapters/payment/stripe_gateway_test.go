package payment_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/config"
	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/infra/adapters/payment"
)

type recordedRequest struct {
	Method         string
	Path           string
	Form           url.Values
	IdempotencyKey string
	Auth           string
}

type fakeStripe struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newFakeStripe(t *testing.T) (*fakeStripe, *payment.StripeGateway) {
	t.Helper()
	f := &fakeStripe{routes: map[string]func(w http.ResponseWriter){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method:         r.Method,
			Path:           r.URL.Path,
			Form:           form,
			IdempotencyKey: r.Header.Get("Idempotency-Key"),
			Auth:           r.Header.Get("Authorization"),
		})
		h, ok := f.routes[r.Method+" "+r.URL.Path]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such route"}}`)
			return
		}
		h(w)
	}))
	t.Cleanup(srv.Close)

	logger := zerolog.New(io.Discard)
	gw, err := payment.NewStripeGateway(config.StripeConfig{
		SecretKey:  "sk_test_1",
		PriceID:    "price_1",
		SuccessURL: "https://app.example/ok",
		CancelURL:  "https://app.example/cancel",
		APIBase:    srv.URL,
	}, &logger)
	if err != nil {
		t.Fatalf("NewStripeGateway: %v", err)
	}
	return f, gw
}

func (f *fakeStripe) on(method, path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func (f *fakeStripe) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func TestStripeGateway(t *testing.T) {
	ctx := context.Background()

	t.Run("should open a subscription checkout with metadata", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodPost, "/v1/checkout/sessions", 200, `{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`)

		s, err := gw.CreateRecurringCharge(ctx, "user-1", model.CorrelationMetadata{ClaimantID: "user-1", Number: 42, Contact: "u1@example.com"})

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if s.SessionRef != "cs_1" || s.RedirectURL == "" {
			t.Errorf("unexpected session: %+v", s)
		}
		req := f.last()
		if req.Auth != "Bearer sk_test_1" {
			t.Errorf("unexpected auth header %q", req.Auth)
		}
		checks := map[string]string{
			"mode":                                 "subscription",
			"line_items[0][price]":                 "price_1",
			"metadata[user_id]":                    "user-1",
			"metadata[member_number]":              "42",
			"subscription_data[metadata][user_id]": "user-1",
			"customer_email":                       "u1@example.com",
		}
		for k, want := range checks {
			if got := req.Form.Get(k); got != want {
				t.Errorf("%s: expected %q, got %q", k, want, got)
			}
		}
	})

	t.Run("should wrap API errors as provider errors", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodPost, "/v1/checkout/sessions", 402, `{"error":{"type":"card_error","code":"card_declined","message":"declined"}}`)

		_, err := gw.CreateRecurringCharge(ctx, "user-1", model.CorrelationMetadata{Number: 1})

		var se *payment.StripeError
		if !errors.As(err, &se) || se.Code != "card_declined" {
			t.Fatalf("expected StripeError, got %v", err)
		}
		if !errors.Is(err, domain.ErrPaymentProvider) {
			t.Error("StripeError should unwrap to ErrPaymentProvider")
		}
	})

	t.Run("should cancel idempotently", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodDelete, "/v1/subscriptions/sub_1", 200, `{"id":"sub_1","status":"canceled"}`)

		if err := gw.CancelSubscription(ctx, "sub_1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if key := f.last().IdempotencyKey; key != "cancel-sub_1" {
			t.Errorf("unexpected idempotency key %q", key)
		}

		f.on(http.MethodDelete, "/v1/subscriptions/sub_1", 400, `{"error":{"type":"invalid_request_error","message":"A canceled subscription can only update its cancellation_details and metadata."}}`)
		if err := gw.CancelSubscription(ctx, "sub_1"); err != nil {
			t.Errorf("already cancelled should be success, got %v", err)
		}
		if err := gw.CancelSubscription(ctx, "sub_gone"); err != nil {
			t.Errorf("missing subscription should be success, got %v", err)
		}
	})

	t.Run("should refund the payment behind an invoice", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodGet, "/v1/invoices/in_1", 200, `{"id":"in_1","payments":{"data":[{"payment":{"payment_intent":"pi_1"}}]}}`)
		f.on(http.MethodPost, "/v1/refunds", 200, `{"id":"re_1","status":"succeeded","amount":500,"created":1760000000}`)

		res, err := gw.Refund(ctx, "in_1", adapter.RefundReasonDuplicate)

		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.ID != "re_1" || res.Amount != 500 {
			t.Errorf("unexpected refund: %+v", res)
		}
		req := f.last()
		if req.Form.Get("payment_intent") != "pi_1" || req.Form.Get("reason") != "duplicate" || req.IdempotencyKey != "refund-in_1" {
			t.Errorf("unexpected refund request: %+v", req)
		}
	})

	t.Run("should treat an already refunded charge as done", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodPost, "/v1/refunds", 400, `{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"already refunded"}}`)

		res, err := gw.Refund(ctx, "pi_9", adapter.RefundReasonCustomerRequest)

		if err != nil || res.Status != "already_refunded" {
			t.Fatalf("expected already_refunded, got %+v, %v", res, err)
		}
	})

	t.Run("should read subscription periods from either location", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodGet, "/v1/subscriptions/sub_top", 200, `{"id":"sub_top","status":"active","customer":"cus_1","current_period_end":1762592000}`)
		f.on(http.MethodGet, "/v1/subscriptions/sub_items", 200, `{"id":"sub_items","status":"trialing","customer":{"id":"cus_2"},"cancel_at_period_end":true,"items":{"data":[{"current_period_end":1762592001}]}}`)

		top, err := gw.GetSubscription(ctx, "sub_top")
		if err != nil || top.PeriodEndAt.Unix() != 1762592000 || top.CustomerRef != "cus_1" {
			t.Errorf("unexpected subscription: %+v, %v", top, err)
		}
		items, err := gw.GetSubscription(ctx, "sub_items")
		if err != nil || items.PeriodEndAt.Unix() != 1762592001 || items.CustomerRef != "cus_2" || !items.CancelAtPeriodEnd {
			t.Errorf("unexpected subscription: %+v, %v", items, err)
		}
	})

	t.Run("should open a billing portal session", func(t *testing.T) {
		f, gw := newFakeStripe(t)
		f.on(http.MethodPost, "/v1/billing_portal/sessions", 200, `{"url":"https://billing.stripe.com/p/1"}`)

		u, err := gw.CreatePortalSession(ctx, "cus_1", "https://app.example/me")

		if err != nil || u != "https://billing.stripe.com/p/1" {
			t.Fatalf("unexpected portal: %q, %v", u, err)
		}
		if f.last().Form.Get("customer") != "cus_1" {
			t.Error("customer not sent")
		}
	})
}

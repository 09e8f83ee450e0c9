// File: internal/infra/adapters/payment/stripe_gateway.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/operio-dev/1nproject/internal/config"
	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*StripeGateway)(nil)

const maxStripeBody = 1 << 20

// StripeGateway implements adapter.PaymentGateway over the Stripe REST API
// (form-encoded requests, JSON responses).
type StripeGateway struct {
	secretKey  string
	priceID    string
	successURL string
	cancelURL  string
	apiBase    string
	client     *http.Client
	log        *zerolog.Logger
}

func NewStripeGateway(cfg config.StripeConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	if cfg.PriceID == "" {
		return nil, errors.New("stripe price id empty")
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	if base == "" {
		base = "https://api.stripe.com"
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid stripe api base: %w", err)
	}
	l := logger.With().Str("component", "stripe").Logger()
	return &StripeGateway{
		secretKey:  cfg.SecretKey,
		priceID:    cfg.PriceID,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
		apiBase:    base,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        &l,
	}, nil
}

func (s *StripeGateway) Name() string { return "stripe" }

// StripeError is a non-2xx answer from the API.
type StripeError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *StripeError) Error() string {
	return fmt.Sprintf("stripe %d %s/%s: %s", e.Status, e.Type, e.Code, e.Message)
}

func (e *StripeError) Unwrap() error { return domain.ErrPaymentProvider }

func (s *StripeGateway) do(ctx context.Context, method, path string, form url.Values, idempotencyKey string) (gjson.Result, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, s.apiBase+path, body)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s %s: %v", domain.ErrPaymentProvider, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxStripeBody))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read response: %v", domain.ErrPaymentProvider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := gjson.GetBytes(raw, "error")
		return gjson.Result{}, &StripeError{
			Status:  resp.StatusCode,
			Type:    e.Get("type").String(),
			Code:    e.Get("code").String(),
			Message: e.Get("message").String(),
		}
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: invalid json from %s", domain.ErrPaymentProvider, path)
	}
	return gjson.ParseBytes(raw), nil
}

// CreateRecurringCharge opens a Checkout Session in subscription mode. The
// correlation metadata is set on both the session and the subscription.
func (s *StripeGateway) CreateRecurringCharge(ctx context.Context, claimantID string, meta model.CorrelationMetadata) (model.PaymentSession, error) {
	number := strconv.Itoa(meta.Number)
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", s.priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", s.successURL)
	form.Set("cancel_url", s.cancelURL)
	form.Set("client_reference_id", claimantID)
	if meta.Contact != "" {
		form.Set("customer_email", meta.Contact)
	}
	for _, prefix := range []string{"metadata", "subscription_data[metadata]"} {
		form.Set(prefix+"[user_id]", claimantID)
		form.Set(prefix+"[member_number]", number)
		if meta.Contact != "" {
			form.Set(prefix+"[email]", meta.Contact)
		}
	}

	out, err := s.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, "")
	if err != nil {
		return model.PaymentSession{}, err
	}
	session := model.PaymentSession{SessionRef: out.Get("id").String(), RedirectURL: out.Get("url").String()}
	if session.SessionRef == "" || session.RedirectURL == "" {
		return model.PaymentSession{}, fmt.Errorf("%w: checkout session without id or url", domain.ErrPaymentProvider)
	}
	return session, nil
}

// CancelSubscription cancels immediately. An already cancelled or missing
// subscription counts as done.
func (s *StripeGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	if subscriptionRef == "" {
		return domain.NewValidationError("subscription_ref", "empty")
	}
	_, err := s.do(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), nil, "cancel-"+subscriptionRef)
	var se *StripeError
	if errors.As(err, &se) && (se.Code == "resource_missing" || strings.Contains(strings.ToLower(se.Message), "canceled subscription")) {
		s.log.Info().Str("subscription_ref", subscriptionRef).Msg("subscription already cancelled")
		return nil
	}
	return err
}

// Refund refunds a payment intent, a charge, or the payment behind an invoice.
func (s *StripeGateway) Refund(ctx context.Context, paymentRef string, reason adapter.RefundReason) (adapter.RefundResult, error) {
	form := url.Values{}
	switch {
	case strings.HasPrefix(paymentRef, "in_"):
		pi, err := s.invoicePaymentIntent(ctx, paymentRef)
		if err != nil {
			return adapter.RefundResult{}, err
		}
		form.Set("payment_intent", pi)
	case strings.HasPrefix(paymentRef, "ch_"), strings.HasPrefix(paymentRef, "py_"):
		form.Set("charge", paymentRef)
	case paymentRef != "":
		form.Set("payment_intent", paymentRef)
	default:
		return adapter.RefundResult{}, domain.NewValidationError("payment_ref", "empty")
	}
	if reason != "" {
		form.Set("reason", string(reason))
	}

	out, err := s.do(ctx, http.MethodPost, "/v1/refunds", form, "refund-"+paymentRef)
	var se *StripeError
	if errors.As(err, &se) && se.Code == "charge_already_refunded" {
		return adapter.RefundResult{Status: "already_refunded", At: time.Now().UTC()}, nil
	}
	if err != nil {
		return adapter.RefundResult{}, err
	}
	return adapter.RefundResult{
		ID:     out.Get("id").String(),
		Status: out.Get("status").String(),
		Amount: out.Get("amount").Int(),
		At:     unixTime(out.Get("created")),
	}, nil
}

func (s *StripeGateway) invoicePaymentIntent(ctx context.Context, invoiceID string) (string, error) {
	out, err := s.do(ctx, http.MethodGet, "/v1/invoices/"+url.PathEscape(invoiceID), nil, "")
	if err != nil {
		return "", err
	}
	// older API versions expose payment_intent on the invoice, newer ones under payments
	for _, path := range []string{"payment_intent", "payments.data.0.payment.payment_intent"} {
		if pi := refID(out.Get(path)); pi != "" {
			return pi, nil
		}
	}
	return "", fmt.Errorf("%w: invoice %s has no payment intent", domain.ErrPaymentProvider, invoiceID)
}

func (s *StripeGateway) GetSubscription(ctx context.Context, subscriptionRef string) (model.ExternalSubscription, error) {
	out, err := s.do(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(subscriptionRef), nil, "")
	if err != nil {
		return model.ExternalSubscription{}, err
	}
	return subscriptionFrom(out), nil
}

func (s *StripeGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	if returnURL != "" {
		form.Set("return_url", returnURL)
	}
	out, err := s.do(ctx, http.MethodPost, "/v1/billing_portal/sessions", form, "")
	if err != nil {
		return "", err
	}
	return out.Get("url").String(), nil
}

// subscriptionFrom reads a subscription object, wherever this API version
// keeps the period end.
func subscriptionFrom(obj gjson.Result) model.ExternalSubscription {
	periodEnd := obj.Get("current_period_end")
	if !periodEnd.Exists() {
		periodEnd = obj.Get("items.data.0.current_period_end")
	}
	return model.ExternalSubscription{
		Ref:               obj.Get("id").String(),
		CustomerRef:       refID(obj.Get("customer")),
		Status:            obj.Get("status").String(),
		PeriodEndAt:       unixTime(periodEnd),
		CancelAtPeriodEnd: obj.Get("cancel_at_period_end").Bool(),
	}
}

// refID returns the id of a field that is either an id string or an expanded object.
func refID(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("id").String()
	}
	return r.String()
}

func unixTime(r gjson.Result) time.Time {
	if !r.Exists() || r.Int() == 0 {
		return time.Time{}
	}
	return time.Unix(r.Int(), 0).UTC()
}

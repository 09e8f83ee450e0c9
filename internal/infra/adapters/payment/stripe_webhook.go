package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
)

var _ adapter.EventVerifier = (*StripeWebhookVerifier)(nil)

const DefaultWebhookTolerance = 5 * time.Minute

// StripeWebhookVerifier checks the Stripe-Signature header and decodes events.
type StripeWebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewStripeWebhookVerifier(secret string, tolerance time.Duration) *StripeWebhookVerifier {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	return &StripeWebhookVerifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

func (v *StripeWebhookVerifier) ParseEvent(payload []byte, signatureHeader string) (*model.PaymentEvent, error) {
	if err := v.verify(payload, signatureHeader); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(payload) {
		return nil, domain.NewValidationError("payload", "malformed json")
	}
	return decodeStripeEvent(gjson.ParseBytes(payload))
}

// SignPayload builds a Stripe-Signature header value for payload.
func SignPayload(secret string, payload []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeSignature([]byte(secret), t, payload)
}

func computeSignature(secret []byte, ts string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *StripeWebhookVerifier) verify(payload []byte, header string) error {
	if len(v.secret) == 0 {
		return fmt.Errorf("%w: webhook secret not configured", domain.ErrInvalidSignature)
	}
	var (
		ts   string
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sigs = append(sigs, val)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", domain.ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", domain.ErrInvalidSignature)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrInvalidSignature)
	}

	expected := []byte(computeSignature(v.secret, ts, payload))
	for _, sig := range sigs {
		if hmac.Equal(expected, []byte(strings.ToLower(sig))) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrInvalidSignature)
}

func decodeStripeEvent(root gjson.Result) (*model.PaymentEvent, error) {
	ev := &model.PaymentEvent{
		ID:           root.Get("id").String(),
		ProviderType: root.Get("type").String(),
		CreatedAt:    unixTime(root.Get("created")),
		Kind:         model.EventUnknown,
	}
	if ev.ID == "" || ev.ProviderType == "" {
		return nil, domain.NewValidationError("payload", "missing event id or type")
	}
	obj := root.Get("data.object")

	switch ev.ProviderType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		// a delayed payment method completes the session unpaid; wait for async_payment_succeeded
		switch obj.Get("payment_status").String() {
		case "paid", "no_payment_required":
		default:
			return ev, nil
		}
		ev.Kind = model.EventPaymentCompleted
		ev.SessionRef = obj.Get("id").String()
		ev.SubscriptionRef = refID(obj.Get("subscription"))
		ev.CustomerRef = refID(obj.Get("customer"))
		ev.PaymentRef = refID(obj.Get("invoice"))
		if ev.PaymentRef == "" {
			ev.PaymentRef = refID(obj.Get("payment_intent"))
		}
		ev.Metadata = metadataFrom(obj)

	case "customer.subscription.updated":
		sub := subscriptionFrom(obj)
		ev.Kind = model.EventSubscriptionUpdated
		ev.SubscriptionRef = sub.Ref
		ev.CustomerRef = sub.CustomerRef
		ev.ExternalStatus = sub.Status
		ev.PeriodEndAt = sub.PeriodEndAt
		ev.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		ev.PaymentRef = refID(obj.Get("latest_invoice"))

	case "customer.subscription.deleted":
		ev.Kind = model.EventSubscriptionDeleted
		ev.SubscriptionRef = obj.Get("id").String()
		ev.CustomerRef = refID(obj.Get("customer"))
		ev.ExternalStatus = obj.Get("status").String()

	case "invoice.payment_failed":
		ev.Kind = model.EventPaymentFailed
		ev.PaymentRef = obj.Get("id").String()
		ev.CustomerRef = refID(obj.Get("customer"))
		ev.SubscriptionRef = refID(obj.Get("subscription"))
		if ev.SubscriptionRef == "" {
			ev.SubscriptionRef = obj.Get("parent.subscription_details.subscription").String()
		}
	}
	return ev, nil
}

func metadataFrom(session gjson.Result) model.CorrelationMetadata {
	md := session.Get("metadata")
	meta := model.CorrelationMetadata{
		ClaimantID: md.Get("user_id").String(),
		Contact:    md.Get("email").String(),
	}
	if meta.ClaimantID == "" {
		meta.ClaimantID = session.Get("client_reference_id").String()
	}
	if meta.Contact == "" {
		meta.Contact = session.Get("customer_details.email").String()
	}
	// unparseable numbers stay 0 and are treated as missing
	if n, err := strconv.Atoi(strings.TrimSpace(md.Get("member_number").String())); err == nil && n > 0 {
		meta.Number = n
	}
	return meta
}

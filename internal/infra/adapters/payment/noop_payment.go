package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
)

var _ adapter.PaymentGateway = (*NoopPaymentGateway)(nil)

// NoopPaymentGateway is an in-memory gateway for local runs and tests.
// Every subscription it reports is active for one more month.
type NoopPaymentGateway struct {
	mu        sync.Mutex
	seq       int64
	sessions  map[string]model.CorrelationMetadata
	cancelled map[string]bool
	refunded  map[string]bool
}

func NewNoopPaymentGateway() *NoopPaymentGateway {
	return &NoopPaymentGateway{
		sessions:  make(map[string]model.CorrelationMetadata),
		cancelled: make(map[string]bool),
		refunded:  make(map[string]bool),
	}
}

func (g *NoopPaymentGateway) Name() string { return "noop" }

func (g *NoopPaymentGateway) next(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_noop_%d", prefix, g.seq)
}

func (g *NoopPaymentGateway) CreateRecurringCharge(ctx context.Context, claimantID string, meta model.CorrelationMetadata) (model.PaymentSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := g.next("cs")
	g.sessions[ref] = meta
	return model.PaymentSession{SessionRef: ref, RedirectURL: "https://example.test/checkout/" + ref}, nil
}

func (g *NoopPaymentGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled[subscriptionRef] = true
	return nil
}

func (g *NoopPaymentGateway) Refund(ctx context.Context, paymentRef string, reason adapter.RefundReason) (adapter.RefundResult, error) {
	if paymentRef == "" {
		return adapter.RefundResult{}, domain.NewValidationError("payment_ref", "empty")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	status := "succeeded"
	if g.refunded[paymentRef] {
		status = "already_refunded"
	}
	g.refunded[paymentRef] = true
	return adapter.RefundResult{ID: "re_" + paymentRef, Status: status, At: time.Now().UTC()}, nil
}

func (g *NoopPaymentGateway) GetSubscription(ctx context.Context, subscriptionRef string) (model.ExternalSubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status := "active"
	if g.cancelled[subscriptionRef] {
		status = "canceled"
	}
	return model.ExternalSubscription{
		Ref:         subscriptionRef,
		CustomerRef: "cus_" + subscriptionRef,
		Status:      status,
		PeriodEndAt: time.Now().UTC().AddDate(0, 1, 0),
	}, nil
}

func (g *NoopPaymentGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	return "https://example.test/billing/" + customerRef, nil
}

// Session returns the metadata recorded for a checkout session.
func (g *NoopPaymentGateway) Session(ref string) (model.CorrelationMetadata, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.sessions[ref]
	return m, ok
}

// Refunded reports whether paymentRef was refunded.
func (g *NoopPaymentGateway) Refunded(paymentRef string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[paymentRef]
}

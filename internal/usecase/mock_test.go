//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"github.com/operio-dev/1nproject/internal/domain"
	"github.com/operio-dev/1nproject/internal/domain/model"
	"github.com/operio-dev/1nproject/internal/domain/ports/adapter"
	"github.com/operio-dev/1nproject/internal/domain/ports/repository"
)

// =============================
// Repositories (in-memory, with the same unique rules as the schema)
// =============================

// ---- MockLedgerRepo ----

type MockLedgerRepo struct {
	mu      sync.Mutex
	entries map[string]*model.LedgerEntry // by subscription ref

	InsertFunc func(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error
	FindErr    error
}

var _ repository.LedgerRepository = (*MockLedgerRepo)(nil)

func NewMockLedgerRepo() *MockLedgerRepo {
	return &MockLedgerRepo{entries: map[string]*model.LedgerEntry{}}
}

func (m *MockLedgerRepo) Insert(ctx context.Context, tx repository.Tx, e *model.LedgerEntry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[e.SubscriptionRef]; ok {
		return domain.ErrAlreadyExists
	}
	for _, x := range m.entries {
		if !x.Status.Holding() || !e.Status.Holding() {
			continue
		}
		if x.Number == e.Number {
			return domain.ErrNumberTaken
		}
		if x.ClaimantID == e.ClaimantID {
			return domain.ErrClaimantHasNumber
		}
	}
	cp := *e
	m.entries[e.SubscriptionRef] = &cp
	return nil
}

func (m *MockLedgerRepo) find(match func(*model.LedgerEntry) bool) (*model.LedgerEntry, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if match(e) {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockLedgerRepo) FindHoldingByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (*model.LedgerEntry, error) {
	return m.find(func(e *model.LedgerEntry) bool { return e.ClaimantID == claimantID && e.Status.Holding() })
}

func (m *MockLedgerRepo) FindHoldingByNumber(ctx context.Context, tx repository.Tx, number int) (*model.LedgerEntry, error) {
	return m.find(func(e *model.LedgerEntry) bool { return e.Number == number && e.Status.Holding() })
}

func (m *MockLedgerRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, subscriptionRef string) (*model.LedgerEntry, error) {
	return m.find(func(e *model.LedgerEntry) bool { return e.SubscriptionRef == subscriptionRef })
}

func (m *MockLedgerRepo) ApplySubscriptionUpdate(ctx context.Context, tx repository.Tx, u model.SubscriptionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[u.SubscriptionRef]
	if !ok {
		return false, nil
	}
	if !u.PeriodEndAt.IsZero() {
		e.PeriodEndAt = u.PeriodEndAt
	}
	e.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	if e.Status.Holding() {
		switch {
		case u.Status == model.MemberStatusGrace && e.GraceUntil == nil:
			g := u.GraceUntil
			e.GraceUntil = &g
		case u.Status != model.MemberStatusGrace:
			e.GraceUntil = nil
		}
		e.Status = u.Status
	}
	e.UpdatedAt = u.At
	return true, nil
}

func (m *MockLedgerRepo) Restore(ctx context.Context, tx repository.Tx, u model.SubscriptionUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[u.SubscriptionRef]
	if !ok || e.Status != model.MemberStatusExpired {
		return false, nil
	}
	for _, x := range m.entries {
		if x == e || !x.Status.Holding() {
			continue
		}
		if x.Number == e.Number {
			return false, domain.ErrNumberTaken
		}
		if x.ClaimantID == e.ClaimantID {
			return false, domain.ErrClaimantHasNumber
		}
	}
	e.Status = u.Status
	if !u.PeriodEndAt.IsZero() {
		e.PeriodEndAt = u.PeriodEndAt
	}
	e.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	e.GraceUntil = nil
	if u.Status == model.MemberStatusGrace {
		g := u.GraceUntil
		e.GraceUntil = &g
	}
	e.UpdatedAt = u.At
	return true, nil
}

func (m *MockLedgerRepo) MarkGrace(ctx context.Context, tx repository.Tx, subscriptionRef string, graceUntil, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[subscriptionRef]
	if !ok || e.Status != model.MemberStatusActive {
		return false, nil
	}
	e.Status = model.MemberStatusGrace
	if e.GraceUntil == nil {
		e.GraceUntil = &graceUntil
	}
	e.UpdatedAt = at
	return true, nil
}

func (m *MockLedgerRepo) MarkCancelled(ctx context.Context, tx repository.Tx, subscriptionRef string, at time.Time) (*model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[subscriptionRef]
	if !ok || !e.Status.Holding() {
		return nil, domain.ErrNotFound
	}
	e.Status = model.MemberStatusCancelled
	e.GraceUntil = nil
	e.UpdatedAt = at
	cp := *e
	return &cp, nil
}

func (m *MockLedgerRepo) ExpireLapsed(ctx context.Context, tx repository.Tx, now time.Time) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, e := range m.entries {
		if !e.Status.Holding() {
			continue
		}
		lapsed := e.PeriodEndAt.Before(now)
		graceOver := e.Status == model.MemberStatusGrace && e.GraceUntil != nil && e.GraceUntil.Before(now)
		if lapsed || graceOver {
			e.Status = model.MemberStatusExpired
			e.UpdatedAt = now
			out = append(out, e.Number)
		}
	}
	return out, nil
}

func (m *MockLedgerRepo) CountHolding(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Status.Holding() {
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the entry for assertions.
func (m *MockLedgerRepo) Get(subscriptionRef string) *model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[subscriptionRef]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// ---- MockReservationRepo ----

type MockReservationRepo struct {
	mu    sync.Mutex
	items map[string]*model.Reservation // by ref

	FindErr   error
	AttachErr error
}

var _ repository.ReservationRepository = (*MockReservationRepo)(nil)

func NewMockReservationRepo() *MockReservationRepo {
	return &MockReservationRepo{items: map[string]*model.Reservation{}}
}

func (m *MockReservationRepo) Insert(ctx context.Context, tx repository.Tx, r *model.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.items {
		if x.Number == r.Number {
			return domain.ErrNumberTaken
		}
		if x.ClaimantID == r.ClaimantID {
			return domain.ErrClaimantHasNumber
		}
	}
	cp := *r
	m.items[r.Ref] = &cp
	return nil
}

func (m *MockReservationRepo) find(match func(*model.Reservation) bool) (*model.Reservation, error) {
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if match(r) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockReservationRepo) FindByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (*model.Reservation, error) {
	return m.find(func(r *model.Reservation) bool { return r.ClaimantID == claimantID })
}

func (m *MockReservationRepo) FindByNumber(ctx context.Context, tx repository.Tx, number int) (*model.Reservation, error) {
	return m.find(func(r *model.Reservation) bool { return r.Number == number })
}

func (m *MockReservationRepo) FindByNumberAndClaimant(ctx context.Context, tx repository.Tx, number int, claimantID string) (*model.Reservation, error) {
	return m.find(func(r *model.Reservation) bool { return r.Number == number && r.ClaimantID == claimantID })
}

func (m *MockReservationRepo) Extend(ctx context.Context, tx repository.Tx, ref string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[ref]
	if !ok {
		return false, nil
	}
	r.ExpiresAt = expiresAt
	return true, nil
}

func (m *MockReservationRepo) AttachSession(ctx context.Context, tx repository.Tx, ref, sessionRef string) (bool, error) {
	if m.AttachErr != nil {
		return false, m.AttachErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[ref]
	if !ok {
		return false, nil
	}
	r.SessionRef = sessionRef
	return true, nil
}

func (m *MockReservationRepo) deleteWhere(match func(*model.Reservation) bool) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var numbers []int
	for ref, r := range m.items {
		if match(r) {
			numbers = append(numbers, r.Number)
			delete(m.items, ref)
		}
	}
	return numbers
}

func (m *MockReservationRepo) DeleteByClaimant(ctx context.Context, tx repository.Tx, claimantID string) (int64, error) {
	return int64(len(m.deleteWhere(func(r *model.Reservation) bool { return r.ClaimantID == claimantID }))), nil
}

func (m *MockReservationRepo) DeleteByNumberAndClaimant(ctx context.Context, tx repository.Tx, number int, claimantID string) (int64, error) {
	return int64(len(m.deleteWhere(func(r *model.Reservation) bool {
		return r.Number == number && r.ClaimantID == claimantID
	}))), nil
}

func (m *MockReservationRepo) DeleteExpiredForNumber(ctx context.Context, tx repository.Tx, number int, now time.Time) (int64, error) {
	return int64(len(m.deleteWhere(func(r *model.Reservation) bool { return r.Number == number && r.Expired(now) }))), nil
}

func (m *MockReservationRepo) DeleteExpiredBefore(ctx context.Context, tx repository.Tx, cutoff time.Time) ([]int, error) {
	return m.deleteWhere(func(r *model.Reservation) bool { return r.ExpiresAt.Before(cutoff) }), nil
}

func (m *MockReservationRepo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ---- MockTxManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
	LockErr    error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var (
	_ repository.TransactionManager = (*MockTxManager)(nil)
	_ repository.NumberLocker       = (*MockTxManager)(nil)
)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

func (m *MockTxManager) LockNumber(ctx context.Context, tx repository.Tx, number int) error {
	return m.LockErr
}

// ---- MockProcessedStore ----

type MockProcessedStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

var _ repository.ProcessedEventStore = (*MockProcessedStore)(nil)

func NewMockProcessedStore() *MockProcessedStore {
	return &MockProcessedStore{seen: map[string]bool{}}
}

func (m *MockProcessedStore) Seen(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[eventID], nil
}

func (m *MockProcessedStore) MarkProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[eventID] = true
	return nil
}

// =============================
// Adapters
// =============================

// ---- MockPaymentGateway ----

type MockPaymentGateway struct {
	mu sync.Mutex

	CreateRecurringChargeFunc func(ctx context.Context, claimantID string, meta model.CorrelationMetadata) (model.PaymentSession, error)
	CancelSubscriptionFunc    func(ctx context.Context, subscriptionRef string) error
	RefundFunc                func(ctx context.Context, paymentRef string, reason adapter.RefundReason) (adapter.RefundResult, error)
	GetSubscriptionFunc       func(ctx context.Context, subscriptionRef string) (model.ExternalSubscription, error)
	CreatePortalSessionFunc   func(ctx context.Context, customerRef, returnURL string) (string, error)

	Cancelled []string
	Refunded  []string
	Reasons   []adapter.RefundReason
}

var _ adapter.PaymentGateway = (*MockPaymentGateway)(nil)

func (m *MockPaymentGateway) Name() string { return "mock" }

func (m *MockPaymentGateway) CreateRecurringCharge(ctx context.Context, claimantID string, meta model.CorrelationMetadata) (model.PaymentSession, error) {
	if m.CreateRecurringChargeFunc != nil {
		return m.CreateRecurringChargeFunc(ctx, claimantID, meta)
	}
	return model.PaymentSession{SessionRef: "cs_mock", RedirectURL: "https://pay.example/cs_mock"}, nil
}

func (m *MockPaymentGateway) CancelSubscription(ctx context.Context, subscriptionRef string) error {
	m.mu.Lock()
	m.Cancelled = append(m.Cancelled, subscriptionRef)
	m.mu.Unlock()
	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, subscriptionRef)
	}
	return nil
}

func (m *MockPaymentGateway) Refund(ctx context.Context, paymentRef string, reason adapter.RefundReason) (adapter.RefundResult, error) {
	m.mu.Lock()
	m.Refunded = append(m.Refunded, paymentRef)
	m.Reasons = append(m.Reasons, reason)
	m.mu.Unlock()
	if m.RefundFunc != nil {
		return m.RefundFunc(ctx, paymentRef, reason)
	}
	return adapter.RefundResult{ID: "re_mock", Status: "succeeded", At: time.Now()}, nil
}

func (m *MockPaymentGateway) GetSubscription(ctx context.Context, subscriptionRef string) (model.ExternalSubscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionRef)
	}
	return model.ExternalSubscription{
		Ref:         subscriptionRef,
		CustomerRef: "cus_mock",
		Status:      "active",
		PeriodEndAt: time.Now().Add(30 * 24 * time.Hour),
	}, nil
}

func (m *MockPaymentGateway) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (string, error) {
	if m.CreatePortalSessionFunc != nil {
		return m.CreatePortalSessionFunc(ctx, customerRef, returnURL)
	}
	return "https://billing.example/" + customerRef, nil
}

func (m *MockPaymentGateway) Calls() (cancelled, refunded int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Cancelled), len(m.Refunded)
}

// ---- MockVerifier ----

type MockVerifier struct {
	ParseEventFunc func(payload []byte, signatureHeader string) (*model.PaymentEvent, error)
}

var _ adapter.EventVerifier = (*MockVerifier)(nil)

func (m *MockVerifier) ParseEvent(payload []byte, signatureHeader string) (*model.PaymentEvent, error) {
	if m.ParseEventFunc != nil {
		return m.ParseEventFunc(payload, signatureHeader)
	}
	return nil, domain.ErrInvalidSignature
}

// ---- MockAlerter ----

type MockAlerter struct {
	mu     sync.Mutex
	Alerts []model.CompensationAlert
	Err    error
}

var _ adapter.OperatorAlerter = (*MockAlerter)(nil)

func (m *MockAlerter) Escalate(ctx context.Context, alert model.CompensationAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, alert)
	return m.Err
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

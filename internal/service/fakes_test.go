package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/google/uuid"
)

// fakeGateway управляемая заглушка платежного шлюза
type fakeGateway struct {
	mu sync.Mutex

	customerID string
	state      *domain.BillingSubscriptionState
	checkout   string
	portal     string
	invoices   []domain.Invoice
	err        error

	createCalls     int
	changeCalls     int
	cancelCalls     int
	reactivateCalls int
	lastImmediate   bool
	lastTrialDays   int
	lastOrgID       string
}

func newFakeGateway() *fakeGateway {
	now := time.Now()
	return &fakeGateway{
		customerID: "cus_test",
		state: &domain.BillingSubscriptionState{
			ExternalSubscriptionID: "sub_test",
			ExternalCustomerID:     "cus_test",
			Status:                 domain.SubscriptionStatusActive,
			Plan:                   domain.PlanPro,
			Interval:               domain.BillingIntervalMonth,
			Amount:                 39,
			Currency:               "usd",
			CurrentPeriodStart:     now,
			CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		},
		checkout: "https://checkout.stripe.test/session",
		portal:   "https://billing.stripe.test/portal",
	}
}

func (g *fakeGateway) stateCopy() *domain.BillingSubscriptionState {
	clone := *g.state
	return &clone
}

func (g *fakeGateway) EnsureCustomer(ctx context.Context, orgID, orgName string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.customerID, nil
}

func (g *fakeGateway) CreateSubscription(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int, paymentMethodID, idempotencyKey string) (*domain.BillingSubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.createCalls++
	g.lastTrialDays = trialDays
	g.lastOrgID = orgID
	return g.stateCopy(), nil
}

func (g *fakeGateway) ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, tier domain.PlanTier, interval domain.BillingInterval) (*domain.BillingSubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.changeCalls++
	return g.stateCopy(), nil
}

func (g *fakeGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*domain.BillingSubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.cancelCalls++
	g.lastImmediate = immediate
	state := g.stateCopy()
	if immediate {
		now := time.Now()
		state.Status = domain.SubscriptionStatusCanceled
		state.CanceledAt = &now
	} else {
		state.CancelAtPeriodEnd = true
	}
	return state, nil
}

func (g *fakeGateway) ReactivateSubscription(ctx context.Context, subscriptionID string) (*domain.BillingSubscriptionState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.reactivateCalls++
	return g.stateCopy(), nil
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.mu.Lock()
	g.lastTrialDays = trialDays
	g.lastOrgID = orgID
	g.mu.Unlock()
	return g.checkout, nil
}

func (g *fakeGateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.portal, nil
}

func (g *fakeGateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.invoices, nil
}

// stubBillingProducer собирает опубликованные события вместо отправки в Kafka
type stubBillingProducer struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *stubBillingProducer) record(event string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *stubBillingProducer) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func (p *stubBillingProducer) PublishSubscriptionActivated(ctx context.Context, sub *domain.Subscription) error {
	return p.record("subscription.activated")
}

func (p *stubBillingProducer) PublishSubscriptionCanceled(ctx context.Context, sub *domain.Subscription) error {
	return p.record("subscription.canceled")
}

func (p *stubBillingProducer) PublishPlanChanged(ctx context.Context, sub *domain.Subscription) error {
	return p.record("subscription.plan_changed")
}

func (p *stubBillingProducer) PublishPaymentFailed(ctx context.Context, sub *domain.Subscription) error {
	return p.record("subscription.payment_failed")
}

func (p *stubBillingProducer) PublishTrialWillEnd(ctx context.Context, sub *domain.Subscription) error {
	return p.record("subscription.trial_will_end")
}

func (p *stubBillingProducer) Close() error { return nil }

// stubUsageProducer собирает события использования
type stubUsageProducer struct {
	mu     sync.Mutex
	events []bool // allowed-флаги в порядке публикации
}

func (p *stubUsageProducer) PublishUsageEvent(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64, allowed bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, allowed)
	return nil
}

func (p *stubUsageProducer) Close() error { return nil }

// stubMetrics собирает счетчики метрик
type stubMetrics struct {
	mu              sync.Mutex
	webhookOutcomes map[string]int
	statuses        map[string]int
	limitDenials    map[string]int
	planChanges     int
	prorations      []float64
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{
		webhookOutcomes: make(map[string]int),
		statuses:        make(map[string]int),
		limitDenials:    make(map[string]int),
	}
}

func (m *stubMetrics) IncWebhookEvent(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookOutcomes[outcome]++
}

func (m *stubMetrics) IncSubscriptionStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status]++
}

func (m *stubMetrics) IncLimitDenied(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limitDenials[resource]++
}

func (m *stubMetrics) IncPlanChange(fromPlan, toPlan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.planChanges++
}

func (m *stubMetrics) ObserveProrationNet(amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prorations = append(m.prorations, amount)
}

func (m *stubMetrics) outcome(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.webhookOutcomes[name]
}

// fakeVerifier возвращает заранее подготовленное событие
type fakeVerifier struct {
	event *domain.SubscriptionEvent
	err   error
}

func (v *fakeVerifier) VerifyAndParse(payload []byte, signatureHeader string) (*domain.SubscriptionEvent, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.event, nil
}

var errGatewayDown = errors.New("gateway unavailable")

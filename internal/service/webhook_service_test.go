package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookFixture struct {
	svc      WebhookService
	verifier *fakeVerifier
	events   *repository.InMemoryWebhookEventRepository
	subs     *repository.InMemorySubscriptionRepository
	orgs     *repository.InMemoryOrganizationRepository
	producer *stubBillingProducer
	metrics  *stubMetrics
	org      domain.Organization
	sub      *domain.Subscription
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	log := logger.New(logger.ERROR)
	ctx := context.Background()

	orgs := repository.NewInMemoryOrganizationRepository(log)
	subs := repository.NewInMemorySubscriptionRepository(log)
	events := repository.NewInMemoryWebhookEventRepository(log)
	verifier := &fakeVerifier{}
	billingProducer := &stubBillingProducer{}
	billingMetrics := newStubMetrics()

	org, err := orgs.Create(ctx, domain.NewOrganization("Acme", uuid.New(), 14))
	require.NoError(t, err)

	now := time.Now().Add(-time.Hour)
	sub := &domain.Subscription{
		ID:                     uuid.New(),
		OrganizationID:         org.ID,
		ExternalCustomerID:     "cus_test",
		ExternalSubscriptionID: "sub_test",
		Plan:                   domain.PlanPro,
		Status:                 domain.SubscriptionStatusActive,
		Interval:               domain.BillingIntervalMonth,
		Amount:                 39,
		Currency:               "usd",
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		LastEventAt:            now,
	}
	require.NoError(t, subs.Create(ctx, sub))

	return &webhookFixture{
		svc:      NewWebhookService(verifier, events, subs, orgs, billingProducer, billingMetrics, log),
		verifier: verifier,
		events:   events,
		subs:     subs,
		orgs:     orgs,
		producer: billingProducer,
		metrics:  billingMetrics,
		org:      org,
		sub:      sub,
	}
}

func (f *webhookFixture) process(t *testing.T, event *domain.SubscriptionEvent) {
	t.Helper()
	f.verifier.event = event
	require.NoError(t, f.svc.ProcessWebhook(context.Background(), []byte("{}"), "sig"))
}

func (f *webhookFixture) updateEvent(id string, eventTime time.Time) *domain.SubscriptionEvent {
	return &domain.SubscriptionEvent{
		ExternalEventID:        id,
		Type:                   domain.WebhookEventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_test",
		Status:                 domain.SubscriptionStatusPastDue,
		EventTime:              eventTime,
	}
}

// flakySubscriptionRepository отклоняет первые N обновлений, имитируя сбой хранилища
type flakySubscriptionRepository struct {
	*repository.InMemorySubscriptionRepository
	failures int
}

func (r *flakySubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	if r.failures > 0 {
		r.failures--
		return errors.New("storage unavailable")
	}
	return r.InMemorySubscriptionRepository.Update(ctx, sub)
}

func TestProcessWebhook_AppliesSubscriptionUpdate(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	eventTime := time.Now()

	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_1",
		Type:                   domain.WebhookEventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_test",
		Status:                 domain.SubscriptionStatusActive,
		Plan:                   domain.PlanTeam,
		Amount:                 79,
		EventTime:              eventTime,
	})

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTeam, sub.Plan)
	assert.Equal(t, 79.0, sub.Amount)
	assert.WithinDuration(t, eventTime, sub.LastEventAt, time.Second)

	// Статус и план зеркалируются на организацию
	org, err := f.orgs.GetByID(ctx, f.org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTeam, org.Plan)
	assert.Equal(t, domain.SubscriptionStatusActive, org.SubscriptionStatus)

	assert.Equal(t, 1, f.metrics.outcome("processed"))

	record, err := f.events.GetByExternalID(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, record.Processed)
}

func TestProcessWebhook_DuplicateEventIgnored(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	event := f.updateEvent("evt_dup", time.Now())
	f.process(t, event)
	f.process(t, event)

	assert.Equal(t, 1, f.metrics.outcome("processed"))
	assert.Equal(t, 1, f.metrics.outcome("duplicate"))

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
}

func TestProcessWebhook_RedeliveryAfterFailedApply(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	flaky := &flakySubscriptionRepository{InMemorySubscriptionRepository: f.subs, failures: 1}
	svc := NewWebhookService(f.verifier, f.events, flaky, f.orgs, f.producer, f.metrics, logger.New(logger.ERROR))

	f.verifier.event = f.updateEvent("evt_retry", time.Now())
	require.Error(t, svc.ProcessWebhook(ctx, []byte("{}"), "sig"))

	record, err := f.events.GetByExternalID(ctx, "evt_retry")
	require.NoError(t, err)
	assert.False(t, record.Processed)

	// Повторная доставка того же события завершает применение
	require.NoError(t, svc.ProcessWebhook(ctx, []byte("{}"), "sig"))

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)

	record, err = f.events.GetByExternalID(ctx, "evt_retry")
	require.NoError(t, err)
	assert.True(t, record.Processed)

	assert.Equal(t, 1, f.metrics.outcome("failed"))
	assert.Equal(t, 1, f.metrics.outcome("processed"))
	assert.Equal(t, 0, f.metrics.outcome("duplicate"))
}

func TestProcessWebhook_StaleEventSkipped(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	// Событие старше водяного знака подписки
	f.process(t, f.updateEvent("evt_stale", f.sub.LastEventAt.Add(-time.Hour)))

	assert.Equal(t, 1, f.metrics.outcome("stale"))

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.WithinDuration(t, f.sub.LastEventAt, sub.LastEventAt, time.Second)
}

func TestProcessWebhook_OutOfOrderDelivery(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	base := time.Now()

	// Новое событие приходит первым
	newer := &domain.SubscriptionEvent{
		ExternalEventID:        "evt_newer",
		Type:                   domain.WebhookEventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_test",
		Status:                 domain.SubscriptionStatusActive,
		Plan:                   domain.PlanAgency,
		EventTime:              base,
	}
	f.process(t, newer)

	// Затем задержавшееся старое, которое не должно откатить состояние
	older := &domain.SubscriptionEvent{
		ExternalEventID:        "evt_older",
		Type:                   domain.WebhookEventSubscriptionUpdated,
		ExternalSubscriptionID: "sub_test",
		Status:                 domain.SubscriptionStatusPastDue,
		Plan:                   domain.PlanPro,
		EventTime:              base.Add(-time.Minute),
	}
	f.process(t, older)

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanAgency, sub.Plan)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestProcessWebhook_UnknownSubscriptionAcknowledged(t *testing.T) {
	f := newWebhookFixture(t)

	event := f.updateEvent("evt_orphan", time.Now())
	event.ExternalSubscriptionID = "sub_unknown"
	f.process(t, event)

	assert.Equal(t, 1, f.metrics.outcome("orphan"))
}

func TestProcessWebhook_CreatedEventMaterializesSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	// Организация прошла через Checkout, локальной подписки еще нет
	org, err := f.orgs.Create(ctx, domain.NewOrganization("Globex", uuid.New(), 14))
	require.NoError(t, err)

	now := time.Now()
	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_created",
		Type:                   domain.WebhookEventSubscriptionCreated,
		ExternalCustomerID:     "cus_checkout",
		ExternalSubscriptionID: "sub_checkout",
		OrganizationID:         org.ID,
		Status:                 domain.SubscriptionStatusActive,
		Plan:                   domain.PlanTeam,
		Interval:               domain.BillingIntervalMonth,
		Amount:                 79,
		Currency:               "usd",
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
		EventTime:              now,
	})

	sub, err := f.subs.GetByOrganizationID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, "sub_checkout", sub.ExternalSubscriptionID)
	assert.Equal(t, "cus_checkout", sub.ExternalCustomerID)
	assert.Equal(t, domain.PlanTeam, sub.Plan)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	assert.WithinDuration(t, now, sub.LastEventAt, time.Second)

	stored, err := f.orgs.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanTeam, stored.Plan)
	assert.Equal(t, domain.SubscriptionStatusActive, stored.SubscriptionStatus)
	assert.False(t, stored.IsTrialActive)

	history, err := f.subs.ListBillingHistory(ctx, org.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.BillingEntrySubscribed, history[0].Kind)

	assert.Contains(t, f.producer.published(), "subscription.activated")
	assert.Equal(t, 1, f.metrics.outcome("processed"))
}

func TestProcessWebhook_CreatedEventWithoutOrganization(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_no_org",
		Type:                   domain.WebhookEventSubscriptionCreated,
		ExternalSubscriptionID: "sub_no_org",
		Status:                 domain.SubscriptionStatusActive,
		EventTime:              time.Now(),
	})

	// Без метаданных организации событие подтверждается, состояние не меняется
	assert.Equal(t, 1, f.metrics.outcome("orphan"))
	_, err := f.subs.GetByExternalID(ctx, "sub_no_org")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestProcessWebhook_UnknownEventTypeSkipped(t *testing.T) {
	f := newWebhookFixture(t)

	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID: "evt_misc",
		Type:            domain.WebhookEventType("charge.refunded"),
		EventTime:       time.Now(),
	})

	assert.Equal(t, 1, f.metrics.outcome("skipped"))
}

func TestProcessWebhook_SubscriptionDeleted(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_del",
		Type:                   domain.WebhookEventSubscriptionDeleted,
		ExternalSubscriptionID: "sub_test",
		EventTime:              time.Now(),
	})

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCanceled, sub.Status)
	require.NotNil(t, sub.CanceledAt)

	history, err := f.subs.ListBillingHistory(ctx, f.org.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.BillingEntryCanceled, history[0].Kind)

	assert.Contains(t, f.producer.published(), "subscription.canceled")
}

func TestProcessWebhook_InvoicePaidRestoresActive(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	base := time.Now()

	// Сначала неуспешная оплата
	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_fail",
		Type:                   domain.WebhookEventInvoiceFailed,
		ExternalSubscriptionID: "sub_test",
		Amount:                 39,
		EventTime:              base,
	})

	sub, err := f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, sub.Status)
	assert.Contains(t, f.producer.published(), "subscription.payment_failed")

	// Повторная попытка списания успешна
	f.process(t, &domain.SubscriptionEvent{
		ExternalEventID:        "evt_paid",
		Type:                   domain.WebhookEventInvoicePaid,
		ExternalSubscriptionID: "sub_test",
		Amount:                 39,
		EventTime:              base.Add(time.Minute),
	})

	sub, err = f.subs.GetByID(ctx, f.sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)

	history, err := f.subs.ListBillingHistory(ctx, f.org.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.BillingEntryPaymentSucceeded, history[0].Kind)
	assert.Equal(t, domain.BillingEntryPaymentFailed, history[1].Kind)
}

func TestProcessWebhook_TrialWillEndNotifiesOnce(t *testing.T) {
	f := newWebhookFixture(t)
	base := time.Now()

	trialEvent := func(id string, at time.Time) *domain.SubscriptionEvent {
		return &domain.SubscriptionEvent{
			ExternalEventID:        id,
			Type:                   domain.WebhookEventTrialWillEnd,
			ExternalSubscriptionID: "sub_test",
			EventTime:              at,
		}
	}

	f.process(t, trialEvent("evt_trial_1", base))
	f.process(t, trialEvent("evt_trial_2", base.Add(time.Minute)))

	published := 0
	for _, topic := range f.producer.published() {
		if topic == "subscription.trial_will_end" {
			published++
		}
	}
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, f.metrics.outcome("already_notified"))
}

func TestProcessWebhook_VerificationFailure(t *testing.T) {
	f := newWebhookFixture(t)
	f.verifier.err = domain.ErrWebhookVerificationFailed

	err := f.svc.ProcessWebhook(context.Background(), []byte("{}"), "bad")
	assert.ErrorIs(t, err, domain.ErrWebhookVerificationFailed)
	assert.Equal(t, 1, f.metrics.outcome("verification_failed"))
}

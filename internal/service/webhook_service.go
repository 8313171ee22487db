package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka/producer"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// WebhookVerifier проверяет подпись вебхука и нормализует событие
type WebhookVerifier interface {
	VerifyAndParse(payload []byte, signatureHeader string) (*domain.SubscriptionEvent, error)
}

// WebhookService интерфейс сервиса обработки вебхуков платежной системы
type WebhookService interface {
	ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error
}

type webhookService struct {
	verifier WebhookVerifier
	events   repository.WebhookEventRepository
	subs     repository.SubscriptionRepository
	orgs     repository.OrganizationRepository
	producer producer.BillingProducer
	metrics  metrics.BillingMetrics
	log      *logger.Logger
}

// NewWebhookService создает новый сервис обработки вебхуков
func NewWebhookService(
	verifier WebhookVerifier,
	events repository.WebhookEventRepository,
	subs repository.SubscriptionRepository,
	orgs repository.OrganizationRepository,
	billingProducer producer.BillingProducer,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) WebhookService {
	return &webhookService{
		verifier: verifier,
		events:   events,
		subs:     subs,
		orgs:     orgs,
		producer: billingProducer,
		metrics:  billingMetrics,
		log:      log,
	}
}

// ProcessWebhook проверяет подпись, дедуплицирует и применяет событие.
// Повторные, устаревшие и неизвестные события подтверждаются без обработки.
func (s *webhookService) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) error {
	event, err := s.verifier.VerifyAndParse(payload, signatureHeader)
	if err != nil {
		s.metrics.IncWebhookEvent("unknown", "verification_failed")
		return err
	}

	eventType := string(event.Type)

	if !event.Type.IsKnown() {
		s.log.Debugw("Skipping unknown webhook event type", "eventID", event.ExternalEventID, "eventType", eventType)
		s.metrics.IncWebhookEvent(eventType, "skipped")
		return nil
	}

	// Дедупликация по внешнему идентификатору события
	record := &domain.WebhookEventRecord{
		ID:         uuid.New(),
		ExternalID: event.ExternalEventID,
		Type:       event.Type,
		EventTime:  event.EventTime,
		ReceivedAt: time.Now(),
	}
	if err := s.events.Record(ctx, record); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		existing, getErr := s.events.GetByExternalID(ctx, event.ExternalEventID)
		if getErr != nil {
			return getErr
		}
		// Повторная доставка пропускается только для полностью примененного
		// события: незавершенное применение нужно повторить.
		if existing.Processed {
			s.log.Debugw("Duplicate webhook event ignored", "eventID", event.ExternalEventID, "eventType", eventType)
			s.metrics.IncWebhookEvent(eventType, "duplicate")
			return nil
		}
		s.log.Infow("Reprocessing webhook event left unprocessed", "eventID", event.ExternalEventID, "eventType", eventType)
	}

	outcome, err := s.applyEvent(ctx, event)
	if err != nil {
		s.metrics.IncWebhookEvent(eventType, "failed")
		return err
	}

	if err := s.events.MarkProcessed(ctx, event.ExternalEventID); err != nil {
		s.log.Warnw("Failed to mark webhook event processed", "error", err, "eventID", event.ExternalEventID)
	}

	s.metrics.IncWebhookEvent(eventType, outcome)
	return nil
}

// applyEvent применяет нормализованное событие к локальному состоянию
func (s *webhookService) applyEvent(ctx context.Context, event *domain.SubscriptionEvent) (string, error) {
	sub, err := s.subs.GetByExternalID(ctx, event.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Подписка, созданная вне сервиса (например, через Checkout),
			// появляется локально по своему событию создания
			if event.Type == domain.WebhookEventSubscriptionCreated {
				return s.materializeSubscription(ctx, event)
			}
			// Остальные события о неизвестной подписке подтверждаем,
			// чтобы платежная система не повторяла доставку
			s.log.Warnw("Webhook event for unknown subscription", "eventID", event.ExternalEventID, "externalSubscriptionID", event.ExternalSubscriptionID)
			return "orphan", nil
		}
		return "", err
	}

	// События применяются только в порядке их времени в платежной системе
	if event.EventTime.Before(sub.LastEventAt) {
		s.log.Debugw("Stale webhook event ignored",
			"eventID", event.ExternalEventID,
			"eventTime", event.EventTime,
			"watermark", sub.LastEventAt,
		)
		return "stale", nil
	}

	switch event.Type {
	case domain.WebhookEventSubscriptionCreated, domain.WebhookEventSubscriptionUpdated:
		s.applySubscriptionState(sub, event)

	case domain.WebhookEventSubscriptionDeleted:
		now := time.Now()
		sub.Status = domain.SubscriptionStatusCanceled
		if event.CanceledAt != nil {
			sub.CanceledAt = event.CanceledAt
		} else {
			sub.CanceledAt = &now
		}
		s.appendHistory(ctx, sub, domain.BillingEntryCanceled, event.Amount, "Subscription canceled by billing provider")
		if err := s.producer.PublishSubscriptionCanceled(ctx, sub); err != nil {
			s.log.Warnw("Failed to publish subscription canceled event", "error", err, "organizationID", sub.OrganizationID)
		}

	case domain.WebhookEventInvoicePaid:
		// Успешная оплата возвращает подписку в активное состояние
		if !sub.Status.IsTerminal() {
			sub.Status = domain.SubscriptionStatusActive
		}
		s.appendHistory(ctx, sub, domain.BillingEntryPaymentSucceeded, event.Amount, "Invoice paid")

	case domain.WebhookEventInvoiceFailed:
		if !sub.Status.IsTerminal() {
			sub.Status = domain.SubscriptionStatusPastDue
		}
		s.appendHistory(ctx, sub, domain.BillingEntryPaymentFailed, event.Amount, "Invoice payment failed")
		if err := s.producer.PublishPaymentFailed(ctx, sub); err != nil {
			s.log.Warnw("Failed to publish payment failed event", "error", err, "organizationID", sub.OrganizationID)
		}

	case domain.WebhookEventTrialWillEnd:
		if sub.TrialEndingNotified {
			return "already_notified", nil
		}
		sub.TrialEndingNotified = true
		if err := s.producer.PublishTrialWillEnd(ctx, sub); err != nil {
			s.log.Warnw("Failed to publish trial will end event", "error", err, "organizationID", sub.OrganizationID)
		}
	}

	sub.LastEventAt = event.EventTime
	sub.UpdatedAt = time.Now()

	if err := s.subs.Update(ctx, sub); err != nil {
		return "", err
	}

	s.mirrorToOrganization(ctx, sub)
	s.metrics.IncSubscriptionStatus(string(sub.Status))

	s.log.Infow("Webhook event applied",
		"eventID", event.ExternalEventID,
		"eventType", string(event.Type),
		"organizationID", sub.OrganizationID,
		"status", string(sub.Status),
	)
	return "processed", nil
}

// materializeSubscription создает локальную подписку по событию создания.
// Организация определяется по метаданным, проставленным при создании
// клиента и сессии оплаты.
func (s *webhookService) materializeSubscription(ctx context.Context, event *domain.SubscriptionEvent) (string, error) {
	if event.OrganizationID == uuid.Nil {
		s.log.Warnw("Subscription created event without organization metadata",
			"eventID", event.ExternalEventID,
			"externalSubscriptionID", event.ExternalSubscriptionID,
		)
		return "orphan", nil
	}

	org, err := s.orgs.GetByID(ctx, event.OrganizationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Subscription created event for unknown organization",
				"eventID", event.ExternalEventID,
				"organizationID", event.OrganizationID,
			)
			return "orphan", nil
		}
		return "", err
	}

	plan := event.Plan
	if plan == "" {
		plan = org.Plan
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:                     uuid.New(),
		OrganizationID:         org.ID,
		ExternalCustomerID:     event.ExternalCustomerID,
		ExternalSubscriptionID: event.ExternalSubscriptionID,
		Plan:                   plan,
		Status:                 event.Status,
		Interval:               event.Interval,
		Amount:                 event.Amount,
		Currency:               event.Currency,
		CurrentPeriodStart:     event.CurrentPeriodStart,
		CurrentPeriodEnd:       event.CurrentPeriodEnd,
		CancelAtPeriodEnd:      event.CancelAtPeriodEnd,
		TrialStart:             event.TrialStart,
		TrialEnd:               event.TrialEnd,
		LastEventAt:            event.EventTime,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.log.Warnw("Organization already has an active subscription, created event ignored",
				"eventID", event.ExternalEventID,
				"organizationID", org.ID,
			)
			return "skipped", nil
		}
		return "", err
	}

	s.mirrorToOrganization(ctx, sub)
	s.appendHistory(ctx, sub, domain.BillingEntrySubscribed, sub.Amount, "Subscription created by billing provider")
	if err := s.producer.PublishSubscriptionActivated(ctx, sub); err != nil {
		s.log.Warnw("Failed to publish subscription activated event", "error", err, "organizationID", org.ID)
	}
	s.metrics.IncSubscriptionStatus(string(sub.Status))

	s.log.Infow("Subscription materialized from webhook",
		"eventID", event.ExternalEventID,
		"organizationID", org.ID,
		"externalSubscriptionID", event.ExternalSubscriptionID,
		"status", string(sub.Status),
	)
	return "processed", nil
}

// applySubscriptionState переносит состояние подписки из события
func (s *webhookService) applySubscriptionState(sub *domain.Subscription, event *domain.SubscriptionEvent) {
	if event.Status.IsValid() {
		sub.Status = event.Status
	}
	if event.Plan != "" {
		sub.Plan = event.Plan
	}
	if event.Interval != "" {
		sub.Interval = event.Interval
	}
	if event.Amount > 0 {
		sub.Amount = event.Amount
	}
	if event.Currency != "" {
		sub.Currency = event.Currency
	}
	if !event.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = event.CurrentPeriodStart
	}
	if !event.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = event.CurrentPeriodEnd
	}
	sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	sub.CanceledAt = event.CanceledAt
	if event.TrialStart != nil {
		sub.TrialStart = event.TrialStart
	}
	if event.TrialEnd != nil {
		sub.TrialEnd = event.TrialEnd
	}
	if event.ExternalCustomerID != "" {
		sub.ExternalCustomerID = event.ExternalCustomerID
	}
}

// mirrorToOrganization переносит статус подписки на организацию
func (s *webhookService) mirrorToOrganization(ctx context.Context, sub *domain.Subscription) {
	org, err := s.orgs.GetByID(ctx, sub.OrganizationID)
	if err != nil {
		s.log.Errorw("Failed to load organization for status mirror", "error", err, "organizationID", sub.OrganizationID)
		return
	}

	org.Plan = sub.Plan
	org.SubscriptionStatus = sub.Status
	if sub.Status == domain.SubscriptionStatusActive {
		org.IsTrialActive = false
	}
	org.UpdatedAt = time.Now()

	if err := s.orgs.Update(ctx, org); err != nil {
		s.log.Errorw("Failed to mirror subscription status to organization", "error", err, "organizationID", org.ID)
	}
}

// appendHistory добавляет запись в журнал биллинга, ошибки только логируются
func (s *webhookService) appendHistory(ctx context.Context, sub *domain.Subscription, kind domain.BillingEntryKind, amount float64, description string) {
	if amount == 0 {
		amount = sub.Amount
	}
	entry := &domain.BillingHistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           kind,
		Amount:         amount,
		Currency:       sub.Currency,
		Description:    description,
		OccurredAt:     time.Now(),
	}
	if err := s.subs.AppendBillingHistory(ctx, sub.OrganizationID, entry); err != nil {
		s.log.Warnw("Failed to append billing history entry", "error", err, "organizationID", sub.OrganizationID)
	}
}

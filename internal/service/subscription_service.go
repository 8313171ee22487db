package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka/producer"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/plans"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// BillingGateway определяет операции с внешней платежной системой
type BillingGateway interface {
	EnsureCustomer(ctx context.Context, orgID, orgName string) (string, error)
	CreateSubscription(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int, paymentMethodID, idempotencyKey string) (*domain.BillingSubscriptionState, error)
	ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, tier domain.PlanTier, interval domain.BillingInterval) (*domain.BillingSubscriptionState, error)
	CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*domain.BillingSubscriptionState, error)
	ReactivateSubscription(ctx context.Context, subscriptionID string) (*domain.BillingSubscriptionState, error)
	CreateCheckoutSession(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
	ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error)
}

// SubscriptionService интерфейс сервиса управления подписками
type SubscriptionService interface {
	Subscribe(ctx context.Context, orgID uuid.UUID, req domain.SubscribeRequest) (*domain.Subscription, error)
	ChangePlan(ctx context.Context, orgID uuid.UUID, req domain.ChangePlanRequest) (*domain.Subscription, *domain.Proration, error)
	Cancel(ctx context.Context, orgID uuid.UUID, req domain.CancelRequest) (*domain.Subscription, error)
	Reactivate(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error)
	Get(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error)
	CreateCheckoutSession(ctx context.Context, orgID uuid.UUID, req domain.SubscribeRequest) (string, error)
	CreatePortalSession(ctx context.Context, orgID uuid.UUID) (string, error)
	ListInvoices(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.Invoice, error)
	BillingHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.BillingHistoryEntry, error)
	PlanChanges(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.PlanChangeEntry, error)
}

type subscriptionService struct {
	orgs     repository.OrganizationRepository
	subs     repository.SubscriptionRepository
	gateway  BillingGateway
	producer producer.BillingProducer
	metrics  metrics.BillingMetrics
	log      *logger.Logger
}

// NewSubscriptionService создает новый сервис управления подписками
func NewSubscriptionService(
	orgs repository.OrganizationRepository,
	subs repository.SubscriptionRepository,
	gateway BillingGateway,
	billingProducer producer.BillingProducer,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) SubscriptionService {
	return &subscriptionService{
		orgs:     orgs,
		subs:     subs,
		gateway:  gateway,
		producer: billingProducer,
		metrics:  billingMetrics,
		log:      log,
	}
}

// Subscribe создает платную подписку для организации.
// Локальное состояние меняется только после успешного ответа платежной системы.
func (s *subscriptionService) Subscribe(ctx context.Context, orgID uuid.UUID, req domain.SubscribeRequest) (*domain.Subscription, error) {
	s.log.Debugw("Subscribing organization", "organizationID", orgID, "plan", string(req.Plan), "interval", string(req.Interval))

	org, def, err := s.loadOrgAndPlan(ctx, orgID, req.Plan)
	if err != nil {
		return nil, err
	}
	interval, err := normalizeInterval(req.Interval)
	if err != nil {
		return nil, err
	}

	// Повторная подписка разрешена только поверх терминальной
	existing, err := s.subs.GetByOrganizationID(ctx, orgID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return nil, domain.ErrAlreadySubscribed
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, orgID.String(), org.Name)
	if err != nil {
		return nil, err
	}

	// Пробный период дается один раз, при самой первой подписке
	trialDays := 0
	if existing == nil {
		trialDays = def.TrialDays
	}

	amount, err := plans.PriceFor(req.Plan, interval)
	if err != nil {
		return nil, err
	}

	idempotencyKey := fmt.Sprintf("subscribe-%s-%s-%s", orgID, req.Plan, interval)
	state, err := s.gateway.CreateSubscription(ctx, customerID, orgID.String(), req.Plan, interval, trialDays, req.PaymentMethodID, idempotencyKey)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &domain.Subscription{
		ID:                     uuid.New(),
		OrganizationID:         orgID,
		ExternalCustomerID:     customerID,
		ExternalSubscriptionID: state.ExternalSubscriptionID,
		Plan:                   req.Plan,
		Status:                 state.Status,
		Interval:               interval,
		Amount:                 amount,
		Currency:               def.Currency,
		CurrentPeriodStart:     state.CurrentPeriodStart,
		CurrentPeriodEnd:       state.CurrentPeriodEnd,
		CancelAtPeriodEnd:      state.CancelAtPeriodEnd,
		TrialStart:             state.TrialStart,
		TrialEnd:               state.TrialEnd,
		LastEventAt:            now,
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, domain.ErrAlreadySubscribed
		}
		return nil, err
	}

	s.mirrorSubscription(ctx, org, sub)
	s.appendHistory(ctx, orgID, &domain.BillingHistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           domain.BillingEntrySubscribed,
		Amount:         amount,
		Currency:       sub.Currency,
		Description:    fmt.Sprintf("Subscribed to %s (%s)", def.Name, interval),
		OccurredAt:     now,
	})

	if err := s.producer.PublishSubscriptionActivated(ctx, sub); err != nil {
		s.log.Warnw("Failed to publish subscription activated event", "error", err, "organizationID", orgID)
	}
	s.metrics.IncSubscriptionStatus(string(sub.Status))

	s.log.Infow("Organization subscribed", "organizationID", orgID, "plan", string(req.Plan), "status", string(sub.Status))
	return sub, nil
}

// ChangePlan переводит организацию на другой тарифный план.
// Даунгрейд блокируется, если текущее использование превышает лимиты целевого плана.
func (s *subscriptionService) ChangePlan(ctx context.Context, orgID uuid.UUID, req domain.ChangePlanRequest) (*domain.Subscription, *domain.Proration, error) {
	s.log.Debugw("Changing plan", "organizationID", orgID, "targetPlan", string(req.Plan))

	org, def, err := s.loadOrgAndPlan(ctx, orgID, req.Plan)
	if err != nil {
		return nil, nil, err
	}

	sub, err := s.requireSubscription(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}

	interval := sub.Interval
	if req.Interval != "" {
		if interval, err = normalizeInterval(req.Interval); err != nil {
			return nil, nil, err
		}
	}

	if sub.Plan == req.Plan && sub.Interval == interval {
		return nil, nil, domain.ErrInvalidOperation
	}

	downgrade, err := plans.IsDowngrade(sub.Plan, req.Plan)
	if err != nil {
		return nil, nil, err
	}
	if downgrade {
		if err := s.checkDowngrade(ctx, org, req.Plan); err != nil {
			return nil, nil, err
		}
	}

	newAmount, err := plans.PriceFor(req.Plan, interval)
	if err != nil {
		return nil, nil, err
	}

	proration, err := domain.ComputeProration(sub.Amount, newAmount, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, time.Now())
	if err != nil {
		return nil, nil, err
	}

	state, err := s.gateway.ChangeSubscriptionPlan(ctx, sub.ExternalSubscriptionID, req.Plan, interval)
	if err != nil {
		return nil, nil, err
	}

	fromPlan := sub.Plan
	fromAmount := sub.Amount
	now := time.Now()

	sub.Plan = req.Plan
	sub.Interval = interval
	sub.Amount = newAmount
	sub.Currency = def.Currency
	sub.Status = state.Status
	sub.CurrentPeriodStart = state.CurrentPeriodStart
	sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, nil, err
	}

	s.mirrorSubscription(ctx, org, sub)
	if err := s.subs.AppendPlanChange(ctx, orgID, &domain.PlanChangeEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		FromPlan:       fromPlan,
		ToPlan:         req.Plan,
		FromAmount:     fromAmount,
		ToAmount:       newAmount,
		Interval:       interval,
		ProrationNet:   proration.Net,
		ChangedAt:      now,
	}); err != nil {
		s.log.Warnw("Failed to append plan change entry", "error", err, "organizationID", orgID)
	}

	if err := s.producer.PublishPlanChanged(ctx, sub); err != nil {
		s.log.Warnw("Failed to publish plan changed event", "error", err, "organizationID", orgID)
	}
	s.metrics.IncPlanChange(string(fromPlan), string(req.Plan))
	s.metrics.ObserveProrationNet(proration.Net)

	s.log.Infow("Plan changed", "organizationID", orgID, "from", string(fromPlan), "to", string(req.Plan), "prorationNet", proration.Net)
	return sub, &proration, nil
}

// Cancel отменяет подписку немедленно или в конце оплаченного периода
func (s *subscriptionService) Cancel(ctx context.Context, orgID uuid.UUID, req domain.CancelRequest) (*domain.Subscription, error) {
	s.log.Debugw("Canceling subscription", "organizationID", orgID, "immediate", req.Immediate)

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}

	sub, err := s.requireSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}

	state, err := s.gateway.CancelSubscription(ctx, sub.ExternalSubscriptionID, req.Immediate)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if req.Immediate {
		sub.Status = domain.SubscriptionStatusCanceled
		sub.CanceledAt = &now
		sub.CancelAtPeriodEnd = false
		if state != nil && state.CanceledAt != nil {
			sub.CanceledAt = state.CanceledAt
		}
	} else {
		sub.CancelAtPeriodEnd = true
		if state != nil {
			sub.Status = state.Status
		}
	}
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.mirrorSubscription(ctx, org, sub)
	s.appendHistory(ctx, orgID, &domain.BillingHistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           domain.BillingEntryCanceled,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Description:    cancelDescription(req.Immediate),
		OccurredAt:     now,
	})

	if err := s.producer.PublishSubscriptionCanceled(ctx, sub); err != nil {
		s.log.Warnw("Failed to publish subscription canceled event", "error", err, "organizationID", orgID)
	}
	s.metrics.IncSubscriptionStatus(string(sub.Status))

	s.log.Infow("Subscription canceled", "organizationID", orgID, "immediate", req.Immediate, "status", string(sub.Status))
	return sub, nil
}

// Reactivate снимает отложенную отмену с подписки
func (s *subscriptionService) Reactivate(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error) {
	s.log.Debugw("Reactivating subscription", "organizationID", orgID)

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}

	sub, err := s.requireSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return nil, domain.ErrInvalidOperation
	}

	state, err := s.gateway.ReactivateSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	if state != nil {
		sub.Status = state.Status
	}
	sub.UpdatedAt = now

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.mirrorSubscription(ctx, org, sub)
	s.appendHistory(ctx, orgID, &domain.BillingHistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		Kind:           domain.BillingEntryReactivated,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Description:    "Subscription reactivated",
		OccurredAt:     now,
	})

	if err := s.producer.PublishSubscriptionActivated(ctx, sub); err != nil {
		s.log.Warnw("Failed to publish subscription activated event", "error", err, "organizationID", orgID)
	}
	s.metrics.IncSubscriptionStatus(string(sub.Status))

	s.log.Infow("Subscription reactivated", "organizationID", orgID, "status", string(sub.Status))
	return sub, nil
}

// Get возвращает подписку организации
func (s *subscriptionService) Get(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByOrganizationID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFoundError("subscription", orgID.String())
		}
		return nil, err
	}
	return sub, nil
}

// CreateCheckoutSession создает сессию оплаты во внешней платежной системе
func (s *subscriptionService) CreateCheckoutSession(ctx context.Context, orgID uuid.UUID, req domain.SubscribeRequest) (string, error) {
	org, def, err := s.loadOrgAndPlan(ctx, orgID, req.Plan)
	if err != nil {
		return "", err
	}
	interval, err := normalizeInterval(req.Interval)
	if err != nil {
		return "", err
	}

	existing, err := s.subs.GetByOrganizationID(ctx, orgID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}
	if existing != nil && !existing.Status.IsTerminal() {
		return "", domain.ErrAlreadySubscribed
	}

	customerID, err := s.gateway.EnsureCustomer(ctx, orgID.String(), org.Name)
	if err != nil {
		return "", err
	}

	trialDays := 0
	if existing == nil {
		trialDays = def.TrialDays
	}

	return s.gateway.CreateCheckoutSession(ctx, customerID, orgID.String(), req.Plan, interval, trialDays)
}

// CreatePortalSession создает сессию клиентского портала платежной системы
func (s *subscriptionService) CreatePortalSession(ctx context.Context, orgID uuid.UUID) (string, error) {
	sub, err := s.requireSubscription(ctx, orgID)
	if err != nil {
		return "", err
	}
	return s.gateway.CreatePortalSession(ctx, sub.ExternalCustomerID)
}

// ListInvoices возвращает счета организации из платежной системы
func (s *subscriptionService) ListInvoices(ctx context.Context, orgID uuid.UUID, limit int) ([]domain.Invoice, error) {
	sub, err := s.requireSubscription(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.gateway.ListInvoices(ctx, sub.ExternalCustomerID, limit)
}

// BillingHistory возвращает журнал биллинга организации
func (s *subscriptionService) BillingHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.BillingHistoryEntry, error) {
	return s.subs.ListBillingHistory(ctx, orgID, limit, offset)
}

// PlanChanges возвращает историю смены планов организации
func (s *subscriptionService) PlanChanges(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.PlanChangeEntry, error) {
	return s.subs.ListPlanChanges(ctx, orgID, limit, offset)
}

// loadOrgAndPlan загружает организацию и определение тарифного плана
func (s *subscriptionService) loadOrgAndPlan(ctx context.Context, orgID uuid.UUID, tier domain.PlanTier) (domain.Organization, plans.Definition, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Organization{}, plans.Definition{}, domain.ErrOrganizationNotFound
		}
		return domain.Organization{}, plans.Definition{}, err
	}

	def, err := plans.Get(tier)
	if err != nil {
		return domain.Organization{}, plans.Definition{}, err
	}

	return org, def, nil
}

// requireSubscription возвращает нетерминальную подписку организации
func (s *subscriptionService) requireSubscription(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.GetByOrganizationID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.NewNotFoundError("subscription", orgID.String())
		}
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, domain.ErrInvalidOperation
	}
	return sub, nil
}

// checkDowngrade проверяет, что использование организации укладывается
// в лимиты целевого плана по каждому измерению
func (s *subscriptionService) checkDowngrade(ctx context.Context, org domain.Organization, target domain.PlanTier) error {
	limits, err := plans.LimitsFor(target)
	if err != nil {
		return err
	}

	for _, resource := range domain.AllResources {
		limit := limits.For(resource)
		if limit == domain.Unlimited {
			continue
		}
		if current := org.Usage.Get(resource); current > limit {
			return &domain.UsageExceedsTargetPlanError{
				Dimension: resource,
				Current:   current,
				Limit:     limit,
			}
		}
	}

	return nil
}

// mirrorSubscription переносит состояние подписки на организацию
func (s *subscriptionService) mirrorSubscription(ctx context.Context, org domain.Organization, sub *domain.Subscription) {
	org.Plan = sub.Plan
	org.SubscriptionStatus = sub.Status
	if sub.Status == domain.SubscriptionStatusActive {
		org.IsTrialActive = false
	}
	org.UpdatedAt = time.Now()

	if err := s.orgs.Update(ctx, org); err != nil {
		s.log.Errorw("Failed to mirror subscription state to organization", "error", err, "organizationID", org.ID)
	}
}

// appendHistory добавляет запись в журнал биллинга, ошибки только логируются
func (s *subscriptionService) appendHistory(ctx context.Context, orgID uuid.UUID, entry *domain.BillingHistoryEntry) {
	if err := s.subs.AppendBillingHistory(ctx, orgID, entry); err != nil {
		s.log.Warnw("Failed to append billing history entry", "error", err, "organizationID", orgID)
	}
}

// normalizeInterval проверяет период выставления счетов
func normalizeInterval(interval domain.BillingInterval) (domain.BillingInterval, error) {
	switch interval {
	case domain.BillingIntervalMonth, domain.BillingIntervalYear:
		return interval, nil
	case "":
		return domain.BillingIntervalMonth, nil
	default:
		return "", repository.ErrInvalidData
	}
}

// cancelDescription описание для записи журнала биллинга при отмене
func cancelDescription(immediate bool) string {
	if immediate {
		return "Subscription canceled immediately"
	}
	return "Subscription scheduled for cancellation at period end"
}

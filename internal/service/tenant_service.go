package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/plans"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// TenantCache кеш дескрипторов арендаторов
type TenantCache interface {
	GetCachedTenantDescriptor(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error)
	CacheTenantDescriptor(ctx context.Context, desc *domain.TenantDescriptor) error
}

// TenantService интерфейс сервиса разрешения контекста арендатора
type TenantService interface {
	// Resolve собирает дескриптор арендатора для пары организация-пользователь.
	// Отказы идут по нарастающей: организация не найдена, пользователь не участник,
	// подписка неактивна.
	Resolve(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error)

	// ResolveMember собирает дескриптор без проверки активности подписки.
	// Нужен платежным маршрутам: организация с истекшим пробным периодом
	// должна иметь возможность оформить оплату.
	ResolveMember(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error)
}

type tenantService struct {
	orgs  repository.OrganizationRepository
	usage repository.UsageStore
	cache TenantCache
	log   *logger.Logger
}

// NewTenantService создает новый сервис разрешения арендаторов.
// Кеш опционален: при nil все запросы идут в хранилище.
func NewTenantService(
	orgs repository.OrganizationRepository,
	usage repository.UsageStore,
	cache TenantCache,
	log *logger.Logger,
) TenantService {
	return &tenantService{
		orgs:  orgs,
		usage: usage,
		cache: cache,
		log:   log,
	}
}

// Resolve собирает дескриптор арендатора
func (s *tenantService) Resolve(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error) {
	return s.resolve(ctx, orgID, userID, true)
}

// ResolveMember собирает дескриптор участника без требования активной подписки
func (s *tenantService) ResolveMember(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error) {
	return s.resolve(ctx, orgID, userID, false)
}

func (s *tenantService) resolve(ctx context.Context, orgID, userID uuid.UUID, requireActive bool) (*domain.TenantDescriptor, error) {
	if userID == uuid.Nil {
		return nil, domain.ErrAuthenticationRequired
	}
	if orgID == uuid.Nil {
		return nil, domain.ErrOrganizationContextMissing
	}

	if s.cache != nil {
		cached, err := s.cache.GetCachedTenantDescriptor(ctx, orgID, userID)
		if err != nil {
			s.log.Warnw("Error getting tenant descriptor from cache", "error", err, "organizationID", orgID)
		}
		if cached != nil {
			return cached, nil
		}
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrOrganizationNotFound
		}
		return nil, err
	}

	membership, ok := org.MembershipOf(userID)
	if !ok {
		return nil, domain.ErrNotAMember
	}

	// Истекший пробный период фиксируется в хранилище вместе с неактивным
	// зеркалом статуса, а не только в ответе
	now := time.Now()
	if org.IsTrialActive && !now.Before(org.TrialEnd) {
		org.IsTrialActive = false
		if org.SubscriptionStatus == domain.SubscriptionStatusTrialing {
			org.SubscriptionStatus = domain.SubscriptionStatusUnpaid
		}
		org.UpdatedAt = now
		if err := s.orgs.Update(ctx, org); err != nil {
			s.log.Errorw("Failed to persist trial expiry", "error", err, "organizationID", orgID)
		} else {
			s.log.Infow("Trial expired", "organizationID", orgID, "trialEnd", org.TrialEnd)
		}
	}

	if requireActive && !org.IsSubscriptionActive() {
		return nil, &domain.SubscriptionInactiveError{
			OrgID:              orgID.String(),
			Status:             org.SubscriptionStatus,
			RemainingTrialDays: org.RemainingTrialDays(now),
		}
	}

	limits, err := plans.LimitsFor(org.Plan)
	if err != nil {
		return nil, err
	}
	features, err := plans.FeaturesFor(org.Plan)
	if err != nil {
		return nil, err
	}

	usage := org.Usage.Clone()
	if s.usage != nil {
		if fresh, err := s.usage.GetUsage(ctx, orgID); err == nil && fresh != nil {
			usage = fresh
		}
	}

	desc := &domain.TenantDescriptor{
		OrgID:       orgID,
		UserID:      userID,
		Role:        membership.Role,
		Permissions: membership.Permissions,
		Plan:        org.Plan,
		Status:      org.SubscriptionStatus,
		Limits:      limits,
		Usage:       usage,
		Features:    features,
	}

	// Кешируются только дескрипторы прошедших проверку активности:
	// иначе неактивная организация обошла бы 402 через кеш
	if s.cache != nil && org.IsSubscriptionActive() {
		if err := s.cache.CacheTenantDescriptor(ctx, desc); err != nil {
			s.log.Warnw("Failed to cache tenant descriptor", "error", err, "organizationID", orgID)
		}
	}

	return desc, nil
}

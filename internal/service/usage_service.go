package service

import (
	"context"
	"errors"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/kafka"
	"github.com/Dhoini/Entitlement-microservice/internal/metrics"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// ResourceUsage использование одного ресурса в сводке
type ResourceUsage struct {
	Resource  domain.Resource `json:"resource"`
	Used      int64           `json:"used"`
	Limit     int64           `json:"limit"`
	Unlimited bool            `json:"unlimited"`
	Remaining int64           `json:"remaining"`
}

// UsageService интерфейс сервиса контроля лимитов и доступа
type UsageService interface {
	// CheckUsage проверяет, допустимо ли увеличение счетчика без записи (мягкая проверка).
	CheckUsage(desc *domain.TenantDescriptor, resource domain.Resource, delta int64) error

	// TrackUsage атомарно проверяет лимит и увеличивает счетчик (жесткий потолок).
	TrackUsage(ctx context.Context, desc *domain.TenantDescriptor, resource domain.Resource, delta int64) error

	// ReleaseUsage уменьшает счетчик при освобождении ресурса.
	ReleaseUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta int64) error

	// Summary возвращает сводку использования по всем ресурсам.
	Summary(desc *domain.TenantDescriptor) []ResourceUsage

	// RequireRole проверяет, что роль пользователя входит в список разрешенных.
	RequireRole(desc *domain.TenantDescriptor, roles ...domain.Role) error

	// RequirePermission проверяет наличие именованного разрешения.
	RequirePermission(desc *domain.TenantDescriptor, permission string) error
}

type usageService struct {
	usage      repository.UsageStore
	producer   kafka.UsageProducer
	metrics    metrics.BillingMetrics
	upgradeURL string
	log        *logger.Logger
}

// NewUsageService создает новый сервис контроля лимитов
func NewUsageService(
	usage repository.UsageStore,
	usageProducer kafka.UsageProducer,
	billingMetrics metrics.BillingMetrics,
	upgradeURL string,
	log *logger.Logger,
) UsageService {
	return &usageService{
		usage:      usage,
		producer:   usageProducer,
		metrics:    billingMetrics,
		upgradeURL: upgradeURL,
		log:        log,
	}
}

// CheckUsage проверяет лимит по снимку дескриптора, не меняя счетчики.
// Между проверкой и фактическим действием возможна гонка: для записи
// используется TrackUsage с атомарной проверкой.
func (s *usageService) CheckUsage(desc *domain.TenantDescriptor, resource domain.Resource, delta int64) error {
	limit := desc.Limits.For(resource)
	if limit == domain.Unlimited {
		return nil
	}

	current := desc.Usage.Get(resource)
	if current+delta > limit {
		s.metrics.IncLimitDenied(string(resource))
		return &domain.LimitExceededError{
			Resource:    resource,
			Limit:       limit,
			Current:     current,
			UpgradeHint: s.upgradeURL,
		}
	}

	return nil
}

// TrackUsage атомарно проверяет лимит и увеличивает счетчик
func (s *usageService) TrackUsage(ctx context.Context, desc *domain.TenantDescriptor, resource domain.Resource, delta int64) error {
	limit := desc.Limits.For(resource)

	err := s.usage.CheckAndIncrementUsage(ctx, desc.OrgID, resource, delta, limit)
	if err != nil {
		if errors.Is(err, repository.ErrLimitReached) {
			s.metrics.IncLimitDenied(string(resource))
			s.publishUsageEvent(ctx, desc.OrgID, resource, delta, limit, false)
			return &domain.LimitExceededError{
				Resource:    resource,
				Limit:       limit,
				Current:     desc.Usage.Get(resource),
				UpgradeHint: s.upgradeURL,
			}
		}
		return err
	}

	s.publishUsageEvent(ctx, desc.OrgID, resource, delta, limit, true)
	return nil
}

// ReleaseUsage уменьшает счетчик, не опускаясь ниже нуля
func (s *usageService) ReleaseUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta int64) error {
	if delta > 0 {
		delta = -delta
	}
	if err := s.usage.IncrementUsage(ctx, orgID, resource, delta); err != nil {
		return err
	}
	s.publishUsageEvent(ctx, orgID, resource, delta, 0, true)
	return nil
}

// Summary возвращает сводку использования по всем ресурсам
func (s *usageService) Summary(desc *domain.TenantDescriptor) []ResourceUsage {
	summary := make([]ResourceUsage, 0, len(domain.AllResources))
	for _, resource := range domain.AllResources {
		limit := desc.Limits.For(resource)
		used := desc.Usage.Get(resource)

		entry := ResourceUsage{
			Resource:  resource,
			Used:      used,
			Limit:     limit,
			Unlimited: limit == domain.Unlimited,
		}
		if !entry.Unlimited {
			entry.Remaining = limit - used
			if entry.Remaining < 0 {
				entry.Remaining = 0
			}
		}
		summary = append(summary, entry)
	}
	return summary
}

// RequireRole проверяет, что роль пользователя входит в список разрешенных
func (s *usageService) RequireRole(desc *domain.TenantDescriptor, roles ...domain.Role) error {
	for _, role := range roles {
		if desc.Role == role {
			return nil
		}
	}
	return &domain.ForbiddenError{
		RequiredRoles: roles,
		CurrentRole:   desc.Role,
	}
}

// RequirePermission проверяет наличие именованного разрешения.
// Владелец и администратор имеют все разрешения.
func (s *usageService) RequirePermission(desc *domain.TenantDescriptor, permission string) error {
	if desc.Role == domain.RoleOwner || desc.Role == domain.RoleAdmin {
		return nil
	}
	if desc.Permissions[permission] {
		return nil
	}
	return &domain.ForbiddenError{
		CurrentRole: desc.Role,
		Permission:  permission,
	}
}

// publishUsageEvent публикует событие использования, ошибки только логируются
func (s *usageService) publishUsageEvent(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64, allowed bool) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishUsageEvent(ctx, orgID, resource, delta, limit, allowed); err != nil {
		s.log.Warnw("Failed to publish usage event", "error", err, "organizationID", orgID, "resource", resource)
	}
}

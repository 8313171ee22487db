package repository

import (
	"context"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/google/uuid"
)

// OrganizationRepository определяет методы для работы с хранилищем организаций.
type OrganizationRepository interface {
	// GetByID возвращает организацию по ее ID.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)

	// Create сохраняет новую организацию в хранилище.
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)

	// Update обновляет данные существующей организации.
	Update(ctx context.Context, org domain.Organization) error
}

// UsageStore определяет методы учета использования ресурсов.
type UsageStore interface {
	// GetUsage возвращает текущие счетчики использования организации.
	GetUsage(ctx context.Context, orgID uuid.UUID) (domain.UsageCounters, error)

	// IncrementUsage изменяет счетчик без проверки лимита, не опускаясь ниже нуля.
	IncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta int64) error

	// CheckAndIncrementUsage атомарно проверяет лимит и изменяет счетчик.
	// Возвращает ErrLimitReached, если изменение нарушило бы лимит.
	CheckAndIncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64) error
}

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку в хранилище.
	Create(ctx context.Context, sub *domain.Subscription) error

	// Update обновляет данные существующей подписки.
	Update(ctx context.Context, sub *domain.Subscription) error

	// GetByID возвращает подписку по ее ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)

	// GetByOrganizationID возвращает подписку организации.
	GetByOrganizationID(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error)

	// GetByExternalID возвращает подписку по ее ID во внешней биллинговой системе
	// (понадобится для вебхуков).
	GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error)

	// AppendBillingHistory добавляет запись в журнал биллинга организации.
	AppendBillingHistory(ctx context.Context, orgID uuid.UUID, entry *domain.BillingHistoryEntry) error

	// AppendPlanChange добавляет запись в историю смены планов организации.
	AppendPlanChange(ctx context.Context, orgID uuid.UUID, entry *domain.PlanChangeEntry) error

	// ListBillingHistory возвращает записи журнала биллинга, новые первыми.
	ListBillingHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.BillingHistoryEntry, error)

	// ListPlanChanges возвращает историю смены планов, новые первыми.
	ListPlanChanges(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.PlanChangeEntry, error)
}

// WebhookEventRepository определяет методы журнала обработанных событий вебхуков.
type WebhookEventRepository interface {
	// Record регистрирует новое событие. Повторное событие возвращает ErrDuplicate.
	Record(ctx context.Context, record *domain.WebhookEventRecord) error

	// GetByExternalID возвращает запись о событии по внешнему идентификатору.
	GetByExternalID(ctx context.Context, externalID string) (*domain.WebhookEventRecord, error)

	// MarkProcessed помечает событие как обработанное.
	MarkProcessed(ctx context.Context, externalID string) error
}

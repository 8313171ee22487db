package repository

import (
	"context"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
)

// OrganizationStore описывает хранилище организаций для декоратора кеширования
type OrganizationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)
	Update(ctx context.Context, org domain.Organization) error
}

// CachedOrganizationRepository реализует хранилище организаций с кешированием
type CachedOrganizationRepository struct {
	repo  OrganizationStore
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedOrganizationRepository создает новый репозиторий организаций с кешированием
func NewCachedOrganizationRepository(
	repo OrganizationStore,
	cache *RedisCacheRepository,
	log *logger.Logger,
) *CachedOrganizationRepository {
	return &CachedOrganizationRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByID получает организацию по ID (сначала из кеша, потом из БД)
func (r *CachedOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	// Пытаемся получить из кеша
	cached, err := r.cache.GetCachedOrganization(ctx, id)
	if err != nil {
		r.log.Warnw("Error getting organization from cache", "error", err, "organizationID", id)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		r.log.Debugw("Organization found in cache", "organizationID", id)
		return *cached, nil
	}

	// Если не нашли в кеше, ищем в БД
	org, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return domain.Organization{}, err
	}

	if err := r.cache.CacheOrganization(ctx, &org); err != nil {
		r.log.Warnw("Failed to cache organization after fetching", "error", err, "organizationID", id)
	}

	return org, nil
}

// Create сохраняет организацию в БД и кеширует ее
func (r *CachedOrganizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	created, err := r.repo.Create(ctx, org)
	if err != nil {
		return domain.Organization{}, err
	}

	if err := r.cache.CacheOrganization(ctx, &created); err != nil {
		r.log.Warnw("Failed to cache organization after creation", "error", err, "organizationID", created.ID)
	}

	return created, nil
}

// Update обновляет организацию в БД, кеше и сбрасывает дескрипторы арендаторов
func (r *CachedOrganizationRepository) Update(ctx context.Context, org domain.Organization) error {
	if err := r.repo.Update(ctx, org); err != nil {
		return err
	}

	if err := r.cache.CacheOrganization(ctx, &org); err != nil {
		r.log.Warnw("Failed to update organization in cache", "error", err, "organizationID", org.ID)
	}
	if err := r.cache.InvalidateTenantDescriptors(ctx, org.ID); err != nil {
		r.log.Warnw("Failed to invalidate tenant descriptors after update", "error", err, "organizationID", org.ID)
	}

	return nil
}

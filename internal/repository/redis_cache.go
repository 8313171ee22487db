package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	organizationKeyPrefix = "organization:"
	tenantKeyPrefix       = "tenant:"

	// TTL для кэша
	organizationCacheTTL = 15 * time.Minute
	tenantCacheTTL       = time.Minute
)

// RedisCacheRepository реализует кеширование для репозиториев с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheOrganization кеширует организацию в Redis
func (r *RedisCacheRepository) CacheOrganization(ctx context.Context, org *domain.Organization) error {
	key := fmt.Sprintf("%s%s", organizationKeyPrefix, org.ID)

	data, err := json.Marshal(org)
	if err != nil {
		r.log.Errorw("Failed to marshal organization for caching", "error", err, "organizationID", org.ID)
		return fmt.Errorf("failed to marshal organization: %w", err)
	}

	if err := r.client.Set(ctx, key, data, organizationCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache organization in Redis", "error", err, "organizationID", org.ID)
		return fmt.Errorf("failed to cache organization: %w", err)
	}

	r.log.Debugw("Organization cached successfully", "organizationID", org.ID)
	return nil
}

// GetCachedOrganization получает организацию из кеша
func (r *RedisCacheRepository) GetCachedOrganization(ctx context.Context, orgID uuid.UUID) (*domain.Organization, error) {
	key := fmt.Sprintf("%s%s", organizationKeyPrefix, orgID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Ключ не найден в кеше
			r.log.Debugw("Organization not found in cache", "organizationID", orgID)
			return nil, nil // Возвращаем nil вместо ошибки
		}
		r.log.Errorw("Error getting organization from Redis", "error", err, "organizationID", orgID)
		return nil, fmt.Errorf("failed to get organization from cache: %w", err)
	}

	var org domain.Organization
	if err := json.Unmarshal(data, &org); err != nil {
		r.log.Errorw("Failed to unmarshal cached organization", "error", err, "organizationID", orgID)
		return nil, fmt.Errorf("failed to unmarshal cached organization: %w", err)
	}

	r.log.Debugw("Organization retrieved from cache", "organizationID", orgID)
	return &org, nil
}

// DeleteCachedOrganization удаляет организацию из кеша
func (r *RedisCacheRepository) DeleteCachedOrganization(ctx context.Context, orgID uuid.UUID) error {
	key := fmt.Sprintf("%s%s", organizationKeyPrefix, orgID)

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to delete organization from cache", "error", err, "organizationID", orgID)
		return fmt.Errorf("failed to delete organization from cache: %w", err)
	}

	r.log.Debugw("Organization deleted from cache", "organizationID", orgID)
	return nil
}

// CacheTenantDescriptor кеширует дескриптор арендатора для пары организация-пользователь
func (r *RedisCacheRepository) CacheTenantDescriptor(ctx context.Context, desc *domain.TenantDescriptor) error {
	key := fmt.Sprintf("%s%s:%s", tenantKeyPrefix, desc.OrgID, desc.UserID)

	data, err := json.Marshal(desc)
	if err != nil {
		r.log.Errorw("Failed to marshal tenant descriptor for caching", "error", err, "organizationID", desc.OrgID)
		return fmt.Errorf("failed to marshal tenant descriptor: %w", err)
	}

	if err := r.client.Set(ctx, key, data, tenantCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache tenant descriptor in Redis", "error", err, "organizationID", desc.OrgID)
		return fmt.Errorf("failed to cache tenant descriptor: %w", err)
	}

	r.log.Debugw("Tenant descriptor cached successfully", "organizationID", desc.OrgID, "userID", desc.UserID)
	return nil
}

// GetCachedTenantDescriptor получает дескриптор арендатора из кеша
func (r *RedisCacheRepository) GetCachedTenantDescriptor(ctx context.Context, orgID, userID uuid.UUID) (*domain.TenantDescriptor, error) {
	key := fmt.Sprintf("%s%s:%s", tenantKeyPrefix, orgID, userID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			r.log.Debugw("Tenant descriptor not found in cache", "organizationID", orgID, "userID", userID)
			return nil, nil // Возвращаем nil вместо ошибки
		}
		r.log.Errorw("Error getting tenant descriptor from Redis", "error", err, "organizationID", orgID)
		return nil, fmt.Errorf("failed to get tenant descriptor from cache: %w", err)
	}

	var desc domain.TenantDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		r.log.Errorw("Failed to unmarshal cached tenant descriptor", "error", err, "organizationID", orgID)
		return nil, fmt.Errorf("failed to unmarshal cached tenant descriptor: %w", err)
	}

	r.log.Debugw("Tenant descriptor retrieved from cache", "organizationID", orgID, "userID", userID)
	return &desc, nil
}

// InvalidateTenantDescriptors удаляет все кешированные дескрипторы организации
func (r *RedisCacheRepository) InvalidateTenantDescriptors(ctx context.Context, orgID uuid.UUID) error {
	pattern := fmt.Sprintf("%s%s:*", tenantKeyPrefix, orgID)

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			r.log.Warnw("Failed to delete tenant descriptor key", "error", err, "key", iter.Val())
		}
	}
	if err := iter.Err(); err != nil {
		r.log.Errorw("Failed to scan tenant descriptor keys", "error", err, "organizationID", orgID)
		return fmt.Errorf("failed to invalidate tenant descriptors: %w", err)
	}

	r.log.Debugw("Tenant descriptors invalidated", "organizationID", orgID)
	return nil
}

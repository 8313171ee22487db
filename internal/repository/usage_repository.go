package repository

import (
	"context"
	"fmt"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// SQLUsageStore хранилище счетчиков использования с атомарными условными обновлениями.
// Жесткий потолок: проверка лимита и инкремент выполняются одним условным
// обновлением, что исключает гонку между конкурентными запросами.
type SQLUsageStore struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewSQLUsageStore создает новое хранилище счетчиков использования
func NewSQLUsageStore(dsn string, log *logger.Logger) (*SQLUsageStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		log.Errorw("Failed to connect to usage store", "error", err)
		return nil, fmt.Errorf("failed to connect to usage store: %w", err)
	}

	return &SQLUsageStore{db: db, log: log}, nil
}

// Close закрывает соединение с базой данных
func (s *SQLUsageStore) Close() error {
	return s.db.Close()
}

// GetUsage возвращает счетчики использования организации
func (s *SQLUsageStore) GetUsage(ctx context.Context, orgID uuid.UUID) (domain.UsageCounters, error) {
	query := `
		SELECT resource, count
		FROM usage_counters
		WHERE organization_id = $1
	`

	rows, err := s.db.QueryxContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage counters: %w", err)
	}
	defer rows.Close()

	usage := domain.UsageCounters{}
	for rows.Next() {
		var resource string
		var count int64
		if err := rows.Scan(&resource, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage counter: %w", err)
		}
		usage[domain.Resource(resource)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage counters: %w", err)
	}

	return usage, nil
}

// IncrementUsage изменяет счетчик ресурса, не опускаясь ниже нуля (мягкий лимит)
func (s *SQLUsageStore) IncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta int64) error {
	query := `
		INSERT INTO usage_counters (organization_id, resource, count)
		VALUES ($1, $2, GREATEST($3, 0))
		ON CONFLICT (organization_id, resource) DO UPDATE
		SET count = GREATEST(usage_counters.count + $3, 0)
	`

	if _, err := s.db.ExecContext(ctx, query, orgID, string(resource), delta); err != nil {
		s.log.Errorw("Failed to increment usage counter", "error", err, "orgID", orgID, "resource", resource)
		return fmt.Errorf("failed to increment usage counter: %w", err)
	}

	return nil
}

// CheckAndIncrementUsage атомарно проверяет лимит и увеличивает счетчик.
// Возвращает ErrLimitReached, если инкремент нарушил бы лимит.
func (s *SQLUsageStore) CheckAndIncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64) error {
	if limit == domain.Unlimited {
		return s.IncrementUsage(ctx, orgID, resource, delta)
	}

	query := `
		INSERT INTO usage_counters (organization_id, resource, count)
		SELECT $1, $2, $3 WHERE $3 <= $4
		ON CONFLICT (organization_id, resource) DO UPDATE
		SET count = usage_counters.count + $3
		WHERE usage_counters.count + $3 <= $4
	`

	result, err := s.db.ExecContext(ctx, query, orgID, string(resource), delta, limit)
	if err != nil {
		s.log.Errorw("Failed conditional usage increment", "error", err, "orgID", orgID, "resource", resource)
		return fmt.Errorf("failed conditional usage increment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows count: %w", err)
	}

	if rowsAffected == 0 {
		return ErrLimitReached
	}

	return nil
}

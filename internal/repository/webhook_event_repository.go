package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InMemoryWebhookEventRepository реализация репозитория событий вебхуков в памяти
type InMemoryWebhookEventRepository struct {
	events map[string]*domain.WebhookEventRecord
	mu     sync.RWMutex
	log    *logger.Logger
}

// NewInMemoryWebhookEventRepository создает новый репозиторий событий вебхуков в памяти
func NewInMemoryWebhookEventRepository(log *logger.Logger) *InMemoryWebhookEventRepository {
	return &InMemoryWebhookEventRepository{
		events: make(map[string]*domain.WebhookEventRecord),
		log:    log,
	}
}

// Record регистрирует новое событие. Внешний идентификатор уникален:
// повторное событие возвращает ErrDuplicate.
func (r *InMemoryWebhookEventRepository) Record(ctx context.Context, record *domain.WebhookEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[record.ExternalID]; exists {
		return ErrDuplicate
	}

	clone := *record
	r.events[record.ExternalID] = &clone
	return nil
}

// GetByExternalID возвращает запись о событии по внешнему идентификатору
func (r *InMemoryWebhookEventRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.WebhookEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, exists := r.events[externalID]
	if !exists {
		return nil, ErrNotFound
	}
	clone := *record
	return &clone, nil
}

// MarkProcessed помечает событие как обработанное
func (r *InMemoryWebhookEventRepository) MarkProcessed(ctx context.Context, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.events[externalID]
	if !exists {
		return ErrNotFound
	}

	now := time.Now()
	record.Processed = true
	record.ProcessedAt = &now
	return nil
}

// PostgresWebhookEventRepository реализация репозитория событий вебхуков на PostgreSQL
type PostgresWebhookEventRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresWebhookEventRepository создает новый PostgreSQL репозиторий событий вебхуков
func NewPostgresWebhookEventRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresWebhookEventRepository {
	return &PostgresWebhookEventRepository{pool: pool, log: log}
}

// Record регистрирует новое событие. Уникальный индекс по external_id
// обеспечивает дедупликацию на уровне базы данных.
func (r *PostgresWebhookEventRepository) Record(ctx context.Context, record *domain.WebhookEventRecord) error {
	query := `
		INSERT INTO webhook_events (id, external_id, type, processed, event_time, received_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	id := record.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := r.pool.Exec(ctx, query,
		id, record.ExternalID, string(record.Type),
		record.Processed, record.EventTime, record.ReceivedAt, record.ProcessedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		r.log.Errorw("Failed to record webhook event", "error", err, "externalID", record.ExternalID)
		return err
	}

	return nil
}

// GetByExternalID возвращает запись о событии по внешнему идентификатору
func (r *PostgresWebhookEventRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.WebhookEventRecord, error) {
	query := `
		SELECT id, external_id, type, processed, event_time, received_at, processed_at
		FROM webhook_events
		WHERE external_id = $1
	`

	var record domain.WebhookEventRecord
	var eventType string

	err := r.pool.QueryRow(ctx, query, externalID).Scan(
		&record.ID, &record.ExternalID, &eventType,
		&record.Processed, &record.EventTime, &record.ReceivedAt, &record.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get webhook event", "error", err, "externalID", externalID)
		return nil, err
	}

	record.Type = domain.WebhookEventType(eventType)
	return &record, nil
}

// MarkProcessed помечает событие как обработанное
func (r *PostgresWebhookEventRepository) MarkProcessed(ctx context.Context, externalID string) error {
	query := `
		UPDATE webhook_events
		SET processed = true, processed_at = $2
		WHERE external_id = $1
	`

	tag, err := r.pool.Exec(ctx, query, externalID, time.Now())
	if err != nil {
		r.log.Errorw("Failed to mark webhook event processed", "error", err, "externalID", externalID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

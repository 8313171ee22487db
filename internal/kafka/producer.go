package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// UsageEvent событие изменения счетчика использования
type UsageEvent struct {
	OrganizationID string          `json:"organization_id"`
	Resource       domain.Resource `json:"resource"`
	Delta          int64           `json:"delta"`
	Allowed        bool            `json:"allowed"`
	Limit          int64           `json:"limit"`
	Timestamp      time.Time       `json:"timestamp"`
}

// UsageProducer определяет интерфейс для публикации событий использования в Kafka
type UsageProducer interface {
	// PublishUsageEvent отправляет событие изменения счетчика использования.
	// Ключ сообщения - ID организации, для сохранения порядка внутри партиции.
	PublishUsageEvent(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64, allowed bool) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// usageProducer реализует интерфейс UsageProducer, используя segmentio/kafka-go
type usageProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewUsageProducer создает и настраивает новый продюсер событий использования
func NewUsageProducer(brokers []string, topic string, log *logger.Logger) (UsageProducer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka usage producer initialized", "brokers", brokers, "topic", topic)

	return &usageProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishUsageEvent преобразует событие использования в JSON и отправляет в Kafka
func (k *usageProducer) PublishUsageEvent(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64, allowed bool) error {
	event := UsageEvent{
		OrganizationID: orgID.String(),
		Resource:       resource,
		Delta:          delta,
		Allowed:        allowed,
		Limit:          limit,
		Timestamp:      time.Now(),
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		k.log.Errorw("Failed to marshal usage event for Kafka", "error", err, "organizationID", orgID, "resource", resource)
		return fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(orgID.String()),
		Value: messageValue,
		Time:  time.Now(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "organizationID", orgID, "resource", resource)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write usage event to Kafka", "error", err, "organizationID", orgID, "resource", resource)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Debugw("Published usage event", "organizationID", orgID, "resource", resource, "delta", delta, "allowed", allowed)
	return nil
}

// Close закрывает соединение Kafka Writer
func (k *usageProducer) Close() error {
	k.log.Infow("Closing Kafka usage producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	return nil
}

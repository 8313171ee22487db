package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
)

// Типы событий жизненного цикла подписки. Все события публикуются
// в один настраиваемый топик, тип различается по полю и заголовку.
const (
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventPlanChanged           = "subscription.plan_changed"
	EventPaymentFailed         = "subscription.payment_failed"
	EventTrialWillEnd          = "subscription.trial_will_end"
)

// BillingEvent представляет событие жизненного цикла подписки для Kafka
type BillingEvent struct {
	EventType      string                    `json:"event_type"`
	OrganizationID string                    `json:"organization_id"`
	SubscriptionID string                    `json:"subscription_id,omitempty"`
	Plan           domain.PlanTier           `json:"plan,omitempty"`
	Status         domain.SubscriptionStatus `json:"status,omitempty"`
	Amount         float64                   `json:"amount,omitempty"`
	Currency       string                    `json:"currency,omitempty"`
	Timestamp      time.Time                 `json:"timestamp"`
}

// BillingProducer интерфейс для отправки событий жизненного цикла подписок
type BillingProducer interface {
	PublishSubscriptionActivated(ctx context.Context, sub *domain.Subscription) error
	PublishSubscriptionCanceled(ctx context.Context, sub *domain.Subscription) error
	PublishPlanChanged(ctx context.Context, sub *domain.Subscription) error
	PublishPaymentFailed(ctx context.Context, sub *domain.Subscription) error
	PublishTrialWillEnd(ctx context.Context, sub *domain.Subscription) error
	Close() error
}

type kafkaBillingProducer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaBillingProducer создает новый продюсер событий подписок,
// публикующий в указанный топик
func NewKafkaBillingProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) BillingProducer {
	return &kafkaBillingProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// PublishSubscriptionActivated публикует событие об активации подписки
func (p *kafkaBillingProducer) PublishSubscriptionActivated(ctx context.Context, sub *domain.Subscription) error {
	return p.publishEvent(ctx, EventSubscriptionActivated, sub)
}

// PublishSubscriptionCanceled публикует событие об отмене подписки
func (p *kafkaBillingProducer) PublishSubscriptionCanceled(ctx context.Context, sub *domain.Subscription) error {
	return p.publishEvent(ctx, EventSubscriptionCanceled, sub)
}

// PublishPlanChanged публикует событие о смене тарифного плана
func (p *kafkaBillingProducer) PublishPlanChanged(ctx context.Context, sub *domain.Subscription) error {
	return p.publishEvent(ctx, EventPlanChanged, sub)
}

// PublishPaymentFailed публикует событие о неудачном списании
func (p *kafkaBillingProducer) PublishPaymentFailed(ctx context.Context, sub *domain.Subscription) error {
	return p.publishEvent(ctx, EventPaymentFailed, sub)
}

// PublishTrialWillEnd публикует событие о скором окончании пробного периода
func (p *kafkaBillingProducer) PublishTrialWillEnd(ctx context.Context, sub *domain.Subscription) error {
	return p.publishEvent(ctx, EventTrialWillEnd, sub)
}

// publishEvent публикует событие подписки в Kafka с повторами при сбоях брокера
func (p *kafkaBillingProducer) publishEvent(ctx context.Context, eventType string, sub *domain.Subscription) error {
	event := BillingEvent{
		EventType:      eventType,
		OrganizationID: sub.OrganizationID.String(),
		SubscriptionID: sub.ID.String(),
		Plan:           sub.Plan,
		Status:         sub.Status,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Timestamp:      time.Now(),
	}

	messageValue, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal billing event: %w", err)
	}

	// Ключ - ID организации, чтобы события одной организации
	// попадали в одну партицию и сохраняли порядок.
	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(sub.OrganizationID.String()),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(eventType),
			},
		},
		Timestamp: time.Now(),
	}

	operation := func() error {
		_, _, err := p.producer.SendMessage(message)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		p.log.Errorw("Failed to publish billing event", "error", err, "eventType", eventType, "organizationID", sub.OrganizationID)
		return fmt.Errorf("failed to publish billing event: %w", err)
	}

	p.log.Debugw("Published billing event", "eventType", eventType, "organizationID", sub.OrganizationID, "status", string(sub.Status))
	return nil
}

// Close закрывает продюсер
func (p *kafkaBillingProducer) Close() error {
	return p.producer.Close()
}

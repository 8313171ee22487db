package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType тип события вебхука от платежной системы
type WebhookEventType string

const (
	WebhookEventSubscriptionCreated WebhookEventType = "customer.subscription.created"
	WebhookEventSubscriptionUpdated WebhookEventType = "customer.subscription.updated"
	WebhookEventSubscriptionDeleted WebhookEventType = "customer.subscription.deleted"
	WebhookEventInvoicePaid         WebhookEventType = "invoice.payment_succeeded"
	WebhookEventInvoiceFailed       WebhookEventType = "invoice.payment_failed"
	WebhookEventTrialWillEnd        WebhookEventType = "customer.subscription.trial_will_end"
)

// IsKnown проверяет, обрабатывается ли данный тип события
func (t WebhookEventType) IsKnown() bool {
	switch t {
	case WebhookEventSubscriptionCreated, WebhookEventSubscriptionUpdated, WebhookEventSubscriptionDeleted,
		WebhookEventInvoicePaid, WebhookEventInvoiceFailed, WebhookEventTrialWillEnd:
		return true
	}
	return false
}

// WebhookEventRecord запись об обработанном событии вебхука (дедупликация)
type WebhookEventRecord struct {
	ID          uuid.UUID        `json:"id"`
	ExternalID  string           `json:"external_id"` // ID события в платежной системе, уникален
	Type        WebhookEventType `json:"type"`
	Processed   bool             `json:"processed"`
	EventTime   time.Time        `json:"event_time"` // время события по данным процессора
	ReceivedAt  time.Time        `json:"received_at"`
	ProcessedAt *time.Time       `json:"processed_at,omitempty"`
}

// SubscriptionEvent нормализованное входящее событие о подписке
type SubscriptionEvent struct {
	ExternalEventID        string             `json:"external_event_id"`
	Type                   WebhookEventType   `json:"type"`
	ExternalSubscriptionID string             `json:"external_subscription_id"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	OrganizationID         uuid.UUID          `json:"organization_id,omitempty"` // из метаданных объекта подписки
	Status                 SubscriptionStatus `json:"status,omitempty"`
	Plan                   PlanTier           `json:"plan,omitempty"`
	Interval               BillingInterval    `json:"interval,omitempty"`
	Amount                 float64            `json:"amount,omitempty"`
	Currency               string             `json:"currency,omitempty"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	TrialStart             *time.Time         `json:"trial_start,omitempty"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	EventTime              time.Time          `json:"event_time"`
}

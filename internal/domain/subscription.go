package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusPaused            SubscriptionStatus = "paused"
)

// IsTerminal проверяет, является ли статус терминальным
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusIncompleteExpired
}

// IsValid проверяет, что статус входит в известное перечисление
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusCanceled, SubscriptionStatusIncomplete, SubscriptionStatusIncompleteExpired,
		SubscriptionStatusUnpaid, SubscriptionStatusPaused:
		return true
	}
	return false
}

// BillingInterval период выставления счетов
type BillingInterval string

const (
	BillingIntervalMonth BillingInterval = "month"
	BillingIntervalYear  BillingInterval = "year"
)

// Subscription представляет собой модель подписки организации
type Subscription struct {
	ID                     uuid.UUID          `json:"id"`
	OrganizationID         uuid.UUID          `json:"organization_id"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	Plan                   PlanTier           `json:"plan"`
	Status                 SubscriptionStatus `json:"status"`
	Interval               BillingInterval    `json:"interval"`
	Amount                 float64            `json:"amount"`
	Currency               string             `json:"currency"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd      bool               `json:"cancel_at_period_end"`
	CanceledAt             *time.Time         `json:"canceled_at,omitempty"`
	TrialStart             *time.Time         `json:"trial_start,omitempty"`
	TrialEnd               *time.Time         `json:"trial_end,omitempty"`
	TrialEndingNotified    bool               `json:"trial_ending_notified"`
	LastEventAt            time.Time          `json:"last_event_at"` // водяной знак упорядочивания событий процессора
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// BillingEntryKind тип записи истории биллинга
type BillingEntryKind string

const (
	BillingEntryPaymentSucceeded BillingEntryKind = "payment_succeeded"
	BillingEntryPaymentFailed    BillingEntryKind = "payment_failed"
	BillingEntrySubscribed       BillingEntryKind = "subscribed"
	BillingEntryCanceled         BillingEntryKind = "canceled"
	BillingEntryReactivated      BillingEntryKind = "reactivated"
)

// BillingHistoryEntry запись истории биллинга (только добавление)
type BillingHistoryEntry struct {
	ID             uuid.UUID        `json:"id"`
	SubscriptionID uuid.UUID        `json:"subscription_id"`
	Kind           BillingEntryKind `json:"kind"`
	Amount         float64          `json:"amount"`
	Currency       string           `json:"currency"`
	Description    string           `json:"description,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// PlanChangeEntry запись истории смены планов (только добавление)
type PlanChangeEntry struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	FromPlan       PlanTier        `json:"from_plan,omitempty"`
	ToPlan         PlanTier        `json:"to_plan"`
	FromAmount     float64         `json:"from_amount"`
	ToAmount       float64         `json:"to_amount"`
	Interval       BillingInterval `json:"interval"`
	ProrationNet   float64         `json:"proration_net"`
	ChangedAt      time.Time       `json:"changed_at"`
}

// SubscribeRequest представляет запрос на создание подписки
type SubscribeRequest struct {
	Plan            PlanTier        `json:"plan" binding:"required"`
	Interval        BillingInterval `json:"interval" binding:"required"`
	PaymentMethodID string          `json:"payment_method_id,omitempty"`
}

// ChangePlanRequest представляет запрос на смену тарифного плана
type ChangePlanRequest struct {
	Plan     PlanTier        `json:"plan" binding:"required"`
	Interval BillingInterval `json:"interval,omitempty"`
}

// CancelRequest представляет запрос на отмену подписки
type CancelRequest struct {
	Immediate bool `json:"immediate"`
}

// Invoice счет из платежной системы
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number,omitempty"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	PaidAt     time.Time `json:"paid_at,omitempty"`
	HostedURL  string    `json:"hosted_url,omitempty"`
	PDFurl     string    `json:"pdf_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

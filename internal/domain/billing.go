package domain

import "time"

// BillingSubscriptionState нормализованное состояние подписки в платежной системе
type BillingSubscriptionState struct {
	ExternalSubscriptionID string
	ExternalCustomerID     string
	Status                 SubscriptionStatus
	Plan                   PlanTier
	Interval               BillingInterval
	Amount                 float64
	Currency               string
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
}

package metrics

import (
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics интерфейс для метрик подписок и лимитов
type BillingMetrics interface {
	IncWebhookEvent(eventType, outcome string)
	IncSubscriptionStatus(status string)
	IncLimitDenied(resource string)
	IncPlanChange(fromPlan, toPlan string)
	ObserveProrationNet(amount float64)
}

type billingMetrics struct {
	log              *logger.Logger
	webhookEvents    *prometheus.CounterVec
	subscriptions    *prometheus.CounterVec
	limitDenials     *prometheus.CounterVec
	planChanges      *prometheus.CounterVec
	prorationAmounts prometheus.Histogram
}

// NewBillingMetrics создает новые метрики биллинга
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	webhookEvents := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "The total number of processed webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	subscriptions := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_subscription_status_total",
			Help: "The total number of subscription status transitions",
		},
		[]string{"status"},
	)

	limitDenials := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_limit_denials_total",
			Help: "The total number of denied operations due to plan limits",
		},
		[]string{"resource"},
	)

	planChanges := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_plan_changes_total",
			Help: "The total number of plan changes",
		},
		[]string{"from_plan", "to_plan"},
	)

	prorationAmounts := promauto.With(registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "billing_proration_net",
			Help:    "Net proration amounts distribution",
			Buckets: prometheus.LinearBuckets(-200, 50, 10),
		},
	)

	return &billingMetrics{
		log:              log,
		webhookEvents:    webhookEvents,
		subscriptions:    subscriptions,
		limitDenials:     limitDenials,
		planChanges:      planChanges,
		prorationAmounts: prorationAmounts,
	}
}

// IncWebhookEvent увеличивает счетчик обработанных событий вебхуков
func (m *billingMetrics) IncWebhookEvent(eventType, outcome string) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// IncSubscriptionStatus увеличивает счетчик переходов статуса подписки
func (m *billingMetrics) IncSubscriptionStatus(status string) {
	m.subscriptions.WithLabelValues(status).Inc()
}

// IncLimitDenied увеличивает счетчик отказов из-за лимитов плана
func (m *billingMetrics) IncLimitDenied(resource string) {
	m.limitDenials.WithLabelValues(resource).Inc()
}

// IncPlanChange увеличивает счетчик смен тарифного плана
func (m *billingMetrics) IncPlanChange(fromPlan, toPlan string) {
	m.planChanges.WithLabelValues(fromPlan, toPlan).Inc()
}

// ObserveProrationNet записывает итоговую сумму перерасчета
func (m *billingMetrics) ObserveProrationNet(amount float64) {
	m.prorationAmounts.Observe(amount)
}

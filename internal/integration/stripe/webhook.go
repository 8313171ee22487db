package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// VerifyAndParse проверяет подпись вебхука Stripe и нормализует событие.
// Для событий неизвестного типа возвращается событие с типом как есть:
// решение о пропуске принимает сервис обработки.
func (g *Gateway) VerifyAndParse(payload []byte, signatureHeader string) (*domain.SubscriptionEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, g.webhookSecret)
	if err != nil {
		g.log.Warnw("Webhook signature verification failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrWebhookVerificationFailed, err)
	}

	g.log.Debugw("Received verified Stripe event", "eventID", event.ID, "eventType", string(event.Type))

	normalized := &domain.SubscriptionEvent{
		ExternalEventID: event.ID,
		Type:            domain.WebhookEventType(event.Type),
		EventTime:       time.Unix(event.Created, 0).UTC(),
	}

	switch normalized.Type {
	case domain.WebhookEventSubscriptionCreated, domain.WebhookEventSubscriptionUpdated,
		domain.WebhookEventSubscriptionDeleted, domain.WebhookEventTrialWillEnd:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			g.log.Errorw("Failed to unmarshal subscription event data", "error", err, "eventID", event.ID)
			return nil, fmt.Errorf("failed to parse subscription event data: %w", err)
		}
		applySubscriptionState(normalized, &sub)

	case domain.WebhookEventInvoicePaid, domain.WebhookEventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			g.log.Errorw("Failed to unmarshal invoice event data", "error", err, "eventID", event.ID)
			return nil, fmt.Errorf("failed to parse invoice event data: %w", err)
		}
		if inv.Subscription != nil {
			normalized.ExternalSubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			normalized.ExternalCustomerID = inv.Customer.ID
		}
		normalized.Amount = float64(inv.AmountDue) / 100
		normalized.Currency = string(inv.Currency)
	}

	return normalized, nil
}

// applySubscriptionState заполняет нормализованное событие из объекта подписки Stripe
func applySubscriptionState(event *domain.SubscriptionEvent, sub *stripe.Subscription) {
	state := stateFromStripe(sub)

	if raw, ok := sub.Metadata[metadataOrganizationIDKey]; ok {
		if orgID, err := uuid.Parse(raw); err == nil {
			event.OrganizationID = orgID
		}
	}

	event.ExternalSubscriptionID = state.ExternalSubscriptionID
	event.ExternalCustomerID = state.ExternalCustomerID
	event.Status = state.Status
	event.Plan = state.Plan
	event.Interval = state.Interval
	event.Amount = state.Amount
	event.Currency = state.Currency
	event.CurrentPeriodStart = state.CurrentPeriodStart
	event.CurrentPeriodEnd = state.CurrentPeriodEnd
	event.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	event.CanceledAt = state.CanceledAt
	event.TrialStart = state.TrialStart
	event.TrialEnd = state.TrialEnd
}

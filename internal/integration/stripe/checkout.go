package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/stripe/stripe-go/v78"
)

// CreateCheckoutSession создает сессию оплаты Stripe Checkout для подписки.
// Идентификатор организации записывается в метаданные будущей подписки,
// чтобы обработчик вебхука создания мог завести локальную запись.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	priceID, err := g.ensurePrice(ctx, tier, interval)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				metadataOrganizationIDKey: orgID,
			},
		},
	}
	if trialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	params.Context = ctx

	session, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(g.log, "CreateCheckoutSession", err)
		return "", fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	g.log.Infow("Stripe checkout session created", "sessionID", session.ID, "plan", string(tier))
	return session.URL, nil
}

// CreatePortalSession создает сессию клиентского портала Stripe
func (g *Gateway) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(g.portalURL),
	}
	params.Context = ctx

	session, err := g.client.BillingPortalSessions.New(params)
	if err != nil {
		logStripeError(g.log, "CreatePortalSession", err)
		return "", fmt.Errorf("stripe: failed to create portal session: %w", err)
	}

	g.log.Debugw("Stripe portal session created", "sessionID", session.ID, "stripeCustomerID", customerID)
	return session.URL, nil
}

// ListInvoices возвращает счета клиента из Stripe, новые первыми
func (g *Gateway) ListInvoices(ctx context.Context, customerID string, limit int) ([]domain.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Limit = stripe.Int64(int64(limit))
	params.Context = ctx

	invoices := []domain.Invoice{}
	iter := g.client.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		invoice := domain.Invoice{
			ID:        inv.ID,
			Number:    inv.Number,
			Amount:    float64(inv.AmountDue) / 100,
			Currency:  string(inv.Currency),
			Status:    string(inv.Status),
			HostedURL: inv.HostedInvoiceURL,
			PDFurl:    inv.InvoicePDF,
			CreatedAt: time.Unix(inv.Created, 0).UTC(),
		}
		if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
			invoice.PaidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
		}
		invoices = append(invoices, invoice)
	}
	if err := iter.Err(); err != nil {
		logStripeError(g.log, "ListInvoices", err)
		return nil, fmt.Errorf("stripe: failed to list invoices: %w", err)
	}

	return invoices, nil
}

package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/plans"
	"github.com/stripe/stripe-go/v78"
)

// EnsureCustomer ищет клиента Stripe по идентификатору организации в метаданных,
// если не находит - создает нового.
func (g *Gateway) EnsureCustomer(ctx context.Context, orgID, orgName string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	g.log.Debugw("Searching for Stripe customer", "organizationID", orgID)

	searchQuery := fmt.Sprintf("metadata['%s']:'%s'", metadataOrganizationIDKey, orgID)
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   searchQuery,
			Limit:   stripe.Int64(1),
			Context: ctx,
		},
	}

	customers := g.client.Customers.Search(searchParams)
	if customers.Next() {
		customer := customers.Customer()
		g.log.Debugw("Found existing Stripe customer", "stripeCustomerID", customer.ID, "organizationID", orgID)
		return customer.ID, nil
	}
	if err := customers.Err(); err != nil {
		logStripeError(g.log, "SearchCustomers", err)
		return "", fmt.Errorf("stripe: failed to search customer: %w", err)
	}

	params := &stripe.CustomerParams{
		Name: stripe.String(orgName),
		Metadata: map[string]string{
			metadataOrganizationIDKey: orgID,
		},
	}
	params.Context = ctx

	customer, err := g.client.Customers.New(params)
	if err != nil {
		logStripeError(g.log, "CreateCustomer", err)
		return "", fmt.Errorf("stripe: failed to create customer: %w", err)
	}

	g.log.Infow("Stripe customer created", "stripeCustomerID", customer.ID, "organizationID", orgID)
	return customer.ID, nil
}

// CreateSubscription создает подписку в Stripe для указанного клиента и плана.
// Идентификатор организации записывается в метаданные подписки: по нему
// обработчик вебхуков сопоставляет события с локальным состоянием.
func (g *Gateway) CreateSubscription(ctx context.Context, customerID, orgID string, tier domain.PlanTier, interval domain.BillingInterval, trialDays int, paymentMethodID, idempotencyKey string) (*domain.BillingSubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	priceID, err := g.ensurePrice(ctx, tier, interval)
	if err != nil {
		return nil, err
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		Params: stripe.Params{
			IdempotencyKey: stripe.String(idempotencyKey),
			Context:        ctx,
		},
	}
	if trialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(trialDays))
	}
	if paymentMethodID != "" {
		params.DefaultPaymentMethod = stripe.String(paymentMethodID)
	}
	params.AddMetadata(metadataOrganizationIDKey, orgID)
	params.AddExpand("items.data.price")

	subscription, err := g.client.Subscriptions.New(params)
	if err != nil {
		logStripeError(g.log, "CreateSubscription", err)
		return nil, fmt.Errorf("stripe: failed to create subscription: %w", err)
	}

	g.log.Infow("Stripe subscription created", "stripeSubscriptionID", subscription.ID, "status", string(subscription.Status))
	return stateFromStripe(subscription), nil
}

// ChangeSubscriptionPlan переводит подписку на другой план с пропорциональным перерасчетом
func (g *Gateway) ChangeSubscriptionPlan(ctx context.Context, subscriptionID string, tier domain.PlanTier, interval domain.BillingInterval) (*domain.BillingSubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	priceID, err := g.ensurePrice(ctx, tier, interval)
	if err != nil {
		return nil, err
	}

	getParams := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	}
	current, err := g.client.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		logStripeError(g.log, "GetSubscription", err)
		return nil, fmt.Errorf("stripe: failed to get subscription: %w", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("stripe: subscription %s has no items", subscriptionID)
	}

	updateParams := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
		Params:            stripe.Params{Context: ctx},
	}
	updateParams.AddExpand("items.data.price")

	updated, err := g.client.Subscriptions.Update(subscriptionID, updateParams)
	if err != nil {
		logStripeError(g.log, "UpdateSubscription", err)
		return nil, fmt.Errorf("stripe: failed to update subscription: %w", err)
	}

	g.log.Infow("Stripe subscription plan changed", "stripeSubscriptionID", updated.ID, "plan", string(tier), "interval", string(interval))
	return stateFromStripe(updated), nil
}

// CancelSubscription отменяет подписку немедленно или в конце оплаченного периода
func (g *Gateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*domain.BillingSubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if immediate {
		params := &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: ctx},
		}
		subscription, err := g.client.Subscriptions.Cancel(subscriptionID, params)
		if err != nil {
			// Обрабатываем случай, если подписка уже удалена
			if stripeErr, ok := err.(*stripe.Error); ok && stripeErr.Code == stripe.ErrorCodeResourceMissing {
				g.log.Warnw("Attempted to cancel already canceled/missing Stripe subscription", "stripeSubscriptionID", subscriptionID)
				return nil, nil
			}
			logStripeError(g.log, "CancelSubscription", err)
			return nil, fmt.Errorf("stripe: failed to cancel subscription: %w", err)
		}

		g.log.Infow("Stripe subscription canceled", "stripeSubscriptionID", subscriptionID)
		return stateFromStripe(subscription), nil
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
		Params:            stripe.Params{Context: ctx},
	}
	subscription, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		logStripeError(g.log, "ScheduleSubscriptionCancel", err)
		return nil, fmt.Errorf("stripe: failed to schedule subscription cancellation: %w", err)
	}

	g.log.Infow("Stripe subscription scheduled for cancellation", "stripeSubscriptionID", subscriptionID)
	return stateFromStripe(subscription), nil
}

// ReactivateSubscription снимает отложенную отмену с подписки
func (g *Gateway) ReactivateSubscription(ctx context.Context, subscriptionID string) (*domain.BillingSubscriptionState, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
		Params:            stripe.Params{Context: ctx},
	}
	subscription, err := g.client.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		logStripeError(g.log, "ReactivateSubscription", err)
		return nil, fmt.Errorf("stripe: failed to reactivate subscription: %w", err)
	}

	g.log.Infow("Stripe subscription reactivated", "stripeSubscriptionID", subscriptionID)
	return stateFromStripe(subscription), nil
}

// ensurePrice возвращает Stripe Price ID для пары план-интервал.
// Цена ищется по lookup key, при отсутствии создается вместе с продуктом.
func (g *Gateway) ensurePrice(ctx context.Context, tier domain.PlanTier, interval domain.BillingInterval) (string, error) {
	def, err := plans.Get(tier)
	if err != nil {
		return "", err
	}

	lookupKey := fmt.Sprintf("%s_%s", tier, interval)

	g.priceMu.Lock()
	defer g.priceMu.Unlock()

	if priceID, ok := g.priceCache[lookupKey]; ok {
		return priceID, nil
	}

	listParams := &stripe.PriceListParams{
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
	}
	listParams.Context = ctx

	prices := g.client.Prices.List(listParams)
	if prices.Next() {
		price := prices.Price()
		g.priceCache[lookupKey] = price.ID
		return price.ID, nil
	}
	if err := prices.Err(); err != nil {
		logStripeError(g.log, "ListPrices", err)
		return "", fmt.Errorf("stripe: failed to list prices: %w", err)
	}

	productParams := &stripe.ProductParams{
		Name: stripe.String(def.Name),
	}
	productParams.Context = ctx
	productParams.AddMetadata(metadataPlanKey, string(tier))

	product, err := g.client.Products.New(productParams)
	if err != nil {
		logStripeError(g.log, "CreateProduct", err)
		return "", fmt.Errorf("stripe: failed to create product: %w", err)
	}

	amount, err := plans.PriceFor(tier, interval)
	if err != nil {
		return "", err
	}

	priceParams := &stripe.PriceParams{
		Product:    stripe.String(product.ID),
		UnitAmount: stripe.Int64(int64(amount * 100)),
		Currency:   stripe.String(def.Currency),
		LookupKey:  stripe.String(lookupKey),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(interval)),
		},
	}
	priceParams.Context = ctx
	priceParams.AddMetadata(metadataPlanKey, string(tier))
	priceParams.AddMetadata(metadataIntervalKey, string(interval))

	price, err := g.client.Prices.New(priceParams)
	if err != nil {
		logStripeError(g.log, "CreatePrice", err)
		return "", fmt.Errorf("stripe: failed to create price: %w", err)
	}

	g.log.Infow("Stripe price created", "priceID", price.ID, "lookupKey", lookupKey)
	g.priceCache[lookupKey] = price.ID
	return price.ID, nil
}

// stateFromStripe преобразует подписку Stripe в нормализованное состояние
func stateFromStripe(sub *stripe.Subscription) *domain.BillingSubscriptionState {
	if sub == nil {
		return nil
	}

	state := &domain.BillingSubscriptionState{
		ExternalSubscriptionID: sub.ID,
		Status:                 domain.SubscriptionStatus(sub.Status),
		CurrentPeriodStart:     time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:       time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		state.ExternalCustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0).UTC()
		state.CanceledAt = &t
	}
	if sub.TrialStart > 0 {
		t := time.Unix(sub.TrialStart, 0).UTC()
		state.TrialStart = &t
	}
	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		state.TrialEnd = &t
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		state.Amount = float64(price.UnitAmount) / 100
		state.Currency = string(price.Currency)
		if price.Recurring != nil {
			state.Interval = domain.BillingInterval(price.Recurring.Interval)
		}
		if plan, ok := price.Metadata[metadataPlanKey]; ok {
			state.Plan = domain.PlanTier(plan)
		}
	}

	return state
}

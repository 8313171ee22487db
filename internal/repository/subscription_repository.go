package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InMemorySubscriptionRepository реализация репозитория подписок в памяти
type InMemorySubscriptionRepository struct {
	subscriptions  map[uuid.UUID]*domain.Subscription
	byOrganization map[uuid.UUID]uuid.UUID
	byExternalID   map[string]uuid.UUID
	billingHistory map[uuid.UUID][]*domain.BillingHistoryEntry
	planChanges    map[uuid.UUID][]*domain.PlanChangeEntry
	mu             sync.RWMutex
	log            *logger.Logger
}

// NewInMemorySubscriptionRepository создает новый репозиторий подписок в памяти
func NewInMemorySubscriptionRepository(log *logger.Logger) *InMemorySubscriptionRepository {
	return &InMemorySubscriptionRepository{
		subscriptions:  make(map[uuid.UUID]*domain.Subscription),
		byOrganization: make(map[uuid.UUID]uuid.UUID),
		byExternalID:   make(map[string]uuid.UUID),
		billingHistory: make(map[uuid.UUID][]*domain.BillingHistoryEntry),
		planChanges:    make(map[uuid.UUID][]*domain.PlanChangeEntry),
		log:            log,
	}
}

// Create создает новую подписку
func (r *InMemorySubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscriptions[sub.ID]; exists {
		return ErrDuplicate
	}
	if existing, exists := r.byOrganization[sub.OrganizationID]; exists {
		if s, ok := r.subscriptions[existing]; ok && !s.Status.IsTerminal() {
			return ErrDuplicate
		}
	}

	r.subscriptions[sub.ID] = cloneSubscription(sub)
	r.byOrganization[sub.OrganizationID] = sub.ID
	if sub.ExternalSubscriptionID != "" {
		r.byExternalID[sub.ExternalSubscriptionID] = sub.ID
	}

	r.log.Debugw("Subscription created", "subscriptionID", sub.ID, "organizationID", sub.OrganizationID)
	return nil
}

// Update обновляет существующую подписку
func (r *InMemorySubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.subscriptions[sub.ID]
	if !exists {
		return ErrNotFound
	}

	if existing.ExternalSubscriptionID != "" && existing.ExternalSubscriptionID != sub.ExternalSubscriptionID {
		delete(r.byExternalID, existing.ExternalSubscriptionID)
	}

	r.subscriptions[sub.ID] = cloneSubscription(sub)
	r.byOrganization[sub.OrganizationID] = sub.ID
	if sub.ExternalSubscriptionID != "" {
		r.byExternalID[sub.ExternalSubscriptionID] = sub.ID
	}

	return nil
}

// GetByID возвращает подписку по идентификатору
func (r *InMemorySubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// GetByOrganizationID возвращает подписку организации
func (r *InMemorySubscriptionRepository) GetByOrganizationID(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byOrganization[orgID]
	if !exists {
		return nil, ErrNotFound
	}
	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// GetByExternalID возвращает подписку по идентификатору во внешней биллинговой системе
func (r *InMemorySubscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byExternalID[externalID]
	if !exists {
		return nil, ErrNotFound
	}
	sub, exists := r.subscriptions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneSubscription(sub), nil
}

// AppendBillingHistory добавляет запись в журнал биллинга организации.
// Журнал только дополняется, существующие записи не изменяются.
func (r *InMemorySubscriptionRepository) AppendBillingHistory(ctx context.Context, orgID uuid.UUID, entry *domain.BillingHistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	r.billingHistory[orgID] = append(r.billingHistory[orgID], &clone)
	return nil
}

// AppendPlanChange добавляет запись в историю смены планов организации
func (r *InMemorySubscriptionRepository) AppendPlanChange(ctx context.Context, orgID uuid.UUID, entry *domain.PlanChangeEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *entry
	r.planChanges[orgID] = append(r.planChanges[orgID], &clone)
	return nil
}

// ListBillingHistory возвращает записи журнала биллинга, новые первыми
func (r *InMemorySubscriptionRepository) ListBillingHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.BillingHistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.billingHistory[orgID]
	sorted := make([]*domain.BillingHistoryEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].OccurredAt.After(sorted[j].OccurredAt)
	})

	return paginate(sorted, limit, offset), nil
}

// ListPlanChanges возвращает историю смены планов, новые первыми
func (r *InMemorySubscriptionRepository) ListPlanChanges(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.PlanChangeEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.planChanges[orgID]
	sorted := make([]*domain.PlanChangeEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ChangedAt.After(sorted[j].ChangedAt)
	})

	return paginate(sorted, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	result := make([]T, end-offset)
	copy(result, items[offset:end])
	return result
}

func cloneSubscription(sub *domain.Subscription) *domain.Subscription {
	clone := *sub
	if sub.CanceledAt != nil {
		t := *sub.CanceledAt
		clone.CanceledAt = &t
	}
	if sub.TrialStart != nil {
		t := *sub.TrialStart
		clone.TrialStart = &t
	}
	if sub.TrialEnd != nil {
		t := *sub.TrialEnd
		clone.TrialEnd = &t
	}
	return &clone
}

// PostgresSubscriptionRepository реализация репозитория подписок на PostgreSQL
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый PostgreSQL репозиторий подписок
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool, log: log}
}

// Create создает новую подписку
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, organization_id, external_customer_id, external_subscription_id,
			plan, status, billing_interval, amount, currency,
			current_period_start, current_period_end, cancel_at_period_end,
			canceled_at, trial_start, trial_end, trial_ending_notified,
			last_event_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.OrganizationID, sub.ExternalCustomerID, sub.ExternalSubscriptionID,
		string(sub.Plan), string(sub.Status), string(sub.Interval), sub.Amount, sub.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.CanceledAt, sub.TrialStart, sub.TrialEnd, sub.TrialEndingNotified,
		sub.LastEventAt, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrDuplicate
			}
			if pgErr.Code == "23503" {
				return ErrInvalidData
			}
		}
		r.log.Errorw("Failed to create subscription", "error", err, "subscriptionID", sub.ID)
		return err
	}

	return nil
}

// Update обновляет существующую подписку
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions SET
			external_customer_id = $2, external_subscription_id = $3,
			plan = $4, status = $5, billing_interval = $6, amount = $7, currency = $8,
			current_period_start = $9, current_period_end = $10, cancel_at_period_end = $11,
			canceled_at = $12, trial_start = $13, trial_end = $14, trial_ending_notified = $15,
			last_event_at = $16, updated_at = $17
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		sub.ID, sub.ExternalCustomerID, sub.ExternalSubscriptionID,
		string(sub.Plan), string(sub.Status), string(sub.Interval), sub.Amount, sub.Currency,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.CanceledAt, sub.TrialStart, sub.TrialEnd, sub.TrialEndingNotified,
		sub.LastEventAt, sub.UpdatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to update subscription", "error", err, "subscriptionID", sub.ID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID возвращает подписку по идентификатору
func (r *PostgresSubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := selectSubscriptionQuery + ` WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

// GetByOrganizationID возвращает подписку организации
func (r *PostgresSubscriptionRepository) GetByOrganizationID(ctx context.Context, orgID uuid.UUID) (*domain.Subscription, error) {
	query := selectSubscriptionQuery + ` WHERE organization_id = $1 ORDER BY created_at DESC LIMIT 1`
	return r.scanOne(ctx, query, orgID)
}

// GetByExternalID возвращает подписку по идентификатору во внешней биллинговой системе
func (r *PostgresSubscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Subscription, error) {
	query := selectSubscriptionQuery + ` WHERE external_subscription_id = $1`
	return r.scanOne(ctx, query, externalID)
}

const selectSubscriptionQuery = `
	SELECT id, organization_id, external_customer_id, external_subscription_id,
		plan, status, billing_interval, amount, currency,
		current_period_start, current_period_end, cancel_at_period_end,
		canceled_at, trial_start, trial_end, trial_ending_notified,
		last_event_at, created_at, updated_at
	FROM subscriptions
`

func (r *PostgresSubscriptionRepository) scanOne(ctx context.Context, query string, arg interface{}) (*domain.Subscription, error) {
	var sub domain.Subscription
	var plan, status, interval string

	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&sub.ID, &sub.OrganizationID, &sub.ExternalCustomerID, &sub.ExternalSubscriptionID,
		&plan, &status, &interval, &sub.Amount, &sub.Currency,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.CanceledAt, &sub.TrialStart, &sub.TrialEnd, &sub.TrialEndingNotified,
		&sub.LastEventAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription", "error", err)
		return nil, err
	}

	sub.Plan = domain.PlanTier(plan)
	sub.Status = domain.SubscriptionStatus(status)
	sub.Interval = domain.BillingInterval(interval)
	return &sub, nil
}

// AppendBillingHistory добавляет запись в журнал биллинга организации
func (r *PostgresSubscriptionRepository) AppendBillingHistory(ctx context.Context, orgID uuid.UUID, entry *domain.BillingHistoryEntry) error {
	query := `
		INSERT INTO billing_history (id, organization_id, subscription_id, kind, amount, currency, description, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	occurredAt := entry.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, query,
		id, orgID, entry.SubscriptionID, string(entry.Kind),
		entry.Amount, entry.Currency, entry.Description, occurredAt,
	)
	if err != nil {
		r.log.Errorw("Failed to append billing history entry", "error", err, "organizationID", orgID)
		return err
	}

	return nil
}

// AppendPlanChange добавляет запись в историю смены планов организации
func (r *PostgresSubscriptionRepository) AppendPlanChange(ctx context.Context, orgID uuid.UUID, entry *domain.PlanChangeEntry) error {
	query := `
		INSERT INTO plan_changes (id, organization_id, subscription_id, from_plan, to_plan, from_amount, to_amount, billing_interval, proration_net, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	changedAt := entry.ChangedAt
	if changedAt.IsZero() {
		changedAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, query,
		id, orgID, entry.SubscriptionID, string(entry.FromPlan), string(entry.ToPlan),
		entry.FromAmount, entry.ToAmount, string(entry.Interval),
		entry.ProrationNet, changedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to append plan change entry", "error", err, "organizationID", orgID)
		return err
	}

	return nil
}

// ListBillingHistory возвращает записи журнала биллинга, новые первыми
func (r *PostgresSubscriptionRepository) ListBillingHistory(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.BillingHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, subscription_id, kind, amount, currency, description, occurred_at
		FROM billing_history
		WHERE organization_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		r.log.Errorw("Failed to list billing history", "error", err, "organizationID", orgID)
		return nil, err
	}
	defer rows.Close()

	entries := []*domain.BillingHistoryEntry{}
	for rows.Next() {
		var entry domain.BillingHistoryEntry
		var kind string
		if err := rows.Scan(&entry.ID, &entry.SubscriptionID, &kind, &entry.Amount, &entry.Currency, &entry.Description, &entry.OccurredAt); err != nil {
			return nil, err
		}
		entry.Kind = domain.BillingEntryKind(kind)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// ListPlanChanges возвращает историю смены планов, новые первыми
func (r *PostgresSubscriptionRepository) ListPlanChanges(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*domain.PlanChangeEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, subscription_id, from_plan, to_plan, from_amount, to_amount, billing_interval, proration_net, changed_at
		FROM plan_changes
		WHERE organization_id = $1
		ORDER BY changed_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, orgID, limit, offset)
	if err != nil {
		r.log.Errorw("Failed to list plan changes", "error", err, "organizationID", orgID)
		return nil, err
	}
	defer rows.Close()

	entries := []*domain.PlanChangeEntry{}
	for rows.Next() {
		var entry domain.PlanChangeEntry
		var fromPlan, toPlan, interval string
		if err := rows.Scan(&entry.ID, &entry.SubscriptionID, &fromPlan, &toPlan, &entry.FromAmount, &entry.ToAmount, &interval, &entry.ProrationNet, &entry.ChangedAt); err != nil {
			return nil, err
		}
		entry.FromPlan = domain.PlanTier(fromPlan)
		entry.ToPlan = domain.PlanTier(toPlan)
		entry.Interval = domain.BillingInterval(interval)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

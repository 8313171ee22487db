package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InMemoryOrganizationRepository реализация репозитория организаций в памяти
type InMemoryOrganizationRepository struct {
	organizations map[uuid.UUID]domain.Organization
	mutex         sync.RWMutex
	log           *logger.Logger
}

// NewInMemoryOrganizationRepository создает новый репозиторий организаций в памяти
func NewInMemoryOrganizationRepository(log *logger.Logger) *InMemoryOrganizationRepository {
	return &InMemoryOrganizationRepository{
		organizations: make(map[uuid.UUID]domain.Organization),
		log:           log,
	}
}

// GetByID возвращает организацию по ID
func (r *InMemoryOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	org, exists := r.organizations[id]
	if !exists {
		return domain.Organization{}, ErrNotFound
	}

	return cloneOrganization(org), nil
}

// Create создает новую организацию
func (r *InMemoryOrganizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.organizations[org.ID]; exists {
		return domain.Organization{}, ErrDuplicate
	}

	org.CreatedAt = time.Now()
	org.UpdatedAt = time.Now()

	r.organizations[org.ID] = cloneOrganization(org)

	return org, nil
}

// Update обновляет существующую организацию
func (r *InMemoryOrganizationRepository) Update(ctx context.Context, org domain.Organization) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.organizations[org.ID]; !exists {
		return ErrNotFound
	}

	org.UpdatedAt = time.Now()
	r.organizations[org.ID] = cloneOrganization(org)

	return nil
}

// IncrementUsage изменяет счетчик использования ресурса, не допуская отрицательных значений
func (r *InMemoryOrganizationRepository) IncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	org, exists := r.organizations[orgID]
	if !exists {
		return ErrNotFound
	}

	if org.Usage == nil {
		org.Usage = domain.UsageCounters{}
	}
	org.Usage.Add(resource, delta)
	org.UpdatedAt = time.Now()
	r.organizations[orgID] = org

	return nil
}

// CheckAndIncrementUsage атомарно проверяет лимит и увеличивает счетчик.
// Возвращает ErrLimitReached, если увеличение нарушило бы лимит.
func (r *InMemoryOrganizationRepository) CheckAndIncrementUsage(ctx context.Context, orgID uuid.UUID, resource domain.Resource, delta, limit int64) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	org, exists := r.organizations[orgID]
	if !exists {
		return ErrNotFound
	}

	if org.Usage == nil {
		org.Usage = domain.UsageCounters{}
	}
	if limit != domain.Unlimited && org.Usage.Get(resource)+delta > limit {
		return ErrLimitReached
	}
	org.Usage.Add(resource, delta)
	org.UpdatedAt = time.Now()
	r.organizations[orgID] = org

	return nil
}

// GetUsage возвращает счетчики использования организации
func (r *InMemoryOrganizationRepository) GetUsage(ctx context.Context, orgID uuid.UUID) (domain.UsageCounters, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	org, exists := r.organizations[orgID]
	if !exists {
		return nil, ErrNotFound
	}
	return org.Usage.Clone(), nil
}

// cloneOrganization возвращает глубокую копию организации
func cloneOrganization(org domain.Organization) domain.Organization {
	out := org
	out.Usage = org.Usage.Clone()
	out.Memberships = make([]domain.Membership, len(org.Memberships))
	copy(out.Memberships, org.Memberships)
	return out
}

// PostgresOrganizationRepository реализация репозитория организаций через PostgreSQL
type PostgresOrganizationRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresOrganizationRepository создает новый репозиторий организаций через PostgreSQL
func NewPostgresOrganizationRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresOrganizationRepository {
	return &PostgresOrganizationRepository{
		db:  db,
		log: log,
	}
}

// GetByID возвращает организацию по ID из базы данных
func (r *PostgresOrganizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	query := `
		SELECT
			id, name, plan, subscription_status,
			is_trial_active, trial_start, trial_end,
			usage, memberships, active,
			created_at, updated_at
		FROM organizations
		WHERE id = $1
	`

	var org domain.Organization
	var usageBytes, membershipBytes []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.Plan,
		&org.SubscriptionStatus,
		&org.IsTrialActive,
		&org.TrialStart,
		&org.TrialEnd,
		&usageBytes,
		&membershipBytes,
		&org.Active,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Organization{}, ErrNotFound
		}
		return domain.Organization{}, fmt.Errorf("failed to get organization: %w", err)
	}

	if err := json.Unmarshal(usageBytes, &org.Usage); err != nil {
		return domain.Organization{}, fmt.Errorf("failed to unmarshal usage counters: %w", err)
	}
	if err := json.Unmarshal(membershipBytes, &org.Memberships); err != nil {
		return domain.Organization{}, fmt.Errorf("failed to unmarshal memberships: %w", err)
	}

	return org, nil
}

// Create создает новую организацию в базе данных
func (r *PostgresOrganizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	query := `
		INSERT INTO organizations (
			id, name, plan, subscription_status,
			is_trial_active, trial_start, trial_end,
			usage, memberships, active,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		RETURNING id, created_at, updated_at
	`

	usageBytes, err := json.Marshal(org.Usage)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("failed to marshal usage counters: %w", err)
	}
	membershipBytes, err := json.Marshal(org.Memberships)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("failed to marshal memberships: %w", err)
	}

	err = r.db.QueryRow(
		ctx,
		query,
		org.ID,
		org.Name,
		org.Plan,
		org.SubscriptionStatus,
		org.IsTrialActive,
		org.TrialStart,
		org.TrialEnd,
		usageBytes,
		membershipBytes,
		org.Active,
		time.Now(),
		time.Now(),
	).Scan(
		&org.ID,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Organization{}, ErrDuplicate
		}
		return domain.Organization{}, fmt.Errorf("failed to create organization: %w", err)
	}

	return org, nil
}

// Update обновляет существующую организацию в базе данных
func (r *PostgresOrganizationRepository) Update(ctx context.Context, org domain.Organization) error {
	query := `
		UPDATE organizations
		SET
			name = $1,
			plan = $2,
			subscription_status = $3,
			is_trial_active = $4,
			trial_start = $5,
			trial_end = $6,
			usage = $7,
			memberships = $8,
			active = $9,
			updated_at = $10
		WHERE id = $11
	`

	usageBytes, err := json.Marshal(org.Usage)
	if err != nil {
		return fmt.Errorf("failed to marshal usage counters: %w", err)
	}
	membershipBytes, err := json.Marshal(org.Memberships)
	if err != nil {
		return fmt.Errorf("failed to marshal memberships: %w", err)
	}

	result, err := r.db.Exec(
		ctx,
		query,
		org.Name,
		org.Plan,
		org.SubscriptionStatus,
		org.IsTrialActive,
		org.TrialStart,
		org.TrialEnd,
		usageBytes,
		membershipBytes,
		org.Active,
		time.Now(),
		org.ID,
	)

	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

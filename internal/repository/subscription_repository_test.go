package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubRepo() *InMemorySubscriptionRepository {
	return NewInMemorySubscriptionRepository(logger.New(logger.ERROR))
}

func newTestSubscription(orgID uuid.UUID, status domain.SubscriptionStatus) *domain.Subscription {
	now := time.Now()
	return &domain.Subscription{
		ID:                     uuid.New(),
		OrganizationID:         orgID,
		ExternalSubscriptionID: "sub_" + uuid.NewString()[:8],
		Plan:                   domain.PlanPro,
		Status:                 status,
		Interval:               domain.BillingIntervalMonth,
		Amount:                 39,
		Currency:               "usd",
		CurrentPeriodStart:     now,
		CurrentPeriodEnd:       now.AddDate(0, 1, 0),
	}
}

func TestInMemorySubscriptionRepository_CreateAndGet(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()

	sub := newTestSubscription(orgID, domain.SubscriptionStatusActive)
	require.NoError(t, repo.Create(ctx, sub))

	byID, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Plan, byID.Plan)

	byOrg, err := repo.GetByOrganizationID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byOrg.ID)

	byExt, err := repo.GetByExternalID(ctx, sub.ExternalSubscriptionID)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, byExt.ID)

	_, err = repo.GetByExternalID(ctx, "sub_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInMemorySubscriptionRepository_RejectsSecondActive(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()

	require.NoError(t, repo.Create(ctx, newTestSubscription(orgID, domain.SubscriptionStatusActive)))

	err := repo.Create(ctx, newTestSubscription(orgID, domain.SubscriptionStatusActive))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestInMemorySubscriptionRepository_AllowsResubscribeAfterTerminal(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()

	canceled := newTestSubscription(orgID, domain.SubscriptionStatusCanceled)
	require.NoError(t, repo.Create(ctx, canceled))

	fresh := newTestSubscription(orgID, domain.SubscriptionStatusActive)
	require.NoError(t, repo.Create(ctx, fresh))

	current, err := repo.GetByOrganizationID(ctx, orgID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, current.ID)
}

func TestInMemorySubscriptionRepository_UpdateReindexesExternalID(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()

	sub := newTestSubscription(uuid.New(), domain.SubscriptionStatusActive)
	oldExternal := sub.ExternalSubscriptionID
	require.NoError(t, repo.Create(ctx, sub))

	sub.ExternalSubscriptionID = "sub_replaced"
	require.NoError(t, repo.Update(ctx, sub))

	_, err := repo.GetByExternalID(ctx, oldExternal)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := repo.GetByExternalID(ctx, "sub_replaced")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, found.ID)
}

func TestInMemorySubscriptionRepository_ReturnsCopies(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()

	sub := newTestSubscription(uuid.New(), domain.SubscriptionStatusActive)
	require.NoError(t, repo.Create(ctx, sub))

	got, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	got.Plan = domain.PlanAgency

	fresh, err := repo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, fresh.Plan)
}

func TestBillingHistory_AppendOnlyNewestFirst(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()
	subID := uuid.New()

	base := time.Now()
	for i := 0; i < 5; i++ {
		entry := &domain.BillingHistoryEntry{
			ID:             uuid.New(),
			SubscriptionID: subID,
			Kind:           domain.BillingEntryPaymentSucceeded,
			Amount:         39,
			Currency:       "usd",
			Description:    fmt.Sprintf("payment %d", i),
			OccurredAt:     base.Add(time.Duration(i) * time.Hour),
		}
		require.NoError(t, repo.AppendBillingHistory(ctx, orgID, entry))
	}

	entries, err := repo.ListBillingHistory(ctx, orgID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	assert.Equal(t, "payment 4", entries[0].Description)
	assert.Equal(t, "payment 0", entries[4].Description)
}

func TestBillingHistory_Pagination(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()

	base := time.Now()
	for i := 0; i < 7; i++ {
		require.NoError(t, repo.AppendBillingHistory(ctx, orgID, &domain.BillingHistoryEntry{
			ID:         uuid.New(),
			Kind:       domain.BillingEntryPaymentSucceeded,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	page1, err := repo.ListBillingHistory(ctx, orgID, 3, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page3, err := repo.ListBillingHistory(ctx, orgID, 3, 6)
	require.NoError(t, err)
	assert.Len(t, page3, 1)

	empty, err := repo.ListBillingHistory(ctx, orgID, 3, 100)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPlanChanges_NewestFirst(t *testing.T) {
	repo := newTestSubRepo()
	ctx := context.Background()
	orgID := uuid.New()

	base := time.Now()
	require.NoError(t, repo.AppendPlanChange(ctx, orgID, &domain.PlanChangeEntry{
		ID:        uuid.New(),
		FromPlan:  domain.PlanStarter,
		ToPlan:    domain.PlanPro,
		ChangedAt: base,
	}))
	require.NoError(t, repo.AppendPlanChange(ctx, orgID, &domain.PlanChangeEntry{
		ID:        uuid.New(),
		FromPlan:  domain.PlanPro,
		ToPlan:    domain.PlanTeam,
		ChangedAt: base.Add(time.Hour),
	}))

	changes, err := repo.ListPlanChanges(ctx, orgID, 10, 0)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, domain.PlanTeam, changes[0].ToPlan)
	assert.Equal(t, domain.PlanPro, changes[1].ToPlan)
}

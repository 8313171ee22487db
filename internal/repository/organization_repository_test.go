package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrgRepo() *InMemoryOrganizationRepository {
	return NewInMemoryOrganizationRepository(logger.New(logger.ERROR))
}

func TestInMemoryOrganizationRepository_CRUD(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	_, err = repo.Create(ctx, org)
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	got.Plan = domain.PlanPro
	require.NoError(t, repo.Update(ctx, got))

	updated, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanPro, updated.Plan)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Update(ctx, domain.Organization{ID: uuid.New()}), ErrNotFound)
}

func TestInMemoryOrganizationRepository_ReturnsCopies(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)

	// Мутация копии не должна менять хранимое состояние
	got.Usage.Add(domain.ResourceProjects, 100)
	got.Memberships[0].Role = domain.RoleViewer

	fresh, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fresh.Usage.Get(domain.ResourceProjects))
	assert.Equal(t, domain.RoleOwner, fresh.Memberships[0].Role)
}

func TestCheckAndIncrementUsage_EnforcesLimit(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	// Лимит 3, один пользователь уже учтен
	require.NoError(t, repo.CheckAndIncrementUsage(ctx, created.ID, domain.ResourceUsers, 1, 3))
	require.NoError(t, repo.CheckAndIncrementUsage(ctx, created.ID, domain.ResourceUsers, 1, 3))

	err = repo.CheckAndIncrementUsage(ctx, created.ID, domain.ResourceUsers, 1, 3)
	assert.ErrorIs(t, err, ErrLimitReached)

	// Отказ не должен менять счетчик
	usage, err := repo.GetUsage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.Get(domain.ResourceUsers))
}

func TestCheckAndIncrementUsage_UnlimitedSkipsCheck(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, repo.CheckAndIncrementUsage(ctx, created.ID, domain.ResourceProjects, 1, domain.Unlimited))
	}

	usage, err := repo.GetUsage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), usage.Get(domain.ResourceProjects))
}

func TestCheckAndIncrementUsage_ConcurrentNeverExceedsLimit(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	org.Usage = domain.UsageCounters{}
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	const limit = 10
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.CheckAndIncrementUsage(ctx, created.ID, domain.ResourceClients, 1, limit)
		}()
	}
	wg.Wait()

	usage, err := repo.GetUsage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), usage.Get(domain.ResourceClients))
}

func TestIncrementUsage_NegativeDeltaClampsAtZero(t *testing.T) {
	repo := newTestOrgRepo()
	ctx := context.Background()

	org := domain.NewOrganization("Acme", uuid.New(), 14)
	created, err := repo.Create(ctx, org)
	require.NoError(t, err)

	require.NoError(t, repo.IncrementUsage(ctx, created.ID, domain.ResourceProjects, -10))

	usage, err := repo.GetUsage(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), usage.Get(domain.ResourceProjects))
}

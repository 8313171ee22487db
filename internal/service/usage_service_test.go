package service

import (
	"context"
	"testing"

	"github.com/Dhoini/Entitlement-microservice/internal/domain"
	"github.com/Dhoini/Entitlement-microservice/internal/repository"
	"github.com/Dhoini/Entitlement-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUpgradeURL = "/settings/billing/upgrade"

type usageFixture struct {
	svc      UsageService
	orgs     *repository.InMemoryOrganizationRepository
	producer *stubUsageProducer
	metrics  *stubMetrics
	desc     *domain.TenantDescriptor
}

func newUsageFixture(t *testing.T) *usageFixture {
	t.Helper()
	log := logger.New(logger.ERROR)

	orgs := repository.NewInMemoryOrganizationRepository(log)
	usageProducer := &stubUsageProducer{}
	billingMetrics := newStubMetrics()

	org, err := orgs.Create(context.Background(), domain.NewOrganization("Acme", uuid.New(), 14))
	require.NoError(t, err)

	// Лимиты плана Starter: 3 пользователя, 5 проектов
	desc := &domain.TenantDescriptor{
		OrgID:  org.ID,
		UserID: uuid.New(),
		Role:   domain.RoleMember,
		Plan:   domain.PlanStarter,
		Limits: domain.PlanLimits{MaxUsers: 3, MaxProjects: 5, MaxClients: 10, MaxStorageMB: 1024},
		Usage:  org.Usage.Clone(),
	}

	return &usageFixture{
		svc:      NewUsageService(orgs, usageProducer, billingMetrics, testUpgradeURL, log),
		orgs:     orgs,
		producer: usageProducer,
		metrics:  billingMetrics,
		desc:     desc,
	}
}

func TestCheckUsage(t *testing.T) {
	f := newUsageFixture(t)

	// 1 пользователь из 3, есть место
	assert.NoError(t, f.svc.CheckUsage(f.desc, domain.ResourceUsers, 1))
	assert.NoError(t, f.svc.CheckUsage(f.desc, domain.ResourceUsers, 2))

	// Мягкая проверка не меняет счетчики
	assert.Equal(t, int64(1), f.desc.Usage.Get(domain.ResourceUsers))
}

func TestCheckUsage_LimitExceeded(t *testing.T) {
	f := newUsageFixture(t)

	err := f.svc.CheckUsage(f.desc, domain.ResourceUsers, 3)

	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.ResourceUsers, limitErr.Resource)
	assert.Equal(t, int64(3), limitErr.Limit)
	assert.Equal(t, int64(1), limitErr.Current)
	assert.Equal(t, testUpgradeURL, limitErr.UpgradeHint)
	assert.ErrorIs(t, err, domain.ErrLimitExceeded)
	assert.Equal(t, 1, f.metrics.limitDenials[string(domain.ResourceUsers)])
}

func TestCheckUsage_Unlimited(t *testing.T) {
	f := newUsageFixture(t)
	f.desc.Limits.MaxProjects = domain.Unlimited
	f.desc.Usage[domain.ResourceProjects] = 100000

	assert.NoError(t, f.svc.CheckUsage(f.desc, domain.ResourceProjects, 1000))
}

func TestTrackUsage(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.TrackUsage(ctx, f.desc, domain.ResourceProjects, 2))

	usage, err := f.orgs.GetUsage(ctx, f.desc.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), usage.Get(domain.ResourceProjects))

	assert.Equal(t, []bool{true}, f.producer.events)
}

func TestTrackUsage_HardCeiling(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	// Заполняем лимит проектов (5)
	require.NoError(t, f.svc.TrackUsage(ctx, f.desc, domain.ResourceProjects, 5))

	err := f.svc.TrackUsage(ctx, f.desc, domain.ResourceProjects, 1)

	var limitErr *domain.LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, domain.ResourceProjects, limitErr.Resource)

	// Отказ не меняет счетчик и публикует событие с allowed=false
	usage, err2 := f.orgs.GetUsage(ctx, f.desc.OrgID)
	require.NoError(t, err2)
	assert.Equal(t, int64(5), usage.Get(domain.ResourceProjects))
	assert.Equal(t, []bool{true, false}, f.producer.events)
}

func TestReleaseUsage(t *testing.T) {
	f := newUsageFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.TrackUsage(ctx, f.desc, domain.ResourceProjects, 3))

	// Положительная дельта трактуется как освобождение
	require.NoError(t, f.svc.ReleaseUsage(ctx, f.desc.OrgID, domain.ResourceProjects, 2))

	usage, err := f.orgs.GetUsage(ctx, f.desc.OrgID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Get(domain.ResourceProjects))
}

func TestSummary(t *testing.T) {
	f := newUsageFixture(t)
	f.desc.Limits.MaxClients = domain.Unlimited
	f.desc.Usage[domain.ResourceProjects] = 7 // выше лимита 5

	summary := f.svc.Summary(f.desc)
	require.Len(t, summary, len(domain.AllResources))

	byResource := make(map[domain.Resource]ResourceUsage, len(summary))
	for _, entry := range summary {
		byResource[entry.Resource] = entry
	}

	users := byResource[domain.ResourceUsers]
	assert.Equal(t, int64(1), users.Used)
	assert.Equal(t, int64(2), users.Remaining)

	projects := byResource[domain.ResourceProjects]
	assert.Equal(t, int64(0), projects.Remaining)

	clients := byResource[domain.ResourceClients]
	assert.True(t, clients.Unlimited)
	assert.Equal(t, int64(0), clients.Remaining)
}

func TestRequireRole(t *testing.T) {
	f := newUsageFixture(t)

	f.desc.Role = domain.RoleAdmin
	assert.NoError(t, f.svc.RequireRole(f.desc, domain.RoleOwner, domain.RoleAdmin))

	f.desc.Role = domain.RoleMember
	err := f.svc.RequireRole(f.desc, domain.RoleOwner, domain.RoleAdmin)
	var forbidden *domain.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, domain.RoleMember, forbidden.CurrentRole)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRequirePermission(t *testing.T) {
	f := newUsageFixture(t)

	// Владелец и администратор имеют все разрешения
	f.desc.Role = domain.RoleOwner
	assert.NoError(t, f.svc.RequirePermission(f.desc, "manage_billing"))

	f.desc.Role = domain.RoleMember
	f.desc.Permissions = map[string]bool{"invoicing": true}
	assert.NoError(t, f.svc.RequirePermission(f.desc, "invoicing"))

	err := f.svc.RequirePermission(f.desc, "manage_billing")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrganization(t *testing.T) {
	ownerID := uuid.New()
	org := NewOrganization("Acme Studio", ownerID, 14)

	assert.Equal(t, PlanStarter, org.Plan)
	assert.Equal(t, SubscriptionStatusTrialing, org.SubscriptionStatus)
	assert.True(t, org.IsTrialActive)
	assert.True(t, org.Active)
	assert.Equal(t, int64(1), org.Usage.Get(ResourceUsers))

	m, ok := org.MembershipOf(ownerID)
	require.True(t, ok)
	assert.Equal(t, RoleOwner, m.Role)
}

func TestOrganization_IsSubscriptionActive(t *testing.T) {
	org := NewOrganization("Acme", uuid.New(), 14)

	// Триал активен
	assert.True(t, org.IsSubscriptionActive())

	// Триал истек, статус не обновлен
	org.IsTrialActive = false
	assert.False(t, org.IsSubscriptionActive())

	// Оплаченная подписка
	org.SubscriptionStatus = SubscriptionStatusActive
	assert.True(t, org.IsSubscriptionActive())

	// Просроченная оплата
	org.SubscriptionStatus = SubscriptionStatusPastDue
	assert.False(t, org.IsSubscriptionActive())

	// Деактивированная организация
	org.SubscriptionStatus = SubscriptionStatusActive
	org.Active = false
	assert.False(t, org.IsSubscriptionActive())
}

func TestOrganization_RemainingTrialDays(t *testing.T) {
	now := time.Now()
	org := Organization{
		IsTrialActive: true,
		TrialEnd:      now.AddDate(0, 0, 5),
	}

	assert.Equal(t, 4, org.RemainingTrialDays(now.Add(time.Hour)))
	assert.Equal(t, 0, org.RemainingTrialDays(org.TrialEnd))
	assert.Equal(t, 0, org.RemainingTrialDays(org.TrialEnd.Add(time.Hour)))

	org.IsTrialActive = false
	assert.Equal(t, 0, org.RemainingTrialDays(now))
}

func TestMembership_HasPermission(t *testing.T) {
	admin := Membership{Role: RoleAdmin}
	assert.True(t, admin.HasPermission("manage_billing"))

	member := Membership{Role: RoleMember, Permissions: map[string]bool{"invoicing": true}}
	assert.True(t, member.HasPermission("invoicing"))
	assert.False(t, member.HasPermission("manage_billing"))

	viewer := Membership{Role: RoleViewer}
	assert.False(t, viewer.HasPermission("invoicing"))
}

func TestUsageCounters_AddClampsAtZero(t *testing.T) {
	u := UsageCounters{ResourceProjects: 2}
	u.Add(ResourceProjects, -5)
	assert.Equal(t, int64(0), u.Get(ResourceProjects))

	u.Add(ResourceProjects, 3)
	assert.Equal(t, int64(3), u.Get(ResourceProjects))
}

func TestUsageCounters_CloneIsIndependent(t *testing.T) {
	u := UsageCounters{ResourceUsers: 2}
	clone := u.Clone()
	clone.Add(ResourceUsers, 10)

	assert.Equal(t, int64(2), u.Get(ResourceUsers))
	assert.Equal(t, int64(12), clone.Get(ResourceUsers))
}

func TestSubscriptionStatus_IsTerminal(t *testing.T) {
	terminal := []SubscriptionStatus{SubscriptionStatusCanceled, SubscriptionStatusIncompleteExpired}
	for _, st := range terminal {
		assert.True(t, st.IsTerminal(), string(st))
	}

	active := []SubscriptionStatus{
		SubscriptionStatusActive,
		SubscriptionStatusTrialing,
		SubscriptionStatusPastDue,
		SubscriptionStatusIncomplete,
		SubscriptionStatusUnpaid,
		SubscriptionStatusPaused,
	}
	for _, st := range active {
		assert.False(t, st.IsTerminal(), string(st))
	}
}

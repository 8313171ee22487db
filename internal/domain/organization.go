package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role роль участника организации
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Membership представляет собой членство пользователя в организации
type Membership struct {
	UserID      uuid.UUID       `json:"user_id"`
	Role        Role            `json:"role"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// HasPermission проверяет наличие разрешения у участника
func (m Membership) HasPermission(key string) bool {
	if m.Role == RoleOwner || m.Role == RoleAdmin {
		return true
	}
	return m.Permissions[key]
}

// UsageCounters счетчики текущего использования ресурсов организации
type UsageCounters map[Resource]int64

// Get возвращает текущее значение счетчика ресурса
func (u UsageCounters) Get(resource Resource) int64 {
	return u[resource]
}

// Add изменяет счетчик ресурса, не допуская отрицательных значений
func (u UsageCounters) Add(resource Resource, delta int64) {
	next := u[resource] + delta
	if next < 0 {
		next = 0
	}
	u[resource] = next
}

// Clone возвращает копию счетчиков
func (u UsageCounters) Clone() UsageCounters {
	out := make(UsageCounters, len(u))
	for k, v := range u {
		out[k] = v
	}
	return out
}

// Organization представляет собой модель организации (арендатора)
type Organization struct {
	ID                 uuid.UUID          `json:"id"`
	Name               string             `json:"name"`
	Plan               PlanTier           `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"` // зеркало статуса подписки
	IsTrialActive      bool               `json:"is_trial_active"`
	TrialStart         time.Time          `json:"trial_start"`
	TrialEnd           time.Time          `json:"trial_end"`
	Usage              UsageCounters      `json:"usage"`
	Memberships        []Membership       `json:"memberships"`
	Active             bool               `json:"active"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// NewOrganization создает новую организацию с единственным владельцем и пробным периодом
func NewOrganization(name string, ownerID uuid.UUID, trialDays int) Organization {
	now := time.Now()
	return Organization{
		ID:                 uuid.New(),
		Name:               name,
		Plan:               PlanStarter,
		SubscriptionStatus: SubscriptionStatusTrialing,
		IsTrialActive:      true,
		TrialStart:         now,
		TrialEnd:           now.AddDate(0, 0, trialDays),
		Usage:              UsageCounters{ResourceUsers: 1},
		Memberships: []Membership{
			{UserID: ownerID, Role: RoleOwner, CreatedAt: now},
		},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsSubscriptionActive проверяет, активна ли подписка организации
func (o *Organization) IsSubscriptionActive() bool {
	if !o.Active {
		return false
	}
	if o.SubscriptionStatus == SubscriptionStatusActive {
		return true
	}
	return o.SubscriptionStatus == SubscriptionStatusTrialing && o.IsTrialActive
}

// MembershipOf возвращает членство пользователя в организации
func (o *Organization) MembershipOf(userID uuid.UUID) (Membership, bool) {
	for _, m := range o.Memberships {
		if m.UserID == userID {
			return m, true
		}
	}
	return Membership{}, false
}

// RemainingTrialDays возвращает число оставшихся дней пробного периода
func (o *Organization) RemainingTrialDays(now time.Time) int {
	if !o.IsTrialActive || !now.Before(o.TrialEnd) {
		return 0
	}
	return int(o.TrialEnd.Sub(now).Hours() / 24)
}

// TenantDescriptor дескриптор арендатора, собираемый на каждый запрос
type TenantDescriptor struct {
	OrgID       uuid.UUID          `json:"org_id"`
	UserID      uuid.UUID          `json:"user_id"`
	Role        Role               `json:"role"`
	Permissions map[string]bool    `json:"permissions,omitempty"`
	Plan        PlanTier           `json:"plan"`
	Status      SubscriptionStatus `json:"status"`
	Limits      PlanLimits         `json:"limits"`
	Usage       UsageCounters      `json:"usage"`
	Features    map[string]bool    `json:"features"`
}

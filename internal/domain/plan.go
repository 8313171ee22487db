package domain

// PlanTier уровень тарифного плана
type PlanTier string

const (
	PlanStarter PlanTier = "starter"
	PlanPro     PlanTier = "pro"
	PlanTeam    PlanTier = "team"
	PlanAgency  PlanTier = "agency"
)

// Unlimited сентинел для безлимитного ресурса
const Unlimited int64 = -1

// Resource измерение использования ресурсов организации
type Resource string

const (
	ResourceUsers    Resource = "users"
	ResourceProjects Resource = "projects"
	ResourceClients  Resource = "clients"
	ResourceStorage  Resource = "storage"
)

// AllResources список всех измерений использования
var AllResources = []Resource{ResourceUsers, ResourceProjects, ResourceClients, ResourceStorage}

// PlanLimits лимиты ресурсов тарифного плана
type PlanLimits struct {
	MaxUsers     int64 `json:"max_users"`
	MaxProjects  int64 `json:"max_projects"`
	MaxClients   int64 `json:"max_clients"`
	MaxStorageMB int64 `json:"max_storage_mb"`
}

// For возвращает лимит для указанного ресурса
func (l PlanLimits) For(resource Resource) int64 {
	switch resource {
	case ResourceUsers:
		return l.MaxUsers
	case ResourceProjects:
		return l.MaxProjects
	case ResourceClients:
		return l.MaxClients
	case ResourceStorage:
		return l.MaxStorageMB
	default:
		return 0
	}
}

// IsUnlimited проверяет, является ли лимит ресурса безлимитным
func (l PlanLimits) IsUnlimited(resource Resource) bool {
	return l.For(resource) == Unlimited
}

package plans

import (
	"github.com/Dhoini/Entitlement-microservice/internal/domain"
)

// Definition неизменяемое описание тарифного плана
type Definition struct {
	Tier         domain.PlanTier   `json:"tier"`
	Name         string            `json:"name"`
	Rank         int               `json:"rank"`
	Limits       domain.PlanLimits `json:"limits"`
	Features     map[string]bool   `json:"features"`
	MonthlyPrice float64           `json:"monthly_price"`
	YearlyPrice  float64           `json:"yearly_price"`
	Currency     string            `json:"currency"`
	TrialDays    int               `json:"trial_days"`
}

// Каталог тарифных планов. Единственный источник истины для лимитов,
// фич и цен; никакой другой компонент не переопределяет эти таблицы.
var catalog = map[domain.PlanTier]Definition{
	domain.PlanStarter: {
		Tier: domain.PlanStarter,
		Name: "Starter",
		Rank: 0,
		Limits: domain.PlanLimits{
			MaxUsers:     3,
			MaxProjects:  5,
			MaxClients:   10,
			MaxStorageMB: 1024,
		},
		Features: map[string]bool{
			"time_tracking": true,
			"invoicing":     false,
			"reports":       false,
			"api_access":    false,
		},
		MonthlyPrice: 19,
		YearlyPrice:  190,
		Currency:     "usd",
		TrialDays:    14,
	},
	domain.PlanPro: {
		Tier: domain.PlanPro,
		Name: "Pro",
		Rank: 1,
		Limits: domain.PlanLimits{
			MaxUsers:     10,
			MaxProjects:  25,
			MaxClients:   50,
			MaxStorageMB: 10240,
		},
		Features: map[string]bool{
			"time_tracking": true,
			"invoicing":     true,
			"reports":       true,
			"api_access":    false,
		},
		MonthlyPrice: 39,
		YearlyPrice:  390,
		Currency:     "usd",
		TrialDays:    14,
	},
	domain.PlanTeam: {
		Tier: domain.PlanTeam,
		Name: "Team",
		Rank: 2,
		Limits: domain.PlanLimits{
			MaxUsers:     25,
			MaxProjects:  domain.Unlimited,
			MaxClients:   domain.Unlimited,
			MaxStorageMB: 51200,
		},
		Features: map[string]bool{
			"time_tracking": true,
			"invoicing":     true,
			"reports":       true,
			"api_access":    true,
		},
		MonthlyPrice: 79,
		YearlyPrice:  790,
		Currency:     "usd",
		TrialDays:    14,
	},
	domain.PlanAgency: {
		Tier: domain.PlanAgency,
		Name: "Agency",
		Rank: 3,
		Limits: domain.PlanLimits{
			MaxUsers:     domain.Unlimited,
			MaxProjects:  domain.Unlimited,
			MaxClients:   domain.Unlimited,
			MaxStorageMB: domain.Unlimited,
		},
		Features: map[string]bool{
			"time_tracking": true,
			"invoicing":     true,
			"reports":       true,
			"api_access":    true,
		},
		MonthlyPrice: 149,
		YearlyPrice:  1490,
		Currency:     "usd",
		TrialDays:    14,
	},
}

// ordered планы в порядке возрастания ранга
var ordered = []domain.PlanTier{domain.PlanStarter, domain.PlanPro, domain.PlanTeam, domain.PlanAgency}

// Get возвращает описание тарифного плана
func Get(tier domain.PlanTier) (Definition, error) {
	def, ok := catalog[tier]
	if !ok {
		return Definition{}, domain.ErrUnknownPlan
	}
	return def, nil
}

// LimitsFor возвращает лимиты ресурсов тарифного плана
func LimitsFor(tier domain.PlanTier) (domain.PlanLimits, error) {
	def, err := Get(tier)
	if err != nil {
		return domain.PlanLimits{}, err
	}
	return def.Limits, nil
}

// FeaturesFor возвращает флаги функций тарифного плана
func FeaturesFor(tier domain.PlanTier) (map[string]bool, error) {
	def, err := Get(tier)
	if err != nil {
		return nil, err
	}
	features := make(map[string]bool, len(def.Features))
	for k, v := range def.Features {
		features[k] = v
	}
	return features, nil
}

// Rank возвращает порядковый ранг плана в строгом порядке starter < pro < team < agency
func Rank(tier domain.PlanTier) (int, error) {
	def, err := Get(tier)
	if err != nil {
		return 0, err
	}
	return def.Rank, nil
}

// PriceFor возвращает цену плана для указанного интервала
func PriceFor(tier domain.PlanTier, interval domain.BillingInterval) (float64, error) {
	def, err := Get(tier)
	if err != nil {
		return 0, err
	}
	switch interval {
	case domain.BillingIntervalYear:
		return def.YearlyPrice, nil
	case domain.BillingIntervalMonth, "":
		return def.MonthlyPrice, nil
	default:
		return 0, domain.ErrInvalidOperation
	}
}

// All возвращает все планы в порядке возрастания ранга
func All() []Definition {
	out := make([]Definition, 0, len(ordered))
	for _, tier := range ordered {
		out = append(out, catalog[tier])
	}
	return out
}

// IsDowngrade проверяет, является ли переход с from на to понижением плана
func IsDowngrade(from, to domain.PlanTier) (bool, error) {
	fromRank, err := Rank(from)
	if err != nil {
		return false, err
	}
	toRank, err := Rank(to)
	if err != nil {
		return false, err
	}
	return toRank < fromRank, nil
}

package domain

import (
	"math"
	"time"
)

// Proration результат расчета перерасчета при смене плана посреди периода
type Proration struct {
	Credit        float64 `json:"credit"`
	Charge        float64 `json:"charge"`
	Net           float64 `json:"net"`
	RemainingDays int     `json:"remaining_days"`
}

// ComputeProration вычисляет кредит и доплату при смене плана посреди расчетного периода.
// Расчет детерминированный, без побочных эффектов: дневная ставка каждого плана
// умножается на число оставшихся дней периода.
func ComputeProration(currentAmount, newAmount float64, periodStart, periodEnd, now time.Time) (Proration, error) {
	totalDays := daysBetween(periodStart, periodEnd)
	if totalDays <= 0 {
		return Proration{}, ErrInvalidPeriod
	}

	if !now.Before(periodEnd) {
		return Proration{}, nil
	}

	remainingDays := daysBetween(now, periodEnd)
	if remainingDays < 0 {
		remainingDays = 0
	}

	dailyCurrent := currentAmount / float64(totalDays)
	dailyNew := newAmount / float64(totalDays)

	credit := round2(dailyCurrent * float64(remainingDays))
	charge := round2(dailyNew * float64(remainingDays))

	return Proration{
		Credit:        credit,
		Charge:        charge,
		Net:           round2(charge - credit),
		RemainingDays: remainingDays,
	}, nil
}

// daysBetween возвращает число полных дней между двумя моментами времени
func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// round2 округляет до двух знаков (центы)
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

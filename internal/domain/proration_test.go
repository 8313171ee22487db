package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeProration_MidPeriodUpgrade(t *testing.T) {
	periodStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)

	// 30-дневный период, 15 оставшихся дней, 39 -> 79
	p, err := ComputeProration(39, 79, periodStart, periodEnd, now)
	require.NoError(t, err)

	assert.Equal(t, 15, p.RemainingDays)
	assert.InDelta(t, 19.5, p.Credit, 0.001)
	assert.InDelta(t, 39.5, p.Charge, 0.001)
	assert.InDelta(t, 20.0, p.Net, 0.001)
}

func TestComputeProration_Downgrade(t *testing.T) {
	periodStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC)

	p, err := ComputeProration(79, 39, periodStart, periodEnd, now)
	require.NoError(t, err)

	assert.Equal(t, 10, p.RemainingDays)
	assert.Negative(t, p.Net)
	assert.InDelta(t, p.Charge-p.Credit, p.Net, 0.011)
}

func TestComputeProration_RoundsToCents(t *testing.T) {
	periodStart := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	now := periodStart.AddDate(0, 0, 11)

	p, err := ComputeProration(19, 39, periodStart, periodEnd, now)
	require.NoError(t, err)

	for _, v := range []float64{p.Credit, p.Charge, p.Net} {
		cents := v * 100
		assert.InDelta(t, cents, float64(int64(cents+0.5)), 0.0001)
	}
}

func TestComputeProration_PeriodAlreadyOver(t *testing.T) {
	periodStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	p, err := ComputeProration(39, 79, periodStart, periodEnd, periodEnd)
	require.NoError(t, err)
	assert.Zero(t, p.Credit)
	assert.Zero(t, p.Charge)
	assert.Zero(t, p.Net)
	assert.Zero(t, p.RemainingDays)
}

func TestComputeProration_InvalidPeriod(t *testing.T) {
	start := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := ComputeProration(39, 79, start, end, start)
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = ComputeProration(39, 79, start, start, start)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

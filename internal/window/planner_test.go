package window

import (
	"testing"
	"time"

	"github.com/mbenton/wattflume/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanGenerationThreeDays(t *testing.T) {
	windows, err := PlanGeneration("2020-07-01", "2020-07-03")
	require.NoError(t, err)
	require.Len(t, windows, 3)

	for i, day := range []string{"2020-07-01", "2020-07-02", "2020-07-03"} {
		assert.Equal(t, day, windows[i].Start.Format("2006-01-02"))
		assert.Equal(t, 24*time.Hour, windows[i].Duration())
		assert.Equal(t, models.KindGeneration, windows[i].Kind)
	}

	// Consecutive windows cover the range with no gaps and no overlaps.
	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i].Start.Equal(windows[i-1].End))
	}
}

func TestPlanGenerationSingleDay(t *testing.T) {
	windows, err := PlanGeneration("2020-07-01", "2020-07-01")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, 24*time.Hour, windows[0].Duration())
}

func TestPlanGenerationEmptyEndDate(t *testing.T) {
	windows, err := PlanGeneration("2020-07-01", "")
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestPlanGenerationReversedRange(t *testing.T) {
	windows, err := PlanGeneration("2020-07-03", "2020-07-01")
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestPlanGenerationBadDate(t *testing.T) {
	_, err := PlanGeneration("07/01/2020", "2020-07-03")
	assert.Error(t, err)
}

func TestPlanConsumptionSingleWindow(t *testing.T) {
	windows, err := PlanConsumption("2020-06-01", "2020-07-01")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, "2020-06-01", windows[0].Start.Format("2006-01-02"))
	assert.Equal(t, "2020-07-01", windows[0].End.Format("2006-01-02"))
	assert.Equal(t, models.KindConsumption, windows[0].Kind)
}

func TestPlanConsumptionOverMonth(t *testing.T) {
	_, err := PlanConsumption("2020-06-01", "2020-07-02")
	assert.Error(t, err)
}

func TestPlanConsumptionReversedRange(t *testing.T) {
	windows, err := PlanConsumption("2020-07-01", "2020-06-01")
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestPlanWaterHalfDays(t *testing.T) {
	windows, err := PlanWater("2020-06-15", "2020-06-15")
	require.NoError(t, err)
	require.Len(t, windows, 2)

	am, pm := windows[0], windows[1]
	assert.Equal(t, "2020-06-15 00:00:00", am.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2020-06-15 11:59:00", am.End.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2020-06-15 12:00:00", pm.Start.Format("2006-01-02 15:04:05"))
	assert.Equal(t, "2020-06-16 00:00:00", pm.End.Format("2006-01-02 15:04:05"))
}

func TestPlanWaterSpansUnderCeiling(t *testing.T) {
	windows, err := PlanWater("2020-06-01", "2020-06-10")
	require.NoError(t, err)
	require.Len(t, windows, 20)

	for _, w := range windows {
		assert.Less(t, w.Duration(), MaxWaterSpan)
		assert.Equal(t, models.KindWater, w.Kind)
	}
}

func TestClampSpanLongRange(t *testing.T) {
	start := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	end := start.Add(23*time.Hour + 59*time.Minute)

	clamped := ClampSpan(start, end)
	assert.Equal(t, start.Add(19*time.Hour+59*time.Minute), clamped)
}

func TestClampSpanShortRangeUnchanged(t *testing.T) {
	start := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	end := start.Add(11*time.Hour + 59*time.Minute)

	assert.Equal(t, end, ClampSpan(start, end))
}

func TestClampSpanExactlyTwentyHours(t *testing.T) {
	start := time.Date(2020, 6, 15, 0, 0, 0, 0, time.Local)
	end := start.Add(MaxWaterSpan)

	assert.Equal(t, start.Add(19*time.Hour+59*time.Minute), ClampSpan(start, end))
}

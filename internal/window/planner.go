// Package window turns a requested date range into the sequence of fetch
// windows each vendor will actually accept. The Enphase stats endpoint
// returns at most one day per call, consumption_stats up to one month, and
// Flume rejects query spans of 20 hours or more.
package window

import (
	"fmt"
	"time"

	"github.com/mbenton/wattflume/pkg/models"
)

const dateLayout = "2006-01-02"

// MaxWaterSpan is the vendor ceiling on a single water query.
const MaxWaterSpan = 20 * time.Hour

// waterClampSpan is the longest span actually requested when a caller's
// explicit range hits the ceiling.
const waterClampSpan = 19*time.Hour + 59*time.Minute

// FetchWindow is one vendor-legal fetch span. Immutable once planned.
type FetchWindow struct {
	Start time.Time
	End   time.Time
	Kind  models.Kind
}

// Duration returns the window's span.
func (w FetchWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// PlanGeneration produces one single-day window per calendar day in
// [startDate, endDate] inclusive. An end date before the start date yields
// an empty plan.
func PlanGeneration(startDate, endDate string) ([]FetchWindow, error) {
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	var windows []FetchWindow
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		windows = append(windows, FetchWindow{
			Start: day,
			End:   day.AddDate(0, 0, 1),
			Kind:  models.KindGeneration,
		})
	}
	return windows, nil
}

// PlanConsumption produces a single window spanning the whole range. The
// vendor accepts at most one month per call, so longer ranges are rejected.
func PlanConsumption(startDate, endDate string) ([]FetchWindow, error) {
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, nil
	}
	if end.After(start.AddDate(0, 1, 0)) {
		return nil, fmt.Errorf("consumption range %s to %s exceeds one month", startDate, endDate)
	}

	return []FetchWindow{{
		Start: start,
		End:   end,
		Kind:  models.KindConsumption,
	}}, nil
}

// PlanWater produces two half-day windows per calendar day: 00:00:00 to
// 11:59:00 and 12:00:00 to midnight. Both sit under the 20 hour ceiling.
func PlanWater(startDate, endDate string) ([]FetchWindow, error) {
	start, end, err := parseRange(startDate, endDate)
	if err != nil {
		return nil, err
	}

	var windows []FetchWindow
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		windows = append(windows,
			FetchWindow{
				Start: day,
				End:   day.Add(11*time.Hour + 59*time.Minute),
				Kind:  models.KindWater,
			},
			FetchWindow{
				Start: day.Add(12 * time.Hour),
				End:   day.AddDate(0, 0, 1),
				Kind:  models.KindWater,
			},
		)
	}
	return windows, nil
}

// ClampSpan bounds an explicit water query range to the vendor ceiling,
// pulling the end back to start plus 19h59m when the span would reach
// 20 hours.
func ClampSpan(start, end time.Time) time.Time {
	if end.Sub(start) >= MaxWaterSpan {
		return start.Add(waterClampSpan)
	}
	return end
}

// parseRange interprets the two ISO dates as local-time midnights. An empty
// end date means the range is the single start day.
func parseRange(startDate, endDate string) (time.Time, time.Time, error) {
	if endDate == "" {
		endDate = startDate
	}

	start, err := time.ParseInLocation(dateLayout, startDate, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start date must be YYYY-MM-DD: %w", err)
	}
	end, err := time.ParseInLocation(dateLayout, endDate, time.Local)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must be YYYY-MM-DD: %w", err)
	}
	return start, end, nil
}

// Package normalize maps vendor interval payloads onto the common record
// shape. The data kind comes in as an explicit tag from the ingestion path;
// payload shape is never probed to infer it.
package normalize

import (
	"github.com/mbenton/wattflume/internal/enphase"
	"github.com/mbenton/wattflume/internal/flume"
	"github.com/mbenton/wattflume/pkg/models"
)

// Enphase converts an Enlighten intervals payload into records of the given
// kind. Generation records carry both energy and power; consumption records
// carry energy only. An empty payload yields an empty slice.
func Enphase(p *enphase.Payload, kind models.Kind) []models.IntervalRecord {
	records := make([]models.IntervalRecord, 0, len(p.Intervals))
	for _, iv := range p.Intervals {
		date, tm, ok := splitTimestamp(iv.EndAt)
		if !ok {
			continue
		}

		enwh := iv.EnWh
		rec := models.IntervalRecord{
			Date:     date,
			Time:     tm,
			Kind:     kind,
			EnergyWh: &enwh,
		}
		if kind == models.KindGeneration && iv.Powr != nil {
			powr := *iv.Powr
			rec.Power = &powr
		}
		records = append(records, rec)
	}
	return records
}

// Flume converts per-minute water samples into water records. An empty
// sample list yields an empty slice.
func Flume(samples []flume.Sample) []models.IntervalRecord {
	records := make([]models.IntervalRecord, 0, len(samples))
	for _, s := range samples {
		date, tm, ok := splitTimestamp(s.Datetime)
		if !ok {
			continue
		}

		gallons := s.Value
		records = append(records, models.IntervalRecord{
			Date:    date,
			Time:    tm,
			Kind:    models.KindWater,
			Gallons: &gallons,
		})
	}
	return records
}

// splitTimestamp slices a "YYYY-MM-DDTHH:MM:SS..." or "YYYY-MM-DD HH:MM:SS"
// timestamp into its date and time parts.
func splitTimestamp(ts string) (date, tm string, ok bool) {
	if len(ts) < 19 {
		return "", "", false
	}
	return ts[0:10], ts[11:19], true
}

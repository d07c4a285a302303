package models

// Kind identifies which ingestion path produced a record. The kind is
// assigned when the vendor payload is fetched and travels with the record
// all the way to storage, so nothing downstream has to probe field
// presence to decide what it is looking at.
type Kind string

const (
	KindGeneration  Kind = "generation"
	KindConsumption Kind = "consumption"
	KindWater       Kind = "water"
)

// Valid reports whether k is one of the known data kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindGeneration, KindConsumption, KindWater:
		return true
	}
	return false
}

// IntervalRecord is one normalized time-bucketed measurement. Exactly one
// measurement group is populated: EnergyWh+Power for generation, EnergyWh
// alone for consumption, Gallons for water.
type IntervalRecord struct {
	ID       int      `json:"id"`
	Date     string   `json:"date"` // YYYY-MM-DD
	Time     string   `json:"time"` // HH:MM:SS
	Kind     Kind     `json:"kind"`
	EnergyWh *float64 `json:"energy_wh,omitempty"`
	Power    *float64 `json:"power,omitempty"`
	Gallons  *float64 `json:"gallons,omitempty"`
}

package domain

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

type Alert struct {
	ID        string    `json:"_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Ward      string    `json:"ward,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a *Alert) RecordID() string         { return a.ID }
func (a *Alert) RecordVersion() time.Time { return a.CreatedAt }

// Analytics payloads are passed through to views without interpretation.

type OccupancySummary struct {
	TotalBeds     int     `json:"totalBeds"`
	Available     int     `json:"available"`
	Occupied      int     `json:"occupied"`
	Cleaning      int     `json:"cleaning"`
	OccupancyRate float64 `json:"occupancyRate"`
}

type WardOccupancy struct {
	Ward          string  `json:"ward"`
	TotalBeds     int     `json:"totalBeds"`
	Occupied      int     `json:"occupied"`
	Available     int     `json:"available"`
	Cleaning      int     `json:"cleaning"`
	OccupancyRate float64 `json:"occupancyRate"`
}

type Forecast struct {
	Ward               string    `json:"ward,omitempty"`
	ExpectedDischarges int       `json:"expectedDischarges"`
	ExpectedAvailable  int       `json:"expectedAvailable"`
	CurrentOccupancy   float64   `json:"currentOccupancy"`
	ProjectedOccupancy float64   `json:"projectedOccupancy"`
	GeneratedAt        time.Time `json:"generatedAt,omitempty"`
	UpcomingDischarges []*Bed    `json:"upcomingDischarges,omitempty"`
}

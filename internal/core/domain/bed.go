package domain

import (
	"regexp"
	"sort"
	"strconv"
	"time"
)

type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedOccupied    BedStatus = "occupied"
	BedCleaning    BedStatus = "cleaning"
	BedMaintenance BedStatus = "maintenance"
)

// Lifecycle reports whether s is one of the three statuses a bed moves through.
// Maintenance is only ever observed, never requested.
func (s BedStatus) Lifecycle() bool {
	return s == BedAvailable || s == BedOccupied || s == BedCleaning
}

type Bed struct {
	ID                        string     `json:"_id"`
	BedID                     string     `json:"bedId"`
	Ward                      string     `json:"ward"`
	Status                    BedStatus  `json:"status"`
	PatientName               string     `json:"patientName,omitempty"`
	PatientID                 string     `json:"patientId,omitempty"`
	EstimatedDischargeTime    *time.Time `json:"estimatedDischargeTime,omitempty"`
	DischargeNotes            string     `json:"dischargeNotes,omitempty"`
	CleaningStartTime         *time.Time `json:"cleaningStartTime,omitempty"`
	EstimatedCleaningDuration int        `json:"estimatedCleaningDuration,omitempty"`
	Notes                     string     `json:"notes,omitempty"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
	CreatedAt                 time.Time  `json:"createdAt"`
}

func (b *Bed) RecordID() string         { return b.ID }
func (b *Bed) RecordVersion() time.Time { return b.UpdatedAt }

// StatusUpdate is the body of PATCH /beds/:bedId/status.
type StatusUpdate struct {
	Status      BedStatus `json:"status"`
	PatientName string    `json:"patientName,omitempty"`
	PatientID   string    `json:"patientId,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

func (u StatusUpdate) Validate() error {
	if !u.Status.Lifecycle() {
		return &ValidationError{Field: "status", Message: "status must be available, occupied or cleaning"}
	}
	if u.Status == BedOccupied && u.PatientName == "" {
		return &ValidationError{Field: "patientName", Message: "patient name is required for an occupied bed"}
	}
	return nil
}

// DischargeUpdate is the body of PATCH /beds/:bedId/discharge-time.
type DischargeUpdate struct {
	EstimatedDischargeTime time.Time `json:"estimatedDischargeTime"`
	DischargeNotes         string    `json:"dischargeNotes,omitempty"`
}

func (u DischargeUpdate) Validate() error {
	if u.EstimatedDischargeTime.IsZero() {
		return &ValidationError{Field: "estimatedDischargeTime", Message: "estimated discharge time is required"}
	}
	return nil
}

var bedIDPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

// CompareBedIDs orders bed codes by letter prefix, then numerically by suffix,
// so iA2 sorts before iA10. Prefixes compare byte-wise, so case matters.
// Equal numbers (iA01, iA1) and suffixes too long to parse fall back to string
// order. Codes that do not look like prefix+number sort after well-formed
// ones, in plain string order.
func CompareBedIDs(a, b string) int {
	ma := bedIDPattern.FindStringSubmatch(a)
	mb := bedIDPattern.FindStringSubmatch(b)
	switch {
	case ma == nil && mb == nil:
		return compareStrings(a, b)
	case ma == nil:
		return 1
	case mb == nil:
		return -1
	}
	if c := compareStrings(ma[1], mb[1]); c != 0 {
		return c
	}
	na, errA := strconv.ParseUint(ma[2], 10, 64)
	nb, errB := strconv.ParseUint(mb[2], 10, 64)
	if errA == nil && errB == nil && na != nb {
		if na < nb {
			return -1
		}
		return 1
	}
	return compareStrings(a, b)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SortBeds sorts beds in place by their human bed code.
func SortBeds(beds []*Bed) {
	sort.SliceStable(beds, func(i, j int) bool { return CompareBedIDs(beds[i].BedID, beds[j].BedID) < 0 })
}

// BedCounts is the per-status tally shown on dashboard headers.
type BedCounts struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	Occupied    int `json:"occupied"`
	Cleaning    int `json:"cleaning"`
	Maintenance int `json:"maintenance"`
}

func CountBeds(beds []*Bed) BedCounts {
	c := BedCounts{Total: len(beds)}
	for _, b := range beds {
		switch b.Status {
		case BedAvailable:
			c.Available++
		case BedOccupied:
			c.Occupied++
		case BedCleaning:
			c.Cleaning++
		case BedMaintenance:
			c.Maintenance++
		}
	}
	return c
}

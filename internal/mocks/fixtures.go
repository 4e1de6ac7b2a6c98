package mocks

import (
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

// BaseTime is the reference timestamp fixtures are built around.
var BaseTime = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// NewBed builds an available-by-default bed whose version is BaseTime.
func NewBed(id, code, ward string, status domain.BedStatus) *domain.Bed {
	return &domain.Bed{
		ID:        id,
		BedID:     code,
		Ward:      ward,
		Status:    status,
		UpdatedAt: BaseTime,
		CreatedAt: BaseTime.Add(-24 * time.Hour),
	}
}

func NewAlert(id, ward string, severity domain.Severity) *domain.Alert {
	return &domain.Alert{
		ID:        id,
		Type:      "occupancy",
		Message:   "Ward " + ward + " is nearly full",
		Severity:  severity,
		Ward:      ward,
		CreatedAt: BaseTime,
	}
}

func NewRequest(id, patient, ward string, status domain.RequestStatus) *domain.EmergencyRequest {
	return &domain.EmergencyRequest{
		ID:          id,
		PatientName: patient,
		Location:    "ER bay 2",
		Ward:        ward,
		Priority:    domain.PriorityHigh,
		Status:      status,
		CreatedAt:   BaseTime,
	}
}

// WardStaff returns a ward_staff user scoped to ward.
func WardStaff(ward string) domain.User {
	return domain.User{ID: "u-ward", Name: "Nurse Joy", Email: "joy@hospital.test", Role: domain.RoleWardStaff, Ward: ward}
}

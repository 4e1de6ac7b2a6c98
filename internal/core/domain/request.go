package domain

import "time"

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

type EmergencyRequest struct {
	ID              string        `json:"_id"`
	PatientName     string        `json:"patientName"`
	PatientContact  string        `json:"patientContact,omitempty"`
	Location        string        `json:"location"`
	Priority        Priority      `json:"priority"`
	Ward            string        `json:"ward"`
	Reason          string        `json:"reason,omitempty"`
	Description     string        `json:"description,omitempty"`
	Status          RequestStatus `json:"status"`
	AssignedBed     string        `json:"assignedBed,omitempty"`
	RejectionReason string        `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt,omitempty"`
}

func (r *EmergencyRequest) RecordID() string { return r.ID }

func (r *EmergencyRequest) RecordVersion() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// NewEmergencyRequest is the body of POST /emergency-requests.
type NewEmergencyRequest struct {
	PatientName    string   `json:"patientName"`
	Location       string   `json:"location"`
	Ward           string   `json:"ward"`
	Priority       Priority `json:"priority"`
	PatientContact string   `json:"patientContact,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	Description    string   `json:"description,omitempty"`
}

func (r NewEmergencyRequest) Validate() error {
	switch {
	case r.PatientName == "":
		return &ValidationError{Field: "patientName", Message: "patient name is required"}
	case r.Location == "":
		return &ValidationError{Field: "location", Message: "location is required"}
	case r.Ward == "":
		return &ValidationError{Field: "ward", Message: "ward is required"}
	case !r.Priority.Valid():
		return &ValidationError{Field: "priority", Message: "priority must be critical, high, medium or low"}
	}
	return nil
}

// Package mocks provides in-memory implementations of the port interfaces so
// services can be tested without a server, broker or database.
package mocks

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// BedWrite records one bed mutation received by MockAPI.
type BedWrite struct {
	Kind           domain.MutationKind
	BedID          string
	IdempotencyKey string
	Status         domain.StatusUpdate
	Discharge      domain.DischargeUpdate
	Notes          string
}

// MockAPI implements every REST port against in-memory records.
type MockAPI struct {
	mu sync.Mutex

	beds     []*domain.Bed
	alerts   []*domain.Alert
	requests []*domain.EmergencyRequest

	// Call tracking
	ListBedsCalls     int
	ListAlertsCalls   int
	ListRequestsCalls int
	HealthCalls       int
	BedWrites         []BedWrite
	CreateCalls       []domain.NewEmergencyRequest
	CreateKeys        []string
	ApproveCalls      []string
	RejectCalls       []string
	DismissCalls      []string
	LoginCalls        []domain.Credentials
	DeleteCalls       int

	// Error injection
	ListBedsError     error
	ListAlertsError   error
	ListRequestsError error
	HealthError       error
	DismissError      error
	ApproveError      error
	RejectError       error
	LoginError        error
	RegisterError     error
	DeleteError       error
	AnalyticsError    error
	// BedWriteErrors are returned by successive bed mutations, one per call.
	BedWriteErrors []error
	// CreateErrors are returned by successive request creations, one per call.
	CreateErrors []error

	listBedsHook func()

	LoginResult    *domain.AuthResult
	RegisterResult *domain.AuthResult
	Summary        *domain.OccupancySummary
	Forecast       *domain.Forecast
	WardOccupancy  []domain.WardOccupancy
}

var (
	_ ports.BedAPI       = (*MockAPI)(nil)
	_ ports.RequestAPI   = (*MockAPI)(nil)
	_ ports.AlertAPI     = (*MockAPI)(nil)
	_ ports.AnalyticsAPI = (*MockAPI)(nil)
	_ ports.AuthAPI      = (*MockAPI)(nil)
	_ ports.HealthAPI    = (*MockAPI)(nil)
)

func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

func (m *MockAPI) SeedBeds(beds ...*domain.Bed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beds = append(m.beds, beds...)
}

func (m *MockAPI) SeedAlerts(alerts ...*domain.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alerts...)
}

func (m *MockAPI) SeedRequests(requests ...*domain.EmergencyRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, requests...)
}

func (m *MockAPI) SetListBedsError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListBedsError = err
}

func (m *MockAPI) SetHealthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthError = err
}

func (m *MockAPI) Writes() []BedWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BedWrite, len(m.BedWrites))
	copy(out, m.BedWrites)
	return out
}

func (m *MockAPI) Counts() (beds, alerts, requests, health int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ListBedsCalls, m.ListAlertsCalls, m.ListRequestsCalls, m.HealthCalls
}

// SetListBedsHook installs fn to run after ListBeds has read the beds and
// before it returns them.
func (m *MockAPI) SetListBedsHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listBedsHook = fn
}

func (m *MockAPI) ListBeds(ctx context.Context) ([]*domain.Bed, error) {
	m.mu.Lock()
	m.ListBedsCalls++
	if m.ListBedsError != nil {
		err := m.ListBedsError
		m.mu.Unlock()
		return nil, err
	}
	out := make([]*domain.Bed, len(m.beds))
	copy(out, m.beds)
	hook := m.listBedsHook
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (m *MockAPI) ListOccupiedBeds(ctx context.Context) ([]*domain.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Bed
	for _, b := range m.beds {
		if b.Status == domain.BedOccupied {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockAPI) CleaningQueue(ctx context.Context, ward string) ([]*domain.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Bed
	for _, b := range m.beds {
		if b.Status == domain.BedCleaning && (ward == "" || b.Ward == ward) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MockAPI) UpdateBedStatus(ctx context.Context, bedID string, u domain.StatusUpdate, idemKey string) (*domain.Bed, error) {
	return m.writeBed(BedWrite{Kind: domain.MutationBedStatus, BedID: bedID, IdempotencyKey: idemKey, Status: u}, func(b *domain.Bed) {
		b.Status = u.Status
		b.PatientName = u.PatientName
		b.PatientID = u.PatientID
		b.Notes = u.Notes
	})
}

func (m *MockAPI) SetDischargeTime(ctx context.Context, bedID string, u domain.DischargeUpdate, idemKey string) (*domain.Bed, error) {
	return m.writeBed(BedWrite{Kind: domain.MutationDischargeTime, BedID: bedID, IdempotencyKey: idemKey, Discharge: u}, func(b *domain.Bed) {
		t := u.EstimatedDischargeTime
		b.EstimatedDischargeTime = &t
		b.DischargeNotes = u.DischargeNotes
	})
}

func (m *MockAPI) MarkCleaningComplete(ctx context.Context, bedID string, notes string, idemKey string) (*domain.Bed, error) {
	return m.writeBed(BedWrite{Kind: domain.MutationCleaningComplete, BedID: bedID, IdempotencyKey: idemKey, Notes: notes}, func(b *domain.Bed) {
		b.Status = domain.BedAvailable
		b.CleaningStartTime = nil
		b.Notes = notes
	})
}

func (m *MockAPI) writeBed(w BedWrite, apply func(*domain.Bed)) (*domain.Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BedWrites = append(m.BedWrites, w)
	if len(m.BedWriteErrors) > 0 {
		err := m.BedWriteErrors[0]
		m.BedWriteErrors = m.BedWriteErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	for i, b := range m.beds {
		if b.BedID != w.BedID {
			continue
		}
		next := *b
		apply(&next)
		next.UpdatedAt = b.UpdatedAt.Add(time.Second)
		m.beds[i] = &next
		out := next
		return &out, nil
	}
	return nil, &domain.APIError{Status: http.StatusNotFound, Message: "Bed not found"}
}

func (m *MockAPI) ListEmergencyRequests(ctx context.Context) ([]*domain.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListRequestsCalls++
	if m.ListRequestsError != nil {
		return nil, m.ListRequestsError
	}
	out := make([]*domain.EmergencyRequest, len(m.requests))
	copy(out, m.requests)
	return out, nil
}

func (m *MockAPI) CreateEmergencyRequest(ctx context.Context, r domain.NewEmergencyRequest, idemKey string) (*domain.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls = append(m.CreateCalls, r)
	m.CreateKeys = append(m.CreateKeys, idemKey)
	if len(m.CreateErrors) > 0 {
		err := m.CreateErrors[0]
		m.CreateErrors = m.CreateErrors[1:]
		if err != nil {
			return nil, err
		}
	}
	created := &domain.EmergencyRequest{
		ID:          "req-" + r.PatientName,
		PatientName: r.PatientName,
		Location:    r.Location,
		Ward:        r.Ward,
		Priority:    r.Priority,
		Reason:      r.Reason,
		Status:      domain.RequestPending,
		CreatedAt:   time.Now(),
	}
	m.requests = append(m.requests, created)
	out := *created
	return &out, nil
}

func (m *MockAPI) ApproveEmergencyRequest(ctx context.Context, id, bedID string) (*domain.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApproveCalls = append(m.ApproveCalls, id)
	if m.ApproveError != nil {
		return nil, m.ApproveError
	}
	return m.transition(id, func(r *domain.EmergencyRequest) {
		r.Status = domain.RequestApproved
		r.AssignedBed = bedID
	})
}

func (m *MockAPI) RejectEmergencyRequest(ctx context.Context, id, reason string) (*domain.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RejectCalls = append(m.RejectCalls, id)
	if m.RejectError != nil {
		return nil, m.RejectError
	}
	return m.transition(id, func(r *domain.EmergencyRequest) {
		r.Status = domain.RequestRejected
		r.RejectionReason = reason
	})
}

func (m *MockAPI) UpdateEmergencyRequestStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.EmergencyRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transition(id, func(r *domain.EmergencyRequest) { r.Status = status })
}

func (m *MockAPI) transition(id string, apply func(*domain.EmergencyRequest)) (*domain.EmergencyRequest, error) {
	for i, r := range m.requests {
		if r.ID != id {
			continue
		}
		next := *r
		apply(&next)
		next.UpdatedAt = r.RecordVersion().Add(time.Second)
		m.requests[i] = &next
		out := next
		return &out, nil
	}
	return nil, &domain.APIError{Status: http.StatusNotFound, Message: "Emergency request not found"}
}

func (m *MockAPI) ListAlerts(ctx context.Context) ([]*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListAlertsCalls++
	if m.ListAlertsError != nil {
		return nil, m.ListAlertsError
	}
	out := make([]*domain.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out, nil
}

func (m *MockAPI) DismissAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DismissCalls = append(m.DismissCalls, id)
	if m.DismissError != nil {
		return m.DismissError
	}
	for i, a := range m.alerts {
		if a.ID == id {
			m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MockAPI) OccupancySummary(ctx context.Context) (*domain.OccupancySummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AnalyticsError != nil {
		return nil, m.AnalyticsError
	}
	if m.Summary != nil {
		return m.Summary, nil
	}
	c := domain.CountBeds(m.beds)
	return &domain.OccupancySummary{TotalBeds: c.Total, Available: c.Available, Occupied: c.Occupied, Cleaning: c.Cleaning}, nil
}

func (m *MockAPI) OccupancyByWard(ctx context.Context) ([]domain.WardOccupancy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AnalyticsError != nil {
		return nil, m.AnalyticsError
	}
	return m.WardOccupancy, nil
}

func (m *MockAPI) Forecasting(ctx context.Context) (*domain.Forecast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AnalyticsError != nil {
		return nil, m.AnalyticsError
	}
	if m.Forecast != nil {
		return m.Forecast, nil
	}
	return &domain.Forecast{}, nil
}

func (m *MockAPI) Login(ctx context.Context, c domain.Credentials) (*domain.AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LoginCalls = append(m.LoginCalls, c)
	if m.LoginError != nil {
		return nil, m.LoginError
	}
	return m.LoginResult, nil
}

func (m *MockAPI) Register(ctx context.Context, r domain.Registration) (*domain.AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RegisterError != nil {
		return nil, m.RegisterError
	}
	return m.RegisterResult, nil
}

func (m *MockAPI) DeleteAccount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	return m.DeleteError
}

func (m *MockAPI) Health(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HealthCalls++
	return m.HealthError
}

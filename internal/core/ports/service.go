package ports

import (
	"context"
	"encoding/json"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
)

type BedAPI interface {
	ListBeds(ctx context.Context) ([]*domain.Bed, error)
	ListOccupiedBeds(ctx context.Context) ([]*domain.Bed, error)
	CleaningQueue(ctx context.Context, ward string) ([]*domain.Bed, error)
	UpdateBedStatus(ctx context.Context, bedID string, u domain.StatusUpdate, idemKey string) (*domain.Bed, error)
	SetDischargeTime(ctx context.Context, bedID string, u domain.DischargeUpdate, idemKey string) (*domain.Bed, error)
	MarkCleaningComplete(ctx context.Context, bedID string, notes string, idemKey string) (*domain.Bed, error)
}

type RequestAPI interface {
	ListEmergencyRequests(ctx context.Context) ([]*domain.EmergencyRequest, error)
	CreateEmergencyRequest(ctx context.Context, r domain.NewEmergencyRequest, idemKey string) (*domain.EmergencyRequest, error)
	ApproveEmergencyRequest(ctx context.Context, id, bedID string) (*domain.EmergencyRequest, error)
	RejectEmergencyRequest(ctx context.Context, id, reason string) (*domain.EmergencyRequest, error)
	UpdateEmergencyRequestStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.EmergencyRequest, error)
}

type AlertAPI interface {
	ListAlerts(ctx context.Context) ([]*domain.Alert, error)
	DismissAlert(ctx context.Context, id string) error
}

type AnalyticsAPI interface {
	OccupancySummary(ctx context.Context) (*domain.OccupancySummary, error)
	OccupancyByWard(ctx context.Context) ([]domain.WardOccupancy, error)
	Forecasting(ctx context.Context) (*domain.Forecast, error)
}

type AuthAPI interface {
	Login(ctx context.Context, c domain.Credentials) (*domain.AuthResult, error)
	Register(ctx context.Context, r domain.Registration) (*domain.AuthResult, error)
	DeleteAccount(ctx context.Context) error
}

type HealthAPI interface {
	Health(ctx context.Context) error
}

// TokenSource supplies the bearer token for REST calls and the channel handshake.
type TokenSource interface {
	Token() string
}

// EventHandler receives the raw data of one named channel event.
type EventHandler func(data json.RawMessage)

// EventChannel is the slice of the transport channel the core depends on.
type EventChannel interface {
	On(event string, h EventHandler) (off func())
	Emit(event string, payload any) error
	Connected() bool
}

// MutationApplier sends a queued mutation to the server and reports the
// updated bed.
type MutationApplier interface {
	Apply(ctx context.Context, m domain.PendingMutation) (*domain.Bed, error)
}

// SessionChannel is an EventChannel whose lifetime follows the user session.
type SessionChannel interface {
	EventChannel
	Connect(ctx context.Context, token string)
	Disconnect()
}

// ReplayTrigger asks the outbox relay to replay pending mutations now.
type ReplayTrigger interface {
	Notify()
}

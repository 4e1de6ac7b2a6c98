package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/metrics"
)

// Channel lifecycle events.
const (
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventReconnect       = "reconnect"
	EventReconnectFailed = "reconnect_failed"
)

// Server-pushed domain events.
const (
	EventBedStatusChanged         = "bedStatusChanged"
	EventBedMaintenanceNeeded     = "bedMaintenanceNeeded"
	EventBedCleaningStarted       = "bedCleaningStarted"
	EventBedCleaningCompleted     = "bedCleaningCompleted"
	EventOccupancyAlert           = "occupancyAlert"
	EventAlertCreated             = "alertCreated"
	EventAlertDismissed           = "alertDismissed"
	EventEmergencyRequestCreated  = "emergencyRequestCreated"
	EventEmergencyRequestApproved = "emergencyRequestApproved"
	EventEmergencyRequestRejected = "emergencyRequestRejected"
)

// EventJoinWard is emitted to scope the connection to a ward's room.
const EventJoinWard = "joinWard"

var errMissingID = errors.New("payload carries no record id")

// EventRelay turns pushed channel events into store mutations and, for the
// events people need to hear about, notifications.
type EventRelay struct {
	store    *StateStore
	notifier *Notifier
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewEventRelay(store *StateStore, notifier *Notifier, log *zap.Logger, m *metrics.Metrics) *EventRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventRelay{store: store, notifier: notifier, log: log, metrics: m}
}

// Events lists every domain event the relay consumes.
func (r *EventRelay) Events() []string {
	return []string{
		EventBedStatusChanged,
		EventBedMaintenanceNeeded,
		EventBedCleaningStarted,
		EventBedCleaningCompleted,
		EventOccupancyAlert,
		EventAlertCreated,
		EventAlertDismissed,
		EventEmergencyRequestCreated,
		EventEmergencyRequestApproved,
		EventEmergencyRequestRejected,
	}
}

// Attach subscribes the relay to ch and returns a func that unsubscribes it.
func (r *EventRelay) Attach(ch ports.EventChannel) func() {
	var offs []func()
	for _, event := range r.Events() {
		offs = append(offs, ch.On(event, func(data json.RawMessage) {
			r.Handle(event, data)
		}))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Handle applies one event. Malformed payloads are logged and dropped.
func (r *EventRelay) Handle(event string, data json.RawMessage) {
	var err error
	switch event {
	case EventBedStatusChanged, EventBedMaintenanceNeeded, EventBedCleaningStarted, EventBedCleaningCompleted:
		err = r.applyBed(event, data)
	case EventOccupancyAlert:
		err = r.applyOccupancyAlert(data)
	case EventAlertCreated:
		err = r.applyAlert(data)
	case EventAlertDismissed:
		err = r.dismissAlert(data)
	case EventEmergencyRequestCreated, EventEmergencyRequestApproved, EventEmergencyRequestRejected:
		err = r.applyRequest(event, data)
	default:
		r.log.Debug("Ignoring unknown event", zap.String("event", event))
		return
	}

	if errors.Is(err, domain.ErrStaleUpdate) {
		r.log.Debug("Dropped stale event", zap.String("event", event))
		return
	}
	if err != nil {
		r.log.Warn("Dropped malformed event", zap.String("event", event), zap.Error(err))
		return
	}
	r.metrics.EventApplied(event)
}

func (r *EventRelay) applyBed(event string, data json.RawMessage) error {
	bed, err := decodeWrapped[domain.Bed](data, "bed", "data")
	if err != nil {
		return err
	}
	if bed.ID == "" {
		return errMissingID
	}
	// A stale event still announces a real transition, so it notifies even
	// though the replica keeps the newer record.
	stored := r.store.UpsertBed(bed)
	if stored != nil && !errors.Is(stored, domain.ErrStaleUpdate) {
		return stored
	}

	switch event {
	case EventBedMaintenanceNeeded:
		r.notifier.Notify(ports.Notification{
			Event:    event,
			Title:    "Maintenance needed",
			Body:     fmt.Sprintf("Bed %s in %s needs maintenance", bed.BedID, bed.Ward),
			Ward:     bed.Ward,
			Severity: string(domain.SeverityHigh),
			RecordID: bed.ID,
		})
	case EventBedCleaningCompleted:
		r.notifier.Notify(ports.Notification{
			Event:    event,
			Title:    "Bed ready",
			Body:     fmt.Sprintf("Bed %s in %s has been cleaned and is available", bed.BedID, bed.Ward),
			Ward:     bed.Ward,
			RecordID: bed.ID,
		})
	}
	return stored
}

type occupancyPayload struct {
	Ward          string          `json:"ward"`
	Message       string          `json:"message"`
	OccupancyRate float64         `json:"occupancyRate"`
	Severity      domain.Severity `json:"severity"`
}

func (r *EventRelay) applyOccupancyAlert(data json.RawMessage) error {
	var p occupancyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if alert, err := decodeWrapped[domain.Alert](data, "alert", "data"); err == nil && alert.ID != "" {
		if err := r.store.UpsertAlert(alert); err != nil && !errors.Is(err, domain.ErrStaleUpdate) {
			return err
		}
		if p.Message == "" {
			p.Message = alert.Message
		}
		if p.Ward == "" {
			p.Ward = alert.Ward
		}
		if p.Severity == "" {
			p.Severity = alert.Severity
		}
	}

	body := p.Message
	if body == "" {
		body = fmt.Sprintf("%s is at %.0f%% occupancy", p.Ward, p.OccupancyRate)
	}
	r.notifier.Notify(ports.Notification{
		Event:    EventOccupancyAlert,
		Title:    "Occupancy alert",
		Body:     body,
		Ward:     p.Ward,
		Severity: string(p.Severity),
	})
	return nil
}

func (r *EventRelay) applyAlert(data json.RawMessage) error {
	alert, err := decodeWrapped[domain.Alert](data, "alert", "data")
	if err != nil {
		return err
	}
	if alert.ID == "" {
		return errMissingID
	}
	return r.store.UpsertAlert(alert)
}

func (r *EventRelay) dismissAlert(data json.RawMessage) error {
	id, err := alertIDFrom(data)
	if err != nil {
		return err
	}
	r.store.RemoveAlert(id)
	return nil
}

// alertIDFrom accepts a bare id string or an object carrying alertId, id or
// _id, in that order of preference.
func alertIDFrom(data json.RawMessage) (string, error) {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare == "" {
			return "", errMissingID
		}
		return bare, nil
	}
	var fields struct {
		AlertID string `json:"alertId"`
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", err
	}
	for _, id := range []string{fields.AlertID, fields.ID, fields.MongoID} {
		if id != "" {
			return id, nil
		}
	}
	return "", errMissingID
}

func (r *EventRelay) applyRequest(event string, data json.RawMessage) error {
	req, err := decodeWrapped[domain.EmergencyRequest](data, "request", "emergencyRequest", "data")
	if err != nil {
		return err
	}
	if req.ID == "" {
		return errMissingID
	}
	stored := r.store.UpsertRequest(req)
	if stored != nil && !errors.Is(stored, domain.ErrStaleUpdate) {
		return stored
	}

	note := ports.Notification{Event: event, Ward: req.Ward, Severity: string(req.Priority), RecordID: req.ID}
	switch event {
	case EventEmergencyRequestCreated:
		note.Title = "New emergency request"
		note.Body = fmt.Sprintf("%s priority: %s needs a bed in %s", req.Priority, req.PatientName, req.Ward)
	case EventEmergencyRequestApproved:
		note.Title = "Emergency request approved"
		note.Body = fmt.Sprintf("%s has been assigned bed %s", req.PatientName, req.AssignedBed)
	case EventEmergencyRequestRejected:
		note.Title = "Emergency request rejected"
		note.Body = fmt.Sprintf("Request for %s was rejected: %s", req.PatientName, req.RejectionReason)
	}
	r.notifier.Notify(note)
	return stored
}

// decodeWrapped decodes a record that the server may send bare or nested
// under one of keys.
func decodeWrapped[T any](data json.RawMessage, keys ...string) (*T, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty payload")
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	for _, k := range keys {
		inner := bytes.TrimSpace(envelope[k])
		if len(inner) > 0 && inner[0] == '{' {
			data = inner
			break
		}
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

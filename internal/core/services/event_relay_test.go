package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/mocks"
)

func newRelayFixture(t *testing.T) (*EventRelay, *StateStore, *mocks.MockNotificationPublisher, *Notifier, *mocks.MockChannel) {
	t.Helper()
	store := NewStateStore(nil)
	pub := mocks.NewMockNotificationPublisher()
	notifier := NewNotifier(pub, PermissionGranted, nil, nil)
	relay := NewEventRelay(store, notifier, nil, nil)
	ch := mocks.NewMockChannel()
	detach := relay.Attach(ch)
	t.Cleanup(detach)
	return relay, store, pub, notifier, ch
}

func TestEventRelay_BedEvents(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
		status  domain.BedStatus
		notify  bool
	}{
		{
			name:    "status_changed_bare",
			event:   EventBedStatusChanged,
			payload: `{"_id":"1","bedId":"iA1","ward":"ICU","status":"occupied","patientName":"Ann","updatedAt":"2025-03-14T09:05:00Z"}`,
			status:  domain.BedOccupied,
		},
		{
			name:    "cleaning_started_wrapped_in_bed",
			event:   EventBedCleaningStarted,
			payload: `{"bed":{"_id":"1","bedId":"iA1","ward":"ICU","status":"cleaning","updatedAt":"2025-03-14T09:05:00Z"}}`,
			status:  domain.BedCleaning,
		},
		{
			name:    "maintenance_wrapped_in_data_notifies",
			event:   EventBedMaintenanceNeeded,
			payload: `{"data":{"_id":"1","bedId":"iA1","ward":"ICU","status":"maintenance","updatedAt":"2025-03-14T09:05:00Z"}}`,
			status:  domain.BedMaintenance,
			notify:  true,
		},
		{
			name:    "cleaning_completed_notifies",
			event:   EventBedCleaningCompleted,
			payload: `{"_id":"1","bedId":"iA1","ward":"ICU","status":"available","updatedAt":"2025-03-14T09:05:00Z"}`,
			status:  domain.BedAvailable,
			notify:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, store, pub, notifier, ch := newRelayFixture(t)
			store.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})

			ch.Fire(tt.event, tt.payload)
			notifier.Wait()

			bed, ok := store.Bed("1")
			require.True(t, ok)
			assert.Equal(t, tt.status, bed.Status)
			assert.Len(t, store.Beds(), 1)
			if tt.notify {
				require.Len(t, pub.Notifications(), 1)
				assert.Equal(t, tt.event, pub.Notifications()[0].Event)
				assert.Contains(t, pub.Notifications()[0].Body, "iA1")
			} else {
				assert.Empty(t, pub.Notifications())
			}
		})
	}
}

func TestEventRelay_StaleBedEventDropped(t *testing.T) {
	_, store, _, _, ch := newRelayFixture(t)
	held := mocks.NewBed("1", "iA1", "ICU", domain.BedCleaning)
	held.UpdatedAt = mocks.BaseTime.Add(time.Hour)
	store.ReplaceBeds([]*domain.Bed{held})

	ch.Fire(EventBedStatusChanged, `{"_id":"1","bedId":"iA1","status":"occupied","updatedAt":"2025-03-14T09:00:00Z"}`)

	got, _ := store.Bed("1")
	assert.Same(t, held, got)
}

func TestEventRelay_UnknownBedIsAppended(t *testing.T) {
	_, store, _, _, ch := newRelayFixture(t)
	store.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})

	ch.Fire(EventBedStatusChanged, `{"_id":"7","bedId":"iA7","ward":"ICU","status":"cleaning"}`)

	beds := store.Beds()
	require.Len(t, beds, 2)
	assert.Equal(t, "7", beds[1].ID)
}

func TestEventRelay_MalformedPayloadsDropped(t *testing.T) {
	_, store, _, _, ch := newRelayFixture(t)
	store.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})

	ch.Fire(EventBedStatusChanged, `not json`)
	ch.Fire(EventBedStatusChanged, `{"bedId":"iA1","status":"occupied"}`)
	ch.Fire(EventBedStatusChanged, nil)

	bed, _ := store.Bed("1")
	assert.Equal(t, domain.BedAvailable, bed.Status)
	assert.Len(t, store.Beds(), 1)
}

func TestEventRelay_Alerts(t *testing.T) {
	_, store, pub, notifier, ch := newRelayFixture(t)
	store.ReplaceAlerts([]*domain.Alert{mocks.NewAlert("a1", "ICU", domain.SeverityHigh)})

	ch.Fire(EventAlertCreated, `{"alert":{"_id":"a2","type":"capacity","message":"Maternity full","severity":"critical","createdAt":"2025-03-14T09:01:00Z"}}`)
	require.Len(t, store.Alerts(), 2)

	for _, payload := range []string{`{"alertId":"a1"}`, `{"id":"a2"}`} {
		ch.Fire(EventAlertDismissed, payload)
	}
	assert.Empty(t, store.Alerts())

	ch.Fire(EventAlertCreated, `{"_id":"a3","message":"x","createdAt":"2025-03-14T09:01:00Z"}`)
	ch.Fire(EventAlertDismissed, `"a3"`)
	ch.Fire(EventAlertDismissed, `{"_id":"missing"}`)
	assert.Empty(t, store.Alerts())

	notifier.Wait()
	assert.Empty(t, pub.Notifications(), "plain alerts do not raise notifications")
}

func TestEventRelay_OccupancyAlert(t *testing.T) {
	t.Run("summary_only_notifies", func(t *testing.T) {
		_, store, pub, notifier, ch := newRelayFixture(t)

		ch.Fire(EventOccupancyAlert, `{"ward":"ICU","occupancyRate":93.4,"severity":"critical"}`)
		notifier.Wait()

		assert.Empty(t, store.Alerts())
		require.Len(t, pub.Notifications(), 1)
		n := pub.Notifications()[0]
		assert.Equal(t, "Occupancy alert", n.Title)
		assert.Equal(t, "ICU is at 93% occupancy", n.Body)
		assert.Equal(t, "critical", n.Severity)
	})

	t.Run("embedded_alert_is_stored", func(t *testing.T) {
		_, store, pub, notifier, ch := newRelayFixture(t)

		ch.Fire(EventOccupancyAlert, `{"alert":{"_id":"a9","message":"ICU nearly full","ward":"ICU","severity":"high","createdAt":"2025-03-14T09:00:00Z"}}`)
		notifier.Wait()

		require.Len(t, store.Alerts(), 1)
		require.Len(t, pub.Notifications(), 1)
		assert.Equal(t, "ICU nearly full", pub.Notifications()[0].Body)
		assert.Equal(t, "ICU", pub.Notifications()[0].Ward)
	})
}

func TestEventRelay_EmergencyRequests(t *testing.T) {
	_, store, pub, notifier, ch := newRelayFixture(t)

	ch.Fire(EventEmergencyRequestCreated, `{"request":{"_id":"r1","patientName":"Ann","ward":"ICU","priority":"critical","status":"pending","createdAt":"2025-03-14T09:00:00Z"}}`)
	require.Len(t, store.PendingRequests(), 1)

	ch.Fire(EventEmergencyRequestApproved, `{"_id":"r1","patientName":"Ann","ward":"ICU","status":"approved","assignedBed":"iA3","createdAt":"2025-03-14T09:00:00Z","updatedAt":"2025-03-14T09:02:00Z"}`)
	assert.Empty(t, store.PendingRequests())
	r, _ := store.Request("r1")
	assert.Equal(t, "iA3", r.AssignedBed)

	ch.Fire(EventEmergencyRequestRejected, `{"_id":"r2","patientName":"Bob","ward":"ICU","status":"rejected","rejectionReason":"No capacity","createdAt":"2025-03-14T09:00:00Z"}`)
	notifier.Wait()

	notes := pub.Notifications()
	require.Len(t, notes, 3)
	titles := []string{notes[0].Title, notes[1].Title, notes[2].Title}
	assert.ElementsMatch(t, []string{"New emergency request", "Emergency request approved", "Emergency request rejected"}, titles)
}

func TestEventRelay_StaleEventStillNotifies(t *testing.T) {
	_, store, pub, notifier, ch := newRelayFixture(t)

	held := mocks.NewRequest("r1", "Ann", "ICU", domain.RequestApproved)
	held.AssignedBed = "iA3"
	held.UpdatedAt = mocks.BaseTime.Add(time.Hour)
	store.ReplaceRequests([]*domain.EmergencyRequest{held})

	bed := mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)
	bed.UpdatedAt = mocks.BaseTime.Add(time.Hour)
	store.ReplaceBeds([]*domain.Bed{bed})

	ch.Fire(EventEmergencyRequestApproved, `{"_id":"r1","patientName":"Ann","ward":"ICU","status":"approved","assignedBed":"iA2","createdAt":"2025-03-14T09:00:00Z","updatedAt":"2025-03-14T09:02:00Z"}`)
	ch.Fire(EventBedCleaningCompleted, `{"_id":"1","bedId":"iA1","ward":"ICU","status":"available","updatedAt":"2025-03-14T09:05:00Z"}`)
	notifier.Wait()

	r, _ := store.Request("r1")
	assert.Same(t, held, r, "stale record is not stored")
	got, _ := store.Bed("1")
	assert.Same(t, bed, got)

	notes := pub.Notifications()
	require.Len(t, notes, 2)
	titles := []string{notes[0].Title, notes[1].Title}
	assert.ElementsMatch(t, []string{"Emergency request approved", "Bed ready"}, titles)
}

func TestEventRelay_DetachStopsDelivery(t *testing.T) {
	store := NewStateStore(nil)
	relay := NewEventRelay(store, nil, nil, nil)
	ch := mocks.NewMockChannel()

	detach := relay.Attach(ch)
	assert.Equal(t, 1, ch.HandlerCount(EventBedStatusChanged))
	detach()
	assert.Equal(t, 0, ch.HandlerCount(EventBedStatusChanged))

	ch.Fire(EventBedStatusChanged, `{"_id":"1","bedId":"iA1","status":"occupied"}`)
	assert.Empty(t, store.Beds())
}

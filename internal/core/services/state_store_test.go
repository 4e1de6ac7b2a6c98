package services

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/mocks"
)

func TestStateStore_ReplaceBeds(t *testing.T) {
	t.Run("id_set_equals_incoming_in_incoming_order", func(t *testing.T) {
		s := NewStateStore(nil)
		s.ReplaceBeds([]*domain.Bed{
			mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable),
			mocks.NewBed("2", "iA2", "ICU", domain.BedOccupied),
		})

		s.ReplaceBeds([]*domain.Bed{
			mocks.NewBed("3", "iA3", "ICU", domain.BedCleaning),
			mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied),
		})

		beds := s.Beds()
		require.Len(t, beds, 2)
		assert.Equal(t, "3", beds[0].ID)
		assert.Equal(t, "1", beds[1].ID)
		assert.Equal(t, domain.BedOccupied, beds[1].Status)
		_, ok := s.Bed("2")
		assert.False(t, ok)
	})

	t.Run("keeps_held_record_when_strictly_newer", func(t *testing.T) {
		s := NewStateStore(nil)
		fresh := mocks.NewBed("1", "iA1", "ICU", domain.BedCleaning)
		fresh.UpdatedAt = mocks.BaseTime.Add(time.Minute)
		require.NoError(t, s.UpsertBed(fresh))

		s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied)})

		got, ok := s.Bed("1")
		require.True(t, ok)
		assert.Same(t, fresh, got)
	})

	t.Run("equal_version_takes_incoming", func(t *testing.T) {
		s := NewStateStore(nil)
		require.NoError(t, s.UpsertBed(mocks.NewBed("1", "iA1", "ICU", domain.BedCleaning)))
		incoming := mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)

		s.ReplaceBeds([]*domain.Bed{incoming})

		got, _ := s.Bed("1")
		assert.Same(t, incoming, got)
	})

	t.Run("empty_fetch_clears_collection", func(t *testing.T) {
		s := NewStateStore(nil)
		s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})
		s.ReplaceBeds(nil)
		assert.Empty(t, s.Beds())
	})

	t.Run("duplicate_ids_collapse_to_one_entry", func(t *testing.T) {
		s := NewStateStore(nil)
		last := mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied)
		s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable), last})

		beds := s.Beds()
		require.Len(t, beds, 1)
		assert.Same(t, last, beds[0])
	})
}

func TestStateStore_UpsertBed(t *testing.T) {
	t.Run("replaces_existing_by_identity", func(t *testing.T) {
		s := NewStateStore(nil)
		s.ReplaceBeds([]*domain.Bed{
			mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable),
			mocks.NewBed("2", "iA2", "ICU", domain.BedAvailable),
		})
		update := mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied)
		update.UpdatedAt = mocks.BaseTime.Add(time.Second)

		require.NoError(t, s.UpsertBed(update))

		beds := s.Beds()
		require.Len(t, beds, 2)
		assert.Same(t, update, beds[0])
	})

	t.Run("unknown_id_is_appended", func(t *testing.T) {
		s := NewStateStore(nil)
		s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})

		require.NoError(t, s.UpsertBed(mocks.NewBed("9", "iA9", "ICU", domain.BedCleaning)))

		beds := s.Beds()
		require.Len(t, beds, 2)
		assert.Equal(t, "9", beds[1].ID)
	})

	t.Run("older_update_is_dropped", func(t *testing.T) {
		s := NewStateStore(nil)
		held := mocks.NewBed("1", "iA1", "ICU", domain.BedCleaning)
		require.NoError(t, s.UpsertBed(held))
		old := mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied)
		old.UpdatedAt = mocks.BaseTime.Add(-time.Minute)

		err := s.UpsertBed(old)

		assert.True(t, errors.Is(err, domain.ErrStaleUpdate))
		got, _ := s.Bed("1")
		assert.Same(t, held, got)
	})

	t.Run("missing_id_rejected", func(t *testing.T) {
		s := NewStateStore(nil)
		assert.ErrorIs(t, s.UpsertBed(&domain.Bed{BedID: "iA1"}), domain.ErrInvalidInput)
		assert.ErrorIs(t, s.UpsertBed(nil), domain.ErrInvalidInput)
	})
}

func TestStateStore_Selectors(t *testing.T) {
	s := NewStateStore(nil)
	s.ReplaceBeds([]*domain.Bed{
		mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable),
		mocks.NewBed("2", "iA2", "ICU", domain.BedOccupied),
		mocks.NewBed("3", "mB1", "Maternity", domain.BedCleaning),
		mocks.NewBed("4", "mB2", "Maternity", domain.BedMaintenance),
	})

	assert.Len(t, s.BedsByWard("ICU"), 2)
	assert.Len(t, s.BedsByStatus(domain.BedCleaning), 1)

	b, ok := s.BedByCode("mB2")
	require.True(t, ok)
	assert.Equal(t, "4", b.ID)
	_, ok = s.BedByCode("zz9")
	assert.False(t, ok)

	assert.Equal(t, domain.BedCounts{Total: 4, Available: 1, Occupied: 1, Cleaning: 1, Maintenance: 1}, s.Counts())
}

func TestStateStore_Alerts(t *testing.T) {
	s := NewStateStore(nil)
	s.ReplaceAlerts([]*domain.Alert{
		mocks.NewAlert("a1", "ICU", domain.SeverityHigh),
		mocks.NewAlert("a2", "ICU", domain.SeverityLow),
	})

	assert.True(t, s.RemoveAlert("a1"))
	assert.False(t, s.RemoveAlert("a1"))
	assert.False(t, s.RemoveAlert("missing"))

	alerts := s.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "a2", alerts[0].ID)

	require.NoError(t, s.UpsertAlert(mocks.NewAlert("a3", "ICU", domain.SeverityCritical)))
	assert.Len(t, s.Alerts(), 2)
}

func TestStateStore_Requests(t *testing.T) {
	s := NewStateStore(nil)
	s.ReplaceRequests([]*domain.EmergencyRequest{
		mocks.NewRequest("r1", "Ann", "ICU", domain.RequestPending),
		mocks.NewRequest("r2", "Bob", "ICU", domain.RequestApproved),
	})

	pending := s.PendingRequests()
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].ID)

	approved := mocks.NewRequest("r1", "Ann", "ICU", domain.RequestApproved)
	approved.UpdatedAt = mocks.BaseTime.Add(time.Minute)
	require.NoError(t, s.UpsertRequest(approved))
	assert.Empty(t, s.PendingRequests())

	r, ok := s.Request("r1")
	require.True(t, ok)
	assert.Same(t, approved, r)
}

func TestStateStore_Phases(t *testing.T) {
	s := NewStateStore(nil)
	s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})

	assert.Equal(t, PhaseIdle, s.Status(CollectionBeds).Fetch.Phase)

	s.BeginFetch(CollectionBeds)
	assert.Equal(t, PhaseLoading, s.Status(CollectionBeds).Fetch.Phase)

	s.FetchFailed(CollectionBeds, &domain.APIError{Status: 500, Message: "Server exploded"})
	st := s.Status(CollectionBeds)
	assert.Equal(t, PhaseFailed, st.Fetch.Phase)
	assert.Equal(t, "Server exploded", st.Fetch.Error)
	assert.Equal(t, 1, st.Size, "failed fetch keeps contents")
	assert.Equal(t, PhaseIdle, st.Mutate.Phase, "fetch and mutate phases are independent")

	s.BeginMutate(CollectionBeds)
	s.MutateFailed(CollectionBeds, errors.New("boom"))
	assert.Equal(t, "Request failed", s.Status(CollectionBeds).Mutate.Error)

	s.FetchSucceeded(CollectionBeds)
	assert.Equal(t, PhaseSucceeded, s.Status(CollectionBeds).Fetch.Phase)
	assert.Empty(t, s.Status(CollectionBeds).Fetch.Error)
}

func TestStateStore_ResetAndWatch(t *testing.T) {
	s := NewStateStore(nil)
	changes, cancel := s.Watch()
	defer cancel()

	s.ReplaceBeds([]*domain.Bed{mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)})
	s.SetBedsStale(true)
	s.Reset()

	first := <-changes
	assert.Equal(t, Change{Collection: CollectionBeds, Op: ChangeReplace, At: first.At}, first)

	assert.Empty(t, s.Beds())
	assert.False(t, s.BedsStale())
	assert.Equal(t, PhaseIdle, s.Status(CollectionBeds).Fetch.Phase)

	var ops []ChangeOp
	for i := 0; i < 3; i++ {
		ops = append(ops, (<-changes).Op)
	}
	assert.Equal(t, []ChangeOp{ChangeReset, ChangeReset, ChangeReset}, ops)

	cancel()
	_, open := <-changes
	assert.False(t, open)
}

package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/services"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/mocks"
)

type syncFixture struct {
	api          *mocks.MockAPI
	channel      *mocks.MockChannel
	store        *services.StateStore
	outbox       *mocks.MockOutbox
	queue        *services.WriteQueue
	connectivity *services.Connectivity
	handler      *SyncHandler
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	f := &syncFixture{
		api:          mocks.NewMockAPI(),
		channel:      mocks.NewMockChannel(),
		store:        services.NewStateStore(nil),
		outbox:       mocks.NewMockOutbox(),
		connectivity: services.NewConnectivity(),
	}
	f.queue = services.NewWriteQueue(f.outbox, nil, nil)
	f.handler = NewSyncHandler(SyncDeps{
		Store:        f.store,
		Beds:         services.NewBedService(f.api, f.store, f.queue, f.connectivity, nil),
		Alerts:       services.NewAlertService(f.api, f.store),
		Requests:     services.NewRequestService(f.api, f.store, nil),
		Connectivity: f.connectivity,
		Channel:      f.channel,
		Queue:        f.queue,
	})
	return f
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestSyncHandler_BedsSortedAndFiltered(t *testing.T) {
	f := newSyncFixture(t)
	f.store.ReplaceBeds([]*domain.Bed{
		mocks.NewBed("3", "iA10", "ICU", domain.BedOccupied),
		mocks.NewBed("1", "iA2", "ICU", domain.BedAvailable),
		mocks.NewBed("2", "iA1", "ICU", domain.BedOccupied),
		mocks.NewBed("4", "mB1", "Maternity", domain.BedOccupied),
	})

	rec := httptest.NewRecorder()
	f.handler.Beds(rec, httptest.NewRequest(http.MethodGet, "/beds?ward=ICU&status=occupied", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BedsResponse](t, rec)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "iA1", resp.Data[0].BedID)
	assert.Equal(t, "iA10", resp.Data[1].BedID)
	assert.Equal(t, 2, resp.Counts.Occupied)
	assert.False(t, resp.Stale)

	rec = httptest.NewRecorder()
	f.handler.Beds(rec, httptest.NewRequest(http.MethodGet, "/beds", nil))
	resp = decode[BedsResponse](t, rec)
	assert.Len(t, resp.Data, 4)
	assert.Equal(t, []string{"iA1", "iA2", "iA10", "mB1"}, []string{resp.Data[0].BedID, resp.Data[1].BedID, resp.Data[2].BedID, resp.Data[3].BedID})
}

func TestSyncHandler_State(t *testing.T) {
	f := newSyncFixture(t)
	f.channel.SetConnected(true)
	f.store.BeginFetch(services.CollectionBeds)
	f.store.FetchFailed(services.CollectionBeds, &domain.APIError{Status: 500, Message: "Database unavailable"})

	rec := httptest.NewRecorder()
	f.handler.State(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	resp := decode[StateResponse](t, rec)
	assert.True(t, resp.Online)
	assert.True(t, resp.ChannelConnected)
	require.NotNil(t, resp.OutboxDepth)
	assert.Zero(t, *resp.OutboxDepth)
	beds := resp.Collections[services.CollectionBeds]
	assert.Equal(t, services.PhaseFailed, beds.Fetch.Phase)
	assert.Equal(t, "Database unavailable", beds.Fetch.Error)
}

func patchStatus(bedID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPatch, "/beds/"+bedID+"/status", strings.NewReader(body))
	req.SetPathValue("bedId", bedID)
	return req
}

func TestSyncHandler_UpdateBedStatus(t *testing.T) {
	t.Run("online write returns the bed", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.SeedBeds(mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable))

		rec := httptest.NewRecorder()
		f.handler.UpdateBedStatus(rec, patchStatus("iA1", `{"status":"cleaning"}`))

		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[domain.MutationResult](t, rec)
		require.NotNil(t, res.Bed)
		assert.Equal(t, domain.BedCleaning, res.Bed.Status)
		assert.False(t, res.Queued)
	})

	t.Run("offline write is queued", func(t *testing.T) {
		f := newSyncFixture(t)
		f.connectivity.Set(false)

		rec := httptest.NewRecorder()
		f.handler.UpdateBedStatus(rec, patchStatus("iA1", `{"status":"cleaning"}`))

		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.True(t, decode[domain.MutationResult](t, rec).Queued)
		n, _ := f.outbox.Count(context.Background())
		assert.Equal(t, 1, n)
	})

	t.Run("validation error", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := httptest.NewRecorder()
		f.handler.UpdateBedStatus(rec, patchStatus("iA1", `{"status":"occupied"}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "patient name is required for an occupied bed", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("server rejection keeps status and message", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := httptest.NewRecorder()
		f.handler.UpdateBedStatus(rec, patchStatus("zz9", `{"status":"cleaning"}`))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Bed not found", decode[ErrorResponse](t, rec).Message)
	})

	t.Run("bad body", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := httptest.NewRecorder()
		f.handler.UpdateBedStatus(rec, patchStatus("iA1", `{`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSyncHandler_RequestActions(t *testing.T) {
	f := newSyncFixture(t)
	f.api.SeedRequests(mocks.NewRequest("r1", "Ada", "ICU", domain.RequestPending))

	req := httptest.NewRequest(http.MethodPatch, "/emergency-requests/r1/approve", strings.NewReader(`{"bedId":"iA1"}`))
	req.SetPathValue("id", "r1")
	rec := httptest.NewRecorder()
	f.handler.ApproveRequest(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RequestApproved, decode[domain.EmergencyRequest](t, rec).Status)

	req = httptest.NewRequest(http.MethodPatch, "/emergency-requests/r1/reject", strings.NewReader(`{}`))
	req.SetPathValue("id", "r1")
	rec = httptest.NewRecorder()
	f.handler.RejectRequest(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "a rejection needs a reason")
}

func bedRequest(method, path, bedID, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.SetPathValue("bedId", bedID)
	return req
}

func TestSyncHandler_DischargeAndCleaning(t *testing.T) {
	t.Run("discharge time is forwarded", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.SeedBeds(mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied))

		rec := httptest.NewRecorder()
		f.handler.SetDischargeTime(rec, bedRequest(http.MethodPatch, "/beds/iA1/discharge-time", "iA1",
			`{"estimatedDischargeTime":"2025-03-14T15:00:00Z","dischargeNotes":"after rounds"}`))

		require.Equal(t, http.StatusOK, rec.Code)
		res := decode[domain.MutationResult](t, rec)
		require.NotNil(t, res.Bed)
		require.NotNil(t, res.Bed.EstimatedDischargeTime)
		assert.Equal(t, "after rounds", res.Bed.DischargeNotes)
	})

	t.Run("discharge time is required", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := httptest.NewRecorder()
		f.handler.SetDischargeTime(rec, bedRequest(http.MethodPatch, "/beds/iA1/discharge-time", "iA1", `{}`))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, f.api.Writes())
	})

	t.Run("cleaning completes without a body", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.SeedBeds(mocks.NewBed("1", "iA1", "ICU", domain.BedCleaning))

		rec := httptest.NewRecorder()
		f.handler.MarkCleaningComplete(rec, bedRequest(http.MethodPut, "/beds/iA1/cleaning/mark-complete", "iA1", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.BedAvailable, decode[domain.MutationResult](t, rec).Bed.Status)
	})

	t.Run("offline cleaning is queued", func(t *testing.T) {
		f := newSyncFixture(t)
		f.connectivity.Set(false)

		rec := httptest.NewRecorder()
		f.handler.MarkCleaningComplete(rec, bedRequest(http.MethodPut, "/beds/iA1/cleaning/mark-complete", "iA1", `{"notes":"linen replaced"}`))

		require.Equal(t, http.StatusAccepted, rec.Code)
		entries := f.outbox.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, domain.MutationCleaningComplete, entries[0].Kind)
		assert.JSONEq(t, `{"notes":"linen replaced"}`, string(entries[0].Payload))
	})
}

func TestSyncHandler_BedProjections(t *testing.T) {
	f := newSyncFixture(t)
	f.api.SeedBeds(
		mocks.NewBed("1", "iA10", "ICU", domain.BedCleaning),
		mocks.NewBed("2", "iA2", "ICU", domain.BedCleaning),
		mocks.NewBed("3", "mB1", "Maternity", domain.BedCleaning),
		mocks.NewBed("4", "iA3", "ICU", domain.BedOccupied),
	)

	type listResponse struct {
		Data []*domain.Bed `json:"data"`
	}

	rec := httptest.NewRecorder()
	f.handler.CleaningQueue(rec, httptest.NewRequest(http.MethodGet, "/beds/cleaning-queue?ward=ICU", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	queue := decode[listResponse](t, rec).Data
	require.Len(t, queue, 2)
	assert.Equal(t, []string{"iA2", "iA10"}, []string{queue[0].BedID, queue[1].BedID})

	rec = httptest.NewRecorder()
	f.handler.OccupiedBeds(rec, httptest.NewRequest(http.MethodGet, "/beds/occupied", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	occupied := decode[listResponse](t, rec).Data
	require.Len(t, occupied, 1)
	assert.Equal(t, "iA3", occupied[0].BedID)
}

func TestSyncHandler_UpdateRequestStatus(t *testing.T) {
	f := newSyncFixture(t)
	f.api.SeedRequests(mocks.NewRequest("r1", "Ada", "ICU", domain.RequestPending))

	patch := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPatch, "/emergency-requests/r1", strings.NewReader(body))
		req.SetPathValue("id", "r1")
		rec := httptest.NewRecorder()
		f.handler.UpdateRequestStatus(rec, req)
		return rec
	}

	rec := patch(`{"status":"rejected"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RequestRejected, decode[domain.EmergencyRequest](t, rec).Status)
	held, ok := f.store.Request("r1")
	require.True(t, ok)
	assert.Equal(t, domain.RequestRejected, held.Status)

	assert.Equal(t, http.StatusBadRequest, patch(`{"status":"done"}`).Code)
}

func TestSyncHandler_BookBeds(t *testing.T) {
	post := func(f *syncFixture, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.handler.BookBeds(rec, httptest.NewRequest(http.MethodPost, "/emergency-requests/batch", strings.NewReader(body)))
		return rec
	}

	t.Run("partial failure reports each item", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := post(f, `{"requests":[
			{"patientName":"Ann","location":"ER bay 1","ward":"ICU","priority":"critical"},
			{"patientName":"Bob","ward":"ICU","priority":"high"},
			{"patientName":"Cy","location":"ER bay 3","ward":"Maternity","priority":"low"}
		]}`)

		require.Equal(t, http.StatusMultiStatus, rec.Code)
		resp := decode[BookBedsResponse](t, rec)
		require.Len(t, resp.Results, 3)
		require.NotNil(t, resp.Results[0].Request)
		assert.Equal(t, "Ann", resp.Results[0].Request.PatientName)
		assert.Nil(t, resp.Results[1].Request)
		assert.Equal(t, "location is required", resp.Results[1].Message)
		assert.Equal(t, 2, resp.Results[2].Index)
		require.Len(t, resp.Failed, 1)
		assert.Equal(t, "Bob", resp.Failed[0].PatientName)
		assert.Len(t, f.api.CreateCalls, 2)
	})

	t.Run("all created", func(t *testing.T) {
		f := newSyncFixture(t)
		rec := post(f, `{"requests":[{"patientName":"Ann","location":"ER bay 1","ward":"ICU","priority":"critical"}]}`)
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, decode[BookBedsResponse](t, rec).Failed)
	})

	t.Run("all failed keeps the failure status", func(t *testing.T) {
		f := newSyncFixture(t)
		f.api.CreateErrors = []error{&domain.APIError{Status: http.StatusConflict, Message: "No beds available"}}
		rec := post(f, `{"requests":[{"patientName":"Ann","location":"ER bay 1","ward":"ICU","priority":"critical"}]}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "No beds available", decode[BookBedsResponse](t, rec).Results[0].Message)
	})

	t.Run("empty batch", func(t *testing.T) {
		f := newSyncFixture(t)
		assert.Equal(t, http.StatusBadRequest, post(f, `{"requests":[]}`).Code)
		assert.Equal(t, http.StatusBadRequest, post(f, `[`).Code)
	})
}

func TestAnalyticsHandler(t *testing.T) {
	api := mocks.NewMockAPI()
	api.SeedBeds(
		mocks.NewBed("1", "iA1", "ICU", domain.BedOccupied),
		mocks.NewBed("2", "iA2", "ICU", domain.BedAvailable),
	)
	api.WardOccupancy = []domain.WardOccupancy{{Ward: "ICU", TotalBeds: 2, Occupied: 1, OccupancyRate: 50}}
	api.Forecast = &domain.Forecast{Ward: "ICU", ExpectedDischarges: 3}
	h := NewAnalyticsHandler(api, nil)

	rec := httptest.NewRecorder()
	h.OccupancySummary(rec, httptest.NewRequest(http.MethodGet, "/analytics/occupancy-summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[domain.OccupancySummary](t, rec)
	assert.Equal(t, 2, summary.TotalBeds)
	assert.Equal(t, 1, summary.Occupied)

	rec = httptest.NewRecorder()
	h.OccupancyByWard(rec, httptest.NewRequest(http.MethodGet, "/analytics/occupancy-by-ward", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	wards := decode[struct {
		Data []domain.WardOccupancy `json:"data"`
	}](t, rec).Data
	require.Len(t, wards, 1)
	assert.Equal(t, "ICU", wards[0].Ward)

	rec = httptest.NewRecorder()
	h.Forecasting(rec, httptest.NewRequest(http.MethodGet, "/analytics/forecasting", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[domain.Forecast](t, rec).ExpectedDischarges)

	api.AnalyticsError = fmt.Errorf("dial tcp: %w", domain.ErrTransport)
	rec = httptest.NewRecorder()
	h.Forecasting(rec, httptest.NewRequest(http.MethodGet, "/analytics/forecasting", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSyncHandler_DismissAlert(t *testing.T) {
	f := newSyncFixture(t)
	alert := mocks.NewAlert("a1", "ICU", domain.SeverityHigh)
	f.api.SeedAlerts(alert)
	f.store.ReplaceAlerts([]*domain.Alert{alert})

	req := httptest.NewRequest(http.MethodPatch, "/alerts/a1/dismiss", nil)
	req.SetPathValue("id", "a1")
	rec := httptest.NewRecorder()
	f.handler.DismissAlert(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.store.Alerts())
}

func TestSyncHandler_EventsStream(t *testing.T) {
	f := newSyncFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(f.handler.Events))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": stream started\n", line)

	require.NoError(t, f.store.UpsertBed(mocks.NewBed("1", "iA1", "ICU", domain.BedAvailable)))

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, "beds", event)
	var change services.Change
	require.NoError(t, json.Unmarshal([]byte(data), &change))
	assert.Equal(t, services.ChangeUpsert, change.Op)
	assert.Equal(t, "1", change.ID)
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("bed-sync-agent", nil)
	h.AddCheck("storage", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddCheck("channel", func(context.Context) error { return errors.New("not connected") })
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "DOWN", resp.Status)
	assert.Equal(t, "UP", resp.Checks["storage"].Status)
	assert.Equal(t, "not connected", resp.Checks["channel"].Message)

	rec = httptest.NewRecorder()
	h.Live(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", decode[HealthResponse](t, rec).Status)
}

type fakeSessions struct {
	user     *domain.User
	token    string
	loginErr error
	logouts  int
}

func (f *fakeSessions) Login(ctx context.Context, email, password string) (*domain.User, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.user = &domain.User{ID: "u1", Email: email, Role: domain.RoleWardStaff}
	f.token = "tok"
	return f.user, nil
}

func (f *fakeSessions) Logout(ctx context.Context) error {
	f.logouts++
	f.user = nil
	return nil
}

func (f *fakeSessions) User() (domain.User, bool) {
	if f.user == nil {
		return domain.User{}, false
	}
	return *f.user, true
}

func (f *fakeSessions) Token() string { return f.token }

type fakeAccounts struct{ err error }

func (f fakeAccounts) Register(ctx context.Context, r domain.Registration) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.User{ID: "new", Name: r.Name, Role: r.Role}, nil
}

func (f fakeAccounts) DeleteAccount(ctx context.Context) error { return f.err }

func TestSessionHandler(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewSessionHandler(sessions, fakeAccounts{}, nil)

	rec := httptest.NewRecorder()
	h.Current(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"email":"joy@ward.local","password":"secret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SessionResponse](t, rec)
	assert.Equal(t, "tok", resp.Token)
	assert.Equal(t, "joy@ward.local", resp.User.Email)

	rec = httptest.NewRecorder()
	h.Logout(rec, httptest.NewRequest(http.MethodDelete, "/session", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, sessions.logouts)
}

func TestSessionHandler_LoginErrors(t *testing.T) {
	h := NewSessionHandler(&fakeSessions{loginErr: &domain.APIError{Status: 401, Message: "Invalid credentials"}}, fakeAccounts{}, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"email":"a@b.c"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(`{"email":"a@b.c","password":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode[ErrorResponse](t, rec).Message)
}

func TestSessionHandler_Register(t *testing.T) {
	h := NewSessionHandler(&fakeSessions{}, fakeAccounts{}, nil)
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{"name":"Joy","role":"ward_staff"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Joy", decode[SessionResponse](t, rec).User.Name)

	h = NewSessionHandler(&fakeSessions{}, fakeAccounts{err: domain.ErrNoSession}, nil)
	rec = httptest.NewRecorder()
	h.DeleteAccount(rec, httptest.NewRequest(http.MethodDelete, "/account", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrOffline))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrTransport))
	assert.Equal(t, http.StatusConflict, statusFor(&domain.APIError{Status: 409}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}

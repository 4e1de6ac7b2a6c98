package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/domain"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/services"
)

const keepAliveInterval = 15 * time.Second

type BedUpdater interface {
	UpdateStatus(ctx context.Context, bedID string, u domain.StatusUpdate) (*domain.MutationResult, error)
	SetDischargeTime(ctx context.Context, bedID string, u domain.DischargeUpdate) (*domain.MutationResult, error)
	MarkCleaningComplete(ctx context.Context, bedID, notes string) (*domain.MutationResult, error)
	CleaningQueue(ctx context.Context, ward string) ([]*domain.Bed, error)
	OccupiedBeds(ctx context.Context) ([]*domain.Bed, error)
}

type AlertDismisser interface {
	Dismiss(ctx context.Context, id string) error
}

type RequestActions interface {
	Create(ctx context.Context, r domain.NewEmergencyRequest) (*domain.EmergencyRequest, error)
	Approve(ctx context.Context, id, bedID string) (*domain.EmergencyRequest, error)
	Reject(ctx context.Context, id, reason string) (*domain.EmergencyRequest, error)
	UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) (*domain.EmergencyRequest, error)
	BookBeds(ctx context.Context, items []domain.NewEmergencyRequest) ([]domain.BatchResult, []domain.NewEmergencyRequest)
}

type DepthSource interface {
	Depth(ctx context.Context) (int, error)
}

// SyncDeps is what the sync surface reads and drives. Queue is optional.
type SyncDeps struct {
	Store        *services.StateStore
	Beds         BedUpdater
	Alerts       AlertDismisser
	Requests     RequestActions
	Connectivity *services.Connectivity
	Channel      ports.EventChannel
	Queue        DepthSource
	Log          *zap.Logger
}

// SyncHandler serves the local replica to views and forwards their actions.
type SyncHandler struct {
	deps SyncDeps
	log  *zap.Logger
}

func NewSyncHandler(deps SyncDeps) *SyncHandler {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &SyncHandler{deps: deps, log: deps.Log}
}

type BedsResponse struct {
	Data   []*domain.Bed    `json:"data"`
	Counts domain.BedCounts `json:"counts"`
	Stale  bool             `json:"stale"`
}

// Beds returns the replica's beds in bed code order, optionally filtered by
// ward and status.
func (h *SyncHandler) Beds(w http.ResponseWriter, r *http.Request) {
	store := h.deps.Store
	ward := r.URL.Query().Get("ward")
	status := domain.BedStatus(r.URL.Query().Get("status"))

	var beds []*domain.Bed
	switch {
	case ward != "":
		beds = store.BedsByWard(ward)
	case status != "":
		beds = store.BedsByStatus(status)
	default:
		beds = store.Beds()
	}
	if ward != "" && status != "" {
		kept := beds[:0]
		for _, b := range beds {
			if b.Status == status {
				kept = append(kept, b)
			}
		}
		beds = kept
	}
	domain.SortBeds(beds)

	writeJSON(w, h.log, http.StatusOK, BedsResponse{
		Data:   beds,
		Counts: domain.CountBeds(beds),
		Stale:  store.BedsStale(),
	})
}

func (h *SyncHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]any{"data": h.deps.Store.Alerts()})
}

func (h *SyncHandler) Requests(w http.ResponseWriter, r *http.Request) {
	data := h.deps.Store.Requests()
	if r.URL.Query().Get("status") == string(domain.RequestPending) {
		data = h.deps.Store.PendingRequests()
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"data": data})
}

type StateResponse struct {
	Collections      map[services.CollectionName]services.CollectionStatus `json:"collections"`
	BedsStale        bool                                                  `json:"bedsStale"`
	Online           bool                                                  `json:"online"`
	ChannelConnected bool                                                  `json:"channelConnected"`
	OutboxDepth      *int                                                  `json:"outboxDepth,omitempty"`
}

// State reports the phase of each collection and the agent's connectivity.
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	store := h.deps.Store
	resp := StateResponse{
		Collections: map[services.CollectionName]services.CollectionStatus{},
		BedsStale:   store.BedsStale(),
		Online:      h.deps.Connectivity.Online(),
	}
	for _, name := range []services.CollectionName{services.CollectionBeds, services.CollectionAlerts, services.CollectionRequests} {
		resp.Collections[name] = store.Status(name)
	}
	if h.deps.Channel != nil {
		resp.ChannelConnected = h.deps.Channel.Connected()
	}
	if h.deps.Queue != nil {
		if n, err := h.deps.Queue.Depth(r.Context()); err == nil {
			resp.OutboxDepth = &n
		} else {
			h.log.Warn("Outbox depth unavailable", zap.Error(err))
		}
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

// UpdateBedStatus answers 200 with the updated bed, or 202 when the write
// was queued for replay.
func (h *SyncHandler) UpdateBedStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.mutationResult(w, func() (*domain.MutationResult, error) {
		return h.deps.Beds.UpdateStatus(r.Context(), r.PathValue("bedId"), req)
	})
}

func (h *SyncHandler) SetDischargeTime(w http.ResponseWriter, r *http.Request) {
	var req domain.DischargeUpdate
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.mutationResult(w, func() (*domain.MutationResult, error) {
		return h.deps.Beds.SetDischargeTime(r.Context(), r.PathValue("bedId"), req)
	})
}

// MarkCleaningComplete accepts an empty body; notes are optional.
func (h *SyncHandler) MarkCleaningComplete(w http.ResponseWriter, r *http.Request) {
	var body domain.CleaningComplete
	if err := decodeOptionalBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.mutationResult(w, func() (*domain.MutationResult, error) {
		return h.deps.Beds.MarkCleaningComplete(r.Context(), r.PathValue("bedId"), body.Notes)
	})
}

func (h *SyncHandler) mutationResult(w http.ResponseWriter, call func() (*domain.MutationResult, error)) {
	res, err := call()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, h.log, status, res)
}

// CleaningQueue and OccupiedBeds read the API directly; the replica does not
// hold these projections.
func (h *SyncHandler) CleaningQueue(w http.ResponseWriter, r *http.Request) {
	beds, err := h.deps.Beds.CleaningQueue(r.Context(), r.URL.Query().Get("ward"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"data": beds})
}

func (h *SyncHandler) OccupiedBeds(w http.ResponseWriter, r *http.Request) {
	beds, err := h.deps.Beds.OccupiedBeds(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"data": beds})
}

func (h *SyncHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Alerts.Dismiss(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SyncHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req domain.NewEmergencyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	created, err := h.deps.Requests.Create(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusCreated, created)
}

func (h *SyncHandler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BedID string `json:"bedId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.requestResult(w, func() (*domain.EmergencyRequest, error) {
		return h.deps.Requests.Approve(r.Context(), r.PathValue("id"), body.BedID)
	})
}

func (h *SyncHandler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RejectionReason string `json:"rejectionReason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.requestResult(w, func() (*domain.EmergencyRequest, error) {
		return h.deps.Requests.Reject(r.Context(), r.PathValue("id"), body.RejectionReason)
	})
}

func (h *SyncHandler) UpdateRequestStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status domain.RequestStatus `json:"status"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	h.requestResult(w, func() (*domain.EmergencyRequest, error) {
		return h.deps.Requests.UpdateStatus(r.Context(), r.PathValue("id"), body.Status)
	})
}

type BookBedsRequest struct {
	Requests []domain.NewEmergencyRequest `json:"requests"`
}

type BookBedsResponse struct {
	Results []domain.BatchResult         `json:"results"`
	Failed  []domain.NewEmergencyRequest `json:"failed,omitempty"`
}

// BookBeds creates each request independently. It answers 201 when all were
// created, 207 when some failed, and the first failure's status when none
// were.
func (h *SyncHandler) BookBeds(w http.ResponseWriter, r *http.Request) {
	var body BookBedsRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if len(body.Requests) == 0 {
		writeError(w, h.log, &domain.ValidationError{Field: "requests", Message: "at least one request is required"})
		return
	}

	results, failed := h.deps.Requests.BookBeds(r.Context(), body.Requests)
	status := http.StatusCreated
	switch {
	case len(failed) == len(results):
		status = statusFor(results[0].Err)
	case len(failed) > 0:
		status = http.StatusMultiStatus
	}
	writeJSON(w, h.log, status, BookBedsResponse{Results: results, Failed: failed})
}

func (h *SyncHandler) requestResult(w http.ResponseWriter, call func() (*domain.EmergencyRequest, error)) {
	req, err := call()
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, req)
}

// Events streams store changes as server-sent events until the client goes
// away.
func (h *SyncHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes, cancel := h.deps.Store.Watch()
	defer cancel()

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			payload, err := json.Marshal(c)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Collection, payload)
			flusher.Flush()
		}
	}
}

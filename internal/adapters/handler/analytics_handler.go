package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/AchilleasB/baby-kliniek/bed-sync-service/internal/core/ports"
)

// AnalyticsHandler forwards the analytics reports. They are fetched on demand
// and never replicated.
type AnalyticsHandler struct {
	api ports.AnalyticsAPI
	log *zap.Logger
}

func NewAnalyticsHandler(api ports.AnalyticsAPI, log *zap.Logger) *AnalyticsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsHandler{api: api, log: log}
}

func (h *AnalyticsHandler) OccupancySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.api.OccupancySummary(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, summary)
}

func (h *AnalyticsHandler) OccupancyByWard(w http.ResponseWriter, r *http.Request) {
	wards, err := h.api.OccupancyByWard(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, map[string]any{"data": wards})
}

func (h *AnalyticsHandler) Forecasting(w http.ResponseWriter, r *http.Request) {
	forecast, err := h.api.Forecasting(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, forecast)
}

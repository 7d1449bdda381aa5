package handler

import (
	"net/http"
	"strconv"

	"github.com/groupstage/predictor-backend/internal/dispatcher"
	"github.com/groupstage/predictor-backend/internal/http/response"
)

type AdminHandler struct {
	dispatcher *dispatcher.Dispatcher
	mode       string
}

func NewAdminHandler(d *dispatcher.Dispatcher, asyncEnabled bool) *AdminHandler {
	mode := "sync"
	if asyncEnabled {
		mode = "async"
	}
	return &AdminHandler{dispatcher: d, mode: mode}
}

// TriggerPredictionProcess handles POST /prediction/admin/trigger-prediction-process.
func (h *AdminHandler) TriggerPredictionProcess(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	queued, err := h.dispatcher.Trigger(r.Context(), limit)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	status, err := h.dispatcher.Status(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"queued": queued,
		"total":  status.Total,
		"mode":   h.mode,
	})
}

// ProcessingStatus handles GET /prediction/admin/processing-status.
func (h *AdminHandler) ProcessingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.dispatcher.Status(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"total":      status.Total,
		"processed":  status.Processed,
		"pending":    status.Pending,
		"queueDepth": status.QueueDepth,
	})
}

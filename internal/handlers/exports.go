package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

// ExportHandler schedules media exports and lists their outcomes.
type ExportHandler struct {
	Queue   ExportQueue
	Log     ExportLog
	Limiter RateLimiter
}

type exportRequest struct {
	VideoID  string `json:"videoId"`
	Filename string `json:"filename"`
}

// Handle dispatches /api/v1/exports by method.
func (h ExportHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodPost:
		h.Create(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Create handles POST /api/v1/exports.
func (h ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Queue == nil {
		respondError(ctx, w, http.StatusInternalServerError, "export unavailable")
		return
	}
	if !allowRequest(h.Limiter, r, "export") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.VideoID = strings.TrimSpace(req.VideoID)
	if req.VideoID == "" {
		respondError(ctx, w, http.StatusBadRequest, "videoId is required")
		return
	}

	if err := h.Queue.Enqueue(ctx, export.Job{VideoID: req.VideoID, Filename: req.Filename}); err != nil {
		if errors.Is(err, export.ErrClosed) {
			respondError(ctx, w, http.StatusServiceUnavailable, "export queue closed")
			return
		}
		respondError(ctx, w, http.StatusInternalServerError, "failed to schedule export")
		return
	}

	respondJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "queued", "videoId": req.VideoID})
}

// List handles GET /api/v1/exports?limit=.
func (h ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.Log == nil {
		respondError(ctx, w, http.StatusInternalServerError, "export log unavailable")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.Log.List(ctx, limit)
	if err != nil {
		respondError(ctx, w, http.StatusInternalServerError, "failed to list exports")
		return
	}
	if records == nil {
		records = []models.ExportRecord{}
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{"exports": records})
}

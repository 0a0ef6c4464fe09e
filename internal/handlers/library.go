package handlers

import "net/http"

// LibraryHandler exposes the library cache and analytics.
type LibraryHandler struct {
	Library   LibraryView
	Analytics StatsView
}

// Snapshot handles GET /api/v1/library.
func (h LibraryHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Library == nil {
		respondError(r.Context(), w, http.StatusInternalServerError, "library unavailable")
		return
	}

	respondJSON(r.Context(), w, http.StatusOK, h.Library.List())
}

// Refresh handles POST /api/v1/library/refresh. The refresh runs asynchronously.
func (h LibraryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Library == nil {
		respondError(r.Context(), w, http.StatusInternalServerError, "library unavailable")
		return
	}

	h.Library.Refresh()
	if h.Analytics != nil {
		h.Analytics.Refresh()
	}
	respondJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// Stats handles GET /api/v1/stats.
func (h LibraryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.Analytics == nil {
		respondError(r.Context(), w, http.StatusInternalServerError, "stats unavailable")
		return
	}

	respondJSON(r.Context(), w, http.StatusOK, h.Analytics.Snapshot())
}

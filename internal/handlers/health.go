package handlers

import "net/http"

// HealthHandler responds with client health information.
type HealthHandler struct {
	Session SessionView
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	signedIn := false
	if h.Session != nil {
		_, signedIn = h.Session.Current()
	}

	respondJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":   "ok",
		"signedIn": signedIn,
	})
}

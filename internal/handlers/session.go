package handlers

import (
	"net/http"
	"time"
)

// SessionHandler reports who the client is signed in as.
type SessionHandler struct {
	Session SessionView
}

type sessionResponse struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// Current handles GET /api/v1/session. The session token is never returned.
func (h SessionHandler) Current(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if h.Session == nil {
		respondError(ctx, w, http.StatusInternalServerError, "session service unavailable")
		return
	}

	session, ok := h.Session.Current()
	if !ok {
		respondError(ctx, w, http.StatusUnauthorized, "not signed in")
		return
	}

	respondJSON(ctx, w, http.StatusOK, sessionResponse{
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		IssuedAt:    session.IssuedAt,
	})
}

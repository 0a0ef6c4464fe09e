package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/vantagesearch/client/internal/api"
	"github.com/vantagesearch/client/internal/models"
	"github.com/vantagesearch/client/internal/search"
)

// SearchHandler runs natural-language queries through the search controller.
type SearchHandler struct {
	Searcher Searcher
	Limiter  RateLimiter
}

type searchResponse struct {
	Query   string                `json:"query"`
	Results []models.SearchResult `json:"results"`
}

// Search handles GET /api/v1/search?q=.
func (h SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if h.Searcher == nil {
		respondError(ctx, w, http.StatusInternalServerError, "search unavailable")
		return
	}
	if !allowRequest(h.Limiter, r, "search") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many requests")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		respondError(ctx, w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := h.Searcher.Search(ctx, query)
	if err != nil {
		switch {
		case errors.Is(err, api.ErrAuth):
			respondError(ctx, w, http.StatusUnauthorized, "session expired")
		case errors.Is(err, search.ErrSuperseded):
			respondError(ctx, w, http.StatusConflict, "superseded by a newer query")
		case errors.Is(err, search.ErrNetwork):
			respondError(ctx, w, http.StatusBadGateway, "search service unreachable")
		default:
			respondError(ctx, w, http.StatusBadGateway, "search failed")
		}
		return
	}

	if results == nil {
		results = []models.SearchResult{}
	}
	respondJSON(ctx, w, http.StatusOK, searchResponse{Query: query, Results: results})
}

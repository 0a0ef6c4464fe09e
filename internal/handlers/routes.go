package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Session: deps.Session}
	session := SessionHandler{Session: deps.Session}
	lib := LibraryHandler{Library: deps.Library, Analytics: deps.Stats}
	search := SearchHandler{Searcher: deps.Search, Limiter: deps.Limiter}
	exports := ExportHandler{Queue: deps.Exports, Log: deps.ExportLog, Limiter: deps.Limiter}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/api/v1/session", session.Current)
	mux.HandleFunc("/api/v1/library", lib.Snapshot)
	mux.HandleFunc("/api/v1/library/refresh", lib.Refresh)
	mux.HandleFunc("/api/v1/stats", lib.Stats)
	mux.HandleFunc("/api/v1/search", search.Search)
	mux.HandleFunc("/api/v1/exports", exports.Handle)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Session   SessionView
	Library   LibraryView
	Stats     StatsView
	Search    Searcher
	Exports   ExportQueue
	ExportLog ExportLog
	Limiter   RateLimiter
}

package handlers

import (
	"context"

	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/library"
	"github.com/vantagesearch/client/internal/models"
)

// SessionView exposes the signed-in user.
type SessionView interface {
	Current() (models.Session, bool)
}

// LibraryView exposes the cached library and lets callers request a refresh.
type LibraryView interface {
	List() library.Snapshot
	Refresh()
}

// StatsView exposes the last polled analytics counters.
type StatsView interface {
	Snapshot() library.StatsSnapshot
	Refresh()
}

// Searcher runs a natural-language query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// ExportQueue schedules background media exports.
type ExportQueue interface {
	Enqueue(ctx context.Context, job export.Job) error
}

// ExportLog lists recorded export outcomes.
type ExportLog interface {
	List(ctx context.Context, limit int) ([]models.ExportRecord, error)
}

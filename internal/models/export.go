package models

import "time"

// ExportStatus is the outcome of a media export.
type ExportStatus string

const (
	ExportStatusReady  ExportStatus = "ready"
	ExportStatusFailed ExportStatus = "failed"
)

// ExportRecord tracks where an exported video ended up.
type ExportRecord struct {
	VideoID   string       `json:"videoId"`
	Key       string       `json:"key"`
	Status    ExportStatus `json:"status"`
	Location  string       `json:"location,omitempty"`
	Size      int64        `json:"size"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

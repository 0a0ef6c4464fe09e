package models

import "time"

// UploadState is the state of the single upload task of an upload surface.
type UploadState string

const (
	UploadIdle      UploadState = "idle"
	UploadUploading UploadState = "uploading"
	UploadSuccess   UploadState = "success"
	UploadError     UploadState = "error"
)

// IsActive returns true while the upload request is in flight.
func (s UploadState) IsActive() bool {
	return s == UploadUploading
}

// IsFinished returns true once the upload has resolved either way.
func (s UploadState) IsFinished() bool {
	return s == UploadSuccess || s == UploadError
}

// UploadTask is the transient state of one file upload.
type UploadTask struct {
	Filename   string      `json:"filename,omitempty"`
	State      UploadState `json:"state"`
	VideoID    string      `json:"videoId,omitempty"`
	LastError  string      `json:"lastError,omitempty"`
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
}

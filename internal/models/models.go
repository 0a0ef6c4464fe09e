package models

import "time"

// Session represents the authenticated user of this client instance.
type Session struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Token       string    `json:"sessionToken"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// MediaAccessGrant is a short-lived signed token authorizing retrieval of one video
// or any clip cut from it.
type MediaAccessGrant struct {
	ResourceID string
	Token      string
	IssuedAt   time.Time
}

// VideoStatus is the server-side processing state of a video.
type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// VideoRecord is one entry of the user's library.
type VideoRecord struct {
	ID        string      `json:"id"`
	Filename  string      `json:"filename"`
	Status    VideoStatus `json:"status"`
	FileSize  int64       `json:"fileSize"`
	CreatedAt time.Time   `json:"createdAt"`
}

// LibraryStats are counts derived from the cached video set.
type LibraryStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Processing int `json:"processing"`
}

// ComputeLibraryStats derives LibraryStats from a video set.
func ComputeLibraryStats(videos []VideoRecord) LibraryStats {
	stats := LibraryStats{Total: len(videos)}
	for _, v := range videos {
		switch v.Status {
		case VideoStatusCompleted:
			stats.Completed++
		case VideoStatusProcessing:
			stats.Processing++
		}
	}
	return stats
}

// Analytics holds the aggregate counters reported by GET /stats.
type Analytics struct {
	TotalFramesAnalyzed int64 `json:"totalFramesAnalyzed"`
}

package repositories

import (
	"time"

	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

var now = func() time.Time { return time.Now().UTC() }

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func recordFor(result export.Result) models.ExportRecord {
	record := models.ExportRecord{
		VideoID:   result.Job.VideoID,
		Key:       result.Key,
		Status:    models.ExportStatusReady,
		Location:  result.Location,
		Size:      result.Size,
		UpdatedAt: now(),
	}
	if result.Err != nil {
		record.Status = models.ExportStatusFailed
		record.Location = ""
		record.Size = 0
		record.Error = result.Err.Error()
	}
	return record
}

func listLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

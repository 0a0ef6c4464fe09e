package repositories

import (
	"context"
	"fmt"

	"github.com/vantagesearch/client/internal/db"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

// PostgresExportRepository records export outcomes in PostgreSQL.
type PostgresExportRepository struct {
	pool db.Pool
}

// NewPostgresExportRepository constructs an export repository backed by PostgreSQL.
func NewPostgresExportRepository(pool db.Pool) *PostgresExportRepository {
	return &PostgresExportRepository{pool: pool}
}

// Report upserts the outcome of an export job.
func (r *PostgresExportRepository) Report(ctx context.Context, result export.Result) error {
	record := recordFor(result)

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO exports (video_id, object_key, status, location, size, error, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (video_id, object_key)
        DO UPDATE SET status = EXCLUDED.status,
            location = EXCLUDED.location,
            size = EXCLUDED.size,
            error = EXCLUDED.error,
            updated_at = EXCLUDED.updated_at
    `, record.VideoID, record.Key, string(record.Status), record.Location, record.Size, record.Error, record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert export: %w", err)
	}

	return nil
}

// List returns export records, most recent first.
func (r *PostgresExportRepository) List(ctx context.Context, limit int) ([]models.ExportRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT video_id, object_key, status, location, size, error, updated_at
        FROM exports
        ORDER BY updated_at DESC
        LIMIT $1
    `, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	var records []models.ExportRecord
	for rows.Next() {
		var (
			record models.ExportRecord
			status string
		)
		if err := rows.Scan(&record.VideoID, &record.Key, &status, &record.Location, &record.Size, &record.Error, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		record.Status = models.ExportStatus(status)
		record.UpdatedAt = record.UpdatedAt.UTC()
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}

	return records, nil
}

var _ export.Reporter = (*PostgresExportRepository)(nil)

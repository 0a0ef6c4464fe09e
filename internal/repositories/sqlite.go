package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

// InitSQLiteSchema creates the tables used by the SQLite stores if they don't exist.
func InitSQLiteSchema(ctx context.Context, conn *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS client_state (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS exports (
			video_id   TEXT NOT NULL,
			object_key TEXT NOT NULL,
			status     TEXT NOT NULL,
			location   TEXT NOT NULL DEFAULT '',
			size       INTEGER NOT NULL DEFAULT 0,
			error      TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (video_id, object_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}

// SQLiteStateStore persists client state to a local SQLite file.
type SQLiteStateStore struct {
	db *sql.DB
}

// NewSQLiteStateStore constructs a state store on an initialised database.
func NewSQLiteStateStore(conn *sql.DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: conn}
}

// Get loads the value stored under key.
func (s *SQLiteStateStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", auth.ErrStateNotFound
		}
		return "", fmt.Errorf("select state: %w", err)
	}
	return value, nil
}

// Set stores or replaces the value under key.
func (s *SQLiteStateStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatSQLiteTime(now()))
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

// Clear removes key. Clearing a missing key is not an error.
func (s *SQLiteStateStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_state WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// SQLiteExportRepository records export outcomes in SQLite.
type SQLiteExportRepository struct {
	db *sql.DB
}

// NewSQLiteExportRepository constructs an export repository on an initialised database.
func NewSQLiteExportRepository(conn *sql.DB) *SQLiteExportRepository {
	return &SQLiteExportRepository{db: conn}
}

// Report upserts the outcome of an export job.
func (r *SQLiteExportRepository) Report(ctx context.Context, result export.Result) error {
	record := recordFor(result)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exports (video_id, object_key, status, location, size, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (video_id, object_key) DO UPDATE SET
			status = excluded.status,
			location = excluded.location,
			size = excluded.size,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, record.VideoID, record.Key, string(record.Status), record.Location, record.Size, record.Error, formatSQLiteTime(record.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert export: %w", err)
	}
	return nil
}

// List returns export records, most recent first.
func (r *SQLiteExportRepository) List(ctx context.Context, limit int) ([]models.ExportRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT video_id, object_key, status, location, size, error, updated_at
		FROM exports ORDER BY updated_at DESC LIMIT ?
	`, listLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query exports: %w", err)
	}
	defer rows.Close()

	var records []models.ExportRecord
	for rows.Next() {
		var (
			record    models.ExportRecord
			status    string
			updatedAt string
		)
		if err := rows.Scan(&record.VideoID, &record.Key, &status, &record.Location, &record.Size, &record.Error, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		record.Status = models.ExportStatus(status)
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			record.UpdatedAt = t.UTC()
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exports: %w", err)
	}
	return records, nil
}

var _ auth.StateStore = (*SQLiteStateStore)(nil)
var _ export.Reporter = (*SQLiteExportRepository)(nil)

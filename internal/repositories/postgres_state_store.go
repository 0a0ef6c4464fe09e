package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/db"
)

// PostgresStateStore persists client state to PostgreSQL.
type PostgresStateStore struct {
	pool db.Pool
}

// NewPostgresStateStore constructs a state store backed by PostgreSQL.
func NewPostgresStateStore(pool db.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

// Get loads the value stored under key.
func (s *PostgresStateStore) Get(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var value string
	err = conn.QueryRow(ctx, `
        SELECT value
        FROM client_state
        WHERE key = $1
    `, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", auth.ErrStateNotFound
		}
		return "", fmt.Errorf("select state: %w", err)
	}

	return value, nil
}

// Set stores or replaces the value under key.
func (s *PostgresStateStore) Set(ctx context.Context, key, value string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO client_state (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key)
        DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
    `, key, value)
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return nil
}

// Clear removes key. Clearing a missing key is not an error.
func (s *PostgresStateStore) Clear(ctx context.Context, key string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `DELETE FROM client_state WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}

	return nil
}

var _ auth.StateStore = (*PostgresStateStore)(nil)

//go:build integration

package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresStateStore_SetGetAndClear(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	store := NewPostgresStateStore(testPool)
	key := "session-" + uuid.NewString()

	if _, err := store.Get(ctx, key); !errors.Is(err, auth.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound got %v", err)
	}

	if err := store.Set(ctx, key, "first"); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if err := store.Set(ctx, key, "second"); err != nil {
		t.Fatalf("overwrite state: %v", err)
	}

	value, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if value != "second" {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("clear state: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, auth.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound after clear got %v", err)
	}
}

func TestPostgresStateStore_SealedRoundTrip(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	sealed, err := auth.NewSealedStore(NewPostgresStateStore(testPool), "passphrase")
	if err != nil {
		t.Fatalf("new sealed store: %v", err)
	}
	if err := sealed.Set(ctx, "session", "secret-value"); err != nil {
		t.Fatalf("set sealed: %v", err)
	}

	raw, err := NewPostgresStateStore(testPool).Get(ctx, "session")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw == "secret-value" {
		t.Fatal("expected sealed value at rest")
	}

	value, err := sealed.Get(ctx, "session")
	if err != nil {
		t.Fatalf("get sealed: %v", err)
	}
	if value != "secret-value" {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestPostgresExportRepository_ReportAndList(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresExportRepository(testPool)

	if err := repo.Report(ctx, export.Result{Job: export.Job{VideoID: "v1"}, Key: "v1/v1.mp4", Err: errors.New("forbidden")}); err != nil {
		t.Fatalf("report failure: %v", err)
	}

	records, err := repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("list exports: %v", err)
	}
	if len(records) != 1 || records[0].Status != models.ExportStatusFailed || records[0].Error != "forbidden" {
		t.Fatalf("unexpected records %+v", records)
	}

	if err := repo.Report(ctx, export.Result{Job: export.Job{VideoID: "v1"}, Key: "v1/v1.mp4", Location: "s3://bucket/v1/v1.mp4", Size: 99}); err != nil {
		t.Fatalf("report success: %v", err)
	}

	records, err = repo.List(ctx, 10)
	if err != nil {
		t.Fatalf("list exports: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected retried export to replace the failure, got %d records", len(records))
	}
	got := records[0]
	if got.Status != models.ExportStatusReady || got.Location != "s3://bucket/v1/v1.mp4" || got.Size != 99 || got.Error != "" {
		t.Fatalf("unexpected record %+v", got)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE client_state, exports"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

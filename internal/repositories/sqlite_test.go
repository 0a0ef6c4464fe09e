package repositories

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/db"
	"github.com/vantagesearch/client/internal/export"
	"github.com/vantagesearch/client/internal/models"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := InitSQLiteSchema(ctx, conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return conn
}

func TestSQLiteStateStoreSetGetClear(t *testing.T) {
	ctx := context.Background()
	store := NewSQLiteStateStore(openTestSQLite(t))

	if _, err := store.Get(ctx, "session"); !errors.Is(err, auth.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound got %v", err)
	}

	if err := store.Set(ctx, "session", "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "session", "second"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	value, err := store.Get(ctx, "session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "second" {
		t.Fatalf("expected overwritten value, got %q", value)
	}

	if err := store.Clear(ctx, "session"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx, "session"); err != nil {
		t.Fatalf("clearing a missing key should succeed: %v", err)
	}
	if _, err := store.Get(ctx, "session"); !errors.Is(err, auth.ErrStateNotFound) {
		t.Fatalf("expected ErrStateNotFound after clear got %v", err)
	}
}

func TestSQLiteStateStoreBehindSealedStore(t *testing.T) {
	ctx := context.Background()
	conn := openTestSQLite(t)

	sealed, err := auth.NewSealedStore(NewSQLiteStateStore(conn), "passphrase")
	if err != nil {
		t.Fatalf("new sealed store: %v", err)
	}
	if err := sealed.Set(ctx, "session", `{"sessionToken":"abc"}`); err != nil {
		t.Fatalf("set: %v", err)
	}

	raw, err := NewSQLiteStateStore(conn).Get(ctx, "session")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if raw == `{"sessionToken":"abc"}` {
		t.Fatal("expected value to be sealed at rest")
	}

	reopened, err := auth.NewSealedStore(NewSQLiteStateStore(conn), "passphrase")
	if err != nil {
		t.Fatalf("reopen sealed store: %v", err)
	}
	value, err := reopened.Get(ctx, "session")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != `{"sessionToken":"abc"}` {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestSQLiteExportRepositoryReportAndList(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteExportRepository(openTestSQLite(t))

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	t.Cleanup(func() { now = func() time.Time { return time.Now().UTC() } })

	failed := export.Result{Job: export.Job{VideoID: "v1"}, Key: "v1/v1.mp4", Err: errors.New("forbidden")}
	if err := repo.Report(ctx, failed); err != nil {
		t.Fatalf("report failure: %v", err)
	}
	if err := repo.Report(ctx, export.Result{Job: export.Job{VideoID: "v2"}, Key: "v2/clip.mp4", Location: "/exports/v2/clip.mp4", Size: 42}); err != nil {
		t.Fatalf("report success: %v", err)
	}
	if err := repo.Report(ctx, export.Result{Job: export.Job{VideoID: "v1"}, Key: "v1/v1.mp4", Location: "/exports/v1/v1.mp4", Size: 7}); err != nil {
		t.Fatalf("report retry: %v", err)
	}

	records, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records got %d", len(records))
	}
	if records[0].VideoID != "v1" || records[0].Status != models.ExportStatusReady || records[0].Error != "" || records[0].Size != 7 {
		t.Fatalf("expected retried export to replace the failure, got %+v", records[0])
	}
	if records[1].VideoID != "v2" || records[1].Location != "/exports/v2/clip.mp4" {
		t.Fatalf("unexpected second record %+v", records[1])
	}
	if !records[0].UpdatedAt.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("unexpected updated at %v", records[0].UpdatedAt)
	}
}

func TestSQLiteExportRepositoryOrdersWithinOneSecond(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteExportRepository(openTestSQLite(t))

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	stamps := []time.Time{base, base.Add(100 * time.Millisecond), base.Add(time.Second)}
	tick := 0
	now = func() time.Time {
		ts := stamps[tick]
		tick++
		return ts
	}
	t.Cleanup(func() { now = func() time.Time { return time.Now().UTC() } })

	for _, id := range []string{"whole", "fraction", "later"} {
		if err := repo.Report(ctx, export.Result{Job: export.Job{VideoID: id}, Key: id + "/" + id + ".mp4", Location: "/exports/" + id}); err != nil {
			t.Fatalf("report %s: %v", id, err)
		}
	}

	records, err := repo.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var order []string
	for _, r := range records {
		order = append(order, r.VideoID)
	}
	if got := strings.Join(order, ","); got != "later,fraction,whole" {
		t.Fatalf("expected newest first, got %s", got)
	}
	if !records[1].UpdatedAt.Equal(stamps[1]) {
		t.Fatalf("unexpected updated at %v", records[1].UpdatedAt)
	}
}

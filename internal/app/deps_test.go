package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vantagesearch/client/internal/auth"
	"github.com/vantagesearch/client/internal/config"
	"github.com/vantagesearch/client/internal/logging"
	"github.com/vantagesearch/client/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		APIBaseURL:         "http://localhost:8000/api",
		StateBackend:       config.StateBackendSQLite,
		SQLitePath:         filepath.Join(dir, "state.db"),
		PollInterval:       time.Second,
		StatsPollInterval:  time.Second,
		UploadRefreshDelay: time.Second,
		GrantTTL:           time.Minute,
		RequestsPerSecond:  10,
		RequestBurst:       10,
		Export:             config.ExportConfig{Dir: filepath.Join(dir, "exports"), Workers: 1, QueueSize: 1},
	}
}

func TestBuildDependencies(t *testing.T) {
	cfg := testConfig(t)

	deps, cleanup, err := buildDependencies(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = cleanup(ctx)
	}()

	if deps.sessions == nil || deps.client == nil || deps.broker == nil {
		t.Fatal("expected session, client and broker to be configured")
	}
	if deps.library == nil || deps.stats == nil || deps.search == nil {
		t.Fatal("expected controllers to be configured")
	}
	if deps.exports == nil {
		t.Fatal("expected sqlite export log to be configured")
	}

	routes := deps.routes(nil)
	if routes.Exports != nil {
		t.Fatal("expected no export queue without an exporter")
	}
	if routes.ExportLog == nil || routes.Limiter == nil || routes.Session == nil {
		t.Fatalf("unexpected routes %+v", routes)
	}
}

func TestBuildDependenciesMemoryBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateBackend = config.StateBackendMemory

	deps, cleanup, err := buildDependencies(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup(context.Background())

	if deps.exports != nil {
		t.Fatal("expected no export log for the memory backend")
	}
	if routes := deps.routes(nil); routes.ExportLog != nil {
		t.Fatal("expected nil export log interface")
	}
}

func TestBuildDependenciesRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StateBackend = "redis"

	if _, _, err := buildDependencies(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestOpenStateBackendSQLite(t *testing.T) {
	cfg := testConfig(t)

	state, exports, closeFn, err := openStateBackend(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	defer closeFn()

	if exports == nil {
		t.Fatal("expected export log")
	}
	if err := state.Set(context.Background(), "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := state.Get(context.Background(), "missing"); err != auth.ErrStateNotFound {
		t.Fatalf("expected ErrStateNotFound got %v", err)
	}
}

func TestNewAssetStorageSelectsLocalWithoutBucket(t *testing.T) {
	cfg := testConfig(t)

	assets, err := newAssetStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new asset storage: %v", err)
	}
	if _, ok := assets.(*storage.LocalStorage); !ok {
		t.Fatalf("expected local storage, got %T", assets)
	}
}

func TestNewAssetStorageSelectsS3WithBucket(t *testing.T) {
	cfg := testConfig(t)
	cfg.ObjectStore = config.ObjectStoreConfig{Bucket: "exports", Region: "us-east-1", Endpoint: "http://localhost:9000"}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	assets, err := newAssetStorage(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new asset storage: %v", err)
	}
	if _, ok := assets.(*storage.S3Storage); !ok {
		t.Fatalf("expected s3 storage, got %T", assets)
	}
}

func TestMigrationBackoff(t *testing.T) {
	if got := migrationBackoff(1); got != migrationBaseBackoff {
		t.Fatalf("unexpected first backoff %s", got)
	}
	if got := migrationBackoff(10); got != migrationMaxBackoff {
		t.Fatalf("expected backoff to be capped, got %s", got)
	}
}

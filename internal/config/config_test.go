package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VANTAGE_API_URL", "")
	t.Setenv("VANTAGE_POLL_INTERVAL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "http://localhost:8000/api" {
		t.Fatalf("unexpected api url %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected 5s poll interval got %v", cfg.PollInterval)
	}
	if cfg.UploadRefreshDelay != 2*time.Second {
		t.Fatalf("expected 2s upload refresh delay got %v", cfg.UploadRefreshDelay)
	}
	if cfg.SearchLimit != 10 {
		t.Fatalf("expected search limit 10 got %d", cfg.SearchLimit)
	}
	if cfg.StateBackend != StateBackendSQLite {
		t.Fatalf("expected sqlite backend got %q", cfg.StateBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("VANTAGE_API_URL", "https://vantage.example.com/api")
	t.Setenv("VANTAGE_POLL_INTERVAL", "750ms")
	t.Setenv("VANTAGE_SEARCH_LIMIT", "25")
	t.Setenv("VANTAGE_SIGNING_TIMEOUT", "3s")
	t.Setenv("VANTAGE_S3_BUCKET", "exports")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIBaseURL != "https://vantage.example.com/api" {
		t.Fatalf("unexpected api url %q", cfg.APIBaseURL)
	}
	if cfg.PollInterval != 750*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.PollInterval)
	}
	if cfg.SearchLimit != 25 {
		t.Fatalf("unexpected search limit %d", cfg.SearchLimit)
	}
	if cfg.Timeouts.Signing != 3*time.Second {
		t.Fatalf("unexpected signing timeout %v", cfg.Timeouts.Signing)
	}
	if cfg.ObjectStore.Bucket != "exports" {
		t.Fatalf("unexpected bucket %q", cfg.ObjectStore.Bucket)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("VANTAGE_POLL_INTERVAL", "soon")
	t.Setenv("VANTAGE_SEARCH_LIMIT", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("expected fallback poll interval got %v", cfg.PollInterval)
	}
	if cfg.SearchLimit != 10 {
		t.Fatalf("expected fallback search limit got %d", cfg.SearchLimit)
	}
}

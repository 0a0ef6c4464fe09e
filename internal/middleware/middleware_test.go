package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vantagesearch/client/internal/logging"
)

func TestHostRateLimiterWaitsPerHost(t *testing.T) {
	limiter := NewHostRateLimiter(1, time.Hour, 1, time.Minute)

	ctx := context.Background()
	if err := limiter.Wait(ctx, "a.example.com"); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	if err := limiter.Wait(ctx, "b.example.com"); err != nil {
		t.Fatalf("other host should have its own bucket: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(short, "a.example.com"); err == nil {
		t.Fatal("expected exhausted bucket to block until the deadline")
	}
}

func TestHostRateLimiterAllow(t *testing.T) {
	l := NewHostRateLimiter(1, time.Hour, 2, time.Minute).(*hostRateLimiter)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.WithNowFunc(func() time.Time { return now })

	if !l.Allow("127.0.0.1") || !l.Allow("127.0.0.1") {
		t.Fatal("expected burst to be admitted")
	}
	if l.Allow("127.0.0.1") {
		t.Fatal("expected third request to be rejected")
	}
	if !l.Allow("10.0.0.1") {
		t.Fatal("expected independent bucket per key")
	}
}

func TestHostRateLimiterExpiresIdleBuckets(t *testing.T) {
	l := NewHostRateLimiter(1, time.Hour, 1, time.Minute).(*hostRateLimiter)
	now := time.Now()
	l.WithNowFunc(func() time.Time { return now })

	if err := l.Wait(context.Background(), "a"); err != nil {
		t.Fatalf("wait: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if err := l.Wait(context.Background(), "b"); err != nil {
		t.Fatalf("wait: %v", err)
	}

	l.mu.Lock()
	_, exists := l.buckets["a"]
	l.mu.Unlock()
	if exists {
		t.Fatal("expected idle bucket to be collected")
	}
}

func TestLoggingSetsRequestID(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get(RequestIDHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: Chain(http.DefaultTransport, Logging(logging.Discard()))}

	ctx := logging.WithRequestID(context.Background(), "req-42")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/videos?token=secret", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	resp.Body.Close()

	if got, _ := seen.Load().(string); got != "req-42" {
		t.Fatalf("expected propagated request id got %q", got)
	}
}

func TestRateLimitRoundTripperHonoursContext(t *testing.T) {
	calls := 0
	next := roundTripperFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})
	rt := RateLimit(blockingLimiter{})(next)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, errBlocked) {
		t.Fatalf("expected limiter error got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected request to be held back, got %d calls", calls)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	handler := RequestLogger(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

var errBlocked = errors.New("blocked")

type blockingLimiter struct{}

func (blockingLimiter) Wait(context.Context, string) error { return errBlocked }

func (blockingLimiter) Allow(string) bool { return false }

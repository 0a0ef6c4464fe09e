package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Fatal("expected default logger")
	}

	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Fatal("expected stored logger")
	}
}

func TestStartSpanPropagatesTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")
	ctx := WithLogger(context.Background(), logger)

	ctx, parent := StartSpan(ctx, "library.poll")
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		t.Fatal("expected trace id")
	}
	parentSpan := SpanIDFromContext(ctx)

	childCtx, child := StartSpan(ctx, "api.list")
	if TraceIDFromContext(childCtx) != traceID {
		t.Fatal("expected child span to share the trace id")
	}
	if SpanIDFromContext(childCtx) == parentSpan {
		t.Fatal("expected a fresh span id")
	}

	child.End(errors.New("boom"))
	parent.End(nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines got %d: %s", len(lines), buf.String())
	}

	var failed map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &failed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if failed["msg"] != "span failed" || failed["parent_span_id"] != parentSpan {
		t.Fatalf("unexpected failed span record: %v", failed)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if RequestIDFromContext(ctx) != "req-1" {
		t.Fatal("expected request id")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Fatal("expected empty request id")
	}
}

package logging

import (
	"context"
	"errors"
	"testing"
)

func TestNewLogger(t *testing.T) {
	logger := NewLogger()
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
	if logger.Logger == nil {
		t.Fatal("embedded slog.Logger is nil")
	}
}

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelationID(ctx); got != "" {
		t.Errorf("expected empty correlation ID on fresh context, got %q", got)
	}

	ctx = WithCorrelationID(ctx, "abc123")
	if got := GetCorrelationID(ctx); got != "abc123" {
		t.Errorf("GetCorrelationID() = %q, want %q", got, "abc123")
	}
}

func TestWithCorrelationID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	if got := GetCorrelationID(ctx); got == "" {
		t.Error("expected generated correlation ID, got empty string")
	}
}

func TestGenerateCorrelationID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateCorrelationID()
		if len(id) != 16 {
			t.Fatalf("expected 16 hex chars, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID %q", id)
		}
		seen[id] = true
	}
}

func TestWrapError(t *testing.T) {
	base := errors.New("boom")

	wrapped := WrapError(base, "saving replay for game %d", 42)
	if wrapped == nil {
		t.Fatal("expected non-nil wrapped error")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error should match base via errors.Is")
	}
	if wrapped.Error() != "saving replay for game 42: boom" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}

	if WrapError(nil, "context") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestLogMethods_DoNotPanic(t *testing.T) {
	logger := NewLogger()
	ctx := WithCorrelationID(context.Background(), "test")

	logger.Debug(ctx, "debug message", "room_id", "r1")
	logger.Info(ctx, "info message", "slot", 0)
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message", errors.New("boom"), "password", "should-be-redacted")
}

package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "mixed case warn", level: " WARN ", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if logger == nil {
				t.Fatal("logger should not be nil")
			}

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("chatty")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestTicketScope_ContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := WithTicketScope(context.Background(), "cid-123", 42)

	correlationID, ok := CorrelationIDFromContext(ctx)
	if !ok || correlationID != "cid-123" {
		t.Fatalf("correlation id=%q ok=%v, want cid-123", correlationID, ok)
	}
	ticketID, ok := TicketIDFromContext(ctx)
	if !ok || ticketID != 42 {
		t.Fatalf("ticket id=%d ok=%v, want 42", ticketID, ok)
	}
}

func TestTicketScope_MissingValue(t *testing.T) {
	t.Parallel()

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("expected correlation id to be missing")
	}
	if _, ok := TicketIDFromContext(context.Background()); ok {
		t.Fatal("expected ticket id to be missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx := WithTicketScope(context.Background(), "cid-789", 7)
	WithContextLogger(baseLogger, ctx).Info("processing ticket")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}

	fields := entries[0].ContextMap()
	if got := fields["correlationId"]; got != "cid-789" {
		t.Fatalf("correlationId=%v, want=%q", got, "cid-789")
	}
	if got := fields["ticketId"]; got != int64(7) {
		t.Fatalf("ticketId=%v, want=7", got)
	}
}

func TestWithContextLogger_NoScope(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	WithContextLogger(baseLogger, context.Background()).Info("idle")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}
	if _, ok := entries[0].ContextMap()["ticketId"]; ok {
		t.Fatal("expected ticketId field to be absent")
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}

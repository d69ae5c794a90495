package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestCorrelationID_RoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationIDFromContext(ctx); got != "abc-123" {
		t.Errorf("CorrelationIDFromContext() = %q, want abc-123", got)
	}
	if got := CorrelationIDFromContext(context.Background()); got != "" {
		t.Errorf("CorrelationIDFromContext(empty) = %q, want empty", got)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Error("LoggerFromContext(empty) != nil")
	}
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)
	if LoggerFromContext(ctx) != logger {
		t.Error("LoggerFromContext() did not return stored logger")
	}
	if LoggerFromContext(WithLogger(context.Background(), nil)) != nil {
		t.Error("LoggerFromContext(nil logger) != nil")
	}
}

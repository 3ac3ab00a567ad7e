package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	base := context.Background()

	tests := []struct {
		name   string
		ctx    context.Context
		wantID string
		wantOK bool
	}{
		{name: "set", ctx: WithCorrelationID(base, "cid-123"), wantID: "cid-123", wantOK: true},
		{name: "empty id is not stored", ctx: WithCorrelationID(base, "")},
		{name: "missing", ctx: base},
		{name: "nil context", ctx: nil},
	}

	for _, tt := range tests {
		id, ok := CorrelationIDFromContext(tt.ctx)
		if id != tt.wantID || ok != tt.wantOK {
			t.Fatalf("%s: CorrelationIDFromContext() = %q, %v; want %q, %v", tt.name, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithContextLogger(base, WithCorrelationID(context.Background(), "cid-789")).Info("with id")
	WithContextLogger(base, context.Background()).Info("without id")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if got := entries[0].ContextMap()["correlationId"]; got != "cid-789" {
		t.Fatalf("correlationId = %v, want cid-789", got)
	}
	if _, ok := entries[1].ContextMap()["correlationId"]; ok {
		t.Fatal("correlationId should be absent without one in context")
	}

	if WithContextLogger(nil, context.Background()) != nil {
		t.Fatal("nil logger should stay nil")
	}
}

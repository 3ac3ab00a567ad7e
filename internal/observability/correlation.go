package observability

import (
	"context"

	"go.uber.org/zap"
)

// correlationIDField is the log key shared by every process.
const correlationIDField = "correlationId"

type correlationIDKey struct{}

// WithCorrelationID attaches the id of the request or job a batch runs for.
// An empty id leaves ctx untouched.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok && id != ""
}

// CorrelationID is the log field for a correlation id.
func CorrelationID(id string) zap.Field {
	return zap.String(correlationIDField, id)
}

// WithContextLogger scopes logger to the correlation id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if id, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(CorrelationID(id))
	}
	return logger
}

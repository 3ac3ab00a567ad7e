package observability

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLevel = "info"

// NewLogger builds the JSON logger shared by every process. component tags each
// entry (api, worker, vapidctl) so the processes can write to one sink.
func NewLogger(component, level string) (*zap.Logger, error) {
	parsed, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	if component = strings.TrimSpace(component); component != "" {
		cfg.InitialFields = map[string]any{"component": component}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build %s logger: %w", component, err)
	}
	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = defaultLevel
	}

	parsed, err := zapcore.ParseLevel(normalized)
	if err != nil {
		return zapcore.InvalidLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// OriginHost reduces a push endpoint or origin to its host. Endpoint paths
// identify a single device and are kept out of logs and metrics.
func OriginHost(endpoint string) string {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Host)
}

// PushService is the log field for a target's push service host.
func PushService(endpoint string) zap.Field {
	return zap.String("pushService", OriginHost(endpoint))
}

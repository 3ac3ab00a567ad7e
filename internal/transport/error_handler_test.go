package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantLevel   zapcore.Level
	}{
		{
			name:        "fiber error keeps code and message",
			err:         fiber.NewError(fiber.StatusNotFound, "subscription not found"),
			wantStatus:  fiber.StatusNotFound,
			wantMessage: "subscription not found",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "unavailable is logged as error",
			err:         fiber.NewError(fiber.StatusServiceUnavailable, "signing unavailable"),
			wantStatus:  fiber.StatusServiceUnavailable,
			wantMessage: "signing unavailable",
			wantLevel:   zapcore.ErrorLevel,
		},
		{
			name:        "plain error is hidden",
			err:         errors.New("pq: connection refused"),
			wantStatus:  fiber.StatusInternalServerError,
			wantMessage: internalErrorMessage,
			wantLevel:   zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, recorded := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Get("/boom", func(c *fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/boom", nil)
			req.Header.Set(fiber.HeaderXRequestID, "req-1")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			raw, _ := io.ReadAll(resp.Body)
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if body["error"] != tt.wantMessage {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantMessage)
			}

			entries := recorded.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if got := entries[0].ContextMap()["correlationId"]; got != "req-1" {
				t.Fatalf("correlationId = %v, want req-1", got)
			}
		})
	}
}

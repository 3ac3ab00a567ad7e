package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// maxReasonLength caps how much of a push service response body is kept.
const maxReasonLength = 256

// PushServiceError is a delivery the push service refused or never answered.
// StatusCode is zero when no response arrived.
type PushServiceError struct {
	StatusCode int
	Reason     string
	RetryAfter time.Duration
	Err        error
}

func (e *PushServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}

	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return "push service unreachable: " + e.Err.Error()
	case e.StatusCode == 0:
		return "push service unreachable"
	case e.Reason != "":
		return fmt.Sprintf("push service responded %d: %s", e.StatusCode, e.Reason)
	default:
		return fmt.Sprintf("push service responded %d", e.StatusCode)
	}
}

func (e *PushServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Temporary is true for 429, 5xx and transport failures other than cancellation.
func (e *PushServiceError) Temporary() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// IsTransient reports whether a failure looks temporary. Nothing is retried
// within a batch; the flag only feeds logs.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var pushErr *PushServiceError
	if errors.As(err, &pushErr) {
		return pushErr.Temporary()
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCode returns the push service status carried by err, or zero.
func StatusCode(err error) int {
	var pushErr *PushServiceError
	if errors.As(err, &pushErr) {
		return pushErr.StatusCode
	}
	return 0
}

// RetryAfter returns the back-off the push service asked for, or zero.
func RetryAfter(err error) time.Duration {
	var pushErr *PushServiceError
	if errors.As(err, &pushErr) {
		return pushErr.RetryAfter
	}
	return 0
}

// Classify maps a Send result onto the outcome of one target. 404 and 410 mean
// the subscription is gone for good.
func Classify(err error) domain.OutcomeStatus {
	if err == nil {
		return domain.OutcomeDelivered
	}

	switch StatusCode(err) {
	case http.StatusNotFound, http.StatusGone:
		return domain.OutcomeStale
	case http.StatusTooManyRequests:
		return domain.OutcomeRateLimited
	default:
		return domain.OutcomeFailed
	}
}

func truncateReason(body string) string {
	if len(body) <= maxReasonLength {
		return body
	}
	return body[:maxReasonLength] + "..."
}

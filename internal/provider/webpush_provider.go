package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/push-engine/internal/webpush"
)

const (
	defaultPushTimeout = 10 * time.Second
	userAgent          = "push-engine"
)

// WebPushProvider posts encrypted messages to subscription endpoints. It never
// retries; a failed target is reported once per batch.
type WebPushProvider struct {
	client *resty.Client
}

func NewWebPushProvider(timeout time.Duration) *WebPushProvider {
	if timeout <= 0 {
		timeout = defaultPushTimeout
	}

	provider, _ := NewWebPushProviderWithClient(resty.New().SetTimeout(timeout))
	return provider
}

func NewWebPushProviderWithClient(client *resty.Client) (*WebPushProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultPushTimeout)
	}
	client.SetRetryCount(0).SetHeader("User-Agent", userAgent)

	return &WebPushProvider{client: client}, nil
}

func (p *WebPushProvider) Send(ctx context.Context, req *webpush.Request) (*Receipt, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("provider is not initialized")
	}
	if req == nil || strings.TrimSpace(req.Endpoint) == "" {
		return nil, fmt.Errorf("push request endpoint is required")
	}

	r := p.client.R().SetContext(ctx).SetBody(req.Body)
	for key, values := range req.Header {
		for _, value := range values {
			r.Header.Add(key, value)
		}
	}

	resp, err := r.Post(req.Endpoint)
	if err != nil {
		return nil, &PushServiceError{Err: err}
	}

	status := resp.StatusCode()
	if status >= http.StatusOK && status < http.StatusMultipleChoices {
		return &Receipt{
			StatusCode: status,
			Location:   strings.TrimSpace(resp.Header().Get("Location")),
		}, nil
	}

	return nil, &PushServiceError{
		StatusCode: status,
		Reason:     truncateReason(strings.TrimSpace(resp.String())),
		RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"), time.Now()),
	}
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms. Anything
// unparseable or already past yields zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

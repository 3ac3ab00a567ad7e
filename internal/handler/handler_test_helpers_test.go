package handler

import (
	"bytes"
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
	"github.com/kursadbilgin/push-engine/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type stubPushSender struct {
	sendFn      func(ctx context.Context, spec domain.RecipientSpec, payload domain.NotificationPayload, options ...service.SendOption) (domain.BatchResult, error)
	publicKeyFn func(ctx context.Context) ([]byte, error)
}

func (s *stubPushSender) SendTo(
	ctx context.Context,
	spec domain.RecipientSpec,
	payload domain.NotificationPayload,
	options ...service.SendOption,
) (domain.BatchResult, error) {
	if s.sendFn != nil {
		return s.sendFn(ctx, spec, payload, options...)
	}
	return domain.BatchResult{}, errors.New("not implemented")
}

func (s *stubPushSender) PublicKeyForClients(ctx context.Context) ([]byte, error) {
	if s.publicKeyFn != nil {
		return s.publicKeyFn(ctx)
	}
	return nil, domain.ErrKeyUnavailable
}

type stubPublisher struct {
	mu        sync.Mutex
	published []queue.PushJobMessage
	err       error
}

func (p *stubPublisher) Publish(_ context.Context, msg queue.PushJobMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *stubPublisher) messages() []queue.PushJobMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.PushJobMessage(nil), p.published...)
}

type stubSubscriptionService struct {
	subscribeFn   func(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	unsubscribeFn func(ctx context.Context, endpoint string) error
	assignFn      func(ctx context.Context, id string, applicationID string) error
}

func (s *stubSubscriptionService) Subscribe(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if s.subscribeFn != nil {
		return s.subscribeFn(ctx, sub)
	}
	return nil, errors.New("not implemented")
}

func (s *stubSubscriptionService) Unsubscribe(ctx context.Context, endpoint string) error {
	if s.unsubscribeFn != nil {
		return s.unsubscribeFn(ctx, endpoint)
	}
	return nil
}

func (s *stubSubscriptionService) AssignApplication(ctx context.Context, id string, applicationID string) error {
	if s.assignFn != nil {
		return s.assignFn(ctx, id, applicationID)
	}
	return nil
}

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
}

func newPushTestApp(t *testing.T, sender PushSender, publisher JobPublisher) *fiber.App {
	t.Helper()

	app := newTestApp()
	if err := RegisterPushRoutes(app, sender, publisher); err != nil {
		t.Fatalf("RegisterPushRoutes() error = %v", err)
	}
	return app
}

func newSubscriptionTestApp(t *testing.T, svc SubscriptionService) *fiber.App {
	t.Helper()

	app := newTestApp()
	if err := RegisterSubscriptionRoutes(app, svc); err != nil {
		t.Fatalf("RegisterSubscriptionRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string, headers ...string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}

func redisPinger(rdb *redis.Client) Pinger {
	return PingFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

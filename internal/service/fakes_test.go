package service

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"sync"
	"testing"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/provider"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	"github.com/kursadbilgin/push-engine/internal/webpush"
)

type fakeSubscriptionRepo struct {
	mu            sync.Mutex
	subs          []domain.Subscription
	deleted       []string
	nextID        int
	deleteErr     error
	listErr       error
	listByOwnerFn func(ownerID string) []domain.Subscription
}

func (f *fakeSubscriptionRepo) Upsert(ctx context.Context, s *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.subs {
		if f.subs[i].Endpoint == s.Endpoint {
			f.subs[i].Keys = s.Keys
			if s.OwnerID != nil {
				f.subs[i].OwnerID = s.OwnerID
			}
			*s = f.subs[i]
			return nil
		}
	}

	f.nextID++
	s.ID = fmt.Sprintf("sub-%d", f.nextID)
	f.subs = append(f.subs, *s)
	return nil
}

func (f *fakeSubscriptionRepo) GetByID(ctx context.Context, id string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.subs {
		if f.subs[i].ID == id {
			sub := f.subs[i]
			return &sub, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSubscriptionRepo) ListByOwner(ctx context.Context, ownerID string) ([]domain.Subscription, error) {
	if f.listByOwnerFn != nil {
		return f.listByOwnerFn(ownerID), nil
	}
	return f.filter(func(s domain.Subscription) bool { return s.OwnerID != nil && *s.OwnerID == ownerID })
}

func (f *fakeSubscriptionRepo) ListByApplication(ctx context.Context, applicationID string) ([]domain.Subscription, error) {
	return f.filter(func(s domain.Subscription) bool { return s.ApplicationID != nil && *s.ApplicationID == applicationID })
}

func (f *fakeSubscriptionRepo) ListAll(ctx context.Context) ([]domain.Subscription, error) {
	return f.filter(func(domain.Subscription) bool { return true })
}

func (f *fakeSubscriptionRepo) filter(keep func(domain.Subscription) bool) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Subscription
	for _, s := range f.subs {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSubscriptionRepo) AssignApplication(ctx context.Context, id string, applicationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.subs {
		if f.subs[i].ID == id {
			app := applicationID
			f.subs[i].ApplicationID = &app
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeSubscriptionRepo) Delete(ctx context.Context, id string) error {
	return f.remove(ctx, func(s domain.Subscription) bool { return s.ID == id })
}

func (f *fakeSubscriptionRepo) DeleteByEndpoint(ctx context.Context, endpoint string) error {
	return f.remove(ctx, func(s domain.Subscription) bool { return s.Endpoint == endpoint })
}

func (f *fakeSubscriptionRepo) remove(ctx context.Context, match func(domain.Subscription) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.subs {
		if match(f.subs[i]) {
			f.deleted = append(f.deleted, f.subs[i].Identity())
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeSubscriptionRepo) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

type fakeKeyProvider struct {
	kp  *vapid.KeyPair
	err error
}

func (f *fakeKeyProvider) GetKeyPair(ctx context.Context) (*vapid.KeyPair, error) {
	return f.kp, f.err
}

func (f *fakeKeyProvider) PublicKeyForClients(ctx context.Context) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.kp.PublicKeyBytes()
}

type fakeProvider struct {
	sendFn func(ctx context.Context, req *webpush.Request) (*provider.Receipt, error)
}

func (f *fakeProvider) Send(ctx context.Context, req *webpush.Request) (*provider.Receipt, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &provider.Receipt{StatusCode: 201}, nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeSender struct {
	sendFn func(ctx context.Context, spec domain.RecipientSpec, payload domain.NotificationPayload, options ...SendOption) (domain.BatchResult, error)
}

func (f *fakeSender) SendTo(ctx context.Context, spec domain.RecipientSpec, payload domain.NotificationPayload, options ...SendOption) (domain.BatchResult, error) {
	return f.sendFn(ctx, spec, payload, options...)
}

func newClientKeys(t *testing.T) domain.ClientKeys {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	auth := make([]byte, domain.AuthSecretLength)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return domain.ClientKeys{P256dh: key.PublicKey().Bytes(), Auth: auth}
}

func newSubscription(t *testing.T, id string, endpoint string, ownerID string) domain.Subscription {
	t.Helper()

	sub := domain.Subscription{ID: id, Endpoint: endpoint, Keys: newClientKeys(t)}
	if ownerID != "" {
		owner := ownerID
		sub.OwnerID = &owner
	}
	return sub
}

func newVapidKeys(t *testing.T) *vapid.KeyPair {
	t.Helper()

	kp, err := vapid.GenerateKeyPair("mailto:ops@example.com")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	return kp
}

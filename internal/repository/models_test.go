package repository

import (
	"bytes"
	"testing"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/vapid"
)

func TestSubscriptionModelKeepsKeysAsBase64URL(t *testing.T) {
	t.Parallel()

	owner := "user-1"
	sub := &domain.Subscription{
		ID:       "3f6c1d1e-8a51-4e58-9a43-2b1a5e0c7d11",
		Endpoint: "https://fcm.googleapis.com/fcm/send/abc",
		Keys: domain.ClientKeys{
			P256dh: append([]byte{0x04}, bytes.Repeat([]byte{0xfb}, 64)...),
			Auth:   bytes.Repeat([]byte{0xff}, 16),
		},
		OwnerID: &owner,
	}

	model := subscriptionModelFromDomain(sub)
	if bytes.ContainsAny([]byte(model.P256dh+model.Auth), "+/=") {
		t.Fatalf("keys should be unpadded base64url, got %q / %q", model.P256dh, model.Auth)
	}

	back := subscriptionModelToDomain(model)
	if !bytes.Equal(back.Keys.P256dh, sub.Keys.P256dh) || !bytes.Equal(back.Keys.Auth, sub.Keys.Auth) {
		t.Fatal("keys changed across model mapping")
	}
	if back.OwnerID == nil || *back.OwnerID != owner {
		t.Fatalf("OwnerID = %v, want %q", back.OwnerID, owner)
	}
}

func TestSubscriptionModelToDomainToleratesBadKeys(t *testing.T) {
	t.Parallel()

	sub := subscriptionModelToDomain(&SubscriptionModel{
		ID:       "id-1",
		Endpoint: "https://push.example.com/a",
		P256dh:   "not base64 !!",
		Auth:     "",
	})

	if sub.Keys.P256dh != nil || sub.Keys.Auth != nil {
		t.Fatal("undecodable keys should map to nil")
	}
	if err := sub.Keys.Validate(); err == nil {
		t.Fatal("expected key validation error")
	}
}

func TestVapidKeyModelRoundTrip(t *testing.T) {
	t.Parallel()

	kp, err := vapid.GenerateKeyPair("mailto:ops@example.com")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}

	model, err := vapidKeyModelFromDomain(kp)
	if err != nil {
		t.Fatalf("vapidKeyModelFromDomain() error = %v", err)
	}
	if !model.Active {
		t.Fatal("new key model should be active")
	}

	back, err := vapidKeyModelToDomain(model)
	if err != nil {
		t.Fatalf("vapidKeyModelToDomain() error = %v", err)
	}
	if !back.PrivateKey.Equal(kp.PrivateKey) {
		t.Fatal("private key changed across model mapping")
	}
	if back.ID != kp.ID || back.Subject != kp.Subject {
		t.Fatalf("got id=%s subject=%s, want id=%s subject=%s", back.ID, back.Subject, kp.ID, kp.Subject)
	}
}

package webpush

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/vapid"
)

func TestEncryptRoundTrip(t *testing.T) {
	t.Parallel()

	sub := newSubscriber(t)
	plaintext := []byte(`{"title":"Hello","body":"World","data":{"n":1}}`)

	encrypted, err := Encrypt(rand.Reader, plaintext, sub.keys())
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	got, err := sub.decrypt(encrypted.Body)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestEncryptBodyLayout(t *testing.T) {
	t.Parallel()

	sub := newSubscriber(t)
	plaintext := []byte("layout")

	encrypted, err := Encrypt(rand.Reader, plaintext, sub.keys())
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	body := encrypted.Body

	if !bytes.Equal(body[:16], encrypted.Salt) {
		t.Fatal("body must start with the salt")
	}
	if rs := binary.BigEndian.Uint32(body[16:20]); rs != RecordSize {
		t.Fatalf("rs = %d, want %d", rs, RecordSize)
	}
	if idLen := body[20]; idLen != 65 {
		t.Fatalf("idlen = %d, want 65", idLen)
	}
	if !bytes.Equal(body[21:86], encrypted.LocalPublicKey) {
		t.Fatal("keyid must be the ephemeral public key")
	}
	if want := 86 + len(plaintext) + 1 + 16; len(body) != want {
		t.Fatalf("body length = %d, want %d", len(body), want)
	}
}

func TestEncryptUsesFreshSaltAndKey(t *testing.T) {
	t.Parallel()

	sub := newSubscriber(t)
	first, err := Encrypt(rand.Reader, []byte("same"), sub.keys())
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := Encrypt(rand.Reader, []byte("same"), sub.keys())
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(first.Salt, second.Salt) {
		t.Fatal("salt must differ between messages")
	}
	if bytes.Equal(first.LocalPublicKey, second.LocalPublicKey) {
		t.Fatal("ephemeral key must differ between messages")
	}
}

func TestEncryptRejectsMalformedKeys(t *testing.T) {
	t.Parallel()

	valid := newSubscriber(t).keys()
	offCurve := bytes.Clone(valid.P256dh)
	offCurve[64] ^= 0xFF

	testCases := []struct {
		name string
		keys domain.ClientKeys
	}{
		{name: "short p256dh", keys: domain.ClientKeys{P256dh: valid.P256dh[:33], Auth: valid.Auth}},
		{name: "compressed prefix", keys: domain.ClientKeys{P256dh: append([]byte{0x02}, valid.P256dh[1:]...), Auth: valid.Auth}},
		{name: "point not on curve", keys: domain.ClientKeys{P256dh: offCurve, Auth: valid.Auth}},
		{name: "short auth", keys: domain.ClientKeys{P256dh: valid.P256dh, Auth: valid.Auth[:8]}},
		{name: "missing keys", keys: domain.ClientKeys{}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Encrypt(rand.Reader, []byte("x"), tc.keys)
			if !errors.Is(err, domain.ErrInvalidSubscriptionKeys) {
				t.Fatalf("Encrypt() error = %v, want ErrInvalidSubscriptionKeys", err)
			}
		})
	}
}

func TestEncryptPayloadLimit(t *testing.T) {
	t.Parallel()

	sub := newSubscriber(t)

	atLimit, err := Encrypt(rand.Reader, bytes.Repeat([]byte("a"), MaxPayloadSize), sub.keys())
	if err != nil {
		t.Fatalf("Encrypt() at limit error = %v", err)
	}
	if len(atLimit.Body) != RecordSize {
		t.Fatalf("body length at limit = %d, want %d", len(atLimit.Body), RecordSize)
	}

	_, err = Encrypt(rand.Reader, bytes.Repeat([]byte("a"), MaxPayloadSize+1), sub.keys())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Encrypt() over limit error = %v, want ErrValidation", err)
	}
}

// The receiver-side decryption used above is checked against an independent
// sender so the round-trip test cannot pass with a symmetric mistake.
func TestDecryptMatchesReferenceSender(t *testing.T) {
	t.Parallel()

	var captured []byte
	var contentEncoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		captured = body
		contentEncoding = r.Header.Get("Content-Encoding")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	keys, err := vapid.GenerateKeyPair("mailto:ops@example.com")
	if err != nil {
		t.Fatalf("GenerateKeyPair() error = %v", err)
	}
	vapidPublic, _ := keys.PublicKeyString()
	vapidPrivate, _ := keys.PrivateKeyString()

	sub := newSubscriber(t)
	message := []byte(`{"title":"reference"}`)

	resp, err := webpushgo.SendNotification(message, &webpushgo.Subscription{
		Endpoint: server.URL + "/push/abc",
		Keys: webpushgo.Keys{
			P256dh: domain.EncodeKey(sub.keys().P256dh),
			Auth:   domain.EncodeKey(sub.auth),
		},
	}, &webpushgo.Options{
		Subscriber:      "ops@example.com",
		VAPIDPublicKey:  vapidPublic,
		VAPIDPrivateKey: vapidPrivate,
		TTL:             60,
	})
	if err != nil {
		t.Fatalf("SendNotification() error = %v", err)
	}
	_ = resp.Body.Close()

	if contentEncoding != ContentEncoding {
		t.Fatalf("Content-Encoding = %q, want %q", contentEncoding, ContentEncoding)
	}

	got, err := sub.decrypt(captured)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if !bytes.Equal(got, message) {
		t.Fatalf("decrypted = %q, want %q", got, message)
	}
}

package domain

import (
	"crypto/ecdh"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// P256dhKeyLength is the size of an uncompressed P-256 point: 0x04 || X || Y.
	P256dhKeyLength = 65
	// AuthSecretLength is the size of the subscriber's shared authentication secret.
	AuthSecretLength = 16
)

// ClientKeys are the per-subscriber encryption keys a browser hands out with its subscription.
type ClientKeys struct {
	P256dh []byte
	Auth   []byte
}

// Validate checks that both keys have the sizes the aes128gcm scheme requires
// and that p256dh is a point on P-256.
func (k ClientKeys) Validate() error {
	if len(k.P256dh) != P256dhKeyLength {
		return fmt.Errorf("%w: p256dh must be %d bytes (got %d)", ErrInvalidSubscriptionKeys, P256dhKeyLength, len(k.P256dh))
	}
	if k.P256dh[0] != 0x04 {
		return fmt.Errorf("%w: p256dh must be an uncompressed point", ErrInvalidSubscriptionKeys)
	}
	if _, err := ecdh.P256().NewPublicKey(k.P256dh); err != nil {
		return fmt.Errorf("%w: p256dh is not a valid P-256 point", ErrInvalidSubscriptionKeys)
	}
	if len(k.Auth) != AuthSecretLength {
		return fmt.Errorf("%w: auth must be %d bytes (got %d)", ErrInvalidSubscriptionKeys, AuthSecretLength, len(k.Auth))
	}
	return nil
}

// Subscription is a push endpoint registered by a client together with its encryption keys.
type Subscription struct {
	ID            string
	Endpoint      string
	Keys          ClientKeys
	OwnerID       *string
	ApplicationID *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity returns the value subscriptions are deduplicated by.
func (s Subscription) Identity() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Endpoint
}

func (s *Subscription) Validate() error {
	if err := ValidateEndpoint(s.Endpoint); err != nil {
		return err
	}
	return s.Keys.Validate()
}

// ValidateEndpoint requires an absolute http(s) URL with a host.
func ValidateEndpoint(endpoint string) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return fmt.Errorf("%w: endpoint is required", ErrValidation)
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", ErrValidation, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: endpoint scheme must be http or https", ErrValidation)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: endpoint host is required", ErrValidation)
	}
	return nil
}

// DecodeKey decodes a base64 subscription key as browsers emit it (URL alphabet,
// usually unpadded), falling back to the standard alphabet.
func DecodeKey(value string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(value), "=")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrValidation)
	}

	if decoded, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return decoded, nil
	}
	decoded, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not valid base64", ErrValidation)
	}
	return decoded, nil
}

// EncodeKey is the inverse of DecodeKey using unpadded base64url.
func EncodeKey(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

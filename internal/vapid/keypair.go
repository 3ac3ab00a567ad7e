package vapid

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
)

const (
	privateKeyLength = 32
	pemBlockType     = "EC PRIVATE KEY"
)

// KeyPair is the service's P-256 signing key together with the contact
// identifier push services see as the token subject.
type KeyPair struct {
	ID         string
	PrivateKey *ecdsa.PrivateKey
	Subject    string
	CreatedAt  time.Time
}

// GenerateKeyPair creates a fresh P-256 key pair.
func GenerateKeyPair(subject string) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate vapid key: %w", err)
	}

	return &KeyPair{
		ID:         uuid.NewString(),
		PrivateKey: key,
		Subject:    strings.TrimSpace(subject),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// PublicKeyBytes returns the uncompressed point 0x04 || X || Y (65 bytes).
func (k *KeyPair) PublicKeyBytes() ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, fmt.Errorf("%w: key pair is empty", domain.ErrKeyUnavailable)
	}

	pub, err := k.PrivateKey.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyUnavailable, err)
	}
	return pub.Bytes(), nil
}

// PublicKeyString is the base64url form clients pass as applicationServerKey.
func (k *KeyPair) PublicKeyString() (string, error) {
	raw, err := k.PublicKeyBytes()
	if err != nil {
		return "", err
	}
	return domain.EncodeKey(raw), nil
}

// PrivateKeyString exports the raw 32-byte scalar as base64url.
func (k *KeyPair) PrivateKeyString() (string, error) {
	if k == nil || k.PrivateKey == nil {
		return "", fmt.Errorf("%w: key pair is empty", domain.ErrKeyUnavailable)
	}

	priv, err := k.PrivateKey.ECDH()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrKeyUnavailable, err)
	}
	return domain.EncodeKey(priv.Bytes()), nil
}

// ParsePrivateKey decodes a base64 raw scalar as produced by PrivateKeyString.
func ParsePrivateKey(encoded string) (*ecdsa.PrivateKey, error) {
	raw, err := domain.DecodeKey(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) != privateKeyLength {
		return nil, fmt.Errorf("%w: private key must be %d bytes (got %d)", domain.ErrValidation, privateKeyLength, len(raw))
	}

	priv, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid private key: %v", domain.ErrValidation, err)
	}

	point := priv.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(point[1:33]),
			Y:     new(big.Int).SetBytes(point[33:]),
		},
		D: new(big.Int).SetBytes(raw),
	}, nil
}

// ValidateKeys checks that an exported public/private pair belongs together.
// Public keys without the 0x04 prefix (64 bytes) are accepted.
func ValidateKeys(publicKey string, privateKey string) error {
	priv, err := ParsePrivateKey(privateKey)
	if err != nil {
		return err
	}

	pub, err := domain.DecodeKey(publicKey)
	if err != nil {
		return err
	}
	switch len(pub) {
	case domain.P256dhKeyLength - 1:
		pub = append([]byte{0x04}, pub...)
	case domain.P256dhKeyLength:
	default:
		return fmt.Errorf("%w: public key must be 64 or 65 bytes (got %d)", domain.ErrValidation, len(pub))
	}

	derived, err := (&KeyPair{PrivateKey: priv}).PublicKeyBytes()
	if err != nil {
		return err
	}
	if string(derived) != string(pub) {
		return fmt.Errorf("%w: public key does not match private key", domain.ErrValidation)
	}
	return nil
}

// MarshalPEM encodes the private key for persistence.
func MarshalPEM(key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("private key is required")
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der})), nil
}

func ParsePEM(encoded string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(encoded))
	if block == nil || block.Type != pemBlockType {
		return nil, errors.New("invalid private key pem")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("private key is not on P-256")
	}
	return key, nil
}

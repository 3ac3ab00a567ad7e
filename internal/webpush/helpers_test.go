package webpush

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// subscriber is the browser side of a subscription: it holds the private half
// of p256dh and can decrypt what the service sends.
type subscriber struct {
	private *ecdh.PrivateKey
	auth    []byte
}

func newSubscriber(t *testing.T) *subscriber {
	t.Helper()

	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	auth := make([]byte, domain.AuthSecretLength)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("rand.Read() error = %v", err)
	}
	return &subscriber{private: private, auth: auth}
}

func (s *subscriber) keys() domain.ClientKeys {
	return domain.ClientKeys{P256dh: s.private.PublicKey().Bytes(), Auth: s.auth}
}

// decrypt implements the receiving side of RFC 8291 / RFC 8188 for a single record.
func (s *subscriber) decrypt(body []byte) ([]byte, error) {
	if len(body) < saltLength+5 {
		return nil, errors.New("body too short")
	}

	salt := body[:saltLength]
	rs := binary.BigEndian.Uint32(body[saltLength : saltLength+4])
	idLen := int(body[saltLength+4])
	if len(body) < saltLength+5+idLen {
		return nil, errors.New("truncated key id")
	}
	keyID := body[saltLength+5 : saltLength+5+idLen]
	ciphertext := body[saltLength+5+idLen:]
	if uint32(len(ciphertext)) > rs {
		return nil, fmt.Errorf("record of %d bytes exceeds rs %d", len(ciphertext), rs)
	}

	senderPublic, err := ecdh.P256().NewPublicKey(keyID)
	if err != nil {
		return nil, fmt.Errorf("invalid sender key: %w", err)
	}
	shared, err := s.private.ECDH(senderPublic)
	if err != nil {
		return nil, err
	}

	cek, nonce, err := deriveContentKeys(shared, s.auth, salt, s.private.PublicKey().Bytes(), keyID)
	if err != nil {
		return nil, err
	}
	gcm, err := newGCM(cek)
	if err != nil {
		return nil, err
	}

	record, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	end := len(record) - 1
	for end >= 0 && record[end] == 0x00 {
		end--
	}
	if end < 0 || record[end] != lastRecordDelimiter {
		return nil, errors.New("missing last record delimiter")
	}
	return bytes.Clone(record[:end]), nil
}

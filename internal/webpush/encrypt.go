package webpush

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	// ContentEncoding identifies RFC 8188 encrypted content with RFC 8291 keying.
	ContentEncoding = "aes128gcm"
	// RecordSize is the rs field written into every body; one record per message.
	RecordSize = 4096

	saltLength   = 16
	keyLength    = 16
	nonceLength  = 12
	ikmLength    = 32
	tagLength    = 16
	headerLength = saltLength + 4 + 1 + domain.P256dhKeyLength

	// MaxPayloadSize keeps the whole body inside the 4096 bytes push services accept.
	MaxPayloadSize = RecordSize - headerLength - tagLength - 1

	lastRecordDelimiter = 0x02
)

var (
	keyInfoPrefix = []byte("WebPush: info\x00")
	cekInfo       = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo     = []byte("Content-Encoding: nonce\x00")
)

// Encrypted is a framed aes128gcm body plus the values embedded in its header.
type Encrypted struct {
	Body           []byte
	Salt           []byte
	LocalPublicKey []byte
}

// Encrypt seals plaintext for one subscriber. The body layout is
// salt(16) || rs(4, big endian) || idlen(1) || keyid(65) || ciphertext.
func Encrypt(random io.Reader, plaintext []byte, keys domain.ClientKeys) (*Encrypted, error) {
	if err := keys.Validate(); err != nil {
		return nil, err
	}
	if len(plaintext) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit is %d", domain.ErrValidation, len(plaintext), MaxPayloadSize)
	}

	uaPublic, err := ecdh.P256().NewPublicKey(keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSubscriptionKeys, err)
	}

	local, err := ecdh.P256().GenerateKey(random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	localPublic := local.PublicKey().Bytes()

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	sharedSecret, err := local.ECDH(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh failed: %v", domain.ErrInvalidSubscriptionKeys, err)
	}

	cek, nonce, err := deriveContentKeys(sharedSecret, keys.Auth, salt, keys.P256dh, localPublic)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(cek)
	if err != nil {
		return nil, err
	}

	record := make([]byte, 0, len(plaintext)+1)
	record = append(record, plaintext...)
	record = append(record, lastRecordDelimiter)

	body := make([]byte, headerLength, headerLength+len(record)+tagLength)
	copy(body, salt)
	binary.BigEndian.PutUint32(body[saltLength:], RecordSize)
	body[saltLength+4] = byte(len(localPublic))
	copy(body[saltLength+5:], localPublic)
	body = gcm.Seal(body, nonce, record, nil)

	return &Encrypted{
		Body:           body,
		Salt:           salt,
		LocalPublicKey: localPublic,
	}, nil
}

// deriveContentKeys runs the RFC 8291 key schedule. uaPublic and asPublic are
// the receiver and sender public keys in that order.
func deriveContentKeys(sharedSecret, authSecret, salt, uaPublic, asPublic []byte) ([]byte, []byte, error) {
	keyInfo := make([]byte, 0, len(keyInfoPrefix)+len(uaPublic)+len(asPublic))
	keyInfo = append(keyInfo, keyInfoPrefix...)
	keyInfo = append(keyInfo, uaPublic...)
	keyInfo = append(keyInfo, asPublic...)

	ikm := make([]byte, ikmLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, keyInfo), ikm); err != nil {
		return nil, nil, fmt.Errorf("failed to derive ikm: %w", err)
	}

	cek := make([]byte, keyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, cekInfo), cek); err != nil {
		return nil, nil, fmt.Errorf("failed to derive content encryption key: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, nonceInfo), nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to derive nonce: %w", err)
	}

	return cek, nonce, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

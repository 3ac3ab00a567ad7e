package vapid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const activeKey = "active"

// KeyStore persists the active key pair.
type KeyStore interface {
	// Load returns the active key pair or domain.ErrNotFound.
	Load(ctx context.Context) (*KeyPair, error)
	// Create stores kp unless an active pair already exists, and returns whichever pair is active.
	Create(ctx context.Context, kp *KeyPair) (*KeyPair, error)
	// Replace deactivates the current pair and makes kp active.
	Replace(ctx context.Context, kp *KeyPair) error
}

// Manager owns the process-wide VAPID key pair. The pair is read-only once loaded
// and shared across concurrent encodings.
type Manager struct {
	store    KeyStore
	subject  string
	logger   *zap.Logger
	flight   singleflight.Group
	writeMu  sync.Mutex
	active   atomic.Pointer[KeyPair]
	generate func(subject string) (*KeyPair, error)
}

func NewManager(store KeyStore, subject string, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("key store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		store:    store,
		subject:  strings.TrimSpace(subject),
		logger:   logger,
		generate: GenerateKeyPair,
	}, nil
}

// GetKeyPair returns the active key pair, generating and persisting one on first use.
// Concurrent first callers share a single load-or-generate.
func (m *Manager) GetKeyPair(ctx context.Context) (*KeyPair, error) {
	if kp := m.active.Load(); kp != nil {
		return kp, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	v, err, _ := m.flight.Do(activeKey, func() (any, error) {
		if kp := m.active.Load(); kp != nil {
			return kp, nil
		}

		kp, err := m.store.Load(ctx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			kp, err = m.createKeyPair(ctx)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: failed to load key pair: %v", domain.ErrKeyUnavailable, err)
		}

		// An Import or Rotate that finished while this load ran wins.
		m.active.CompareAndSwap(nil, m.withSubject(kp))
		return m.active.Load(), nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*KeyPair), nil
}

// PublicKeyForClients returns the 65-byte uncompressed public key.
func (m *Manager) PublicKeyForClients(ctx context.Context) ([]byte, error) {
	kp, err := m.GetKeyPair(ctx)
	if err != nil {
		return nil, err
	}
	return kp.PublicKeyBytes()
}

// Import adopts a pre-provisioned private key when the store has none yet.
// The stored pair wins if one already exists.
func (m *Manager) Import(ctx context.Context, privateKey string) (*KeyPair, error) {
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	candidate, err := m.generate(m.subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyUnavailable, err)
	}
	candidate.PrivateKey = key

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	stored, err := m.store.Create(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store key pair: %v", domain.ErrKeyUnavailable, err)
	}
	if stored.ID != candidate.ID {
		m.logger.Warn("configured vapid key ignored, store already has an active key",
			zap.String("keyId", stored.ID),
		)
	}

	stored = m.withSubject(stored)
	m.active.Store(stored)
	return stored, nil
}

// Rotate replaces the active key pair. Subscriptions created against the old
// public key are not invalidated here; push services may start rejecting them.
func (m *Manager) Rotate(ctx context.Context) (*KeyPair, error) {
	kp, err := m.generate(m.subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyUnavailable, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	previous := m.active.Load()
	if err := m.store.Replace(ctx, kp); err != nil {
		return nil, fmt.Errorf("%w: failed to replace key pair: %v", domain.ErrKeyUnavailable, err)
	}
	kp = m.withSubject(kp)
	m.active.Store(kp)

	fields := []zap.Field{zap.String("keyId", kp.ID)}
	if previous != nil {
		fields = append(fields, zap.String("previousKeyId", previous.ID))
	}
	m.logger.Warn("vapid key rotated, existing subscriptions may need to re-subscribe", fields...)
	return kp, nil
}

func (m *Manager) createKeyPair(ctx context.Context) (*KeyPair, error) {
	kp, err := m.generate(m.subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyUnavailable, err)
	}

	stored, err := m.store.Create(ctx, kp)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to store key pair: %v", domain.ErrKeyUnavailable, err)
	}

	if stored.ID == kp.ID {
		m.logger.Info("vapid key pair generated", zap.String("keyId", kp.ID))
	}
	return stored, nil
}

func (m *Manager) withSubject(kp *KeyPair) *KeyPair {
	if m.subject == "" || kp.Subject == m.subject {
		return kp
	}

	copied := *kp
	copied.Subject = m.subject
	return &copied
}

package webpush

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/vapid"
)

// DefaultTokenTTL is how long a VAPID token stays valid. Push services reject
// tokens expiring more than 24 hours ahead.
const DefaultTokenTTL = 12 * time.Hour

// Token is a signed VAPID assertion for one push-service origin.
type Token struct {
	Audience  string
	JWT       string
	PublicKey string
	ExpiresAt time.Time
}

// Authorization renders the Authorization header value.
func (t Token) Authorization() string {
	return fmt.Sprintf("vapid t=%s, k=%s", t.JWT, t.PublicKey)
}

// Signer issues VAPID tokens with the service key pair.
type Signer struct {
	keys *vapid.KeyPair
	ttl  time.Duration
	now  func() time.Time
}

func NewSigner(keys *vapid.KeyPair, ttl time.Duration) (*Signer, error) {
	if keys == nil || keys.PrivateKey == nil {
		return nil, fmt.Errorf("%w: key pair is required", domain.ErrSigningUnavailable)
	}
	if strings.TrimSpace(keys.Subject) == "" {
		return nil, fmt.Errorf("%w: vapid subject is required", domain.ErrSigningUnavailable)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	return &Signer{keys: keys, ttl: ttl, now: time.Now}, nil
}

// Sign issues a token whose audience is the given push-service origin.
func (s *Signer) Sign(audience string) (Token, error) {
	publicKey, err := s.keys.PublicKeyString()
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", domain.ErrSigningUnavailable, err)
	}

	expiresAt := s.now().Add(s.ttl)
	claims := jwt.MapClaims{
		"aud": audience,
		"exp": expiresAt.Unix(),
		"sub": s.keys.Subject,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(s.keys.PrivateKey)
	if err != nil {
		return Token{}, fmt.Errorf("%w: failed to sign token for %s: %v", domain.ErrSigningUnavailable, audience, err)
	}

	return Token{
		Audience:  audience,
		JWT:       signed,
		PublicKey: publicKey,
		ExpiresAt: expiresAt,
	}, nil
}

// TokenCache memoizes one token per origin for the lifetime of a single batch.
// It must not be shared across batches.
type TokenCache struct {
	signer *Signer

	mu      sync.Mutex
	entries map[string]*tokenEntry
}

type tokenEntry struct {
	once  sync.Once
	token Token
	err   error
}

func NewTokenCache(signer *Signer) *TokenCache {
	return &TokenCache{
		signer:  signer,
		entries: make(map[string]*tokenEntry),
	}
}

// Get returns the token for origin, signing it on first request.
func (c *TokenCache) Get(origin string) (Token, error) {
	c.mu.Lock()
	entry, ok := c.entries[origin]
	if !ok {
		entry = &tokenEntry{}
		c.entries[origin] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.token, entry.err = c.signer.Sign(origin)
	})
	return entry.token, entry.err
}

// Warm signs tokens for every origin up front so a signing failure surfaces
// before any request is sent.
func (c *TokenCache) Warm(origins []string) error {
	for _, origin := range origins {
		if _, err := c.Get(origin); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many origins have been signed for.
func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Origin returns scheme://host[:port] of a push endpoint, the VAPID audience.
func Origin(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint: %v", domain.ErrValidation, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: endpoint %q has no origin", domain.ErrValidation, endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

package webpush

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

const (
	HeaderTTL             = "TTL"
	HeaderCryptoKey       = "Crypto-Key"
	HeaderUrgency         = "Urgency"
	HeaderTopic           = "Topic"
	HeaderContentEncoding = "Content-Encoding"

	maxTopicLength = 32
)

// Urgency hints how eagerly the push service should wake the device.
type Urgency string

const (
	UrgencyVeryLow Urgency = "very-low"
	UrgencyLow     Urgency = "low"
	UrgencyNormal  Urgency = "normal"
	UrgencyHigh    Urgency = "high"
)

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyVeryLow, UrgencyLow, UrgencyNormal, UrgencyHigh:
		return true
	}
	return false
}

func ParseUrgencyFromString(s string) (Urgency, error) {
	u := Urgency(strings.ToLower(strings.TrimSpace(s)))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: invalid urgency %q", domain.ErrValidation, s)
	}
	return u, nil
}

var topicPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options are per-batch delivery hints applied to every request.
// A nil TTL falls back to the encoder default; zero is sent as is.
type Options struct {
	TTL     *int
	Urgency Urgency
	Topic   string
}

func (o Options) Validate() error {
	if o.TTL != nil && *o.TTL < 0 {
		return fmt.Errorf("%w: ttl must be >= 0", domain.ErrValidation)
	}
	if o.Urgency != "" && !o.Urgency.IsValid() {
		return fmt.Errorf("%w: invalid urgency %q", domain.ErrValidation, o.Urgency)
	}
	if o.Topic != "" && (len(o.Topic) > maxTopicLength || !topicPattern.MatchString(o.Topic)) {
		return fmt.Errorf("%w: topic must be up to %d url-safe base64 characters", domain.ErrValidation, maxTopicLength)
	}
	return nil
}

// Request is a fully encoded push message for one subscription.
type Request struct {
	Endpoint string
	Origin   string
	Body     []byte
	Header   http.Header
}

// Encoder builds encrypted, authenticated requests.
type Encoder struct {
	defaultTTL int
	random     io.Reader
}

func NewEncoder(defaultTTL int) *Encoder {
	if defaultTTL < 0 {
		defaultTTL = 0
	}
	return &Encoder{defaultTTL: defaultTTL, random: rand.Reader}
}

// Encode encrypts plaintext for sub and attaches the VAPID headers for its origin.
// Errors wrapping domain.ErrSigningUnavailable concern the whole batch; every
// other error concerns only this subscription.
func (e *Encoder) Encode(sub domain.Subscription, plaintext []byte, tokens *TokenCache, opts Options) (*Request, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: token cache is required", domain.ErrSigningUnavailable)
	}
	if err := domain.ValidateEndpoint(sub.Endpoint); err != nil {
		return nil, err
	}

	origin, err := Origin(sub.Endpoint)
	if err != nil {
		return nil, err
	}

	token, err := tokens.Get(origin)
	if err != nil {
		return nil, err
	}

	encrypted, err := Encrypt(e.random, plaintext, sub.Keys)
	if err != nil {
		return nil, err
	}

	ttl := e.defaultTTL
	if opts.TTL != nil {
		ttl = *opts.TTL
	}

	header := http.Header{}
	header.Set("Authorization", token.Authorization())
	header.Set(HeaderCryptoKey, fmt.Sprintf("dh=%s;p256ecdsa=%s", domain.EncodeKey(encrypted.LocalPublicKey), token.PublicKey))
	header.Set(HeaderContentEncoding, ContentEncoding)
	header.Set("Content-Type", "application/octet-stream")
	header.Set(HeaderTTL, strconv.Itoa(ttl))
	if opts.Urgency != "" {
		header.Set(HeaderUrgency, string(opts.Urgency))
	}
	if opts.Topic != "" {
		header.Set(HeaderTopic, opts.Topic)
	}

	return &Request{
		Endpoint: strings.TrimSpace(sub.Endpoint),
		Origin:   origin,
		Body:     encrypted.Body,
		Header:   header,
	}, nil
}

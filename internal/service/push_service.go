package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/vapid"
	"github.com/kursadbilgin/push-engine/internal/webpush"
	"go.uber.org/zap"
)

const defaultBatchTimeout = 60 * time.Second

// KeyProvider supplies the VAPID key pair used to sign a batch.
type KeyProvider interface {
	GetKeyPair(ctx context.Context) (*vapid.KeyPair, error)
	PublicKeyForClients(ctx context.Context) ([]byte, error)
}

// SendOption adjusts per-batch delivery hints.
type SendOption func(*webpush.Options)

func WithTTL(seconds int) SendOption {
	return func(o *webpush.Options) { o.TTL = &seconds }
}

func WithUrgency(urgency webpush.Urgency) SendOption {
	return func(o *webpush.Options) { o.Urgency = urgency }
}

func WithTopic(topic string) SendOption {
	return func(o *webpush.Options) { o.Topic = topic }
}

// ParseSendOptions builds options from their wire form. A nil ttl and empty
// strings are left unset; an explicit zero ttl is kept.
func ParseSendOptions(ttl *int, urgency string, topic string) ([]SendOption, error) {
	var options []SendOption
	if ttl != nil {
		if *ttl < 0 {
			return nil, fmt.Errorf("%w: ttl must be >= 0", domain.ErrValidation)
		}
		options = append(options, WithTTL(*ttl))
	}
	if urgency != "" {
		parsed, err := webpush.ParseUrgencyFromString(urgency)
		if err != nil {
			return nil, err
		}
		options = append(options, WithUrgency(parsed))
	}
	if topic != "" {
		options = append(options, WithTopic(topic))
	}
	return options, nil
}

// PushService is the entry point for sending a notification to a recipient spec.
type PushService struct {
	resolver     *TargetResolver
	keys         KeyProvider
	dispatcher   *Dispatcher
	aggregator   *Aggregator
	batchTimeout time.Duration
	logger       *zap.Logger
	metrics      *observability.Metrics
}

func NewPushService(
	resolver *TargetResolver,
	keys KeyProvider,
	dispatcher *Dispatcher,
	aggregator *Aggregator,
	batchTimeout time.Duration,
	logger *zap.Logger,
) (*PushService, error) {
	if resolver == nil || keys == nil || dispatcher == nil || aggregator == nil {
		return nil, fmt.Errorf("resolver, key provider, dispatcher and aggregator are required")
	}
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PushService{
		resolver:     resolver,
		keys:         keys,
		dispatcher:   dispatcher,
		aggregator:   aggregator,
		batchTimeout: batchTimeout,
		logger:       logger,
	}, nil
}

// SetMetrics wires metrics into the service and the components it drives.
func (s *PushService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
	s.dispatcher.SetMetrics(metrics)
	s.aggregator.SetMetrics(metrics)
}

// PublicKeyForClients returns the uncompressed VAPID public key browsers
// subscribe with.
func (s *PushService) PublicKeyForClients(ctx context.Context) ([]byte, error) {
	return s.keys.PublicKeyForClients(ctx)
}

// SendTo delivers payload to every subscription spec resolves to. Only
// ErrNoTargetsFound and ErrSigningUnavailable (besides invalid input) are
// returned as errors; per-target problems are folded into the result counts.
func (s *PushService) SendTo(
	ctx context.Context,
	spec domain.RecipientSpec,
	payload domain.NotificationPayload,
	options ...SendOption,
) (domain.BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("recipient", spec.String()))

	var opts webpush.Options
	for _, apply := range options {
		apply(&opts)
	}
	if err := opts.Validate(); err != nil {
		return domain.BatchResult{}, err
	}

	plaintext, err := encodePayload(payload)
	if err != nil {
		return domain.BatchResult{}, err
	}

	targets, err := s.resolver.Resolve(ctx, spec)
	if err != nil {
		if errors.Is(err, domain.ErrNoTargetsFound) {
			s.metrics.IncBatch("no_targets")
		}
		return domain.BatchResult{}, err
	}

	tokens, err := s.prepareTokens(ctx, targets)
	if err != nil {
		s.metrics.IncBatch("signing_unavailable")
		logger.Error("batch aborted, vapid signing unavailable", zap.Int("targets", len(targets)), zap.Error(err))
		return domain.BatchResult{}, err
	}

	batchCtx, cancel := context.WithTimeout(ctx, s.batchTimeout)
	defer cancel()

	start := time.Now()
	outcomes := s.dispatcher.Dispatch(batchCtx, targets, plaintext, tokens, opts)
	result := s.aggregator.Collect(ctx, len(targets), outcomes)

	s.metrics.ObserveBatch("completed", len(targets), time.Since(start))
	logger.Info("push batch completed",
		zap.Int("total", result.Total),
		zap.Int("successCount", result.SuccessCount),
		zap.Int("failedCount", result.FailedCount),
		zap.Int("origins", tokens.Len()),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// prepareTokens signs one token per distinct origin before anything is sent.
// Targets with unusable endpoints are skipped here and fail individually.
func (s *PushService) prepareTokens(ctx context.Context, targets []domain.Subscription) (*webpush.TokenCache, error) {
	keys, err := s.keys.GetKeyPair(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSigningUnavailable, err)
	}

	signer, err := webpush.NewSigner(keys, webpush.DefaultTokenTTL)
	if err != nil {
		return nil, err
	}
	tokens := webpush.NewTokenCache(signer)

	seen := make(map[string]struct{})
	origins := make([]string, 0)
	for _, target := range targets {
		origin, err := webpush.Origin(target.Endpoint)
		if err != nil {
			continue
		}
		if _, ok := seen[origin]; ok {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}

	if err := tokens.Warm(origins); err != nil {
		return nil, err
	}
	return tokens, nil
}

func encodePayload(payload domain.NotificationPayload) ([]byte, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	plaintext, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	if len(plaintext) > webpush.MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit is %d", domain.ErrValidation, len(plaintext), webpush.MaxPayloadSize)
	}
	return plaintext, nil
}

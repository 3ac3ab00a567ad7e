package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

// SubscriptionService registers and removes browser subscriptions.
type SubscriptionService struct {
	subscriptions repository.SubscriptionRepository
	logger        *zap.Logger
}

func NewSubscriptionService(subscriptions repository.SubscriptionRepository, logger *zap.Logger) (*SubscriptionService, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubscriptionService{subscriptions: subscriptions, logger: logger}, nil
}

// Subscribe stores sub, refreshing the keys of an already registered endpoint.
func (s *SubscriptionService) Subscribe(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: subscription is required", domain.ErrValidation)
	}
	sub.Endpoint = strings.TrimSpace(sub.Endpoint)
	sub.OwnerID = trimmedOrNil(sub.OwnerID)
	sub.ApplicationID = trimmedOrNil(sub.ApplicationID)

	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if err := s.subscriptions.Upsert(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}

	s.logger.Info("subscription registered", zap.String("subscriptionId", sub.ID))
	return sub, nil
}

func (s *SubscriptionService) Unsubscribe(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if err := domain.ValidateEndpoint(endpoint); err != nil {
		return err
	}
	return s.subscriptions.DeleteByEndpoint(ctx, endpoint)
}

// AssignApplication moves a subscription under an application so
// ByApplication sends reach it.
func (s *SubscriptionService) AssignApplication(ctx context.Context, id string, applicationID string) error {
	id = strings.TrimSpace(id)
	applicationID = strings.TrimSpace(applicationID)
	if id == "" {
		return fmt.Errorf("%w: subscription id is required", domain.ErrValidation)
	}
	if applicationID == "" {
		return fmt.Errorf("%w: application id is required", domain.ErrValidation)
	}
	return s.subscriptions.AssignApplication(ctx, id, applicationID)
}

func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

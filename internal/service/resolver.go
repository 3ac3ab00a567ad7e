package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/repository"
)

// TargetResolver turns a recipient spec into the subscriptions a batch is sent to.
type TargetResolver struct {
	subscriptions repository.SubscriptionRepository
}

func NewTargetResolver(subscriptions repository.SubscriptionRepository) (*TargetResolver, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription repository is required")
	}
	return &TargetResolver{subscriptions: subscriptions}, nil
}

// Resolve returns the deduplicated targets for spec in store order, or
// domain.ErrNoTargetsFound when nothing matches.
func (r *TargetResolver) Resolve(ctx context.Context, spec domain.RecipientSpec) ([]domain.Subscription, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var (
		found []domain.Subscription
		err   error
	)
	switch spec.Kind {
	case domain.RecipientSingle:
		found, err = r.subscriptions.ListByOwner(ctx, strings.TrimSpace(spec.OwnerID))
	case domain.RecipientBroadcast:
		found, err = r.subscriptions.ListAll(ctx)
	case domain.RecipientByApplication:
		found, err = r.subscriptions.ListByApplication(ctx, strings.TrimSpace(spec.ApplicationID))
	case domain.RecipientList:
		found, err = r.listOwners(ctx, spec.OwnerIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", spec, err)
	}

	targets := dedupe(found)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoTargetsFound, spec)
	}
	return targets, nil
}

func (r *TargetResolver) listOwners(ctx context.Context, ownerIDs []string) ([]domain.Subscription, error) {
	seen := make(map[string]struct{}, len(ownerIDs))
	var found []domain.Subscription
	for _, id := range ownerIDs {
		id = strings.TrimSpace(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		owned, err := r.subscriptions.ListByOwner(ctx, id)
		if err != nil {
			return nil, err
		}
		found = append(found, owned...)
	}
	return found, nil
}

// dedupe keeps the first occurrence of each subscription identity.
func dedupe(subscriptions []domain.Subscription) []domain.Subscription {
	seen := make(map[string]struct{}, len(subscriptions))
	targets := make([]domain.Subscription, 0, len(subscriptions))
	for _, sub := range subscriptions {
		key := sub.Identity()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, sub)
	}
	return targets
}

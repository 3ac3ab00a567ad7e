package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func outcomesOf(statuses ...domain.OutcomeStatus) <-chan domain.DeliveryOutcome {
	ch := make(chan domain.DeliveryOutcome, len(statuses))
	for i, status := range statuses {
		ch <- domain.DeliveryOutcome{
			Subscription: domain.Subscription{ID: string(rune('a' + i)), Endpoint: "https://push.example.com/x"},
			Status:       status,
		}
	}
	close(ch)
	return ch
}

func TestAggregatorCollectCounts(t *testing.T) {
	t.Parallel()

	repo := &fakeSubscriptionRepo{subs: []domain.Subscription{{ID: "b", Endpoint: "https://push.example.com/b"}}}
	aggregator := NewAggregator(repo, zap.NewNop())

	result := aggregator.Collect(context.Background(), 4, outcomesOf(
		domain.OutcomeDelivered,
		domain.OutcomeStale,
		domain.OutcomeRateLimited,
		domain.OutcomeFailed,
	))

	if want := (domain.BatchResult{SuccessCount: 1, FailedCount: 3, Total: 4}); result != want {
		t.Fatalf("Collect() = %+v, want %+v", result, want)
	}
	if deleted := repo.deletedIDs(); len(deleted) != 1 || deleted[0] != "b" {
		t.Fatalf("deleted = %v, want [b]", deleted)
	}
}

func TestAggregatorCollectCountsMissingOutcomesAsFailed(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.ErrorLevel)
	aggregator := NewAggregator(&fakeSubscriptionRepo{}, zap.New(core))

	result := aggregator.Collect(context.Background(), 3, outcomesOf(domain.OutcomeDelivered))

	if want := (domain.BatchResult{SuccessCount: 1, FailedCount: 2, Total: 3}); result != want {
		t.Fatalf("Collect() = %+v, want %+v", result, want)
	}
	if recorded.Len() != 1 {
		t.Fatalf("error logs = %d, want 1", recorded.Len())
	}
}

func TestAggregatorDeleteFailureKeepsCounts(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	repo := &fakeSubscriptionRepo{deleteErr: errors.New("db down")}
	aggregator := NewAggregator(repo, zap.New(core))

	result := aggregator.Collect(context.Background(), 2, outcomesOf(domain.OutcomeStale, domain.OutcomeDelivered))

	if want := (domain.BatchResult{SuccessCount: 1, FailedCount: 1, Total: 2}); result != want {
		t.Fatalf("Collect() = %+v, want %+v", result, want)
	}
	if recorded.FilterMessage("failed to delete stale subscription").Len() != 1 {
		t.Fatal("expected a warning for the failed deletion")
	}
}

func TestAggregatorDeletesAfterCallerCancellation(t *testing.T) {
	t.Parallel()

	repo := &fakeSubscriptionRepo{subs: []domain.Subscription{{ID: "a", Endpoint: "https://push.example.com/a"}}}
	aggregator := NewAggregator(repo, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	aggregator.Collect(ctx, 1, outcomesOf(domain.OutcomeStale))

	if deleted := repo.deletedIDs(); len(deleted) != 1 {
		t.Fatalf("deleted = %v, want stale subscription removed", deleted)
	}
}

func TestAggregatorDeletesByEndpointWithoutID(t *testing.T) {
	t.Parallel()

	repo := &fakeSubscriptionRepo{subs: []domain.Subscription{{Endpoint: "https://push.example.com/anon"}}}
	aggregator := NewAggregator(repo, zap.NewNop())

	ch := make(chan domain.DeliveryOutcome, 1)
	ch <- domain.DeliveryOutcome{Subscription: domain.Subscription{Endpoint: "https://push.example.com/anon"}, Status: domain.OutcomeStale}
	close(ch)

	aggregator.Collect(context.Background(), 1, ch)

	if deleted := repo.deletedIDs(); len(deleted) != 1 || deleted[0] != "https://push.example.com/anon" {
		t.Fatalf("deleted = %v, want endpoint", deleted)
	}
}

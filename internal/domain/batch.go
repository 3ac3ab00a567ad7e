package domain

import "time"

// OutcomeStatus classifies what happened to a single target in a batch.
type OutcomeStatus string

const (
	OutcomeDelivered   OutcomeStatus = "DELIVERED"
	OutcomeStale       OutcomeStatus = "STALE"
	OutcomeRateLimited OutcomeStatus = "RATE_LIMITED"
	OutcomeFailed      OutcomeStatus = "FAILED"
)

func (s OutcomeStatus) String() string { return string(s) }

func (s OutcomeStatus) IsValid() bool {
	switch s {
	case OutcomeDelivered, OutcomeStale, OutcomeRateLimited, OutcomeFailed:
		return true
	}
	return false
}

// DeliveryOutcome is produced exactly once per target per batch and never persisted.
type DeliveryOutcome struct {
	Subscription Subscription
	Status       OutcomeStatus
	StatusCode   int
	Err          error
	Duration     time.Duration
}

// BatchResult is the only value a send returns to the caller.
type BatchResult struct {
	SuccessCount int `json:"successCount"`
	FailedCount  int `json:"failedCount"`
	Total        int `json:"total"`
}

// Add folds one outcome into the result. Anything but Delivered counts as failed.
func (r *BatchResult) Add(status OutcomeStatus) {
	r.Total++
	if status == OutcomeDelivered {
		r.SuccessCount++
		return
	}
	r.FailedCount++
}

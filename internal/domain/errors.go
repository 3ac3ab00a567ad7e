package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	// ErrKeyUnavailable means no VAPID key pair exists and none could be created.
	ErrKeyUnavailable = errors.New("vapid key unavailable")
	// ErrNoTargetsFound means a recipient spec resolved to zero subscriptions.
	ErrNoTargetsFound = errors.New("no targets found")
	// ErrInvalidSubscriptionKeys marks a subscription whose p256dh or auth key is malformed.
	ErrInvalidSubscriptionKeys = errors.New("invalid subscription keys")
	// ErrSigningUnavailable aborts a batch: no target can be sent without a VAPID token.
	ErrSigningUnavailable = errors.New("signing unavailable")
)

package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/push-engine/internal/domain"
)

// PushJobMessage is the broker payload for an asynchronous send.
type PushJobMessage struct {
	JobID         string                     `json:"jobId"`
	CorrelationID string                     `json:"correlationId,omitempty"`
	Recipient     domain.RecipientSpec       `json:"recipient"`
	Payload       domain.NotificationPayload `json:"payload"`
	TTL           *int                       `json:"ttl,omitempty"`
	Urgency       string                     `json:"urgency,omitempty"`
	Topic         string                     `json:"topic,omitempty"`
}

func (m PushJobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("%w: jobId is required", domain.ErrValidation)
	}
	if err := m.Recipient.Validate(); err != nil {
		return err
	}
	if err := m.Payload.Validate(); err != nil {
		return err
	}
	if m.TTL != nil && *m.TTL < 0 {
		return fmt.Errorf("%w: ttl must be >= 0", domain.ErrValidation)
	}
	return nil
}

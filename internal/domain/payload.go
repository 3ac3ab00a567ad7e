package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NotificationPayload is the content shown by the receiving client. It is shared
// read-only by every target in a batch.
type NotificationPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Icon  string          `json:"icon,omitempty"`
	Badge string          `json:"badge,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (p NotificationPayload) Validate() error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(p.Data) > 0 && !json.Valid(p.Data) {
		return fmt.Errorf("%w: data must be valid JSON", ErrValidation)
	}
	return nil
}

// Marshal serializes the payload into the bytes that get encrypted.
func (p NotificationPayload) Marshal() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return raw, nil
}

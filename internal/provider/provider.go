package provider

import (
	"context"

	"github.com/kursadbilgin/push-engine/internal/webpush"
)

// Provider posts one encrypted message to a push service.
type Provider interface {
	Send(ctx context.Context, req *webpush.Request) (*Receipt, error)
}

// Receipt describes a message the push service accepted. Location is the
// message resource the service created for it, when it returns one.
type Receipt struct {
	StatusCode int
	Location   string
}

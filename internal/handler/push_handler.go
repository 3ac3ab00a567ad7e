package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"github.com/kursadbilgin/push-engine/internal/service"
)

type PushSender interface {
	SendTo(ctx context.Context, spec domain.RecipientSpec, payload domain.NotificationPayload, options ...service.SendOption) (domain.BatchResult, error)
	PublicKeyForClients(ctx context.Context) ([]byte, error)
}

type JobPublisher interface {
	Publish(ctx context.Context, msg queue.PushJobMessage) error
}

type PushHandler struct {
	sender    PushSender
	publisher JobPublisher
}

func NewPushHandler(sender PushSender, publisher JobPublisher) (*PushHandler, error) {
	if sender == nil {
		return nil, fmt.Errorf("push sender is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("job publisher is required")
	}
	return &PushHandler{sender: sender, publisher: publisher}, nil
}

func RegisterPushRoutes(router fiber.Router, sender PushSender, publisher JobPublisher) error {
	h, err := NewPushHandler(sender, publisher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/vapid-public-key", h.GetPublicKey)
	v1.Post("/push/single/:ownerId", h.SendSingle)
	v1.Post("/push/broadcast", h.SendBroadcast)
	v1.Post("/push/applications/:applicationId", h.SendToApplication)
	v1.Post("/push/list", h.SendToList)
	v1.Post("/push/jobs", h.EnqueueJob)

	return nil
}

type pushRequest struct {
	Payload  domain.NotificationPayload `json:"payload"`
	OwnerIDs []string                   `json:"ownerIds,omitempty"`
	TTL      *int                       `json:"ttl,omitempty"`
	Urgency  string                     `json:"urgency,omitempty"`
	Topic    string                     `json:"topic,omitempty"`
}

type pushJobRequest struct {
	CorrelationID string                     `json:"correlationId"`
	Recipient     domain.RecipientSpec       `json:"recipient"`
	Payload       domain.NotificationPayload `json:"payload"`
	TTL           *int                       `json:"ttl,omitempty"`
	Urgency       string                     `json:"urgency,omitempty"`
	Topic         string                     `json:"topic,omitempty"`
}

type publicKeyResponse struct {
	PublicKey string `json:"publicKey"`
}

type pushJobResponse struct {
	JobID         string `json:"jobId"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

func (h *PushHandler) GetPublicKey(c *fiber.Ctx) error {
	key, err := h.sender.PublicKeyForClients(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(publicKeyResponse{
		PublicKey: domain.EncodeKey(key),
	})
}

func (h *PushHandler) SendSingle(c *fiber.Ctx) error {
	return h.send(c, domain.Single(strings.TrimSpace(c.Params("ownerId"))))
}

func (h *PushHandler) SendBroadcast(c *fiber.Ctx) error {
	return h.send(c, domain.Broadcast())
}

func (h *PushHandler) SendToApplication(c *fiber.Ctx) error {
	return h.send(c, domain.ByApplication(strings.TrimSpace(c.Params("applicationId"))))
}

func (h *PushHandler) SendToList(c *fiber.Ctx) error {
	return h.send(c, domain.RecipientSpec{Kind: domain.RecipientList})
}

// send runs a batch synchronously. A list recipient takes its owner ids from the body.
func (h *PushHandler) send(c *fiber.Ctx, spec domain.RecipientSpec) error {
	var req pushRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if spec.Kind == domain.RecipientList {
		spec.OwnerIDs = trimAll(req.OwnerIDs)
	}

	options, err := service.ParseSendOptions(req.TTL, req.Urgency, req.Topic)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithCorrelationID(c.UserContext(), requestCorrelationID(c))
	result, err := h.sender.SendTo(ctx, spec, req.Payload, options...)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *PushHandler) EnqueueJob(c *fiber.Ctx) error {
	var req pushJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg := queue.PushJobMessage{
		JobID:         uuid.NewString(),
		CorrelationID: strings.TrimSpace(req.CorrelationID),
		Recipient:     req.Recipient,
		Payload:       req.Payload,
		TTL:           req.TTL,
		Urgency:       strings.TrimSpace(req.Urgency),
		Topic:         strings.TrimSpace(req.Topic),
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = requestCorrelationID(c)
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.NewString()
	}
	if msg.Recipient.Kind != "" {
		kind, err := domain.ParseRecipientKindFromString(msg.Recipient.Kind.String())
		if err != nil {
			return toHTTPError(err)
		}
		msg.Recipient.Kind = kind
	}

	if err := msg.Validate(); err != nil {
		return toHTTPError(err)
	}
	if _, err := service.ParseSendOptions(msg.TTL, msg.Urgency, msg.Topic); err != nil {
		return toHTTPError(err)
	}

	if err := h.publisher.Publish(c.UserContext(), msg); err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "failed to enqueue push job")
	}

	return c.Status(fiber.StatusAccepted).JSON(pushJobResponse{
		JobID:         msg.JobID,
		CorrelationID: msg.CorrelationID,
		Status:        "queued",
	})
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidSubscriptionKeys):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoTargetsFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrKeyUnavailable), errors.Is(err, domain.ErrSigningUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

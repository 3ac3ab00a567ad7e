package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-engine/internal/domain"
)

type SubscriptionService interface {
	Subscribe(ctx context.Context, sub *domain.Subscription) (*domain.Subscription, error)
	Unsubscribe(ctx context.Context, endpoint string) error
	AssignApplication(ctx context.Context, id string, applicationID string) error
}

type SubscriptionHandler struct {
	service SubscriptionService
}

func NewSubscriptionHandler(service SubscriptionService) (*SubscriptionHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("subscription service is required")
	}
	return &SubscriptionHandler{service: service}, nil
}

func RegisterSubscriptionRoutes(router fiber.Router, service SubscriptionService) error {
	h, err := NewSubscriptionHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/subscriptions", h.Subscribe)
	v1.Delete("/subscriptions", h.Unsubscribe)
	v1.Put("/subscriptions/:id/application", h.AssignApplication)

	return nil
}

// subscribeRequest mirrors the browser's PushSubscription.toJSON() plus ownership fields.
type subscribeRequest struct {
	Endpoint      string               `json:"endpoint"`
	Keys          subscriptionKeysBody `json:"keys"`
	OwnerID       *string              `json:"ownerId"`
	ApplicationID *string              `json:"applicationId"`
}

type subscriptionKeysBody struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

type assignApplicationRequest struct {
	ApplicationID string `json:"applicationId"`
}

type subscriptionResponse struct {
	ID            string    `json:"id"`
	Endpoint      string    `json:"endpoint"`
	OwnerID       *string   `json:"ownerId,omitempty"`
	ApplicationID *string   `json:"applicationId,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

func (h *SubscriptionHandler) Subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sub, err := requestToDomainSubscription(req)
	if err != nil {
		return toHTTPError(err)
	}

	saved, err := h.service.Subscribe(c.UserContext(), sub)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toSubscriptionResponse(saved))
}

func (h *SubscriptionHandler) Unsubscribe(c *fiber.Ctx) error {
	var req unsubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.Unsubscribe(c.UserContext(), req.Endpoint); err != nil {
		return toHTTPError(err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SubscriptionHandler) AssignApplication(c *fiber.Ctx) error {
	var req assignApplicationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.AssignApplication(c.UserContext(), id, req.ApplicationID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"subscriptionId": id,
		"applicationId":  strings.TrimSpace(req.ApplicationID),
	})
}

func requestToDomainSubscription(req subscribeRequest) (*domain.Subscription, error) {
	p256dh, err := domain.DecodeKey(req.Keys.P256dh)
	if err != nil {
		return nil, fmt.Errorf("%w: p256dh: %v", domain.ErrInvalidSubscriptionKeys, err)
	}
	auth, err := domain.DecodeKey(req.Keys.Auth)
	if err != nil {
		return nil, fmt.Errorf("%w: auth: %v", domain.ErrInvalidSubscriptionKeys, err)
	}

	return &domain.Subscription{
		Endpoint:      req.Endpoint,
		Keys:          domain.ClientKeys{P256dh: p256dh, Auth: auth},
		OwnerID:       req.OwnerID,
		ApplicationID: req.ApplicationID,
	}, nil
}

func toSubscriptionResponse(s *domain.Subscription) subscriptionResponse {
	if s == nil {
		return subscriptionResponse{}
	}

	return subscriptionResponse{
		ID:            s.ID,
		Endpoint:      s.Endpoint,
		OwnerID:       s.OwnerID,
		ApplicationID: s.ApplicationID,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

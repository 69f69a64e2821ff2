package handler

import (
	"log/slog"

	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

// WebhookHandler receives provider push events.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// RegisterPublic sets up webhook routes. The provider calls them without a session.
func (h *WebhookHandler) RegisterPublic(router fiber.Router) {
	router.Get("/webhooks/strava", h.Verify)
	router.Post("/webhooks/strava", h.Receive)
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(c fiber.Ctx) error {
	challenge, err := h.webhooks.Verify(c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"hub.challenge": challenge})
}

// Receive acknowledges every event at once and processes it in the background.
func (h *WebhookHandler) Receive(c fiber.Ctx) error {
	var ev service.WebhookEvent
	if err := c.Bind().JSON(&ev); err != nil {
		slog.Warn("malformed webhook event", "error", err)
		return c.SendStatus(fiber.StatusOK)
	}
	h.webhooks.Dispatch(ev)
	return c.SendStatus(fiber.StatusOK)
}

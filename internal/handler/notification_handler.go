package handler

import (
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

// NotificationHandler handles in-app notifications.
type NotificationHandler struct {
	notifications *service.NotificationService
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(notifications *service.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// Register sets up notification routes.
func (h *NotificationHandler) Register(router fiber.Router) {
	n := router.Group("/notifications")
	n.Get("/", h.List)
	n.Post("/read-all", h.MarkAllRead)
	n.Post("/:id/read", h.MarkRead)
}

// List returns the caller's notifications, newest first.
func (h *NotificationHandler) List(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	unread := c.Query("unread") == "true"
	list, err := h.notifications.List(c.Context(), uc.UserID, unread, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"notifications": list,
		"count":         len(list),
	})
}

// MarkRead marks one notification read.
func (h *NotificationHandler) MarkRead(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.notifications.MarkRead(c.Context(), uc.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkAllRead marks every notification read.
func (h *NotificationHandler) MarkAllRead(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.notifications.MarkAllRead(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": n})
}

package handler

import (
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

type sendMessageRequest struct {
	ReceiverID string  `json:"receiverId" validate:"required,uuid"`
	Content    string  `json:"content"    validate:"required"`
	ActivityID *string `json:"activityId" validate:"omitempty,uuid"`
}

// MessageHandler handles direct messaging over HTTP. The live channel
// offers the same operations.
type MessageHandler struct {
	messages *service.MessageService
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.MessageService) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// Register sets up message routes.
func (h *MessageHandler) Register(router fiber.Router) {
	msgs := router.Group("/messages")
	msgs.Post("/", h.Send)
	msgs.Get("/conversations", h.Conversations)
	msgs.Get("/unread-count", h.UnreadCount)
	msgs.Get("/:userId", h.History)
	msgs.Post("/:userId/read", h.MarkRead)
}

// Send delivers a message to the caller's coach or athlete.
func (h *MessageHandler) Send(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	msg, err := h.messages.Send(c.Context(), uc.UserID, service.SendInput{
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		ActivityID: req.ActivityID,
	}, metrics.TransportHTTP)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// Conversations returns the caller's inbox.
func (h *MessageHandler) Conversations(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	convs, err := h.messages.Conversations(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"conversations": convs,
		"count":         len(convs),
	})
}

// UnreadCount returns the number of unread messages.
func (h *MessageHandler) UnreadCount(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := h.messages.UnreadCount(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"count": n})
}

// History returns the thread with another user.
func (h *MessageHandler) History(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	before, err := queryTime(c, "before")
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		return err
	}
	msgs, err := h.messages.History(c.Context(), uc.UserID, c.Params("userId"), before, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// MarkRead marks the thread from another user read.
func (h *MessageHandler) MarkRead(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	receipt, err := h.messages.MarkRead(c.Context(), uc.UserID, c.Params("userId"))
	if err != nil {
		return err
	}
	return c.JSON(receipt)
}

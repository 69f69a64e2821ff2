package handler

import (
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

type createInvitationRequest struct {
	Email         *string `json:"email"         validate:"omitempty,email"`
	ExpiresInDays int     `json:"expiresInDays" validate:"omitempty,gte=1,lte=30"`
}

// InvitationHandler handles coach invitation codes.
type InvitationHandler struct {
	invitations *service.InvitationService
}

// NewInvitationHandler creates a new invitation handler.
func NewInvitationHandler(invitations *service.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// RegisterPublic sets up the code check used by the sign-up form.
func (h *InvitationHandler) RegisterPublic(router fiber.Router) {
	router.Get("/invitations/validate/:code", h.Validate)
}

// Register sets up invitation routes.
func (h *InvitationHandler) Register(router fiber.Router) {
	inv := router.Group("/invitations")
	inv.Post("/", h.Create)
	inv.Get("/", h.List)
	inv.Delete("/:id", h.Cancel)
}

// Create mints a new invitation code.
func (h *InvitationHandler) Create(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req createInvitationRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	inv, err := h.invitations.Create(c.Context(), uc, service.CreateInvitationInput{
		Email:         req.Email,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

// List returns the coach's invitations.
func (h *InvitationHandler) List(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	invs, err := h.invitations.List(c.Context(), uc)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"invitations": invs,
		"count":       len(invs),
	})
}

// Cancel withdraws a pending invitation.
func (h *InvitationHandler) Cancel(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.invitations.Cancel(c.Context(), uc, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Validate reports whether a code can still be redeemed.
func (h *InvitationHandler) Validate(c fiber.Ctx) error {
	check, err := h.invitations.Validate(c.Context(), c.Params("code"))
	if err != nil {
		return err
	}
	return c.JSON(check)
}

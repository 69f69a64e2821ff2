package handler

import (
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

// AthleteHandler handles the coach roster.
type AthleteHandler struct {
	athletes *service.AthleteService
}

// NewAthleteHandler creates a new athlete handler.
func NewAthleteHandler(athletes *service.AthleteService) *AthleteHandler {
	return &AthleteHandler{athletes: athletes}
}

// Register sets up athlete routes.
func (h *AthleteHandler) Register(router fiber.Router) {
	athletes := router.Group("/athletes")
	athletes.Get("/", h.List)
	athletes.Get("/:id", h.Detail)
	athletes.Delete("/:id", h.Remove)

	router.Get("/coach", h.MyCoach)
}

// List returns the coach's athletes.
func (h *AthleteHandler) List(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	athletes, err := h.athletes.List(c.Context(), uc)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"athletes": athletes,
		"count":    len(athletes),
	})
}

// Detail returns an athlete with training stats.
func (h *AthleteHandler) Detail(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	weeks, err := queryInt(c, "weeks", 0)
	if err != nil {
		return err
	}
	detail, err := h.athletes.Detail(c.Context(), uc, c.Params("id"), weeks)
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// Remove unlinks an athlete from the calling coach.
func (h *AthleteHandler) Remove(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.athletes.Remove(c.Context(), uc, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MyCoach returns the calling athlete's coach, or null.
func (h *AthleteHandler) MyCoach(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	coach, err := h.athletes.MyCoach(c.Context(), uc)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"coach": coach})
}

package handler

import (
	"fmt"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

type sessionRequest struct {
	SessionDate       string   `json:"sessionDate"       validate:"required"`
	Title             string   `json:"title"             validate:"required,max=200"`
	Description       string   `json:"description"       validate:"max=5000"`
	TargetDistanceKm  *float64 `json:"targetDistanceKm"  validate:"omitempty,gt=0"`
	TargetDurationSec *int     `json:"targetDurationSec" validate:"omitempty,gt=0"`
}

type planRequest struct {
	AthleteID   string           `json:"athleteId"   validate:"required,uuid"`
	Name        string           `json:"name"        validate:"required,max=200"`
	Description string           `json:"description" validate:"max=5000"`
	StartDate   string           `json:"startDate"   validate:"required"`
	EndDate     string           `json:"endDate"     validate:"required"`
	Sessions    []sessionRequest `json:"sessions"    validate:"dive"`
}

func (r *planRequest) input() (service.PlanInput, error) {
	verr := &port.ValidationError{}
	start, err := parseDay("startDate", r.StartDate)
	if err != nil {
		verr.Add("startDate", "must be a date (YYYY-MM-DD)")
	}
	end, err := parseDay("endDate", r.EndDate)
	if err != nil {
		verr.Add("endDate", "must be a date (YYYY-MM-DD)")
	}
	sessions := make([]service.SessionInput, 0, len(r.Sessions))
	for i, s := range r.Sessions {
		day, err := parseDay("sessionDate", s.SessionDate)
		if err != nil {
			verr.Add(fmt.Sprintf("sessions[%d].sessionDate", i), "must be a date (YYYY-MM-DD)")
		}
		sessions = append(sessions, service.SessionInput{
			SessionDate:       day,
			Title:             s.Title,
			Description:       s.Description,
			TargetDistanceKm:  s.TargetDistanceKm,
			TargetDurationSec: s.TargetDurationSec,
		})
	}
	if len(verr.Fields) > 0 {
		return service.PlanInput{}, verr
	}
	return service.PlanInput{
		AthleteID:   r.AthleteID,
		Name:        r.Name,
		Description: r.Description,
		StartDate:   start,
		EndDate:     end,
		Sessions:    sessions,
	}, nil
}

type sessionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=COMPLETED SKIPPED"`
}

// PlanHandler handles training plan endpoints.
type PlanHandler struct {
	plans *service.PlanService
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(plans *service.PlanService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// Register sets up plan routes.
func (h *PlanHandler) Register(router fiber.Router) {
	plans := router.Group("/plans")
	plans.Post("/", h.Create)
	plans.Get("/", h.List)
	plans.Get("/:id", h.Get)
	plans.Delete("/:id", h.Delete)
	plans.Patch("/:id/sessions/:sessionId", h.UpdateSession)
}

// Create assigns a plan to one of the coach's athletes.
func (h *PlanHandler) Create(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req planRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	in, err := req.input()
	if err != nil {
		return err
	}
	plan, err := h.plans.Create(c.Context(), uc, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(plan)
}

// List returns the caller's plans.
func (h *PlanHandler) List(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	plans, err := h.plans.List(c.Context(), uc, c.Query("athleteId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"plans": plans,
		"count": len(plans),
	})
}

// Get returns one plan with its sessions.
func (h *PlanHandler) Get(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	plan, err := h.plans.Get(c.Context(), uc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(plan)
}

// Delete removes a plan written by the caller.
func (h *PlanHandler) Delete(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.plans.Delete(c.Context(), uc, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UpdateSession completes or skips a planned session.
func (h *PlanHandler) UpdateSession(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req sessionStatusRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	sess, err := h.plans.UpdateSessionStatus(c.Context(), uc, c.Params("id"), c.Params("sessionId"), domain.SessionStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(sess)
}

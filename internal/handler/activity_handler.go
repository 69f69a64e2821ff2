package handler

import (
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

type activityRequest struct {
	Name          string  `json:"name"          validate:"max=200"`
	ActivityType  string  `json:"activityType"  validate:"max=50"`
	Date          string  `json:"date"`
	DistanceKm    float64 `json:"distanceKm"`
	DurationSec   int     `json:"durationSec"`
	ElevationGain int     `json:"elevationGain"`
	AvgHeartRate  *int    `json:"avgHeartRate"  validate:"omitempty,gte=20,lte=260"`
	MaxHeartRate  *int    `json:"maxHeartRate"  validate:"omitempty,gte=20,lte=260"`
	Calories      *int    `json:"calories"      validate:"omitempty,gte=0"`
	Notes         string  `json:"notes"         validate:"max=5000"`
	PlanSessionID *string `json:"planSessionId" validate:"omitempty,uuid"`
}

func (r *activityRequest) input() (service.ActivityInput, error) {
	var date time.Time
	if r.Date != "" {
		d, err := parseDay("date", r.Date)
		if err != nil {
			return service.ActivityInput{}, err
		}
		date = d
	}
	return service.ActivityInput{
		Name:          r.Name,
		ActivityType:  r.ActivityType,
		Date:          date,
		DistanceKm:    r.DistanceKm,
		DurationSec:   r.DurationSec,
		ElevationGain: r.ElevationGain,
		AvgHeartRate:  r.AvgHeartRate,
		MaxHeartRate:  r.MaxHeartRate,
		Calories:      r.Calories,
		Notes:         r.Notes,
		PlanSessionID: r.PlanSessionID,
	}, nil
}

type feedbackRequest struct {
	Feedback string `json:"feedback" validate:"required"`
}

// ActivityHandler handles activity endpoints.
type ActivityHandler struct {
	activities *service.ActivityService
}

// NewActivityHandler creates a new activity handler.
func NewActivityHandler(activities *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activities: activities}
}

// Register sets up activity routes.
func (h *ActivityHandler) Register(router fiber.Router) {
	acts := router.Group("/activities")
	acts.Get("/", h.List)
	acts.Post("/", h.Create)
	acts.Get("/stats", h.Stats)
	acts.Get("/:id", h.Get)
	acts.Put("/:id", h.Update)
	acts.Delete("/:id", h.Delete)
	acts.Post("/:id/feedback", h.Feedback)
	acts.Get("/:id/route", h.Route)
}

// List returns activities for the caller or one of their athletes.
func (h *ActivityHandler) List(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var f domain.ActivityFilter
	if f.From, err = queryTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return err
	}
	if f.Limit, err = queryInt(c, "limit", 0); err != nil {
		return err
	}
	if f.Offset, err = queryInt(c, "offset", 0); err != nil {
		return err
	}

	acts, err := h.activities.List(c.Context(), uc, c.Query("userId"), f)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"activities": acts,
		"count":      len(acts),
	})
}

// Create logs a manual activity.
func (h *ActivityHandler) Create(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req activityRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	in, err := req.input()
	if err != nil {
		return err
	}
	act, err := h.activities.Create(c.Context(), uc, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(act)
}

// Get returns one activity.
func (h *ActivityHandler) Get(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	act, err := h.activities.Get(c.Context(), uc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(act)
}

// Update edits one of the caller's activities.
func (h *ActivityHandler) Update(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req activityRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	in, err := req.input()
	if err != nil {
		return err
	}
	act, err := h.activities.Update(c.Context(), uc, c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(act)
}

// Delete removes one of the caller's activities.
func (h *ActivityHandler) Delete(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.activities.Delete(c.Context(), uc, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Feedback stores the coach's comment.
func (h *ActivityHandler) Feedback(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	var req feedbackRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	act, err := h.activities.Feedback(c.Context(), uc, c.Params("id"), req.Feedback)
	if err != nil {
		return err
	}
	return c.JSON(act)
}

// Route returns the decoded map polyline.
func (h *ActivityHandler) Route(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	route, err := h.activities.Route(c.Context(), uc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"points": route})
}

// Stats returns totals and weekly buckets.
func (h *ActivityHandler) Stats(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	weeks, err := queryInt(c, "weeks", 0)
	if err != nil {
		return err
	}
	stats, err := h.activities.Stats(c.Context(), uc, c.Query("userId"), weeks)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

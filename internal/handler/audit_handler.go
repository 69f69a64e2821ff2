package handler

import (
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 500
)

// AuditHandler handles audit log endpoints.
type AuditHandler struct {
	store port.AuditReader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(store port.AuditReader) *AuditHandler {
	return &AuditHandler{store: store}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	audit := router.Group("/audit")
	audit.Get("/logs", h.ListLogs)
}

// ListLogs returns the caller's audit logs with optional action filtering.
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", defaultAuditLimit)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	action := c.Query("action", "")

	logs, err := h.store.ListAuditLogs(c.Context(), uc.UserID, limit, action)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}

package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
)

const apiPrefix = "/api/v1/"

// auditEntry is captured before the goroutine; Fiber reuses the context.
type auditEntry struct {
	userID    string
	resource  string
	path      string
	ip        string
	userAgent string
	details   []byte
}

// AuditMiddleware records every state-changing request. The caller is
// read after the chain ran, so routes behind JWTMiddleware are attributed.
func AuditMiddleware(writer port.AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		method := c.Method()
		if !isMutating(method) {
			return c.Next()
		}
		start := time.Now()
		e := auditEntry{
			userID:    "anonymous",
			path:      c.Path(),
			ip:        c.IP(),
			userAgent: c.Get("User-Agent"),
		}
		e.resource = resourceOf(e.path)

		err := c.Next()

		if uc := GetUserContext(c); uc != nil {
			e.userID = uc.UserID
		}
		// The error handler has not run yet, so derive the status from err.
		status := c.Response().StatusCode()
		if err != nil {
			status = StatusForError(err)
		}
		e.details, _ = json.Marshal(map[string]any{
			"method":      method,
			"route":       c.Route().Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
		})

		go write(writer, e)
		return err
	}
}

func write(writer port.AuditWriter, e auditEntry) {
	if err := writer.WriteAudit(e.userID, domain.AuditActionRequest, e.resource, e.path, string(e.details), e.ip, e.userAgent); err != nil {
		slog.Error("failed to write audit log", "error", err)
	}
}

// resourceOf names the API collection a path belongs to, e.g. "activities".
func resourceOf(path string) string {
	rest := strings.TrimPrefix(path, apiPrefix)
	if rest == path {
		return "http"
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	if rest == "" {
		return "http"
	}
	return rest
}

func isMutating(method string) bool {
	switch method {
	case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch, fiber.MethodDelete:
		return true
	}
	return false
}

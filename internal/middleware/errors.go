package middleware

import (
	"errors"
	"log/slog"

	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
)

// StatusForError maps an error returned by a handler to its HTTP status.
func StatusForError(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, port.ErrUnauthenticated):
		return fiber.StatusUnauthorized
	case errors.Is(err, port.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, port.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, port.ErrUpstream):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler is the Fiber error handler. It is the single place where
// unexpected errors are logged; callers never see their text.
func ErrorHandler(c fiber.Ctx, err error) error {
	status := StatusForError(err)
	body := fiber.Map{}

	switch status {
	case fiber.StatusUnauthorized:
		body["error"] = "unauthorized"
	case fiber.StatusForbidden:
		var fe *port.ForbiddenError
		if errors.As(err, &fe) {
			body["error"] = fe.Reason
		} else {
			body["error"] = "forbidden"
		}
	case fiber.StatusNotFound:
		body["error"] = "not found"
	case fiber.StatusBadRequest:
		var ve *port.ValidationError
		if errors.As(err, &ve) {
			body["error"] = "validation failed"
			body["fields"] = ve.Fields
		} else {
			body["error"] = "bad request"
		}
	case fiber.StatusConflict:
		var ce *port.ConflictError
		if errors.As(err, &ce) {
			body["error"] = ce.Reason
		} else {
			body["error"] = "conflict"
		}
	case fiber.StatusBadGateway:
		slog.Warn("upstream failure", "path", c.Path(), "error", err)
		body["error"] = "upstream provider failure"
	case fiber.StatusInternalServerError:
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		body["error"] = "internal server error"
	default:
		var fe *fiber.Error
		if errors.As(err, &fe) {
			body["error"] = fe.Message
		} else {
			body["error"] = "request failed"
		}
	}

	return c.Status(status).JSON(body)
}

package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

const dayLayout = "2006-01-02"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bindJSON decodes the body into dst and runs its validate tags.
func bindJSON(c fiber.Ctx, dst any) error {
	if err := c.Bind().JSON(dst); err != nil {
		return port.NewValidationError("body", "malformed JSON body")
	}
	return validateStruct(dst)
}

// validateStruct turns validator failures into one field entry each.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return port.NewValidationError("body", err.Error())
	}
	verr := &port.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fieldPath(fe), fieldMessage(fe))
	}
	return verr
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid", "uuid4":
		return "must be a valid id"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return "must be a date (YYYY-MM-DD)"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "len":
		return fmt.Sprintf("must be %s characters", fe.Param())
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	}
	return "is invalid"
}

// currentUser returns the authenticated caller.
func currentUser(c fiber.Ctx) (*domain.UserContext, error) {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return nil, port.ErrUnauthenticated
	}
	return uc, nil
}

// queryInt parses an optional integer query parameter.
func queryInt(c fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, port.NewValidationError(key, "must be an integer")
	}
	return n, nil
}

// queryTime parses an optional RFC 3339 timestamp or calendar date.
func queryTime(c fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := parseTime(key, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseTime(field, raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(dayLayout, raw); err == nil {
		return t, nil
	}
	return time.Time{}, port.NewValidationError(field, "must be an RFC 3339 timestamp or a date (YYYY-MM-DD)")
}

func parseDay(field, raw string) (time.Time, error) {
	t, err := parseTime(field, raw)
	if err != nil {
		return time.Time{}, err
	}
	return domain.DayStart(t), nil
}

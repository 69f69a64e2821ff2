package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditRecord struct {
	userID, resource, resourceID, details string
}

type chanAuditWriter chan auditRecord

func (w chanAuditWriter) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	w <- auditRecord{userID: userID, resource: resource, resourceID: resourceID, details: details}
	return nil
}

// TestAuditMiddlewareMutatingOnly tests that reads are not audited.
func TestAuditMiddlewareMutatingOnly(t *testing.T) {
	records := make(chanAuditWriter, 4)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(AuditMiddleware(records))
	app.Get("/things", func(c fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/things", func(c fiber.Ctx) error { return port.Forbidden("no") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/things", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/things", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	select {
	case rec := <-records:
		assert.Equal(t, "anonymous", rec.userID)
		assert.Equal(t, "http", rec.resource)
		assert.Equal(t, "/things", rec.resourceID)
		assert.Contains(t, rec.details, `"status":403`)
		assert.Contains(t, rec.details, `"method":"POST"`)
	case <-time.After(time.Second):
		t.Fatal("audit record not written")
	}

	select {
	case rec := <-records:
		t.Fatalf("unexpected audit record: %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestResourceOf tests how paths map to audited resources.
func TestResourceOf(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{path: "/api/v1/activities/abc/feedback", want: "activities"},
		{path: "/api/v1/strava", want: "strava"},
		{path: "/api/v1/", want: "http"},
		{path: "/metrics", want: "http"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, resourceOf(tt.path))
		})
	}
}

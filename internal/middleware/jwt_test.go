package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testSessions() *SessionManager {
	return NewSessionManager(JWTConfig{Secret: testSecret, Issuer: "runcoach", ExpiresIn: time.Hour})
}

// TestIssueVerify tests the session round trip.
func TestIssueVerify(t *testing.T) {
	sm := testSessions()
	token, err := sm.Issue("u1", "c@example.com", domain.RoleCoach)
	require.NoError(t, err)

	uc, err := sm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", uc.UserID)
	assert.Equal(t, "c@example.com", uc.Email)
	assert.Equal(t, domain.RoleCoach, uc.Role)
}

// TestVerifyFailuresCollapse tests that every failure is the same error.
func TestVerifyFailuresCollapse(t *testing.T) {
	sm := testSessions()
	good, err := sm.Issue("u1", "a@example.com", domain.RoleAthlete)
	require.NoError(t, err)

	expired := testSessions()
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue("u1", "a@example.com", domain.RoleAthlete)
	require.NoError(t, err)

	other := NewSessionManager(JWTConfig{Secret: "ffffffffffffffffffffffffffffffff", Issuer: "runcoach", ExpiresIn: time.Hour})
	forged, err := other.Issue("u1", "a@example.com", domain.RoleCoach)
	require.NoError(t, err)

	state, err := sm.IssueState("u1", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"unsigned", good[:len(good)-10]},
		{"expired", old},
		{"wrong secret", forged},
		{"state token used as session", state},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sm.Verify(tt.token)
			assert.ErrorIs(t, err, port.ErrUnauthenticated)
		})
	}
}

// TestStateToken tests the OAuth state round trip.
func TestStateToken(t *testing.T) {
	sm := testSessions()
	state, err := sm.IssueState("u7", 10*time.Minute)
	require.NoError(t, err)

	userID, err := sm.VerifyState(state)
	require.NoError(t, err)
	assert.Equal(t, "u7", userID)

	session, err := sm.Issue("u7", "a@example.com", domain.RoleAthlete)
	require.NoError(t, err)
	_, err = sm.VerifyState(session)
	assert.ErrorIs(t, err, port.ErrUnauthenticated)
}

// TestBearerToken tests header parsing.
func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

// TestJWTMiddleware tests request gating.
func TestJWTMiddleware(t *testing.T) {
	sm := testSessions()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/me", JWTMiddleware(sm), func(c fiber.Ctx) error {
		return c.SendString(GetUserContext(c).UserID)
	})
	token, err := sm.Issue("u1", "a@example.com", domain.RoleAthlete)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"bearer header", "/me", "Bearer " + token, http.StatusOK},
		{"query token", "/me?token=" + token, "", http.StatusOK},
		{"missing", "/me", "", http.StatusUnauthorized},
		{"invalid", "/me", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

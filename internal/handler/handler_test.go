package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthAndAuthentication tests the public health route and the 401 shape.
func TestHealthAndAuthentication(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	for _, token := range []string{"", "not-a-jwt"} {
		resp, body = s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, map[string]any{"error": "unauthorized"}, body)
	}
}

// TestRegisterLoginMe tests the account lifecycle over HTTP.
func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "Coach@Example.com", "password": "s3cret-pass", "name": "Coach", "role": "COACH",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["token"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "coach@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, _ = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "nobody@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "coach@example.com", "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)

	resp, body = s.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "coach@example.com", body["email"])
	assert.NotContains(t, body, "password_hash")
}

// TestRequestValidation tests field errors for bad bodies.
func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "not-an-email", "password": "short", "role": "ADMIN",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	fields, ok := body["fields"].(map[string]any)
	require.True(t, ok)
	for _, f := range []string{"email", "password", "name", "role"} {
		assert.Contains(t, fields, f)
	}

	resp, body = s.do(t, http.MethodPost, "/api/v1/auth/login", "", "{not json")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation failed", body["error"])
}

// TestInvitationSignUp tests a coach inviting an athlete who signs up with the code.
func TestInvitationSignUp(t *testing.T) {
	s := newTestServer(t)
	coachID, coachToken := s.user(t, "coach", domain.RoleCoach, nil)
	_, athleteToken := s.user(t, "solo", domain.RoleAthlete, nil)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/invitations", athleteToken, map[string]any{})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/v1/invitations", coachToken, map[string]any{"expiresInDays": 3})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	code, _ := body["code"].(string)
	require.Len(t, code, 6)

	resp, body = s.do(t, http.MethodGet, "/api/v1/invitations/validate/"+code, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "coach", body["coach_name"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email": "runner@example.com", "password": "s3cret-pass", "name": "Runner", "role": "ATHLETE", "invitationCode": code,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	user, _ := body["user"].(map[string]any)
	assert.Equal(t, coachID, user["coach_id"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/invitations/validate/"+code, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "invitation already used", body["reason"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/athletes", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

// TestActivityAndPlanRoutes tests ownership and coaching rules over HTTP.
func TestActivityAndPlanRoutes(t *testing.T) {
	s := newTestServer(t)
	coachID, coachToken := s.user(t, "coach", domain.RoleCoach, nil)
	_, otherToken := s.user(t, "other", domain.RoleCoach, nil)
	athleteID, athleteToken := s.user(t, "runner", domain.RoleAthlete, &coachID)

	resp, body := s.do(t, http.MethodPost, "/api/v1/activities", athleteToken, map[string]any{
		"name": "Long run", "date": "2026-03-01", "distanceKm": 20, "durationSec": 6000,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	activityID, _ := body["id"].(string)
	assert.EqualValues(t, 300, body["avg_pace_sec_per_km"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/activities", athleteToken, map[string]any{"name": "Bad", "date": "March 1st"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/activities?userId="+athleteID, coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = s.do(t, http.MethodGet, "/api/v1/activities/"+activityID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/activities/stats?weeks=4", athleteToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["weekly"], 4)

	resp, body = s.do(t, http.MethodPost, "/api/v1/activities/"+activityID+"/feedback", coachToken, map[string]any{"feedback": "Strong finish"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Strong finish", body["coach_feedback"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/plans", athleteToken, map[string]any{
		"athleteId": athleteID, "name": "Block", "startDate": "2026-03-02", "endDate": "2026-03-08",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.NotEqual(t, "forbidden", body["error"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/plans", coachToken, map[string]any{
		"athleteId": athleteID, "name": "Block", "startDate": "2026-03-02", "endDate": "2026-03-08",
		"sessions": []map[string]any{{"sessionDate": "2026-03-03", "title": "Intervals"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	planID, _ := body["id"].(string)
	sessions, _ := body["sessions"].([]any)
	require.Len(t, sessions, 1)
	sessionID, _ := sessions[0].(map[string]any)["id"].(string)

	path := "/api/v1/plans/" + planID + "/sessions/" + sessionID
	resp, _ = s.do(t, http.MethodPatch, path, athleteToken, map[string]any{"status": "PLANNED"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = s.do(t, http.MethodPatch, path, athleteToken, map[string]any{"status": "SKIPPED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SKIPPED", body["status"])

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/activities/"+activityID, coachToken, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/api/v1/activities/"+activityID, athleteToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// TestMessagingRoutes tests send, inbox, history and read receipts.
func TestMessagingRoutes(t *testing.T) {
	s := newTestServer(t)
	coachID, coachToken := s.user(t, "coach", domain.RoleCoach, nil)
	athleteID, athleteToken := s.user(t, "runner", domain.RoleAthlete, &coachID)
	strangerID, _ := s.user(t, "stranger", domain.RoleAthlete, nil)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/messages", athleteToken, map[string]any{"receiverId": strangerID, "content": "hi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/messages", athleteToken, map[string]any{"receiverId": coachID, "content": strings.Repeat("x", 2001)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/api/v1/messages", athleteToken, map[string]any{"receiverId": coachID, "content": "How was my run?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Nil(t, body["read_at"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/messages/unread-count", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/messages/conversations", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/messages/"+athleteID, coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/messages/"+athleteID+"/read", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	// The coach held no live connection, so the message became a notification.
	resp, body = s.do(t, http.MethodGet, "/api/v1/notifications?unread=true", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/notifications/read-all", coachToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/notifications/missing/read", coachToken, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestWebhookRoutes tests the handshake and that events are always acknowledged.
func TestWebhookRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodGet, "/api/v1/webhooks/strava?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=xyz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "xyz", body["hub.challenge"])

	resp, _ = s.do(t, http.MethodGet, "/api/v1/webhooks/strava?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=xyz", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/strava", "", "garbage")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/webhooks/strava", "", map[string]any{
		"object_type": "activity", "object_id": 1, "aspect_type": "create", "owner_id": 424242,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	s.webhooks.Wait()
}

// TestStravaLinkFlow tests connect, callback, status and sync.
func TestStravaLinkFlow(t *testing.T) {
	s := newTestServer(t)
	athleteID, token := s.user(t, "runner", domain.RoleAthlete, nil)
	s.provider.pair = &domain.TokenPair{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour), AthleteID: 555}

	resp, body := s.do(t, http.MethodGet, "/api/v1/strava/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["connected"])

	resp, _ = s.do(t, http.MethodPost, "/api/v1/strava/sync", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/strava/connect", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	consent, err := url.Parse(body["url"].(string))
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/strava/callback?code=c1&state=forged", "", nil)
	assert.Contains(t, resp.Header.Get("Location"), "reason=invalid_state")

	resp, _ = s.do(t, http.MethodGet, "/api/v1/strava/callback?code=c1&scope=read&state="+url.QueryEscape(state), "", nil)
	assert.Equal(t, "http://frontend.test/settings/strava?status=connected", resp.Header.Get("Location"))

	resp, body = s.do(t, http.MethodGet, "/api/v1/strava/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["connected"])
	assert.EqualValues(t, 555, body["athlete_id"])

	resp, body = s.do(t, http.MethodPost, "/api/v1/strava/sync", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["synced"])

	resp, body = s.do(t, http.MethodGet, "/api/v1/strava/sync/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "complete", body["status"])

	assert.Eventually(t, func() bool {
		logs, err := s.store.ListAuditLogs(context.Background(), athleteID, 10, domain.AuditActionStravaLink)
		return err == nil && len(logs) == 1
	}, time.Second, 10*time.Millisecond)

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/strava/disconnect", token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = s.do(t, http.MethodDelete, "/api/v1/strava/disconnect", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestAuditLogsScopedToCaller tests that the audit listing only returns the caller's entries.
func TestAuditLogsScopedToCaller(t *testing.T) {
	s := newTestServer(t)
	_, coachToken := s.user(t, "coach", domain.RoleCoach, nil)
	_, otherToken := s.user(t, "other", domain.RoleCoach, nil)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/invitations", coachToken, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	assert.Eventually(t, func() bool {
		_, body := s.do(t, http.MethodGet, "/api/v1/audit/logs", coachToken, nil)
		return body["count"] == float64(1)
	}, time.Second, 10*time.Millisecond)

	_, body := s.do(t, http.MethodGet, "/api/v1/audit/logs", otherToken, nil)
	assert.EqualValues(t, 0, body["count"])
}

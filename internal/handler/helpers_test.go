package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/adapter/presence"
	"github.com/arturoeanton/runcoach/internal/adapter/store"
	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testTimeout covers bcrypt and the race detector on slow machines.
const testTimeout = 10 * time.Second

type stubProvider struct {
	pair   *domain.TokenPair
	remote []domain.RemoteActivity
}

func (p *stubProvider) ProviderName() string { return domain.ProviderStrava }

func (p *stubProvider) AuthURL(state string) string {
	return "https://provider.test/oauth/authorize?state=" + state
}

func (p *stubProvider) ExchangeCode(context.Context, string) (*domain.TokenPair, error) {
	if p.pair == nil {
		return nil, port.ErrUpstream
	}
	pair := *p.pair
	return &pair, nil
}

func (p *stubProvider) RefreshToken(context.Context, string) (*domain.TokenPair, error) {
	return nil, port.ErrUpstream
}

func (p *stubProvider) ListActivities(context.Context, string, port.ActivityQuery) ([]domain.RemoteActivity, error) {
	return p.remote, nil
}

func (p *stubProvider) Deauthorize(context.Context, string) error { return nil }

type testServer struct {
	app      *fiber.App
	store    *store.MemoryStore
	sessions *middleware.SessionManager
	provider *stubProvider
	webhooks *service.WebhookService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	reg := presence.NewMemoryRegistry()
	provider := &stubProvider{}
	sessions := middleware.NewSessionManager(middleware.JWTConfig{Secret: testSecret, Issuer: "runcoach", ExpiresIn: time.Hour})

	authz := service.NewAuthorizer(st)
	notifier := service.NewNotificationService(st, nil)
	activities := service.NewActivityService(st, st, authz, notifier)
	vault := service.NewTokenVault(st, provider)
	syncer := service.NewSyncService(vault, provider, st, st, service.NewSyncTracker(), nil, 50)
	webhooks := service.NewWebhookService(st, st, syncer, vault, st, "verify-me")

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler})
	Mount(app, RouterConfig{
		Sessions:    sessions,
		Store:       st,
		FrontendURL: "http://frontend.test",
		AppName:     "RunCoach",
	}, Services{
		Auth:          service.NewAuthService(st, st, sessions, notifier).WithHashCost(bcrypt.MinCost),
		Invitations:   service.NewInvitationService(st, st, 7*24*time.Hour),
		Athletes:      service.NewAthleteService(st, st, authz, activities, notifier),
		Activities:    activities,
		Plans:         service.NewPlanService(st, authz, notifier),
		Vault:         vault,
		Sync:          syncer,
		Webhooks:      webhooks,
		Messages:      service.NewMessageService(st, st, st, authz, notifier, nil, reg),
		Notifications: notifier,
		Provider:      provider,
	})
	return &testServer{app: app, store: st, sessions: sessions, provider: provider, webhooks: webhooks}
}

// user creates an account directly in the store and returns its id and token.
func (s *testServer) user(t *testing.T, name string, role domain.Role, coachID *string) (string, string) {
	t.Helper()
	u, err := s.store.CreateUser(context.Background(), &domain.User{
		Email: name + "@example.com", Name: name, Role: role, PasswordHash: "x", CoachID: coachID,
	})
	require.NoError(t, err)
	token, err := s.sessions.Issue(u.ID, u.Email, u.Role)
	require.NoError(t, err)
	return u.ID, token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, fiber.TestConfig{Timeout: testTimeout})
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/adapter/presence"
	"github.com/arturoeanton/runcoach/internal/adapter/store"
	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/stretchr/testify/require"
)

type liveEvent struct {
	UserID string
	Event  string
	Data   any
}

// recordingLive records every pushed event. Users in online receive them.
type recordingLive struct {
	mu     sync.Mutex
	online map[string]bool
	events []liveEvent
}

func newRecordingLive(online ...string) *recordingLive {
	l := &recordingLive{online: map[string]bool{}}
	for _, u := range online {
		l.online[u] = true
	}
	return l
}

func (l *recordingLive) Deliver(userID, event string, data any) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, liveEvent{UserID: userID, Event: event, Data: data})
	return l.online[userID]
}

func (l *recordingLive) eventsFor(userID, event string) []liveEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []liveEvent
	for _, e := range l.events {
		if e.UserID == userID && e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakeProvider struct {
	mu           sync.Mutex
	refreshCalls int
	refresh      func(refreshToken string) (*domain.TokenPair, error)
	remote       []domain.RemoteActivity
	listErr      error
	lastToken    string
	deauthorized []string
}

func (p *fakeProvider) ProviderName() string { return domain.ProviderStrava }

func (p *fakeProvider) AuthURL(state string) string { return "https://provider.test/authorize?state=" + state }

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*domain.TokenPair, error) {
	return &domain.TokenPair{AccessToken: "a-" + code, RefreshToken: "r-" + code, ExpiresAt: time.Now().Add(time.Hour), AthleteID: 42}, nil
}

func (p *fakeProvider) RefreshToken(_ context.Context, refreshToken string) (*domain.TokenPair, error) {
	p.mu.Lock()
	p.refreshCalls++
	fn := p.refresh
	p.mu.Unlock()
	if fn == nil {
		return &domain.TokenPair{AccessToken: "a-refreshed", RefreshToken: "r-refreshed", ExpiresAt: time.Now().Add(6 * time.Hour)}, nil
	}
	return fn(refreshToken)
}

func (p *fakeProvider) ListActivities(_ context.Context, accessToken string, _ port.ActivityQuery) ([]domain.RemoteActivity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastToken = accessToken
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]domain.RemoteActivity(nil), p.remote...), nil
}

func (p *fakeProvider) Deauthorize(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deauthorized = append(p.deauthorized, accessToken)
	return nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

// fixture wires every service over one in-memory store.
type fixture struct {
	store       *store.MemoryStore
	live        *recordingLive
	presence    *presence.MemoryRegistry
	provider    *fakeProvider
	authz       *Authorizer
	notifier    *NotificationService
	activities  *ActivityService
	athletes    *AthleteService
	plans       *PlanService
	messages    *MessageService
	vault       *TokenVault
	sync        *SyncService
	webhooks    *WebhookService
	invitations *InvitationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	live := newRecordingLive()
	reg := presence.NewMemoryRegistry()
	provider := &fakeProvider{}

	f := &fixture{store: st, live: live, presence: reg, provider: provider}
	f.authz = NewAuthorizer(st)
	f.notifier = NewNotificationService(st, live)
	f.activities = NewActivityService(st, st, f.authz, f.notifier)
	f.athletes = NewAthleteService(st, st, f.authz, f.activities, f.notifier)
	f.plans = NewPlanService(st, f.authz, f.notifier)
	f.messages = NewMessageService(st, st, st, f.authz, f.notifier, live, reg)
	f.vault = NewTokenVault(st, provider)
	f.sync = NewSyncService(f.vault, provider, st, st, NewSyncTracker(), live, 50)
	f.webhooks = NewWebhookService(st, st, f.sync, f.vault, st, "verify-me")
	f.invitations = NewInvitationService(st, st, 7*24*time.Hour)
	return f
}

func (f *fixture) coach(t *testing.T, name string) *domain.UserContext {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), &domain.User{
		Email: name + "@example.com", Name: name, Role: domain.RoleCoach, PasswordHash: "x",
	})
	require.NoError(t, err)
	return &domain.UserContext{UserID: u.ID, Email: u.Email, Role: u.Role}
}

func (f *fixture) athlete(t *testing.T, name string, coach *domain.UserContext) *domain.UserContext {
	t.Helper()
	u := &domain.User{Email: name + "@example.com", Name: name, Role: domain.RoleAthlete, PasswordHash: "x"}
	if coach != nil {
		id := coach.UserID
		u.CoachID = &id
	}
	created, err := f.store.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return &domain.UserContext{UserID: created.ID, Email: created.Email, Role: created.Role}
}

func (f *fixture) linkStrava(t *testing.T, user *domain.UserContext, athleteID int64, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.SaveToken(context.Background(), &domain.ExternalToken{
		UserID:            user.UserID,
		Provider:          domain.ProviderStrava,
		ExternalAthleteID: athleteID,
		AccessToken:       "a-stored",
		RefreshToken:      "r-stored",
		ExpiresAt:         expiresAt,
	}))
}

func ptr[T any](v T) *T { return &v }

var zeroFilter = domain.ActivityFilter{}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

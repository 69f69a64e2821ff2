package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns every store the contract tests run against. Postgres is
// included when TEST_DATABASE_URL points at a disposable database.
func backends(t *testing.T) map[string]func(t *testing.T) port.Store {
	out := map[string]func(t *testing.T) port.Store{
		"memory": func(t *testing.T) port.Store { return NewMemoryStore() },
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		out["postgres"] = func(t *testing.T) port.Store {
			pg, err := NewPostgresStore(url)
			require.NoError(t, err)
			require.NoError(t, pg.Migrate(context.Background()))
			_, err = pg.db.Exec(`TRUNCATE users, invitations, external_tokens, activities, training_plans,
				plan_sessions, messages, notifications, audit_logs CASCADE`)
			require.NoError(t, err)
			t.Cleanup(func() { pg.Close() })
			return pg
		}
	}
	return out
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s port.Store)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func mustUser(t *testing.T, s port.Store, email string, role domain.Role, coachID *string) *domain.User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), &domain.User{
		Email: email, PasswordHash: "x", Name: email, Role: role, CoachID: coachID,
	})
	require.NoError(t, err)
	return u
}

// TestUsersUniqueEmail tests that a duplicate email is a conflict.
func TestUsersUniqueEmail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		mustUser(t, s, "coach@example.com", domain.RoleCoach, nil)

		_, err := s.CreateUser(ctx, &domain.User{Email: "COACH@example.com", PasswordHash: "x", Name: "c", Role: domain.RoleCoach})
		assert.ErrorIs(t, err, port.ErrConflict)

		_, err = s.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

// TestSetCoachUnlink tests linking and unlinking an athlete.
func TestSetCoachUnlink(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		athlete := mustUser(t, s, "a@example.com", domain.RoleAthlete, &coach.ID)

		list, err := s.ListAthletes(ctx, coach.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		require.NoError(t, s.SetCoach(ctx, athlete.ID, nil))
		got, err := s.GetUserByID(ctx, athlete.ID)
		require.NoError(t, err)
		assert.Nil(t, got.CoachID)

		list, err = s.ListAthletes(ctx, coach.ID)
		require.NoError(t, err)
		assert.Empty(t, list)
	})
}

// TestInvitationCodeInsertIfAbsent tests that a taken code is rejected.
func TestInvitationCodeInsertIfAbsent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		inv := &domain.Invitation{CoachID: coach.ID, Code: "ABC123", ExpiresAt: time.Now().Add(time.Hour)}

		created, err := s.CreateInvitation(ctx, inv)
		require.NoError(t, err)
		assert.Equal(t, domain.InvitationPending, created.Status)

		_, err = s.CreateInvitation(ctx, inv)
		assert.ErrorIs(t, err, port.ErrConflict)
	})
}

// TestRegisterWithInvitation tests the single-use acceptance.
func TestRegisterWithInvitation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		_, err := s.CreateInvitation(ctx, &domain.Invitation{CoachID: coach.ID, Code: "ABC123", ExpiresAt: now.Add(7 * 24 * time.Hour)})
		require.NoError(t, err)

		athlete, inv, err := s.RegisterWithInvitation(ctx,
			&domain.User{Email: "a@example.com", PasswordHash: "x", Name: "A"}, "ABC123", now)
		require.NoError(t, err)
		require.NotNil(t, athlete.CoachID)
		assert.Equal(t, coach.ID, *athlete.CoachID)
		assert.Equal(t, domain.RoleAthlete, athlete.Role)
		assert.Equal(t, domain.InvitationAccepted, inv.Status)
		require.NotNil(t, inv.UsedAt)
		require.NotNil(t, inv.UsedByEmail)
		assert.Equal(t, "a@example.com", *inv.UsedByEmail)

		_, _, err = s.RegisterWithInvitation(ctx,
			&domain.User{Email: "b@example.com", PasswordHash: "x", Name: "B"}, "ABC123", now)
		assert.ErrorIs(t, err, port.ErrInvitationUsed)
		assert.ErrorIs(t, err, port.ErrValidation)

		_, err = s.GetUserByEmail(ctx, "b@example.com")
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

// TestRegisterWithExpiredInvitation tests that an overdue code is marked EXPIRED.
func TestRegisterWithExpiredInvitation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		now := time.Now().UTC()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		created, err := s.CreateInvitation(ctx, &domain.Invitation{CoachID: coach.ID, Code: "OLD111", ExpiresAt: now.Add(-time.Minute)})
		require.NoError(t, err)

		_, _, err = s.RegisterWithInvitation(ctx, &domain.User{Email: "a@example.com", PasswordHash: "x", Name: "A"}, "OLD111", now)
		assert.ErrorIs(t, err, port.ErrInvitationExpired)

		got, err := s.GetInvitationByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvitationExpired, got.Status)

		_, _, err = s.RegisterWithInvitation(ctx, &domain.User{Email: "a@example.com", PasswordHash: "x", Name: "A"}, "NOPE00", now)
		assert.ErrorIs(t, err, port.ErrInvitationNotFound)
	})
}

// TestInvitationTransitionsAreMonotonic tests that terminal states never revert.
func TestInvitationTransitionsAreMonotonic(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		inv, err := s.CreateInvitation(ctx, &domain.Invitation{CoachID: coach.ID, Code: "CAN222", ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)

		ok, err := s.TransitionInvitation(ctx, inv.ID, domain.InvitationPending, domain.InvitationCancelled)
		require.NoError(t, err)
		assert.True(t, ok)

		for _, to := range []domain.InvitationStatus{domain.InvitationPending, domain.InvitationAccepted, domain.InvitationExpired} {
			ok, err = s.TransitionInvitation(ctx, inv.ID, domain.InvitationCancelled, to)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		ok, err = s.TransitionInvitation(ctx, inv.ID, domain.InvitationPending, domain.InvitationAccepted)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetInvitationByID(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvitationCancelled, got.Status)
	})
}

// TestReplaceExpiredTokenIsConditional tests the compare-on-expiry update.
func TestReplaceExpiredTokenIsConditional(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		u := mustUser(t, s, "a@example.com", domain.RoleAthlete, nil)
		observed := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, s.SaveToken(ctx, &domain.ExternalToken{
			UserID: u.ID, Provider: domain.ProviderStrava, ExternalAthleteID: 42,
			AccessToken: "old", RefreshToken: "r-old", ExpiresAt: observed,
		}))

		next := time.Now().Add(6 * time.Hour).UTC().Truncate(time.Second)
		ok, err := s.ReplaceExpiredToken(ctx, u.ID, observed, &domain.ExternalToken{AccessToken: "new", RefreshToken: "r-new", ExpiresAt: next})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.ReplaceExpiredToken(ctx, u.ID, observed, &domain.ExternalToken{AccessToken: "stale", RefreshToken: "r", ExpiresAt: next})
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetToken(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", got.AccessToken)
		assert.True(t, got.ExpiresAt.Equal(next))

		byAthlete, err := s.GetTokenByAthlete(ctx, 42)
		require.NoError(t, err)
		assert.Equal(t, u.ID, byAthlete.UserID)

		require.NoError(t, s.DeleteToken(ctx, u.ID))
		_, err = s.GetToken(ctx, u.ID)
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

// TestSyncedActivityUniqueness tests the (user_id, strava_id) constraint under concurrency.
func TestSyncedActivityUniqueness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		u := mustUser(t, s, "a@example.com", domain.RoleAthlete, nil)
		sid := int64(999)

		var wg sync.WaitGroup
		var mu sync.Mutex
		inserted := 0
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a := &domain.Activity{UserID: u.ID, StravaID: &sid, Source: domain.SourceStrava, Name: "Run", ActivityType: "Run", Date: time.Now()}
				ok, err := s.InsertSyncedActivity(ctx, a)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					inserted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, inserted)

		list, err := s.ListActivities(ctx, u.ID, domain.ActivityFilter{})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		found, err := s.ExistingStravaIDs(ctx, u.ID, []int64{999, 1000})
		require.NoError(t, err)
		assert.True(t, found[999])
		assert.False(t, found[1000])
	})
}

// TestActivitySplitsRoundTrip tests nullable JSON columns.
func TestActivitySplitsRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		u := mustUser(t, s, "a@example.com", domain.RoleAthlete, nil)

		plain, err := s.CreateActivity(ctx, &domain.Activity{UserID: u.ID, Source: domain.SourceManual, Name: "Easy", ActivityType: "Run", Date: time.Now()})
		require.NoError(t, err)
		got, err := s.GetActivity(ctx, plain.ID)
		require.NoError(t, err)
		out, err := json.Marshal(got.Splits)
		require.NoError(t, err)
		assert.Equal(t, "null", string(out))

		splits := json.RawMessage(`[{"split":1,"distance":1000}]`)
		withSplits, err := s.CreateActivity(ctx, &domain.Activity{UserID: u.ID, Source: domain.SourceManual, Name: "Tempo", ActivityType: "Run", Date: time.Now(), Splits: splits})
		require.NoError(t, err)
		got, err = s.GetActivity(ctx, withSplits.ID)
		require.NoError(t, err)
		assert.JSONEq(t, string(splits), string(got.Splits))
	})
}

// TestActivityStatsWeeklyBuckets tests Monday-based aggregation.
func TestActivityStatsWeeklyBuckets(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		u := mustUser(t, s, "a@example.com", domain.RoleAthlete, nil)
		// 2026-03-02 is a Monday.
		dates := []time.Time{
			time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC),
		}
		for _, d := range dates {
			_, err := s.CreateActivity(ctx, &domain.Activity{UserID: u.ID, Source: domain.SourceManual, Name: "Run", ActivityType: "Run", Date: d, DistanceKm: 10, DurationSec: 3000})
			require.NoError(t, err)
		}

		stats, err := s.ActivityStats(ctx, u.ID, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Totals.Count)
		assert.InDelta(t, 30.0, stats.Totals.DistanceKm, 0.001)
		require.NotNil(t, stats.AvgPace)
		assert.InDelta(t, 300.0, *stats.AvgPace, 0.001)
		require.Len(t, stats.Weekly, 2)
		assert.True(t, stats.Weekly[0].WeekStart.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)))
		assert.Equal(t, 2, stats.Weekly[0].Count)
		assert.Equal(t, 1, stats.Weekly[1].Count)
	})
}

// TestLinkActivityToSession tests that a session is completed at most once.
func TestLinkActivityToSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		athlete := mustUser(t, s, "a@example.com", domain.RoleAthlete, &coach.ID)
		day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)

		plan, err := s.CreatePlan(ctx, &domain.TrainingPlan{
			CoachID: coach.ID, AthleteID: athlete.ID, Name: "Base", StartDate: day, EndDate: day.AddDate(0, 0, 7),
			Sessions: []domain.PlanSession{{SessionDate: day, Title: "Easy 8k"}},
		})
		require.NoError(t, err)
		require.Len(t, plan.Sessions, 1)

		sess, err := s.FindOpenSession(ctx, athlete.ID, day.Add(9*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, plan.Sessions[0].ID, sess.ID)

		_, err = s.FindOpenSession(ctx, athlete.ID, day.AddDate(0, 0, 1))
		assert.ErrorIs(t, err, port.ErrNotFound)

		a1, err := s.CreateActivity(ctx, &domain.Activity{UserID: athlete.ID, Source: domain.SourceManual, Name: "Run", ActivityType: "Run", Date: day})
		require.NoError(t, err)
		a2, err := s.CreateActivity(ctx, &domain.Activity{UserID: athlete.ID, Source: domain.SourceManual, Name: "Run 2", ActivityType: "Run", Date: day})
		require.NoError(t, err)

		ok, err := s.LinkActivityToSession(ctx, sess.ID, a1.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = s.LinkActivityToSession(ctx, sess.ID, a2.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetActivity(ctx, a1.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PlanSessionID)
		assert.Equal(t, sess.ID, *got.PlanSessionID)

		done, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, done.Status)
	})
}

// TestMarkReadIsDirectional tests that only sender to receiver messages are stamped.
func TestMarkReadIsDirectional(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		coach := mustUser(t, s, "c@example.com", domain.RoleCoach, nil)
		athlete := mustUser(t, s, "a@example.com", domain.RoleAthlete, &coach.ID)

		for i := 0; i < 3; i++ {
			_, err := s.CreateMessage(ctx, &domain.Message{SenderID: coach.ID, ReceiverID: athlete.ID, Content: "hi"})
			require.NoError(t, err)
		}
		_, err := s.CreateMessage(ctx, &domain.Message{SenderID: athlete.ID, ReceiverID: coach.ID, Content: "hey"})
		require.NoError(t, err)

		at := time.Now().UTC().Truncate(time.Millisecond)
		n, err := s.MarkRead(ctx, coach.ID, athlete.ID, at)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		thread, err := s.ListMessages(ctx, coach.ID, athlete.ID, nil, 50)
		require.NoError(t, err)
		require.Len(t, thread, 4)
		for _, m := range thread {
			if m.SenderID == coach.ID {
				require.NotNil(t, m.ReadAt)
				assert.True(t, m.ReadAt.Equal(at))
			} else {
				assert.Nil(t, m.ReadAt)
			}
		}

		unread, err := s.CountUnread(ctx, coach.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, unread)

		convs, err := s.ListConversations(ctx, coach.ID)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		assert.Equal(t, 1, convs[0].UnreadCount)
		require.NotNil(t, convs[0].Counterpart)
		assert.Equal(t, athlete.ID, convs[0].Counterpart.ID)
		assert.Equal(t, "hey", convs[0].LastMessage.Content)
	})
}

// TestNotificationsReadState tests per-user read marking.
func TestNotificationsReadState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s port.Store) {
		ctx := context.Background()
		u := mustUser(t, s, "a@example.com", domain.RoleAthlete, nil)
		other := mustUser(t, s, "b@example.com", domain.RoleAthlete, nil)

		n1, err := s.CreateNotification(ctx, &domain.Notification{UserID: u.ID, Kind: domain.NotifyPlanAssigned, Title: "Plan"})
		require.NoError(t, err)
		_, err = s.CreateNotification(ctx, &domain.Notification{UserID: u.ID, Kind: domain.NotifyFeedback, Title: "Feedback"})
		require.NoError(t, err)

		ok, err := s.MarkNotificationRead(ctx, other.ID, n1.ID, time.Now())
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.MarkNotificationRead(ctx, u.ID, n1.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, ok)

		unread, err := s.ListNotifications(ctx, u.ID, true, 10)
		require.NoError(t, err)
		assert.Len(t, unread, 1)

		n, err := s.MarkAllNotificationsRead(ctx, u.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

// TestMemoryStoreAuditLogs tests audit filtering on the memory backend.
func TestMemoryStoreAuditLogs(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.WriteAudit("u1", domain.AuditActionRequest, "api", "/x", "{}", "127.0.0.1", "test"))
	require.NoError(t, s.WriteAudit("u1", domain.AuditActionWebhook, "strava", "1", "{}", "127.0.0.1", "test"))

	logs, err := s.ListAuditLogs(context.Background(), "", 10, domain.AuditActionWebhook)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "strava", logs[0].Resource)

	require.NoError(t, s.WriteAudit("u2", domain.AuditActionRequest, "api", "/y", "{}", "127.0.0.1", "test"))
	logs, err = s.ListAuditLogs(context.Background(), "u2", 10, "")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "/y", logs[0].ResourceID)
}

// TestTranslate tests driver error mapping.
func TestTranslate(t *testing.T) {
	assert.ErrorIs(t, translate("op", sql.ErrNoRows), port.ErrNotFound)
	assert.ErrorIs(t, translate("op", &pq.Error{Code: pgUniqueViolation}), port.ErrConflict)
	assert.ErrorIs(t, translate("op", &pq.Error{Code: pgInvalidText}), port.ErrNotFound)

	err := translate("op", errors.New("boom"))
	assert.NotErrorIs(t, err, port.ErrNotFound)
	assert.EqualError(t, err, "op: boom")
}

package service

import (
	"context"
	"testing"

	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthorizerRelationships tests coach/athlete permission answers.
func TestAuthorizerRelationships(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coach := f.coach(t, "coach")
	other := f.coach(t, "other")
	athlete := f.athlete(t, "runner", coach)
	loner := f.athlete(t, "loner", nil)

	ok, err := f.authz.IsCoachOf(ctx, coach.UserID, athlete.UserID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.authz.IsCoachOf(ctx, other.UserID, athlete.UserID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.authz.IsCoachOf(ctx, coach.UserID, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	coachID, err := f.authz.CoachOf(ctx, athlete.UserID)
	require.NoError(t, err)
	require.NotNil(t, coachID)
	assert.Equal(t, coach.UserID, *coachID)

	t.Run("act on", func(t *testing.T) {
		assert.NoError(t, f.authz.CanActOn(ctx, athlete, athlete.UserID))
		assert.NoError(t, f.authz.CanActOn(ctx, coach, athlete.UserID))
		assert.ErrorIs(t, f.authz.CanActOn(ctx, other, athlete.UserID), port.ErrForbidden)
		assert.ErrorIs(t, f.authz.CanActOn(ctx, loner, athlete.UserID), port.ErrForbidden)
	})

	t.Run("view hides existence", func(t *testing.T) {
		err := f.authz.CanView(ctx, other, athlete.UserID)
		assert.ErrorIs(t, err, port.ErrNotFound)
		assert.NotErrorIs(t, err, port.ErrForbidden)
	})

	t.Run("message", func(t *testing.T) {
		assert.NoError(t, f.authz.CanMessage(ctx, coach.UserID, athlete.UserID))
		assert.NoError(t, f.authz.CanMessage(ctx, athlete.UserID, coach.UserID))
		assert.ErrorIs(t, f.authz.CanMessage(ctx, other.UserID, athlete.UserID), port.ErrForbidden)
		assert.ErrorIs(t, f.authz.CanMessage(ctx, athlete.UserID, loner.UserID), port.ErrForbidden)
	})

	t.Run("roles", func(t *testing.T) {
		assert.NoError(t, RequireCoach(coach))
		assert.ErrorIs(t, RequireCoach(athlete), port.ErrForbidden)
		assert.NoError(t, RequireAthlete(athlete))
		assert.ErrorIs(t, RequireAthlete(coach), port.ErrForbidden)
		assert.ErrorIs(t, RequireCoach(nil), port.ErrUnauthenticated)
	})
}

// TestRemoveAthleteEndsAccess tests that unlinking revokes coach access but keeps data.
func TestRemoveAthleteEndsAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	coach := f.coach(t, "coach")
	other := f.coach(t, "other")
	athlete := f.athlete(t, "runner", coach)

	_, err := f.activities.Create(ctx, athlete, ActivityInput{Name: "Easy", Date: mustDate("2026-03-04"), DistanceKm: 5, DurationSec: 1500})
	require.NoError(t, err)

	assert.ErrorIs(t, f.athletes.Remove(ctx, other, athlete.UserID), port.ErrNotFound)
	require.NoError(t, f.athletes.Remove(ctx, coach, athlete.UserID))

	assert.ErrorIs(t, f.authz.CanActOn(ctx, coach, athlete.UserID), port.ErrForbidden)
	assert.ErrorIs(t, f.authz.CanMessage(ctx, coach.UserID, athlete.UserID), port.ErrForbidden)

	own, err := f.activities.List(ctx, athlete, "", zeroFilter)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	mine, err := f.athletes.MyCoach(ctx, athlete)
	require.NoError(t, err)
	assert.Nil(t, mine)

	assert.Len(t, f.live.eventsFor(athlete.UserID, EventNotification), 1)
}

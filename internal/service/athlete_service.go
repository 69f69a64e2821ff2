package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

// AthleteDetail is an athlete's profile with their training summary.
type AthleteDetail struct {
	Athlete      *domain.User          `json:"athlete"`
	Stats        *domain.ActivityStats `json:"stats"`
	StravaLinked bool                  `json:"strava_linked"`
}

// AthleteService manages a coach's roster.
type AthleteService struct {
	users      port.UserStore
	tokens     port.TokenStore
	authz      *Authorizer
	activities *ActivityService
	notifier   *NotificationService
}

// NewAthleteService creates an athlete service.
func NewAthleteService(users port.UserStore, tokens port.TokenStore, authz *Authorizer, activities *ActivityService, notifier *NotificationService) *AthleteService {
	return &AthleteService{
		users:      users,
		tokens:     tokens,
		authz:      authz,
		activities: activities,
		notifier:   notifier,
	}
}

// List returns the calling coach's athletes.
func (s *AthleteService) List(ctx context.Context, actor *domain.UserContext) ([]domain.User, error) {
	if err := RequireCoach(actor); err != nil {
		return nil, err
	}
	out, err := s.users.ListAthletes(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list athletes: %w", err)
	}
	return out, nil
}

// Detail returns an athlete visible to the caller: themselves or one they coach.
func (s *AthleteService) Detail(ctx context.Context, actor *domain.UserContext, athleteID string, weeks int) (*AthleteDetail, error) {
	if err := s.authz.CanView(ctx, actor, athleteID); err != nil {
		return nil, err
	}
	athlete, err := s.users.GetUserByID(ctx, athleteID)
	if err != nil {
		return nil, fmt.Errorf("load athlete: %w", err)
	}
	if athlete.Role != domain.RoleAthlete {
		return nil, port.ErrNotFound
	}
	stats, err := s.activities.Stats(ctx, actor, athleteID, weeks)
	if err != nil {
		return nil, err
	}
	_, tokenErr := s.tokens.GetToken(ctx, athleteID)
	return &AthleteDetail{Athlete: athlete, Stats: stats, StravaLinked: tokenErr == nil}, nil
}

// Remove unlinks one of the coach's athletes. Activities, plans and
// messages stay attached to their owners.
func (s *AthleteService) Remove(ctx context.Context, actor *domain.UserContext, athleteID string) error {
	if err := RequireCoach(actor); err != nil {
		return err
	}
	ok, err := s.authz.IsCoachOf(ctx, actor.UserID, athleteID)
	if err != nil {
		return err
	}
	if !ok {
		return port.ErrNotFound
	}
	if err := s.users.SetCoach(ctx, athleteID, nil); err != nil {
		return fmt.Errorf("unlink athlete: %w", err)
	}
	slog.Info("athlete unlinked", "coach_id", actor.UserID, "athlete_id", athleteID)
	s.notifier.Notify(ctx, athleteID, domain.NotifyAthleteRemoved,
		"Coach relationship ended", "Your coach removed you from their roster", "/coach")
	return nil
}

// MyCoach returns the calling athlete's coach, or nil.
func (s *AthleteService) MyCoach(ctx context.Context, actor *domain.UserContext) (*domain.User, error) {
	if err := RequireAthlete(actor); err != nil {
		return nil, err
	}
	coachID, err := s.authz.CoachOf(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if coachID == nil {
		return nil, nil
	}
	coach, err := s.users.GetUserByID(ctx, *coachID)
	if err != nil {
		return nil, fmt.Errorf("load coach: %w", err)
	}
	return coach, nil
}

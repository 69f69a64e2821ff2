package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

const (
	defaultStatsWeeks   = 12
	maxStatsWeeks       = 104
	defaultActivityPage = 50
	maxActivityPage     = 200
	maxFeedbackLength   = 2000
)

// ActivityInput is a manually logged or edited activity.
type ActivityInput struct {
	Name          string
	ActivityType  string
	Date          time.Time
	DistanceKm    float64
	DurationSec   int
	ElevationGain int
	AvgHeartRate  *int
	MaxHeartRate  *int
	Calories      *int
	Notes         string
	PlanSessionID *string
}

func (in *ActivityInput) validate() error {
	verr := &port.ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "is required")
	}
	if in.Date.IsZero() {
		verr.Add("date", "is required")
	}
	if in.DistanceKm < 0 {
		verr.Add("distanceKm", "must not be negative")
	}
	if in.DurationSec < 0 {
		verr.Add("durationSec", "must not be negative")
	}
	if in.ElevationGain < 0 {
		verr.Add("elevationGain", "must not be negative")
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// ActivityService manages activity records and their statistics.
type ActivityService struct {
	activities port.ActivityStore
	plans      port.PlanStore
	authz      *Authorizer
	notifier   *NotificationService
	now        func() time.Time
}

// NewActivityService creates an activity service.
func NewActivityService(activities port.ActivityStore, plans port.PlanStore, authz *Authorizer, notifier *NotificationService) *ActivityService {
	return &ActivityService{
		activities: activities,
		plans:      plans,
		authz:      authz,
		notifier:   notifier,
		now:        time.Now,
	}
}

// List returns a user's activities, newest first. The caller must own
// them or coach their owner.
func (s *ActivityService) List(ctx context.Context, actor *domain.UserContext, userID string, f domain.ActivityFilter) ([]domain.Activity, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if err := s.authz.CanActOn(ctx, actor, userID); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultActivityPage
	}
	if f.Limit > maxActivityPage {
		f.Limit = maxActivityPage
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := s.activities.ListActivities(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return out, nil
}

// Create logs a manual activity for the caller. Pace is derived; a
// referenced plan session must be the caller's and still open.
func (s *ActivityService) Create(ctx context.Context, actor *domain.UserContext, in ActivityInput) (*domain.Activity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.PlanSessionID != nil && *in.PlanSessionID != "" {
		sess, err := s.plans.GetSession(ctx, *in.PlanSessionID)
		if err != nil && !errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if err != nil || sess.AthleteID != actor.UserID {
			return nil, port.NewValidationError("planSessionId", "plan session not found")
		}
		if !sess.IsOpen() {
			return nil, port.NewValidationError("planSessionId", "plan session is no longer planned")
		}
	}

	a := &domain.Activity{
		UserID:        actor.UserID,
		Source:        domain.SourceManual,
		Name:          strings.TrimSpace(in.Name),
		ActivityType:  activityType(in.ActivityType),
		Date:          in.Date.UTC(),
		DistanceKm:    in.DistanceKm,
		DurationSec:   in.DurationSec,
		ElevationGain: in.ElevationGain,
		AvgPace:       domain.PaceSecondsPerKm(in.DurationSec, in.DistanceKm),
		AvgHeartRate:  in.AvgHeartRate,
		MaxHeartRate:  in.MaxHeartRate,
		Calories:      in.Calories,
		Notes:         in.Notes,
	}
	created, err := s.activities.CreateActivity(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create activity: %w", err)
	}

	if in.PlanSessionID != nil && *in.PlanSessionID != "" {
		// The activity is stored either way; a failed link leaves it unlinked.
		linked, err := s.plans.LinkActivityToSession(ctx, *in.PlanSessionID, created.ID)
		if err != nil {
			slog.Warn("link session failed", "session_id", *in.PlanSessionID, "activity_id", created.ID, "error", err)
		}
		if err == nil && linked {
			created.PlanSessionID = in.PlanSessionID
		}
	}
	return created, nil
}

// Get returns an activity visible to the caller. Invisible is NotFound.
func (s *ActivityService) Get(ctx context.Context, actor *domain.UserContext, id string) (*domain.Activity, error) {
	a, err := s.activities.GetActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}
	if err := s.authz.CanView(ctx, actor, a.UserID); err != nil {
		return nil, err
	}
	return a, nil
}

// Update edits one of the caller's activities.
func (s *ActivityService) Update(ctx context.Context, actor *domain.UserContext, id string, in ActivityInput) (*domain.Activity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	a, err := s.owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	a.Name = strings.TrimSpace(in.Name)
	a.ActivityType = activityType(in.ActivityType)
	a.Date = in.Date.UTC()
	a.DistanceKm = in.DistanceKm
	a.DurationSec = in.DurationSec
	a.ElevationGain = in.ElevationGain
	a.AvgPace = domain.PaceSecondsPerKm(in.DurationSec, in.DistanceKm)
	a.AvgHeartRate = in.AvgHeartRate
	a.MaxHeartRate = in.MaxHeartRate
	a.Calories = in.Calories
	a.Notes = in.Notes
	if err := s.activities.UpdateActivity(ctx, a); err != nil {
		return nil, fmt.Errorf("update activity: %w", err)
	}
	return s.activities.GetActivity(ctx, id)
}

// Delete removes one of the caller's activities.
func (s *ActivityService) Delete(ctx context.Context, actor *domain.UserContext, id string) error {
	if _, err := s.owned(ctx, actor, id); err != nil {
		return err
	}
	if err := s.activities.DeleteActivity(ctx, id); err != nil {
		return fmt.Errorf("delete activity: %w", err)
	}
	return nil
}

// Feedback records the coach's comment on an athlete's activity.
func (s *ActivityService) Feedback(ctx context.Context, actor *domain.UserContext, id, feedback string) (*domain.Activity, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, port.NewValidationError("feedback", "must not be empty")
	}
	if len([]rune(feedback)) > maxFeedbackLength {
		return nil, port.NewValidationError("feedback", fmt.Sprintf("must be at most %d characters", maxFeedbackLength))
	}
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.UserID == actor.UserID {
		return nil, port.Forbidden("only the athlete's coach can give feedback")
	}
	at := s.now().UTC()
	if err := s.activities.SetFeedback(ctx, id, feedback, at); err != nil {
		return nil, fmt.Errorf("set feedback: %w", err)
	}
	a.CoachFeedback = &feedback
	a.FeedbackAt = &at

	slog.Info("activity feedback given", "activity_id", id, "coach_id", actor.UserID)
	s.notifier.Notify(ctx, a.UserID, domain.NotifyFeedback,
		"New feedback from your coach", fmt.Sprintf("Your coach commented on %q", a.Name), "/activities/"+a.ID)
	return a, nil
}

// Route decodes the activity's map polyline into [lat, lng] points.
func (s *ActivityService) Route(ctx context.Context, actor *domain.UserContext, id string) ([][]float64, error) {
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if a.MapPolyline == nil {
		return [][]float64{}, nil
	}
	route, err := DecodeRoute(*a.MapPolyline)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", id, err)
	}
	return route, nil
}

// Stats returns totals and one bucket per Monday-based week for the last
// weeks weeks, including empty weeks.
func (s *ActivityService) Stats(ctx context.Context, actor *domain.UserContext, userID string, weeks int) (*domain.ActivityStats, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if err := s.authz.CanActOn(ctx, actor, userID); err != nil {
		return nil, err
	}
	if weeks <= 0 {
		weeks = defaultStatsWeeks
	}
	if weeks > maxStatsWeeks {
		weeks = maxStatsWeeks
	}
	current := domain.WeekStart(s.now())
	since := current.AddDate(0, 0, -7*(weeks-1))

	stats, err := s.activities.ActivityStats(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	byWeek := make(map[time.Time]domain.WeeklyVolume, len(stats.Weekly))
	for _, w := range stats.Weekly {
		byWeek[w.WeekStart.UTC()] = w
	}
	filled := make([]domain.WeeklyVolume, 0, weeks)
	for week := since; !week.After(current); week = week.AddDate(0, 0, 7) {
		w, ok := byWeek[week]
		if !ok {
			w = domain.WeeklyVolume{WeekStart: week}
		}
		filled = append(filled, w)
	}
	stats.Weekly = filled
	return stats, nil
}

// owned loads an activity the caller may modify. Invisible is NotFound;
// visible but owned by someone else is Forbidden.
func (s *ActivityService) owned(ctx context.Context, actor *domain.UserContext, id string) (*domain.Activity, error) {
	a, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !s.authz.OwnsResource(actor, a.UserID) {
		return nil, port.Forbidden("only the athlete can modify their activity")
	}
	return a, nil
}

func activityType(t string) string {
	if t = strings.TrimSpace(t); t == "" {
		return "Run"
	}
	return t
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

const maxPlanSessions = 366

// SessionInput is one session of a new plan.
type SessionInput struct {
	SessionDate       time.Time
	Title             string
	Description       string
	TargetDistanceKm  *float64
	TargetDurationSec *int
}

// PlanInput is a new training plan.
type PlanInput struct {
	AthleteID   string
	Name        string
	Description string
	StartDate   time.Time
	EndDate     time.Time
	Sessions    []SessionInput
}

func (in *PlanInput) validate() error {
	verr := &port.ValidationError{}
	if in.AthleteID == "" {
		verr.Add("athleteId", "is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		verr.Add("name", "is required")
	}
	start, end := domain.DayStart(in.StartDate), domain.DayStart(in.EndDate)
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		verr.Add("startDate", "start and end dates are required")
	} else if end.Before(start) {
		verr.Add("endDate", "must not be before startDate")
	}
	if len(in.Sessions) > maxPlanSessions {
		verr.Add("sessions", fmt.Sprintf("at most %d sessions", maxPlanSessions))
	}
	for i, sess := range in.Sessions {
		field := fmt.Sprintf("sessions[%d]", i)
		day := domain.DayStart(sess.SessionDate)
		switch {
		case strings.TrimSpace(sess.Title) == "":
			verr.Add(field+".title", "is required")
		case sess.SessionDate.IsZero() || day.Before(start) || day.After(end):
			verr.Add(field+".sessionDate", "must fall within the plan dates")
		case sess.TargetDistanceKm != nil && *sess.TargetDistanceKm < 0:
			verr.Add(field+".targetDistanceKm", "must not be negative")
		case sess.TargetDurationSec != nil && *sess.TargetDurationSec < 0:
			verr.Add(field+".targetDurationSec", "must not be negative")
		}
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// PlanService lets coaches assign training plans to their athletes.
type PlanService struct {
	plans    port.PlanStore
	authz    *Authorizer
	notifier *NotificationService
}

// NewPlanService creates a plan service.
func NewPlanService(plans port.PlanStore, authz *Authorizer, notifier *NotificationService) *PlanService {
	return &PlanService{plans: plans, authz: authz, notifier: notifier}
}

// Create stores a plan for one of the calling coach's athletes.
func (s *PlanService) Create(ctx context.Context, actor *domain.UserContext, in PlanInput) (*domain.TrainingPlan, error) {
	if err := RequireCoach(actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	ok, err := s.authz.IsCoachOf(ctx, actor.UserID, in.AthleteID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, port.Forbidden("you can only assign plans to your own athletes")
	}

	plan := &domain.TrainingPlan{
		CoachID:     actor.UserID,
		AthleteID:   in.AthleteID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		StartDate:   domain.DayStart(in.StartDate),
		EndDate:     domain.DayStart(in.EndDate),
	}
	for _, sess := range in.Sessions {
		plan.Sessions = append(plan.Sessions, domain.PlanSession{
			SessionDate:       domain.DayStart(sess.SessionDate),
			Title:             strings.TrimSpace(sess.Title),
			Description:       sess.Description,
			TargetDistanceKm:  sess.TargetDistanceKm,
			TargetDurationSec: sess.TargetDurationSec,
		})
	}
	created, err := s.plans.CreatePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("create plan: %w", err)
	}

	slog.Info("training plan created", "plan_id", created.ID, "coach_id", actor.UserID, "athlete_id", in.AthleteID, "sessions", len(created.Sessions))
	s.notifier.Notify(ctx, in.AthleteID, domain.NotifyPlanAssigned,
		"New training plan", fmt.Sprintf("Your coach assigned %q", created.Name), "/plans/"+created.ID)
	return created, nil
}

// List returns the plans the caller wrote (coach) or received (athlete).
func (s *PlanService) List(ctx context.Context, actor *domain.UserContext, athleteID string) ([]domain.TrainingPlan, error) {
	f := port.PlanFilter{AthleteID: actor.UserID}
	if actor.IsCoach() {
		f = port.PlanFilter{CoachID: actor.UserID, AthleteID: athleteID}
	}
	out, err := s.plans.ListPlans(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return out, nil
}

// Get returns a plan visible to its author or its athlete.
func (s *PlanService) Get(ctx context.Context, actor *domain.UserContext, id string) (*domain.TrainingPlan, error) {
	plan, err := s.plans.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	if plan.CoachID != actor.UserID && plan.AthleteID != actor.UserID {
		return nil, port.ErrNotFound
	}
	return plan, nil
}

// Delete removes a plan. Only its author may.
func (s *PlanService) Delete(ctx context.Context, actor *domain.UserContext, id string) error {
	plan, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if plan.CoachID != actor.UserID {
		return port.Forbidden("only the coach who wrote the plan can delete it")
	}
	if err := s.plans.DeletePlan(ctx, id); err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}

// UpdateSessionStatus completes or skips a planned session.
func (s *PlanService) UpdateSessionStatus(ctx context.Context, actor *domain.UserContext, planID, sessionID string, status domain.SessionStatus) (*domain.PlanSession, error) {
	if status != domain.SessionCompleted && status != domain.SessionSkipped {
		return nil, port.NewValidationError("status", "must be COMPLETED or SKIPPED")
	}
	if _, err := s.Get(ctx, actor, planID); err != nil {
		return nil, err
	}
	sess, err := s.plans.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.PlanID != planID {
		return nil, port.ErrNotFound
	}
	ok, err := s.plans.UpdateSessionStatus(ctx, sessionID, domain.SessionPlanned, status)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if !ok {
		return nil, port.NewValidationError("status", "session is no longer planned")
	}
	sess.Status = status
	return sess, nil
}

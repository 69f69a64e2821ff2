package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

const (
	planColumns    = `id, coach_id, athlete_id, name, description, start_date, end_date, created_at`
	sessionColumns = `id, plan_id, athlete_id, session_date, title, description, target_distance_km,
	target_duration_sec, status, activity_id`
)

// CreatePlan inserts the plan and its sessions in one transaction.
func (s *PostgresStore) CreatePlan(ctx context.Context, p *domain.TrainingPlan) (*domain.TrainingPlan, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer safeRollback(tx)

	var plan domain.TrainingPlan
	err = tx.GetContext(ctx, &plan,
		`INSERT INTO training_plans (coach_id, athlete_id, name, description, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+planColumns,
		p.CoachID, p.AthleteID, p.Name, p.Description, p.StartDate, p.EndDate)
	if err != nil {
		return nil, translate("create plan", err)
	}

	plan.Sessions = make([]domain.PlanSession, 0, len(p.Sessions))
	for _, sess := range p.Sessions {
		var created domain.PlanSession
		err := tx.GetContext(ctx, &created,
			`INSERT INTO plan_sessions (plan_id, athlete_id, session_date, title, description,
			     target_distance_km, target_duration_sec, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, 'PLANNED')
			 RETURNING `+sessionColumns,
			plan.ID, plan.AthleteID, domain.DayStart(sess.SessionDate), sess.Title, sess.Description,
			sess.TargetDistanceKm, sess.TargetDurationSec)
		if err != nil {
			return nil, translate("create plan session", err)
		}
		plan.Sessions = append(plan.Sessions, created)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &plan, nil
}

// GetPlan returns a plan with its sessions ordered by date.
func (s *PostgresStore) GetPlan(ctx context.Context, id string) (*domain.TrainingPlan, error) {
	var plan domain.TrainingPlan
	if err := s.db.GetContext(ctx, &plan, `SELECT `+planColumns+` FROM training_plans WHERE id = $1`, id); err != nil {
		return nil, translate("get plan", err)
	}
	plan.Sessions = []domain.PlanSession{}
	err := s.db.SelectContext(ctx, &plan.Sessions,
		`SELECT `+sessionColumns+` FROM plan_sessions WHERE plan_id = $1 ORDER BY session_date`, id)
	if err != nil {
		return nil, translate("list plan sessions", err)
	}
	return &plan, nil
}

// ListPlans returns plans matching the filter, newest start first.
func (s *PostgresStore) ListPlans(ctx context.Context, f port.PlanFilter) ([]domain.TrainingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM training_plans WHERE true`
	args := []interface{}{}
	if f.CoachID != "" {
		args = append(args, f.CoachID)
		query += fmt.Sprintf(" AND coach_id = $%d", len(args))
	}
	if f.AthleteID != "" {
		args = append(args, f.AthleteID)
		query += fmt.Sprintf(" AND athlete_id = $%d", len(args))
	}
	query += " ORDER BY start_date DESC"

	plans := []domain.TrainingPlan{}
	if err := s.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, translate("list plans", err)
	}
	return plans, nil
}

// DeletePlan removes a plan. Sessions cascade; linked activities keep their rows.
func (s *PostgresStore) DeletePlan(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM training_plans WHERE id = $1`, id)
	if err != nil {
		return translate("delete plan", err)
	}
	return requireRow("delete plan", res)
}

// GetSession returns one plan session.
func (s *PostgresStore) GetSession(ctx context.Context, id string) (*domain.PlanSession, error) {
	var sess domain.PlanSession
	if err := s.db.GetContext(ctx, &sess, `SELECT `+sessionColumns+` FROM plan_sessions WHERE id = $1`, id); err != nil {
		return nil, translate("get session", err)
	}
	return &sess, nil
}

// UpdateSessionStatus is a conditional status update.
func (s *PostgresStore) UpdateSessionStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE plan_sessions SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, translate("update session status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update session status: %w", err)
	}
	return n == 1, nil
}

// FindOpenSession returns the earliest PLANNED session on the given day.
func (s *PostgresStore) FindOpenSession(ctx context.Context, athleteID string, day time.Time) (*domain.PlanSession, error) {
	start := domain.DayStart(day)
	var sess domain.PlanSession
	err := s.db.GetContext(ctx, &sess,
		`SELECT `+sessionColumns+` FROM plan_sessions
		 WHERE athlete_id = $1 AND status = 'PLANNED' AND session_date >= $2 AND session_date < $3
		 ORDER BY session_date LIMIT 1`,
		athleteID, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, translate("find open session", err)
	}
	return &sess, nil
}

// LinkActivityToSession completes the session and back-references it from the activity.
func (s *PostgresStore) LinkActivityToSession(ctx context.Context, sessionID, activityID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer safeRollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE plan_sessions SET status = 'COMPLETED', activity_id = $2 WHERE id = $1 AND status = 'PLANNED'`,
		sessionID, activityID)
	if err != nil {
		return false, translate("complete session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE activities SET plan_session_id = $2, updated_at = NOW() WHERE id = $1`, activityID, sessionID)
	if err != nil {
		return false, translate("link activity", err)
	}
	if err := requireRow("link activity", res); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

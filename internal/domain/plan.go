package domain

import "time"

// SessionStatus represents the state of a planned session.
type SessionStatus string

// SessionStatus constants. PLANNED is the only open state.
const (
	SessionPlanned   SessionStatus = "PLANNED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionSkipped   SessionStatus = "SKIPPED"
)

// TrainingPlan is a block of sessions a coach assigns to one athlete.
type TrainingPlan struct {
	ID          string        `json:"id"          db:"id"`
	CoachID     string        `json:"coach_id"    db:"coach_id"`
	AthleteID   string        `json:"athlete_id"  db:"athlete_id"`
	Name        string        `json:"name"        db:"name"`
	Description string        `json:"description" db:"description"`
	StartDate   time.Time     `json:"start_date"  db:"start_date"`
	EndDate     time.Time     `json:"end_date"    db:"end_date"`
	CreatedAt   time.Time     `json:"created_at"  db:"created_at"`
	Sessions    []PlanSession `json:"sessions,omitempty" db:"-"`
}

// PlanSession is a single planned workout on a calendar day.
// SessionDate is always midnight UTC of that day.
type PlanSession struct {
	ID                string        `json:"id"                  db:"id"`
	PlanID            string        `json:"plan_id"             db:"plan_id"`
	AthleteID         string        `json:"athlete_id"          db:"athlete_id"`
	SessionDate       time.Time     `json:"session_date"        db:"session_date"`
	Title             string        `json:"title"               db:"title"`
	Description       string        `json:"description"         db:"description"`
	TargetDistanceKm  *float64      `json:"target_distance_km"  db:"target_distance_km"`
	TargetDurationSec *int          `json:"target_duration_sec" db:"target_duration_sec"`
	Status            SessionStatus `json:"status"              db:"status"`
	ActivityID        *string       `json:"activity_id"         db:"activity_id"`
}

// IsOpen reports whether the session can still be fulfilled.
func (s *PlanSession) IsOpen() bool {
	return s.Status == SessionPlanned
}

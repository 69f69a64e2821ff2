package domain

import "time"

// Notification kinds.
const (
	NotifyInvitationAccepted = "invitation_accepted"
	NotifyFeedback           = "activity_feedback"
	NotifyPlanAssigned       = "plan_assigned"
	NotifyMessage            = "new_message"
	NotifyAthleteRemoved     = "athlete_removed"
)

// Notification is an in-app notice for one user.
type Notification struct {
	ID        string     `json:"id"         db:"id"`
	UserID    string     `json:"user_id"    db:"user_id"`
	Kind      string     `json:"kind"       db:"kind"`
	Title     string     `json:"title"      db:"title"`
	Body      string     `json:"body"       db:"body"`
	Link      string     `json:"link"       db:"link"`
	ReadAt    *time.Time `json:"read_at"    db:"read_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

package domain

import "time"

// InvitationStatus represents the lifecycle state of an invitation.
// PENDING is the only non-terminal state.
type InvitationStatus string

// InvitationStatus constants.
const (
	InvitationPending   InvitationStatus = "PENDING"
	InvitationAccepted  InvitationStatus = "ACCEPTED"
	InvitationExpired   InvitationStatus = "EXPIRED"
	InvitationCancelled InvitationStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s InvitationStatus) Terminal() bool {
	return s != InvitationPending
}

// CanTransition reports whether moving from s to next is legal.
func (s InvitationStatus) CanTransition(next InvitationStatus) bool {
	if s != InvitationPending {
		return false
	}
	switch next {
	case InvitationAccepted, InvitationExpired, InvitationCancelled:
		return true
	}
	return false
}

// Invitation is a single-use code minted by a coach.
type Invitation struct {
	ID          string           `json:"id"            db:"id"`
	CoachID     string           `json:"coach_id"      db:"coach_id"`
	Code        string           `json:"code"          db:"code"`
	Email       *string          `json:"email"         db:"email"`
	Status      InvitationStatus `json:"status"        db:"status"`
	ExpiresAt   time.Time        `json:"expires_at"    db:"expires_at"`
	UsedAt      *time.Time       `json:"used_at"       db:"used_at"`
	UsedByEmail *string          `json:"used_by_email" db:"used_by_email"`
	CreatedAt   time.Time        `json:"created_at"    db:"created_at"`
}

// IsExpired returns true if the invitation's expiry has passed at now.
func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IsRedeemable returns true if the invitation can still be accepted at now.
func (i *Invitation) IsRedeemable(now time.Time) bool {
	return i.Status == InvitationPending && !i.IsExpired(now)
}

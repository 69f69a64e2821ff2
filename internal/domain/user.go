package domain

import "time"

// Role tags a user as a coach or an athlete.
type Role string

// Role constants.
const (
	RoleCoach   Role = "COACH"
	RoleAthlete Role = "ATHLETE"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCoach || r == RoleAthlete
}

// User represents a registered coach or athlete.
// CoachID is only ever set on athletes and names their single current coach.
type User struct {
	ID           string    `json:"id"         db:"id"`
	Email        string    `json:"email"      db:"email"`
	PasswordHash string    `json:"-"          db:"password_hash"` // never serialized to JSON
	Name         string    `json:"name"       db:"name"`
	Role         Role      `json:"role"       db:"role"`
	CoachID      *string   `json:"coach_id"   db:"coach_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IsCoach reports whether the user holds the coach role.
func (u *User) IsCoach() bool {
	return u.Role == RoleCoach
}

// HasCoach reports whether the user is an athlete linked to coachID.
func (u *User) HasCoach(coachID string) bool {
	return u.CoachID != nil && *u.CoachID == coachID
}

// UserContext is the authenticated user context injected into request handlers.
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

// IsCoach reports whether the caller holds the coach role.
func (uc *UserContext) IsCoach() bool {
	return uc.Role == RoleCoach
}

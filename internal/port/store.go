package port

import (
	"context"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
)

// Stores translate missing rows to ErrNotFound and unique-key violations
// to ErrConflict so callers never depend on driver errors.

// UserStore persists users and the coach/athlete link.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListAthletes(ctx context.Context, coachID string) ([]domain.User, error)
	// SetCoach sets or, with a nil coachID, clears the athlete's coach.
	SetCoach(ctx context.Context, athleteID string, coachID *string) error
}

// InvitationStore persists invitation codes and their state machine.
type InvitationStore interface {
	// CreateInvitation inserts only if the code is absent; a taken code is ErrConflict.
	CreateInvitation(ctx context.Context, inv *domain.Invitation) (*domain.Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error)
	GetInvitationByCode(ctx context.Context, code string) (*domain.Invitation, error)
	ListInvitations(ctx context.Context, coachID string) ([]domain.Invitation, error)
	// TransitionInvitation moves the invitation from one status to another and
	// reports false when it was no longer in the from status.
	TransitionInvitation(ctx context.Context, id string, from, to domain.InvitationStatus) (bool, error)
	// RegisterWithInvitation atomically redeems the code and creates the athlete
	// linked to the inviting coach.
	RegisterWithInvitation(ctx context.Context, u *domain.User, code string, now time.Time) (*domain.User, *domain.Invitation, error)
	ExpireInvitations(ctx context.Context, now time.Time) (int, error)
}

// TokenStore is the persistence behind the external token vault.
type TokenStore interface {
	GetToken(ctx context.Context, userID string) (*domain.ExternalToken, error)
	GetTokenByAthlete(ctx context.Context, athleteID int64) (*domain.ExternalToken, error)
	// SaveToken fully replaces the user's vault entry.
	SaveToken(ctx context.Context, t *domain.ExternalToken) error
	// ReplaceExpiredToken writes t only if the stored expiry still equals
	// observed, and reports whether it did.
	ReplaceExpiredToken(ctx context.Context, userID string, observed time.Time, t *domain.ExternalToken) (bool, error)
	DeleteToken(ctx context.Context, userID string) error
}

// ActivityStore persists activities and their aggregates.
type ActivityStore interface {
	CreateActivity(ctx context.Context, a *domain.Activity) (*domain.Activity, error)
	// InsertSyncedActivity inserts unless (user_id, strava_id) already exists
	// and reports whether a row was written.
	InsertSyncedActivity(ctx context.Context, a *domain.Activity) (bool, error)
	GetActivity(ctx context.Context, id string) (*domain.Activity, error)
	ListActivities(ctx context.Context, userID string, f domain.ActivityFilter) ([]domain.Activity, error)
	UpdateActivity(ctx context.Context, a *domain.Activity) error
	DeleteActivity(ctx context.Context, id string) error
	DeleteActivityByStravaID(ctx context.Context, userID string, stravaID int64) (bool, error)
	ExistingStravaIDs(ctx context.Context, userID string, ids []int64) (map[int64]bool, error)
	SetFeedback(ctx context.Context, id, feedback string, at time.Time) error
	ActivityStats(ctx context.Context, userID string, since time.Time) (*domain.ActivityStats, error)
}

// PlanStore persists training plans and their sessions.
type PlanStore interface {
	// CreatePlan stores the plan together with its sessions.
	CreatePlan(ctx context.Context, p *domain.TrainingPlan) (*domain.TrainingPlan, error)
	GetPlan(ctx context.Context, id string) (*domain.TrainingPlan, error)
	ListPlans(ctx context.Context, f PlanFilter) ([]domain.TrainingPlan, error)
	DeletePlan(ctx context.Context, id string) error
	GetSession(ctx context.Context, id string) (*domain.PlanSession, error)
	UpdateSessionStatus(ctx context.Context, id string, from, to domain.SessionStatus) (bool, error)
	// FindOpenSession returns the athlete's PLANNED session on day, or ErrNotFound.
	FindOpenSession(ctx context.Context, athleteID string, day time.Time) (*domain.PlanSession, error)
	// LinkActivityToSession completes an open session with the activity and
	// reports false when the session was no longer open.
	LinkActivityToSession(ctx context.Context, sessionID, activityID string) (bool, error)
}

// PlanFilter narrows plan listings. Empty fields match everything.
type PlanFilter struct {
	CoachID   string
	AthleteID string
}

// MessageStore persists direct messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, m *domain.Message) (*domain.Message, error)
	// ListMessages returns up to limit messages between a and b sent before
	// the cursor, oldest first.
	ListMessages(ctx context.Context, a, b string, before *time.Time, limit int) ([]domain.Message, error)
	// MarkRead stamps every unread message from sender to receiver with at.
	MarkRead(ctx context.Context, senderID, receiverID string, at time.Time) (int, error)
	ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	CountUnread(ctx context.Context, userID string) (int, error)
}

// NotificationStore persists in-app notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	MarkAllNotificationsRead(ctx context.Context, userID string, at time.Time) (int, error)
}

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditReader lists persisted audit records, newest first. Empty userID
// and action match everything.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, userID string, limit int, action string) ([]domain.AuditLog, error)
}

// Store is the full persistence surface implemented by each backend.
type Store interface {
	UserStore
	InvitationStore
	TokenStore
	ActivityStore
	PlanStore
	MessageStore
	NotificationStore
	AuditWriter
	AuditReader
	Ping(ctx context.Context) error
	Close() error
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the email is unknown so that both
// login failures cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("runcoach-login-placeholder"), bcrypt.DefaultCost)

// RegisterInput is a sign-up request.
type RegisterInput struct {
	Email          string
	Password       string
	Name           string
	Role           domain.Role
	InvitationCode string
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Token string       `json:"token"`
	User  *domain.User `json:"user"`
}

// AuthService handles the authentication flow.
type AuthService struct {
	users       port.UserStore
	invitations port.InvitationStore
	sessions    *middleware.SessionManager
	notifier    *NotificationService
	hashCost    int
	now         func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(users port.UserStore, invitations port.InvitationStore, sessions *middleware.SessionManager, notifier *NotificationService) *AuthService {
	return &AuthService{
		users:       users,
		invitations: invitations,
		sessions:    sessions,
		notifier:    notifier,
		hashCost:    bcrypt.DefaultCost,
		now:         time.Now,
	}
}

// WithHashCost sets the bcrypt cost for new password hashes. Values outside
// bcrypt's range fall back to the default.
func (s *AuthService) WithHashCost(cost int) *AuthService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	s.hashCost = cost
	return s
}

// Register creates a coach or athlete account and returns a session.
// An athlete registering with an invitation code is linked to the inviting
// coach in the same transaction that consumes the code.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	code := strings.ToUpper(strings.TrimSpace(in.InvitationCode))
	if in.Role == domain.RoleCoach && code != "" {
		return nil, port.NewValidationError("invitationCode", "coaches cannot register with an invitation code")
	}
	if !in.Role.Valid() {
		return nil, port.NewValidationError("role", "must be COACH or ATHLETE")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &domain.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         strings.TrimSpace(in.Name),
		Role:         in.Role,
	}

	var (
		user *domain.User
		inv  *domain.Invitation
	)
	if code != "" {
		user, inv, err = s.invitations.RegisterWithInvitation(ctx, u, code, s.now().UTC())
	} else {
		user, err = s.users.CreateUser(ctx, u)
	}
	if errors.Is(err, port.ErrConflict) {
		return nil, port.NewValidationError("email", "email already registered")
	}
	if err != nil {
		return nil, err
	}

	if inv != nil {
		slog.Info("invitation accepted", "invitation_id", inv.ID, "coach_id", inv.CoachID, "athlete_id", user.ID)
		s.notifier.Notify(ctx, inv.CoachID, domain.NotifyInvitationAccepted,
			"New athlete joined",
			fmt.Sprintf("%s accepted your invitation %s", user.Name, inv.Code),
			"/athletes/"+user.ID)
	}
	slog.Info("user registered", "user_id", user.ID, "role", user.Role)
	return s.session(user)
}

// Login verifies credentials. Unknown email and wrong password fail the same way.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, port.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, port.ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, port.ErrUnauthenticated
	}
	slog.Info("user authenticated", "user_id", user.ID)
	return s.session(user)
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}

func (s *AuthService) session(user *domain.User) (*AuthResult, error) {
	token, err := s.sessions.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &AuthResult{Token: token, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

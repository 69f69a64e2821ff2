package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

// Invitation code shape: no 0/O or 1/I so codes can be read aloud.
const (
	codeAlphabet  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength    = 6
	codeAttempts  = 5
	maxInviteDays = 30
)

// CreateInvitationInput describes a new invitation.
type CreateInvitationInput struct {
	Email         *string
	ExpiresInDays int
}

// InvitationCheck is the public answer to "is this code usable".
type InvitationCheck struct {
	Valid     bool       `json:"valid"`
	Reason    string     `json:"reason,omitempty"`
	CoachName string     `json:"coach_name,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// InvitationService lets coaches mint and manage invitation codes.
type InvitationService struct {
	invitations port.InvitationStore
	users       port.UserStore
	defaultTTL  time.Duration
	newCode     func() (string, error)
	now         func() time.Time
}

// NewInvitationService creates an invitation service.
func NewInvitationService(invitations port.InvitationStore, users port.UserStore, defaultTTL time.Duration) *InvitationService {
	return &InvitationService{
		invitations: invitations,
		users:       users,
		defaultTTL:  defaultTTL,
		newCode:     generateCode,
		now:         time.Now,
	}
}

// Create mints a code for the calling coach. A code collision is retried
// with a fresh code; the store only inserts codes that are absent.
func (s *InvitationService) Create(ctx context.Context, actor *domain.UserContext, in CreateInvitationInput) (*domain.Invitation, error) {
	if err := RequireCoach(actor); err != nil {
		return nil, err
	}
	ttl := s.defaultTTL
	if in.ExpiresInDays != 0 {
		if in.ExpiresInDays < 1 || in.ExpiresInDays > maxInviteDays {
			return nil, port.NewValidationError("expiresInDays", fmt.Sprintf("must be between 1 and %d", maxInviteDays))
		}
		ttl = time.Duration(in.ExpiresInDays) * 24 * time.Hour
	}
	var email *string
	if in.Email != nil && strings.TrimSpace(*in.Email) != "" {
		e := normalizeEmail(*in.Email)
		email = &e
	}

	for attempt := 1; attempt <= codeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		inv, err := s.invitations.CreateInvitation(ctx, &domain.Invitation{
			CoachID:   actor.UserID,
			Code:      code,
			Email:     email,
			ExpiresAt: s.now().UTC().Add(ttl),
		})
		if errors.Is(err, port.ErrConflict) {
			slog.Warn("invitation code collision", "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create invitation: %w", err)
		}
		slog.Info("invitation created", "invitation_id", inv.ID, "coach_id", actor.UserID)
		return inv, nil
	}
	return nil, port.Conflict("could not allocate a unique invitation code")
}

// List returns the calling coach's invitations, newest first.
func (s *InvitationService) List(ctx context.Context, actor *domain.UserContext) ([]domain.Invitation, error) {
	if err := RequireCoach(actor); err != nil {
		return nil, err
	}
	out, err := s.invitations.ListInvitations(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return out, nil
}

// Cancel moves one of the coach's pending invitations to CANCELLED.
func (s *InvitationService) Cancel(ctx context.Context, actor *domain.UserContext, id string) error {
	if err := RequireCoach(actor); err != nil {
		return err
	}
	inv, err := s.invitations.GetInvitationByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	if inv.CoachID != actor.UserID {
		return port.ErrNotFound
	}
	ok, err := s.invitations.TransitionInvitation(ctx, id, domain.InvitationPending, domain.InvitationCancelled)
	if err != nil {
		return fmt.Errorf("cancel invitation: %w", err)
	}
	if !ok {
		return port.NewValidationError("status", "only pending invitations can be cancelled")
	}
	return nil
}

// Validate reports whether a code can still be redeemed. A pending code
// found past its expiry is moved to EXPIRED.
func (s *InvitationService) Validate(ctx context.Context, code string) (*InvitationCheck, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	inv, err := s.invitations.GetInvitationByCode(ctx, code)
	if errors.Is(err, port.ErrNotFound) {
		return &InvitationCheck{Reason: "invitation not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load invitation: %w", err)
	}

	now := s.now().UTC()
	switch {
	case inv.Status == domain.InvitationAccepted:
		return &InvitationCheck{Reason: "invitation already used"}, nil
	case inv.Status == domain.InvitationCancelled:
		return &InvitationCheck{Reason: "invitation cancelled"}, nil
	case inv.Status == domain.InvitationExpired:
		return &InvitationCheck{Reason: "invitation expired"}, nil
	case inv.IsExpired(now):
		if _, err := s.invitations.TransitionInvitation(ctx, inv.ID, domain.InvitationPending, domain.InvitationExpired); err != nil {
			return nil, fmt.Errorf("expire invitation: %w", err)
		}
		return &InvitationCheck{Reason: "invitation expired"}, nil
	}

	check := &InvitationCheck{Valid: true, ExpiresAt: &inv.ExpiresAt}
	if coach, err := s.users.GetUserByID(ctx, inv.CoachID); err == nil {
		check.CoachName = coach.Name
	}
	return check, nil
}

// ExpireStale moves every pending invitation past its expiry to EXPIRED.
func (s *InvitationService) ExpireStale(ctx context.Context) (int, error) {
	n, err := s.invitations.ExpireInvitations(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	if n > 0 {
		slog.Info("expired stale invitations", "count", n)
	}
	return n, nil
}

func generateCode() (string, error) {
	var b strings.Builder
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < codeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

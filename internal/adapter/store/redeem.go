package store

import (
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

// redeemCheck decides whether inv may be redeemed by email at now.
// expire is true when the caller must move the invitation to EXPIRED
// before returning the error.
func redeemCheck(inv *domain.Invitation, email string, now time.Time) (expire bool, err error) {
	switch inv.Status {
	case domain.InvitationAccepted:
		return false, port.ErrInvitationUsed
	case domain.InvitationCancelled:
		return false, port.ErrInvitationCancelled
	case domain.InvitationExpired:
		return false, port.ErrInvitationExpired
	}
	if inv.IsExpired(now) {
		return true, port.ErrInvitationExpired
	}
	if inv.Email != nil && *inv.Email != "" && !strings.EqualFold(*inv.Email, email) {
		return false, port.NewValidationError("invitationCode", "invitation was issued for a different email")
	}
	return false, nil
}

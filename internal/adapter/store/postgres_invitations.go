package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

const invitationColumns = `id, coach_id, code, email, status, expires_at, used_at, used_by_email, created_at`

// CreateInvitation inserts only if the code is absent.
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv *domain.Invitation) (*domain.Invitation, error) {
	query := `INSERT INTO invitations (coach_id, code, email, status, expires_at)
	          VALUES ($1, $2, $3, $4, $5)
	          ON CONFLICT (code) DO NOTHING
	          RETURNING ` + invitationColumns

	var out domain.Invitation
	err := s.db.GetContext(ctx, &out, query, inv.CoachID, inv.Code, inv.Email, domain.InvitationPending, inv.ExpiresAt)
	if err != nil {
		// DO NOTHING returns no row when the code is taken.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("create invitation: %w", port.ErrConflict)
		}
		return nil, translate("create invitation", err)
	}
	return &out, nil
}

// GetInvitationByID returns an invitation by id.
func (s *PostgresStore) GetInvitationByID(ctx context.Context, id string) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM invitations WHERE id = $1`, id); err != nil {
		return nil, translate("get invitation", err)
	}
	return &inv, nil
}

// GetInvitationByCode returns an invitation by its code.
func (s *PostgresStore) GetInvitationByCode(ctx context.Context, code string) (*domain.Invitation, error) {
	var inv domain.Invitation
	if err := s.db.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM invitations WHERE code = $1`, code); err != nil {
		return nil, translate("get invitation by code", err)
	}
	return &inv, nil
}

// ListInvitations returns the coach's invitations, newest first.
func (s *PostgresStore) ListInvitations(ctx context.Context, coachID string) ([]domain.Invitation, error) {
	invs := []domain.Invitation{}
	err := s.db.SelectContext(ctx, &invs,
		`SELECT `+invitationColumns+` FROM invitations WHERE coach_id = $1 ORDER BY created_at DESC`, coachID)
	if err != nil {
		return nil, translate("list invitations", err)
	}
	return invs, nil
}

// TransitionInvitation is a conditional status update.
func (s *PostgresStore) TransitionInvitation(ctx context.Context, id string, from, to domain.InvitationStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE invitations SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, translate("transition invitation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition invitation: %w", err)
	}
	return n == 1, nil
}

// RegisterWithInvitation locks the invitation row, creates the athlete and
// accepts the invitation in one transaction.
func (s *PostgresStore) RegisterWithInvitation(ctx context.Context, u *domain.User, code string, now time.Time) (*domain.User, *domain.Invitation, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer safeRollback(tx)

	var inv domain.Invitation
	err = tx.GetContext(ctx, &inv, `SELECT `+invitationColumns+` FROM invitations WHERE code = $1 FOR UPDATE`, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, port.ErrInvitationNotFound
		}
		return nil, nil, translate("lock invitation", err)
	}

	expire, checkErr := redeemCheck(&inv, u.Email, now)
	if expire {
		if _, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = 'EXPIRED' WHERE id = $1 AND status = 'PENDING'`, inv.ID); err != nil {
			return nil, nil, translate("expire invitation", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, nil, fmt.Errorf("commit: %w", err)
		}
		return nil, nil, checkErr
	}
	if checkErr != nil {
		return nil, nil, checkErr
	}

	athlete := *u
	athlete.Role = domain.RoleAthlete
	athlete.CoachID = &inv.CoachID
	created, err := createUser(ctx, tx, &athlete)
	if err != nil {
		return nil, nil, err
	}

	var accepted domain.Invitation
	err = tx.GetContext(ctx, &accepted,
		`UPDATE invitations SET status = 'ACCEPTED', used_at = $2, used_by_email = $3
		 WHERE id = $1 AND status = 'PENDING'
		 RETURNING `+invitationColumns, inv.ID, now, created.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, port.ErrInvitationUsed
		}
		return nil, nil, translate("accept invitation", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return created, &accepted, nil
}

// ExpireInvitations moves every overdue PENDING invitation to EXPIRED.
func (s *PostgresStore) ExpireInvitations(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = 'EXPIRED' WHERE status = 'PENDING' AND expires_at <= $1`, now)
	if err != nil {
		return 0, translate("expire invitations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire invitations: %w", err)
	}
	return int(n), nil
}

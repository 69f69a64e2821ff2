package store

import (
	"context"
	"fmt"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
)

const tokenColumns = `user_id, provider, external_athlete_id, access_token, refresh_token, expires_at, scope, updated_at`

// GetToken returns the user's vault entry.
func (s *PostgresStore) GetToken(ctx context.Context, userID string) (*domain.ExternalToken, error) {
	var t domain.ExternalToken
	if err := s.db.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM external_tokens WHERE user_id = $1`, userID); err != nil {
		return nil, translate("get token", err)
	}
	return &t, nil
}

// GetTokenByAthlete resolves a provider athlete id to its vault entry.
func (s *PostgresStore) GetTokenByAthlete(ctx context.Context, athleteID int64) (*domain.ExternalToken, error) {
	var t domain.ExternalToken
	err := s.db.GetContext(ctx, &t, `SELECT `+tokenColumns+` FROM external_tokens WHERE external_athlete_id = $1`, athleteID)
	if err != nil {
		return nil, translate("get token by athlete", err)
	}
	return &t, nil
}

// SaveToken replaces the user's vault entry wholesale.
func (s *PostgresStore) SaveToken(ctx context.Context, t *domain.ExternalToken) error {
	query := `INSERT INTO external_tokens (user_id, provider, external_athlete_id, access_token, refresh_token, expires_at, scope, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	          ON CONFLICT (user_id) DO UPDATE SET
	              provider = EXCLUDED.provider,
	              external_athlete_id = EXCLUDED.external_athlete_id,
	              access_token = EXCLUDED.access_token,
	              refresh_token = EXCLUDED.refresh_token,
	              expires_at = EXCLUDED.expires_at,
	              scope = EXCLUDED.scope,
	              updated_at = NOW()`
	_, err := s.db.ExecContext(ctx, query,
		t.UserID, t.Provider, t.ExternalAthleteID, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Scope)
	if err != nil {
		return translate("save token", err)
	}
	return nil
}

// ReplaceExpiredToken writes the refreshed pair only if no other caller
// replaced the row since observed was read.
func (s *PostgresStore) ReplaceExpiredToken(ctx context.Context, userID string, observed time.Time, t *domain.ExternalToken) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE external_tokens
		 SET access_token = $3, refresh_token = $4, expires_at = $5, scope = $6, updated_at = NOW()
		 WHERE user_id = $1 AND expires_at = $2`,
		userID, observed, t.AccessToken, t.RefreshToken, t.ExpiresAt, t.Scope)
	if err != nil {
		return false, translate("replace token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("replace token: %w", err)
	}
	return n == 1, nil
}

// DeleteToken removes the user's vault entry.
func (s *PostgresStore) DeleteToken(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM external_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return translate("delete token", err)
	}
	return requireRow("delete token", res)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/port"
)

// TokenVault holds each user's provider authorization and hands out
// access tokens that are valid at the time of the call.
type TokenVault struct {
	tokens   port.TokenStore
	provider port.ActivityProvider
	now      func() time.Time
}

// NewTokenVault creates a token vault.
func NewTokenVault(tokens port.TokenStore, provider port.ActivityProvider) *TokenVault {
	return &TokenVault{tokens: tokens, provider: provider, now: time.Now}
}

const persistAttempts = 2

// GetValidAccessToken returns a usable access token, refreshing it at most
// once when the stored one has expired. ok is false when the user has no
// authorization or the refresh failed or could not be stored; the caller
// must re-authorize.
//
// The refreshed pair is written only if the stored expiry is still the one
// that was read. Losing that race means another caller already refreshed,
// and its token is returned instead.
func (v *TokenVault) GetValidAccessToken(ctx context.Context, userID string) (token string, ok bool) {
	stored, err := v.tokens.GetToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, port.ErrNotFound) {
			slog.Error("load provider token failed", "user_id", userID, "error", err)
		}
		return "", false
	}
	if !stored.Expired(v.now()) {
		return stored.AccessToken, true
	}

	pair, err := v.provider.RefreshToken(ctx, stored.RefreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultError).Inc()
		slog.Warn("provider token refresh failed", "user_id", userID, "error", err)
		return "", false
	}

	next := *stored
	next.AccessToken = pair.AccessToken
	next.RefreshToken = pair.RefreshToken
	next.ExpiresAt = pair.ExpiresAt
	if pair.Scope != "" {
		next.Scope = pair.Scope
	}
	// The provider has rotated the refresh token, so an unpersisted pair
	// leaves the vault unusable. One retry, then the caller re-authorizes.
	var replaced bool
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		replaced, err = v.tokens.ReplaceExpiredToken(ctx, userID, stored.ExpiresAt, &next)
		if err == nil {
			break
		}
		slog.Error("persist refreshed token failed", "user_id", userID, "attempt", attempt, "error", err)
	}
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultError).Inc()
		return "", false
	}
	if !replaced {
		metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultRaced).Inc()
		if current, err := v.tokens.GetToken(ctx, userID); err == nil && !current.Expired(v.now()) {
			return current.AccessToken, true
		}
		return pair.AccessToken, true
	}
	metrics.TokenRefreshTotal.WithLabelValues(metrics.ResultOK).Inc()
	slog.Debug("provider token refreshed", "user_id", userID, "expires_at", pair.ExpiresAt)
	return pair.AccessToken, true
}

// Link replaces the user's vault entry with a freshly exchanged pair.
func (v *TokenVault) Link(ctx context.Context, userID string, pair *domain.TokenPair) error {
	err := v.tokens.SaveToken(ctx, &domain.ExternalToken{
		UserID:            userID,
		Provider:          v.provider.ProviderName(),
		ExternalAthleteID: pair.AthleteID,
		AccessToken:       pair.AccessToken,
		RefreshToken:      pair.RefreshToken,
		ExpiresAt:         pair.ExpiresAt,
		Scope:             pair.Scope,
	})
	if errors.Is(err, port.ErrConflict) {
		return port.Conflict("this Strava account is already linked to another user")
	}
	if err != nil {
		return fmt.Errorf("save provider token: %w", err)
	}
	slog.Info("provider account linked", "user_id", userID, "athlete_id", pair.AthleteID)
	return nil
}

// Status returns the user's vault entry, or nil when not connected.
func (v *TokenVault) Status(ctx context.Context, userID string) (*domain.ExternalToken, error) {
	t, err := v.tokens.GetToken(ctx, userID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load provider token: %w", err)
	}
	return t, nil
}

// Disconnect revokes the authorization at the provider when possible and
// deletes the vault entry regardless.
func (v *TokenVault) Disconnect(ctx context.Context, userID string) error {
	if token, ok := v.GetValidAccessToken(ctx, userID); ok {
		if err := v.provider.Deauthorize(ctx, token); err != nil {
			slog.Warn("provider deauthorize failed", "user_id", userID, "error", err)
		}
	}
	if err := v.tokens.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("delete provider token: %w", err)
	}
	slog.Info("provider account disconnected", "user_id", userID)
	return nil
}

// Forget deletes the vault entry after the provider revoked access.
func (v *TokenVault) Forget(ctx context.Context, userID string) error {
	if err := v.tokens.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("delete provider token: %w", err)
	}
	return nil
}

package port

import (
	"context"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
)

// ActivityProvider abstracts the external fitness provider (Strava).
// Implementations handle the OAuth2 code and refresh grants and the
// activity listing used by the sync workflow.
type ActivityProvider interface {
	// ProviderName returns the name of this provider (e.g. "strava").
	ProviderName() string

	// AuthURL returns the full OAuth2 authorization URL for redirecting the user.
	AuthURL(state string) string

	// ExchangeCode exchanges an authorization code for an access/refresh token pair.
	ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error)

	// RefreshToken exchanges a refresh token for a new token pair.
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)

	// ListActivities fetches one page of the athlete's activities, newest first.
	ListActivities(ctx context.Context, accessToken string, q ActivityQuery) ([]domain.RemoteActivity, error)

	// Deauthorize revokes the application's access for the token's athlete.
	Deauthorize(ctx context.Context, accessToken string) error
}

// ActivityQuery bounds a remote activity listing.
type ActivityQuery struct {
	After   *time.Time
	Before  *time.Time
	Page    int
	PerPage int
}

package domain

import "time"

// ProviderStrava is the only external activity provider.
const ProviderStrava = "strava"

// ExternalToken is the vaulted access/refresh pair for one user.
// The row is replaced wholesale on every refresh or link.
type ExternalToken struct {
	UserID            string    `json:"user_id"             db:"user_id"`
	Provider          string    `json:"provider"            db:"provider"`
	ExternalAthleteID int64     `json:"external_athlete_id" db:"external_athlete_id"`
	AccessToken       string    `json:"-"                   db:"access_token"`
	RefreshToken      string    `json:"-"                   db:"refresh_token"`
	ExpiresAt         time.Time `json:"expires_at"          db:"expires_at"`
	Scope             string    `json:"scope"               db:"scope"`
	UpdatedAt         time.Time `json:"updated_at"          db:"updated_at"`
}

// Expired reports whether the stored access token must be refreshed before use.
func (t *ExternalToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// TokenPair holds the OAuth2 tokens returned after code exchange or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AthleteID    int64     `json:"athlete_id,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://www.strava.com"
	oauthScope     = "read,activity:read_all"
)

// Config holds the Strava application credentials and client limits.
type Config struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Timeout       time.Duration
	RatePerMinute int
	// BaseURL overrides https://www.strava.com, for tests.
	BaseURL string
}

// Client implements port.ActivityProvider for Strava.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ port.ActivityProvider = (*Client)(nil)

// NewClient creates a Strava client. A zero Timeout or RatePerMinute disables that limit.
func NewClient(cfg Config) *Client {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		burst := cfg.RatePerMinute
		if burst > 10 {
			burst = 10
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), burst)
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// ProviderName returns "strava".
func (c *Client) ProviderName() string {
	return domain.ProviderStrava
}

// AuthURL returns the Strava consent screen URL.
func (c *Client) AuthURL(state string) string {
	params := url.Values{
		"client_id":       {c.cfg.ClientID},
		"redirect_uri":    {c.cfg.RedirectURL},
		"response_type":   {"code"},
		"approval_prompt": {"auto"},
		"scope":           {oauthScope},
		"state":           {state},
	}
	return fmt.Sprintf("%s/oauth/authorize?%s", c.baseURL, params.Encode())
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Athlete      *struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

// ExchangeCode exchanges an authorization code for tokens.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	return c.token(ctx, "token exchange", url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
	})
}

// RefreshToken exchanges a refresh token for a new pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return c.token(ctx, "token refresh", url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	})
}

func (c *Client) token(ctx context.Context, op string, data url.Values) (*domain.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("strava: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("strava: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatus(op, resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("strava: decode %s response: %w: %w", op, port.ErrUpstream, err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" {
		return nil, fmt.Errorf("strava: %s returned no tokens: %w", op, port.ErrUpstream)
	}

	pair := &domain.TokenPair{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Unix(tr.ExpiresAt, 0).UTC(),
	}
	if tr.Athlete != nil {
		pair.AthleteID = tr.Athlete.ID
	}
	return pair, nil
}

// ListActivities fetches one page of the athlete's activities.
func (c *Client) ListActivities(ctx context.Context, accessToken string, q port.ActivityQuery) ([]domain.RemoteActivity, error) {
	params := url.Values{}
	if q.After != nil {
		params.Set("after", strconv.FormatInt(q.After.Unix(), 10))
	}
	if q.Before != nil {
		params.Set("before", strconv.FormatInt(q.Before.Unix(), 10))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}

	endpoint := c.baseURL + "/api/v3/athlete/activities"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("strava: create activities request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("strava: list activities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamStatus("list activities", resp)
	}

	var activities []domain.RemoteActivity
	if err := json.NewDecoder(resp.Body).Decode(&activities); err != nil {
		return nil, fmt.Errorf("strava: decode activities: %w: %w", port.ErrUpstream, err)
	}
	return activities, nil
}

// Deauthorize revokes the application's access.
func (c *Client) Deauthorize(ctx context.Context, accessToken string) error {
	data := url.Values{"access_token": {accessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/deauthorize", strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("strava: create deauthorize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("strava: deauthorize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamStatus("deauthorize", resp)
	}
	return nil
}

// do waits for the rate limiter, then sends the request. Transport failures
// are classed as upstream errors.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", port.ErrUpstream, err)
	}
	return resp, nil
}

func upstreamStatus(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("strava: %s failed (%d): %s: %w", op, resp.StatusCode, strings.TrimSpace(string(body)), port.ErrUpstream)
}

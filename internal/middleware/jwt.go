package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/gofiber/fiber/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Token audiences keep session tokens and OAuth state tokens apart.
const (
	audienceSession = "session"
	audienceState   = "strava_state"
)

// JWTConfig holds JWT middleware configuration.
type JWTConfig struct {
	Secret    string
	Issuer    string
	ExpiresIn time.Duration
}

// Claims represents the JWT payload.
type Claims struct {
	Email string      `json:"email,omitempty"`
	Role  domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies signed session tokens. Verification
// is stateless.
type SessionManager struct {
	cfg JWTConfig
	now func() time.Time
}

// NewSessionManager creates a session manager.
func NewSessionManager(cfg JWTConfig) *SessionManager {
	return &SessionManager{cfg: cfg, now: time.Now}
}

// Issue creates a signed session token for the user.
func (m *SessionManager) Issue(userID, email string, role domain.Role) (string, error) {
	return m.sign(userID, email, role, audienceSession, m.cfg.ExpiresIn)
}

// Verify validates a session token. Every failure is port.ErrUnauthenticated.
func (m *SessionManager) Verify(token string) (*domain.UserContext, error) {
	claims, err := m.parse(token, audienceSession)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" || !claims.Role.Valid() {
		return nil, port.ErrUnauthenticated
	}
	return &domain.UserContext{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}

// IssueState creates a short-lived token naming the user, used as the OAuth state.
func (m *SessionManager) IssueState(userID string, ttl time.Duration) (string, error) {
	return m.sign(userID, "", "", audienceState, ttl)
}

// VerifyState returns the user named by a state token.
func (m *SessionManager) VerifyState(token string) (string, error) {
	claims, err := m.parse(token, audienceState)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", port.ErrUnauthenticated
	}
	return claims.Subject, nil
}

func (m *SessionManager) sign(subject, email string, role domain.Role, audience string, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.cfg.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (m *SessionManager) parse(token, audience string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	var claims Claims
	_, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(m.cfg.Secret), nil
	})
	if err != nil {
		return nil, port.ErrUnauthenticated
	}
	return &claims, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// JWTMiddleware creates a Fiber middleware that validates JWT tokens
// and injects a UserContext into the request context.
func JWTMiddleware(sessions *SessionManager) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := BearerToken(c.Get("Authorization"))

		// Fallback: ?token= query param for clients that can't set headers
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return port.ErrUnauthenticated
		}

		uc, err := sessions.Verify(token)
		if err != nil {
			return err
		}

		// Inject UserContext into Fiber locals
		c.Locals("user", uc)

		return c.Next()
	}
}

// GetUserContext extracts the UserContext from Fiber locals.
func GetUserContext(c fiber.Ctx) *domain.UserContext {
	u, ok := c.Locals("user").(*domain.UserContext)
	if !ok {
		return nil
	}
	return u
}

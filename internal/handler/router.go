package handler

import (
	"log/slog"

	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

const apiPrefix = "/api/v1"

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Services bundles everything the HTTP API calls into.
type Services struct {
	Auth          *service.AuthService
	Invitations   *service.InvitationService
	Athletes      *service.AthleteService
	Activities    *service.ActivityService
	Plans         *service.PlanService
	Vault         *service.TokenVault
	Sync          *service.SyncService
	Webhooks      *service.WebhookService
	Messages      *service.MessageService
	Notifications *service.NotificationService
	Provider      port.ActivityProvider
}

// RouterConfig holds what the routes need besides the services.
type RouterConfig struct {
	Sessions    *middleware.SessionManager
	Store       port.Store
	FrontendURL string
	AppName     string
}

// Mount registers every API route on app. Public routes are registered
// before the authenticated group so its JWT middleware never runs for them.
func Mount(app *fiber.App, cfg RouterConfig, s Services) {
	app.Use(middleware.AuditMiddleware(cfg.Store))

	auth := NewAuthHandler(s.Auth)
	invitations := NewInvitationHandler(s.Invitations)
	strava := NewStravaHandler(s.Provider, cfg.Sessions, s.Vault, s.Sync, cfg.Store, cfg.FrontendURL)
	webhooks := NewWebhookHandler(s.Webhooks)

	// ── Public Routes ────────────────────────────────────────────────────
	public := app.Group(apiPrefix)
	public.Get("/health", healthHandler(cfg.Store, cfg.AppName))
	auth.RegisterPublic(public)
	invitations.RegisterPublic(public)
	strava.RegisterPublic(public)
	webhooks.RegisterPublic(public)

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group(apiPrefix, middleware.JWTMiddleware(cfg.Sessions))

	auth.Register(api)
	invitations.Register(api)
	NewAthleteHandler(s.Athletes).Register(api)
	NewActivityHandler(s.Activities).Register(api)
	NewPlanHandler(s.Plans).Register(api)
	strava.Register(api)
	NewMessageHandler(s.Messages).Register(api)
	NewNotificationHandler(s.Notifications).Register(api)
	NewAuditHandler(cfg.Store).Register(api)
}

func healthHandler(store port.Store, appName string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if err := store.Ping(c.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "unhealthy",
				"app":      appName,
				"database": "unreachable",
			})
		}
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     appName,
			"version": Version,
		})
	}
}

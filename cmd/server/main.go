package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arturoeanton/runcoach/internal/adapter/presence"
	"github.com/arturoeanton/runcoach/internal/adapter/store"
	"github.com/arturoeanton/runcoach/internal/adapter/strava"
	"github.com/arturoeanton/runcoach/internal/handler"
	"github.com/arturoeanton/runcoach/internal/metrics"
	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/realtime"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/arturoeanton/runcoach/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	slog.SetDefault(cfg.NewLogger(os.Stdout))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting RunCoach",
		"port", cfg.Port,
		"realtime_enabled", cfg.RealtimeEnabled,
		"realtime_port", cfg.RealtimePort,
		"memory_store", cfg.UsesMemoryStore(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────
	st, err := store.Open(ctx, cfg.DatabaseURL, true)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	// ── Presence ─────────────────────────────────────────────────────────
	var registry port.PresenceRegistry = presence.NewMemoryRegistry()
	if cfg.RedisURL != "" {
		client, err := presence.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		registry = presence.NewRedisRegistry(client)
	}

	// ── Adapters ─────────────────────────────────────────────────────────
	stravaClient := strava.NewClient(strava.Config{
		ClientID:      cfg.StravaClientID,
		ClientSecret:  cfg.StravaClientSecret,
		RedirectURL:   cfg.StravaRedirectURL,
		Timeout:       time.Duration(cfg.StravaHTTPTimeout) * time.Second,
		RatePerMinute: cfg.StravaRateLimitPerMinute,
	})
	sessions := middleware.NewSessionManager(middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: cfg.SessionTTL(),
	})
	hub := realtime.NewHub(registry)

	// ── Services ─────────────────────────────────────────────────────────
	authz := service.NewAuthorizer(st)
	notifier := service.NewNotificationService(st, hub)
	activities := service.NewActivityService(st, st, authz, notifier)
	vault := service.NewTokenVault(st, stravaClient)
	syncer := service.NewSyncService(vault, stravaClient, st, st, service.NewSyncTracker(), hub, cfg.StravaSyncPageSize)
	webhooks := service.NewWebhookService(st, st, syncer, vault, st, cfg.StravaWebhookToken)
	messages := service.NewMessageService(st, st, st, authz, notifier, hub, registry)

	services := handler.Services{
		Auth:          service.NewAuthService(st, st, sessions, notifier),
		Invitations:   service.NewInvitationService(st, st, cfg.InvitationTTL()),
		Athletes:      service.NewAthleteService(st, st, authz, activities, notifier),
		Activities:    activities,
		Plans:         service.NewPlanService(st, authz, notifier),
		Vault:         vault,
		Sync:          syncer,
		Webhooks:      webhooks,
		Messages:      messages,
		Notifications: notifier,
		Provider:      stravaClient,
	}

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: middleware.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	}))
	app.Use(middleware.MetricsMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	handler.Mount(app, handler.RouterConfig{
		Sessions:    sessions,
		Store:       st,
		FrontendURL: cfg.FrontendURL,
		AppName:     cfg.AppName,
	}, services)

	// ── Live channel (separate port) ─────────────────────────────────────
	var live *realtime.Server
	if cfg.RealtimeEnabled {
		live = realtime.NewServer(realtime.Config{
			Port:           cfg.RealtimePort,
			OriginPatterns: originPatterns(cfg.FrontendURL),
		}, hub, sessions, messages)
		go func() {
			if err := live.Start(); err != nil {
				slog.Error("live channel server failed", "error", err)
				stop()
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		slog.Info("🌐 Fiber listening", "port", cfg.Port)
		if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if live != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := live.Shutdown(sctx); err != nil {
			slog.Warn("live channel shutdown", "error", err)
		}
		cancel()
	}
	webhooks.Wait()
	slog.Info("stopped")
}

// originPatterns allows the frontend's host to open live connections.
func originPatterns(frontendURL string) []string {
	u, err := url.Parse(frontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

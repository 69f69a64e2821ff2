package handler

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/middleware"
	"github.com/arturoeanton/runcoach/internal/port"
	"github.com/arturoeanton/runcoach/internal/service"
	"github.com/gofiber/fiber/v3"
)

const (
	stateTTL      = 10 * time.Minute
	streamTimeout = 5 * time.Minute
)

// StravaHandler handles account linking and activity sync.
type StravaHandler struct {
	provider    port.ActivityProvider
	sessions    *middleware.SessionManager
	vault       *service.TokenVault
	sync        *service.SyncService
	audit       port.AuditWriter
	frontendURL string
}

// NewStravaHandler creates a new Strava handler. audit may be nil.
func NewStravaHandler(provider port.ActivityProvider, sessions *middleware.SessionManager, vault *service.TokenVault, syncer *service.SyncService, audit port.AuditWriter, frontendURL string) *StravaHandler {
	return &StravaHandler{
		provider:    provider,
		sessions:    sessions,
		vault:       vault,
		sync:        syncer,
		audit:       audit,
		frontendURL: frontendURL,
	}
}

// RegisterPublic sets up the OAuth callback, which the provider calls without a session.
func (h *StravaHandler) RegisterPublic(router fiber.Router) {
	router.Get("/strava/callback", h.Callback)
}

// Register sets up Strava routes.
func (h *StravaHandler) Register(router fiber.Router) {
	s := router.Group("/strava")
	s.Get("/connect", h.Connect)
	s.Get("/status", h.Status)
	s.Delete("/disconnect", h.Disconnect)
	s.Post("/sync", h.Sync)
	s.Get("/sync/status", h.SyncStatus)
	s.Get("/sync/stream", h.StreamSSE)
}

// Connect returns the consent screen URL. The state names the caller and
// expires after ten minutes.
func (h *StravaHandler) Connect(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	state, err := h.sessions.IssueState(uc.UserID, stateTTL)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"url": h.provider.AuthURL(state)})
}

// Callback completes the OAuth flow and redirects back to the frontend.
func (h *StravaHandler) Callback(c fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		return h.redirect(c, "denied", reason)
	}
	userID, err := h.sessions.VerifyState(c.Query("state"))
	if err != nil {
		return h.redirect(c, "error", "invalid_state")
	}
	code := c.Query("code")
	if code == "" {
		return h.redirect(c, "error", "missing_code")
	}

	pair, err := h.provider.ExchangeCode(c.Context(), code)
	if err != nil {
		slog.Warn("strava code exchange failed", "user_id", userID, "error", err)
		return h.redirect(c, "error", "exchange_failed")
	}
	if pair.Scope == "" {
		pair.Scope = c.Query("scope")
	}
	if err := h.vault.Link(c.Context(), userID, pair); err != nil {
		if errors.Is(err, port.ErrConflict) {
			return h.redirect(c, "error", "already_linked")
		}
		slog.Error("strava link failed", "user_id", userID, "error", err)
		return h.redirect(c, "error", "link_failed")
	}

	if h.audit != nil {
		details, _ := json.Marshal(map[string]any{"athlete_id": pair.AthleteID, "scope": pair.Scope})
		ip, ua := c.IP(), c.Get("User-Agent")
		go func() {
			if err := h.audit.WriteAudit(userID, domain.AuditActionStravaLink, "strava", userID, string(details), ip, ua); err != nil {
				slog.Error("failed to write audit log", "error", err)
			}
		}()
	}
	return h.redirect(c, "connected", "")
}

func (h *StravaHandler) redirect(c fiber.Ctx, status, reason string) error {
	q := url.Values{"status": {status}}
	if reason != "" {
		q.Set("reason", reason)
	}
	return c.Redirect().To(h.frontendURL + "/settings/strava?" + q.Encode())
}

// Status reports whether the caller has a linked account.
func (h *StravaHandler) Status(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	tok, err := h.vault.Status(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	if tok == nil {
		return c.JSON(fiber.Map{"connected": false})
	}
	return c.JSON(fiber.Map{
		"connected":  true,
		"athlete_id": tok.ExternalAthleteID,
		"scope":      tok.Scope,
		"expires_at": tok.ExpiresAt,
		"updated_at": tok.UpdatedAt,
	})
}

// Disconnect unlinks the caller's account.
func (h *StravaHandler) Disconnect(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.vault.Disconnect(c.Context(), uc.UserID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Sync imports the caller's recent activities.
func (h *StravaHandler) Sync(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	res, err := h.sync.SyncActivities(c.Context(), uc.UserID)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// SyncStatus returns the caller's last sync run.
func (h *StravaHandler) SyncStatus(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	run, ok := h.sync.Tracker().Get(uc.UserID)
	if !ok {
		return port.ErrNotFound
	}
	return c.JSON(run)
}

// StreamSSE streams the caller's sync progress via Server-Sent Events.
func (h *StravaHandler) StreamSSE(c fiber.Ctx) error {
	uc, err := currentUser(c)
	if err != nil {
		return err
	}
	tracker := h.sync.Tracker()
	run, ok := tracker.Get(uc.UserID)
	if !ok {
		return port.ErrNotFound
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// If already finished, just return the final status
	if run.Finished() {
		data, _ := json.Marshal(run)
		return c.SendString(fmt.Sprintf("event: %s\ndata: %s\n\n", run.Status, string(data)))
	}

	userID := uc.UserID
	ch := tracker.Subscribe(userID)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer tracker.Unsubscribe(userID, ch)

		data, _ := json.Marshal(run)
		fmt.Fprintf(w, "event: progress\ndata: %s\n\n", string(data))
		w.Flush()

		timeout := time.After(streamTimeout)
		for {
			select {
			case update, ok := <-ch:
				if !ok {
					return
				}
				data, _ := json.Marshal(update)
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Status, string(data))
				w.Flush()
				if update.Finished() {
					return
				}
			case <-timeout:
				slog.Warn("SSE timeout", "user_id", userID)
				return
			}
		}
	})
}

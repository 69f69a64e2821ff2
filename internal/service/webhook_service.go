package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/arturoeanton/runcoach/internal/domain"
	"github.com/arturoeanton/runcoach/internal/port"
)

const webhookTimeout = 2 * time.Minute

// WebhookEvent is a provider push notification.
type WebhookEvent struct {
	ObjectType     string            `json:"object_type"`
	ObjectID       int64             `json:"object_id"`
	AspectType     string            `json:"aspect_type"`
	OwnerID        int64             `json:"owner_id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventTime      int64             `json:"event_time"`
	Updates        map[string]string `json:"updates"`
}

// WebhookService reacts to provider events in the background.
type WebhookService struct {
	tokens      port.TokenStore
	activities  port.ActivityStore
	sync        *SyncService
	vault       *TokenVault
	audit       port.AuditWriter
	verifyToken string
	wg          sync.WaitGroup
}

// NewWebhookService creates a webhook service. audit may be nil.
func NewWebhookService(tokens port.TokenStore, activities port.ActivityStore, syncer *SyncService, vault *TokenVault, audit port.AuditWriter, verifyToken string) *WebhookService {
	return &WebhookService{
		tokens:      tokens,
		activities:  activities,
		sync:        syncer,
		vault:       vault,
		audit:       audit,
		verifyToken: verifyToken,
	}
}

// Verify answers the subscription handshake by echoing the challenge.
func (s *WebhookService) Verify(mode, token, challenge string) (string, error) {
	if mode != "subscribe" || s.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.verifyToken)) != 1 {
		return "", port.Forbidden("webhook verification failed")
	}
	return challenge, nil
}

// Dispatch processes the event in the background and returns immediately.
func (s *WebhookService) Dispatch(ev WebhookEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()
		if err := s.Handle(ctx, ev); err != nil {
			slog.Error("webhook processing failed",
				"object_type", ev.ObjectType,
				"aspect_type", ev.AspectType,
				"object_id", ev.ObjectID,
				"owner_id", ev.OwnerID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every dispatched event has been processed.
func (s *WebhookService) Wait() {
	s.wg.Wait()
}

// Handle applies one event. Events for athletes without a vault entry are ignored.
func (s *WebhookService) Handle(ctx context.Context, ev WebhookEvent) error {
	owner, err := s.tokens.GetTokenByAthlete(ctx, ev.OwnerID)
	if errors.Is(err, port.ErrNotFound) {
		slog.Debug("webhook for unknown athlete ignored", "owner_id", ev.OwnerID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve athlete: %w", err)
	}
	userID := owner.UserID
	s.record(userID, ev)

	switch ev.ObjectType {
	case "activity":
		switch ev.AspectType {
		case "create", "update":
			return s.syncOwner(ctx, userID)
		case "delete":
			deleted, err := s.activities.DeleteActivityByStravaID(ctx, userID, ev.ObjectID)
			if err != nil {
				return fmt.Errorf("delete activity: %w", err)
			}
			slog.Info("provider activity deleted", "user_id", userID, "strava_id", ev.ObjectID, "deleted", deleted)
		}
	case "athlete":
		if ev.AspectType == "update" && ev.Updates["authorized"] == "false" {
			if err := s.vault.Forget(ctx, userID); err != nil && !errors.Is(err, port.ErrNotFound) {
				return err
			}
			slog.Info("provider authorization revoked", "user_id", userID)
		}
	}
	return nil
}

// syncOwner runs a sync for the event's owner. When a sync is already running
// it waits for that run and tries once more, so the pushed activity is not
// left for the next manual sync.
func (s *WebhookService) syncOwner(ctx context.Context, userID string) error {
	_, err := s.sync.SyncActivities(ctx, userID)
	if !errors.Is(err, port.ErrConflict) {
		return err
	}
	slog.Info("webhook sync waiting for running sync", "user_id", userID)
	if err := s.sync.Tracker().WaitIdle(ctx, userID); err != nil {
		return fmt.Errorf("wait for running sync: %w", err)
	}
	_, err = s.sync.SyncActivities(ctx, userID)
	if errors.Is(err, port.ErrConflict) {
		slog.Info("webhook sync skipped, another sync started", "user_id", userID)
		return nil
	}
	return err
}

func (s *WebhookService) record(userID string, ev WebhookEvent) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(ev)
	if err := s.audit.WriteAudit(userID, domain.AuditActionWebhook, ev.ObjectType,
		strconv.FormatInt(ev.ObjectID, 10), string(details), "", "strava"); err != nil {
		slog.Warn("webhook audit write failed", "error", err)
	}
}
